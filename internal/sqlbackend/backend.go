// Package sqlbackend executes generated read-only queries against the
// business database the structured-query agent answers from.
package sqlbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/raphaelgruber/nova-go/internal/metrics"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DenialMarker starts the comment a generated query carries when the
// caller may not see any identity-scoped rows. Such queries never run.
const DenialMarker = "-- access denied"

var (
	// ErrTimeout is returned when a query exceeds the configured deadline.
	ErrTimeout = errors.New("query timed out")

	// ErrNotReadOnly is returned for anything other than a single SELECT or WITH statement.
	ErrNotReadOnly = errors.New("only read statements may be executed")
)

// Result holds the rows a query produced, in column order.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

// Empty reports whether the query produced no rows.
func (r Result) Empty() bool {
	return len(r.Rows) == 0
}

// Backend runs queries through gorm on postgres, mysql or sqlite.
type Backend struct {
	db      *gorm.DB
	timeout time.Duration
	metrics *metrics.Collector
}

// Open connects to the query database.
func Open(driver, dsn string, timeout time.Duration, collector *metrics.Collector) (*Backend, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported query driver: %s (supported: postgres, mysql, sqlite)", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect query database: %w", err)
	}
	if driver == "sqlite" {
		// every pooled connection to :memory: would be a separate database
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("connect query database: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	slog.Info("query database connected", "driver", driver)
	return New(gdb, timeout, collector), nil
}

// New wraps an open gorm handle.
func New(gdb *gorm.DB, timeout time.Duration, collector *metrics.Collector) *Backend {
	return &Backend{db: gdb, timeout: timeout, metrics: collector}
}

// DB exposes the gorm handle, used for fixtures and migrations.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Execute runs query and returns its rows. A query carrying the denial
// marker yields an empty result without touching the database.
func (b *Backend) Execute(ctx context.Context, query string) (Result, error) {
	if HasDenialMarker(query) {
		return Result{Columns: []string{}, Rows: []map[string]any{}}, nil
	}
	stmt, ok := readStatement(query)
	if !ok {
		return Result{}, fmt.Errorf("%w: %.60q", ErrNotReadOnly, query)
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := b.query(ctx, stmt)
	b.metrics.RecordTiming(metrics.OpQueryExec, time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	return res, nil
}

func (b *Backend) query(ctx context.Context, stmt string) (Result, error) {
	rows, err := b.db.WithContext(ctx).Raw(stmt).Rows()
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}

	res := Result{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalize(values[i])
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}

// HasDenialMarker reports whether query carries the access-denial comment.
func HasDenialMarker(query string) bool {
	return strings.Contains(strings.ToLower(query), DenialMarker)
}

// IsReadOnly reports whether query is a single SELECT or WITH statement.
func IsReadOnly(query string) bool {
	_, ok := readStatement(query)
	return ok
}

// readStatement strips leading comments and trailing semicolons and
// returns the statement if it is a single read.
func readStatement(query string) (string, bool) {
	stmt := strings.TrimSpace(query)
	for strings.HasPrefix(stmt, "--") {
		nl := strings.IndexByte(stmt, '\n')
		if nl < 0 {
			return "", false
		}
		stmt = strings.TrimSpace(stmt[nl+1:])
	}
	stmt = strings.TrimSpace(strings.TrimRight(stmt, "; \n\t"))
	if stmt == "" || strings.Contains(stmt, ";") {
		return "", false
	}
	fields := strings.Fields(stmt)
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH":
		return stmt, true
	}
	return "", false
}
