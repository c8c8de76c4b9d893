package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/raphaelgruber/nova-go/internal/db"
	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Store) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return mockDB, mock, New(gdb, time.Second, metrics.NewCollector())
}

func TestSourceIndexed(t *testing.T) {
	tests := []struct {
		name  string
		count int
		want  bool
	}{
		{"present", 3, true},
		{"absent", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, store := setupMockStore(t)
			mock.ExpectQuery(`SELECT count\(\*\) FROM "chunks" WHERE source_id = \$1`).
				WithArgs("manual").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.count))

			got, err := store.SourceIndexed(context.Background(), "manual")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDeleteSource(t *testing.T) {
	_, mock, store := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "chunks" WHERE source_id = \$1`).
		WithArgs("manual").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	n, err := store.DeleteSource(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertChunksDuplicate(t *testing.T) {
	_, mock, store := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "chunks"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := store.InsertChunks(context.Background(), []models.Chunk{
		{SourceID: "manual", Seq: 1, Text: "a", Embedding: []float32{1, 0}, Embedder: "e"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertChunksEmpty(t *testing.T) {
	_, mock, store := setupMockStore(t)
	require.NoError(t, store.InsertChunks(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchWithKeywords(t *testing.T) {
	_, mock, store := setupMockStore(t)
	rows := sqlmock.NewRows([]string{"source_id", "seq", "text", "keywords", "embedder", "score"}).
		AddRow("manual", 2, "Hold the button.", "{bluetooth,wireless}", "e", 0.91)
	mock.ExpectQuery(`SELECT source_id, seq, text, keywords, embedder, 1 - \(embedding <=> \$1\) AS score FROM "chunks" WHERE embedder = \$2 AND keywords && \$3 ORDER BY embedding <=>`).
		WillReturnRows(rows)

	hits, err := store.Search(context.Background(), models.ChunkQuery{
		Embedding: []float32{1, 0},
		Embedder:  "e",
		Keywords:  []string{"bluetooth"},
		Limit:     3,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "manual", hits[0].SourceID)
	assert.Equal(t, 2, hits[0].Seq)
	assert.Equal(t, []string{"bluetooth", "wireless"}, hits[0].Keywords)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-9)
	assert.Equal(t, int64(1), store.metrics.Snapshot().VectorSearch.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchError(t *testing.T) {
	_, mock, store := setupMockStore(t)
	mock.ExpectQuery(`SELECT source_id`).WillReturnError(errors.New("connection reset"))

	_, err := store.Search(context.Background(), models.ChunkQuery{Embedding: []float32{1}, Embedder: "e", Limit: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search chunks")
}

func TestEmbedders(t *testing.T) {
	_, mock, store := setupMockStore(t)
	mock.ExpectQuery(`SELECT DISTINCT "embedder" FROM "chunks"`).
		WillReturnRows(sqlmock.NewRows([]string{"embedder"}).AddRow("ollama/a@8").AddRow("openai/b@8"))

	got, err := store.Embedders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama/a@8", "openai/b@8"}, got)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		dup  bool
	}{
		{"gorm duplicate", gorm.ErrDuplicatedKey, true},
		{"message", errors.New(`ERROR: duplicate key value violates unique constraint "idx_chunks_source_seq"`), true},
		{"other", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.dup, errors.Is(translate(tt.err), db.ErrAlreadyExists))
		})
	}
}

func TestPGVectorIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "nova",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/nova?sslmode=disable", host, port.Port())
	store, err := Open(dsn, 10*time.Second, metrics.NewCollector())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx, 3))

	chunks := []models.Chunk{
		{SourceID: "manual", Seq: 1, Text: "pairing", Keywords: []string{"bluetooth"}, Embedding: []float32{1, 0, 0}, Embedder: "e"},
		{SourceID: "manual", Seq: 2, Text: "mounting", Keywords: []string{"mounting"}, Embedding: []float32{0, 1, 0}, Embedder: "e"},
	}
	require.NoError(t, store.InsertChunks(ctx, chunks))
	assert.ErrorIs(t, store.InsertChunks(ctx, chunks[:1]), db.ErrAlreadyExists)

	ok, err := store.SourceIndexed(ctx, "manual")
	require.NoError(t, err)
	assert.True(t, ok)

	hits, err := store.Search(ctx, models.ChunkQuery{Embedding: []float32{0, 1, 0}, Embedder: "e", Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "mounting", hits[0].Text)

	hits, err = store.Search(ctx, models.ChunkQuery{Embedding: []float32{0, 1, 0}, Embedder: "e", Keywords: []string{"bluetooth"}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "pairing", hits[0].Text)

	require.NoError(t, store.RebuildIndex(ctx))

	n, err := store.DeleteSource(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
