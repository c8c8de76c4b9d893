package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrAlreadyExists means a record or unique key is taken. For chunks:
	// another writer stored the same (source, seq) first.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict means a concurrent write touched the same records.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// queryErrorPatterns maps SurrealDB error message fragments to sentinels.
var queryErrorPatterns = []struct {
	fragment string
	sentinel error
}{
	{"already exists", ErrAlreadyExists},
	{"already contains", ErrAlreadyExists},
	{"Transaction conflict", ErrTransactionConflict},
}

// wrapQueryError attaches a sentinel to known SurrealDB query errors.
// Anything else is returned unchanged.
func wrapQueryError(err error) error {
	var qe *surrealdb.QueryError
	if !errors.As(err, &qe) {
		return err
	}
	for _, p := range queryErrorPatterns {
		if strings.Contains(qe.Message, p.fragment) {
			return fmt.Errorf("%w: %s", p.sentinel, qe.Message)
		}
	}
	return err
}
