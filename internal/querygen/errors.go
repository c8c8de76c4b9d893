package querygen

import (
	"errors"
	"fmt"
)

// TerminalApology is the answer after every output cycle failed. The
// post-processor recognizes it and never treats it as structured data.
const TerminalApology = "I'm sorry, I could not produce a valid answer to your question. Please try rephrasing it."

var (
	// ErrNoQuery is returned when a cycle ends without a query to execute,
	// either because no attempt produced one or the fallback policy rejects it.
	ErrNoQuery = errors.New("no acceptable query generated")

	// ErrMalformedAnswer is returned when answer synthesis produces no
	// usable {result, data} payload.
	ErrMalformedAnswer = errors.New("malformed answer payload")
)

// QueryExecutionError reports that the backend rejected a validated query.
// It is not retried.
type QueryExecutionError struct {
	Query string
	Err   error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("execute generated query: %v", e.Err)
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}
