package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrFatalAPI marks provider errors that will not go away on retry
	// (billing, quota, credentials). Batch jobs stop when they see it.
	ErrFatalAPI = errors.New("fatal API error")

	// ErrTimeout is returned when a call exceeds its configured deadline.
	ErrTimeout = errors.New("llm call timed out")

	// ErrDimensionMismatch is returned when an embedding has the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyResponse is returned when the provider answers without choices.
	ErrEmptyResponse = errors.New("no response choices")
)

var fatalPatterns = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}

// FilterCategory is one policy category flagged by the provider's content filter.
type FilterCategory struct {
	Name     string
	Severity string
}

func (c FilterCategory) String() string {
	if c.Severity == "" {
		return c.Name
	}
	return fmt.Sprintf("%s (Severity: %s)", c.Name, c.Severity)
}

// ContentFilterError reports that the provider rejected a prompt or a
// completion on policy grounds. It never carries the filtered text.
type ContentFilterError struct {
	Categories []FilterCategory
}

func (e *ContentFilterError) Error() string {
	if len(e.Categories) == 0 {
		return "content filter triggered"
	}
	return "content filter triggered: " + e.Summary()
}

// Summary lists the flagged categories, comma separated.
func (e *ContentFilterError) Summary() string {
	parts := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ", ")
}

// AsContentFilter reports whether err is (or wraps) a content-filter rejection.
func AsContentFilter(err error) (*ContentFilterError, bool) {
	var cf *ContentFilterError
	if errors.As(err, &cf) {
		return cf, true
	}
	return nil, false
}

// IsRetryable reports whether a failed call may succeed when repeated
// within an existing retry budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := AsContentFilter(err); ok {
		return false
	}
	if errors.Is(err, ErrFatalAPI) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// parseContentFilter inspects a provider error for a content-filter
// rejection. Azure OpenAI embeds the per-category verdicts under
// error.innererror.content_filter_result.
func parseContentFilter(err error) *ContentFilterError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, "content_filter") && !strings.Contains(lower, "content management policy") {
		return nil
	}

	cf := &ContentFilterError{}
	start := strings.Index(msg, "{")
	end := strings.LastIndex(msg, "}")
	if start < 0 || end <= start {
		return cf
	}
	body := msg[start : end+1]
	if !gjson.Valid(body) {
		return cf
	}

	result := gjson.Get(body, "error.innererror.content_filter_result")
	if !result.Exists() {
		result = gjson.Get(body, "innererror.content_filter_result")
	}
	if !result.Exists() {
		result = gjson.Get(body, "content_filter_result")
	}
	result.ForEach(func(key, value gjson.Result) bool {
		if value.Get("filtered").Bool() {
			cf.Categories = append(cf.Categories, FilterCategory{
				Name:     key.String(),
				Severity: value.Get("severity").String(),
			})
		}
		return true
	})
	return cf
}
