package orchestrator

import (
	"github.com/raphaelgruber/nova-go/internal/llm"
)

// GenericErrorMessage is shown for failures that are not content-filter related.
const GenericErrorMessage = "An unexpected error occurred. Please try again later or contact support."

// UserMessage translates an error into text for the end user. Provider
// details never reach the user; content-filter rejections name the
// flagged categories.
func UserMessage(err error) string {
	if cf, ok := llm.AsContentFilter(err); ok {
		if len(cf.Categories) == 0 {
			return "Your request was blocked by the content filter. Please rephrase your message."
		}
		return "Your request was blocked by the content filter (" + cf.Summary() + "). Please rephrase your message."
	}
	return GenericErrorMessage
}
