package llm

import (
	"errors"
	"fmt"
	"strings"

	sharederrors "codeframe/internal/shared/errors"
)

// ErrContextWindowExceeded means the request did not fit the model's context
// window. Callers react by compacting, not by retrying.
var ErrContextWindowExceeded = errors.New("context window exceeded")

// IsContextWindowExceeded reports whether err is a context-window failure.
func IsContextWindowExceeded(err error) bool {
	return errors.Is(err, ErrContextWindowExceeded)
}

// classifyHTTPError maps a provider HTTP failure onto the shared
// transient/permanent taxonomy so the retry layer knows what to do.
func classifyHTTPError(statusCode int, body string) error {
	if isContextWindowBody(body) {
		return fmt.Errorf("%w: %s", ErrContextWindowExceeded, firstLine(body))
	}
	switch {
	case statusCode == 429:
		return &sharederrors.TransientError{
			Err:        fmt.Errorf("rate limited: %s", firstLine(body)),
			StatusCode: statusCode,
		}
	case statusCode >= 500 || statusCode == 408:
		return &sharederrors.TransientError{
			Err:        fmt.Errorf("provider error %d: %s", statusCode, firstLine(body)),
			StatusCode: statusCode,
		}
	default:
		return &sharederrors.PermanentError{
			Err:        fmt.Errorf("provider rejected request (%d): %s", statusCode, firstLine(body)),
			StatusCode: statusCode,
		}
	}
}

func isContextWindowBody(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "context window") ||
		strings.Contains(lower, "context length") ||
		strings.Contains(lower, "maximum context") ||
		strings.Contains(lower, "prompt is too long") ||
		strings.Contains(lower, "too many tokens")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 300
	if len(s) > max {
		s = s[:max] + "..."
	}
	return strings.TrimSpace(s)
}
