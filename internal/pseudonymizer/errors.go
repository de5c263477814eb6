package pseudonymizer

import "fmt"

// Warning codes surfaced alongside degraded results. Model unavailability
// and detection timeouts are recovered locally by falling back to
// pattern-only output; they never fail the request.
const (
	WarnDetectionUnavailable = "detection_unavailable"
	WarnTimeoutExceeded      = "timeout_exceeded"
)

// ValidationError reports malformed input. It carries the offending field
// and sizes for caller-side logging but never the input text itself.
type ValidationError struct {
	Field      string
	Message    string
	TextLength int
	MaxLength  int
}

func (e *ValidationError) Error() string {
	if e.MaxLength > 0 {
		return fmt.Sprintf("validation failed: %s: %s (length %d, maximum %d)",
			e.Field, e.Message, e.TextLength, e.MaxLength)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}
