package oracle

import "errors"

var (
	// ErrMalformedResponse means the service replied, but no well-formed
	// structured decision could be extracted from the response text.
	ErrMalformedResponse = errors.New("oracle: no structured decision in response")

	// ErrServiceUnavailable covers transport failures, timeouts, and
	// non-success status codes.
	ErrServiceUnavailable = errors.New("oracle: service unavailable")
)

// ValidationError reports a decision that parsed but failed the schema,
// enum, or length checks. Such decisions are discarded, never used.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "oracle: decision rejected: " + e.Reason
}
