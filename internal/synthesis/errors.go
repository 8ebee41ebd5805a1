package synthesis

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds returned by the client. Use errors.Is / errors.As to test for them.
var (
	// ErrInvalidInput is returned before any network activity for empty
	// text or an incompletely specified request.
	ErrInvalidInput = errors.New("invalid synthesis input")

	// ErrBackendUnavailable covers connection failures and timeouts.
	ErrBackendUnavailable = errors.New("synthesis backend unavailable")

	// ErrStreamInterrupted is returned when the response body ends before
	// the transport signalled completion. Chunks already yielded are valid
	// partial audio.
	ErrStreamInterrupted = errors.New("synthesis stream interrupted")
)

// maxErrorBody bounds how much of a failed response body is kept
const maxErrorBody = 4 << 10

// BackendError is returned when the backend answers with a non-success status
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("synthesis backend returned status %d", e.Status)
	}
	return fmt.Sprintf("synthesis backend returned status %d: %s", e.Status, e.Body)
}

// Temporary reports whether retrying the same request may succeed
func (e *BackendError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// IsRetryable reports whether err is a transient failure of an idempotent
// call: an unavailable backend or a 5xx/429 answer.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrBackendUnavailable) {
		return true
	}
	var be *BackendError
	return errors.As(err, &be) && be.Temporary()
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
