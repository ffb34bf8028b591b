package contact

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransportError wraps a fetch-stage failure with the HTTP status (0 when the
// failure happened before a response arrived).
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the fetch should be retried with backoff:
// rate limiting (429), server errors (5xx), and network timeouts qualify.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		if te.StatusCode == 429 || te.StatusCode >= 500 {
			return true
		}
		if te.StatusCode >= 400 {
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
