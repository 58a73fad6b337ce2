package domain

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when an operation needs the real-time channel
// but the connection is down. Callers may retry after reconnecting.
var ErrNotConnected = errors.New("realtime channel not connected")

// ErrDeliveryTimeout is returned when a publish received no confirming echo
// within the configured window.
var ErrDeliveryTimeout = errors.New("delivery confirmation timed out")

// ValidationError rejects caller-supplied invalid input before any network
// traffic is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ServerRejection is an explicit failure response from the backend, e.g. the
// room no longer exists. It triggers local state correction, not a retry.
type ServerRejection struct {
	Code    string
	Message string
}

func (e *ServerRejection) Error() string {
	return fmt.Sprintf("server rejected request: %s: %s", e.Code, e.Message)
}

// IsServerRejection unwraps err looking for a ServerRejection.
func IsServerRejection(err error) (*ServerRejection, bool) {
	var rej *ServerRejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
