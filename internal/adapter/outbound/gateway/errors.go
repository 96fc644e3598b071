package gateway

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by the registry for providers without credentials.
var ErrNotConfigured = errors.New("payment provider not configured")

// ErrOrderNotFound is returned when the upstream has no such order.
var ErrOrderNotFound = errors.New("upstream order not found")

// UpstreamError describes a failed upstream request.
type UpstreamError struct {
	Provider string
	Method   string
	Path     string
	// Status is zero when no HTTP response was received.
	Status    int
	Body      string
	Transient bool
	Attempts  int
	Err       error
}

func (e *UpstreamError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s %s: %s upstream error (status %d, %d attempts): %v", e.Provider, e.Method, e.Path, kind, e.Status, e.Attempts, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s %s %s: %s upstream error (status %d, %d attempts)", e.Provider, e.Method, e.Path, kind, e.Status, e.Attempts)
	default:
		return fmt.Sprintf("%s %s %s: %s upstream error (%d attempts): %v", e.Provider, e.Method, e.Path, kind, e.Attempts, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is an upstream failure worth retrying later.
func IsTransient(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Transient
}
