package reconciliation

import "errors"

// Domain errors.
var (
	ErrInvalidWindow       = errors.New("invalid time window")
	ErrProviderUnavailable = errors.New("payment provider not available")
	ErrInvalidReceipt      = errors.New("invalid receipt")
	ErrUpstreamFailed      = errors.New("upstream request failed")
)
