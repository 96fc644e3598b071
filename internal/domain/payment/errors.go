package payment

import "errors"

// Domain errors.
var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrProviderNotAvailable = errors.New("payment provider not available")
	ErrInvalidAmount        = errors.New("invalid payment amount")
	ErrAmountOutOfRange     = errors.New("payment amount out of allowed range")
	ErrUpstreamFailed       = errors.New("upstream request failed")
)
