package settlement

import "errors"

// Domain errors.
var (
	ErrInvalidEvent         = errors.New("invalid webhook event")
	ErrPaymentUnknown       = errors.New("payment unknown")
	ErrAmountMismatch       = errors.New("amount mismatch")
	ErrPaymentNotSettleable = errors.New("payment is in a terminal state")
	ErrPaymentNotFound      = errors.New("payment not found")

	errSettlementRace = errors.New("payment settled concurrently")
)
