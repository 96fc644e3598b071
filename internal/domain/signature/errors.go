package signature

import "errors"

var (
	ErrUnknownScheme = errors.New("unknown signature scheme")
	ErrMissingField  = errors.New("missing signed field")
	ErrInvalidAmount = errors.New("invalid amount for signing")
)
