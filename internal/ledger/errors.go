package ledger

import "errors"

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidSplit      = errors.New("invalid split")
	ErrBelowMinimum      = errors.New("amount below minimum")
	ErrInvalidKind       = errors.New("invalid transfer kind")
	ErrAlreadySettled    = errors.New("reactdrop already settled")
	ErrPersistence       = errors.New("persistence failure")
)

// IsValidation reports whether err rejects an intent before any state was
// touched. Such errors go back to the initiator and are not retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidSplit) ||
		errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrInvalidKind)
}
