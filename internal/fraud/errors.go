package fraud

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnknownAccount    = errors.New("unknown account")
	ErrNotFound          = errors.New("pending transaction not found")
	ErrChallengeRequired = errors.New("otp verification required before approval")
	ErrInvalidOtp        = errors.New("invalid otp")
)

// StorageError wraps an account directory failure. It is never a domain
// outcome: a transaction is not resolved when one is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
