package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOffer      = errors.New("invalid offer")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrNoActiveOffer     = errors.New("no active offer")
	ErrNotAuthorized     = errors.New("not a party to this negotiation")
	ErrNegotiationClosed = errors.New("negotiation is closed")
	ErrNotFound          = errors.New("negotiation not found")
	ErrVersionConflict   = errors.New("negotiation version conflict")
	ErrDuplicateAction   = errors.New("client action already recorded")
	ErrLogMismatch       = errors.New("negotiation record does not match its log")
	ErrPersistence       = errors.New("persistence failure")
)

// PersistenceError wraps a store failure. It is always safe to retry the
// operation that produced it: the store commits all or nothing.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence.Error(), e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) hold for any PersistenceError.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Retryable reports whether the caller may resubmit.
func (e *PersistenceError) Retryable() bool { return true }

// Persistence wraps err as a PersistenceError unless it already carries a
// domain meaning (not found, conflict, a validation sentinel).
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || IsDomainError(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsDomainError reports whether err is one of the validation or state sentinels.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidOffer, ErrInvalidMessage, ErrNotYourTurn, ErrNoActiveOffer, ErrNotAuthorized,
		ErrNegotiationClosed, ErrNotFound, ErrVersionConflict, ErrDuplicateAction, ErrLogMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err may be resolved by resubmitting unchanged.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Retryable()
}
