package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("product not found")
	ErrNotOwner          = errors.New("sender is not the current owner of the product")
	ErrAlreadyRegistered = errors.New("product already registered")
	// ErrRegistrationInProgress means another request holds the registration
	// claim for the key. Retry once it settles.
	ErrRegistrationInProgress = errors.New("registration already in progress")
	// ErrSequenceConflict means the account sequence moved underneath the
	// submission. Re-reserve and resubmit.
	ErrSequenceConflict = errors.New("account sequence conflict")
	// ErrConfirmationTimeout leaves the outcome unknown: the mutation may still
	// be included later.
	ErrConfirmationTimeout = errors.New("confirmation timed out, outcome unknown")
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
	// ErrRejected is a confirmation-time refusal by the ledger, typically
	// because another writer changed ownership after the pre-check.
	ErrRejected = errors.New("mutation rejected by ledger")
	ErrFailed   = errors.New("submission failed")
)

// ValidationError reports malformed input. It is always raised before any
// ledger interaction.
type ValidationError struct {
	Fields []string
	Reason string
}

func NewValidationError(reason string, fields ...string) *ValidationError {
	return &ValidationError{Fields: fields, Reason: reason}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Reason
	}
	return e.Reason + ": [" + strings.Join(e.Fields, ", ") + "]"
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Retriable reports whether a client may automatically resubmit.
func Retriable(err error) bool {
	return errors.Is(err, ErrSequenceConflict) ||
		errors.Is(err, ErrRegistrationInProgress) ||
		errors.Is(err, ErrConfirmationTimeout) ||
		errors.Is(err, ErrRejected)
}

// ErrorCode maps an error onto its taxonomy name.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "ValidationError"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrNotOwner):
		return "NotOwner"
	case errors.Is(err, ErrAlreadyRegistered):
		return "AlreadyRegistered"
	case errors.Is(err, ErrRegistrationInProgress):
		return "RegistrationInProgress"
	case errors.Is(err, ErrSequenceConflict):
		return "SequenceConflict"
	case errors.Is(err, ErrConfirmationTimeout):
		return "ConfirmationTimeout"
	case errors.Is(err, ErrLedgerUnavailable):
		return "LedgerUnavailable"
	case errors.Is(err, ErrRejected):
		return "Rejected"
	case errors.Is(err, ErrFailed):
		return "Failed"
	default:
		return "Internal"
	}
}
