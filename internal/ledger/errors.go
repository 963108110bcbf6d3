package ledger

import (
	"errors"
	"fmt"

	"github.com/suspectuso/cloud-miner/internal/storage"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrExternalCollaborator = errors.New("external collaborator failed")
	ErrPeriodAlreadyAccrued = errors.New("period already accrued")
	ErrAlreadyConfirmed     = errors.New("invoice already confirmed")
)

// Validation reasons
const (
	ReasonNotPositive     = "must be positive"
	ReasonNotANumber      = "not a number"
	ReasonExceedsBalance  = "exceeds balance"
	ReasonWalletNotBound  = "not bound"
	ReasonUnrecognized    = "unrecognized"
	ReasonMalformedTarget = "malformed target"
	ReasonOutOfRange      = "out of range"
)

// ValidationError reports a rejected input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match any ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// storageErr translates storage sentinels into ledger errors.
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, storage.ErrInsufficientFunds):
		return invalid("amount", ReasonExceedsBalance)
	case errors.Is(err, storage.ErrNoWallet):
		return invalid("wallet", ReasonWalletNotBound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
