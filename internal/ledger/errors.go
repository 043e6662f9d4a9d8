package ledger

import (
    "errors"
    "fmt"

    "moneytree/internal/store"
)

var (
    ErrInsufficientBalance = errors.New("insufficient balance")
    ErrQuotaExceeded       = errors.New("daily task quota exceeded")
    ErrUnknownAccount      = errors.New("unknown account")
    ErrUnknownWithdrawal   = errors.New("unknown withdrawal request")
    ErrInvalidState        = errors.New("invalid state")
    ErrUnauthorized        = errors.New("unauthorized")
    ErrWithdrawalCancelled = errors.New("withdrawal cancelled")
)

const (
    ReasonNotANumber    = "not_a_number"
    ReasonNotPositive   = "not_positive"
    ReasonBelowMinimum  = "below_minimum"
    ReasonUnknownMethod = "unknown_method"
    ReasonEmpty         = "empty"
)

// ValidationError reports malformed input. The dialog state it leaves behind
// depends on the step: a bad method re-prompts, anything else ends it.
type ValidationError struct {
    Field  string
    Reason string
}

func (e *ValidationError) Error() string {
    return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
    return &ValidationError{Field: field, Reason: reason}
}

func translate(op string, err error) error {
    switch {
    case err == nil:
        return nil
    case errors.Is(err, store.ErrAccountNotFound):
        return ErrUnknownAccount
    case errors.Is(err, store.ErrNotFound):
        return ErrUnknownWithdrawal
    case errors.Is(err, store.ErrInsufficientBalance):
        return ErrInsufficientBalance
    case errors.Is(err, store.ErrInvalidStatus):
        return ErrInvalidState
    case errors.Is(err, store.ErrInvalidAmount):
        return invalid("amount", ReasonNotPositive)
    case errors.Is(err, store.ErrInvalidPayoutAccount):
        return invalid("account", ReasonEmpty)
    }
    return fmt.Errorf("%s: %w", op, err)
}
