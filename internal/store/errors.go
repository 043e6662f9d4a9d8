package store

import "errors"

var (
    ErrInsufficientBalance = errors.New("insufficient balance")
    ErrInvalidAmount       = errors.New("invalid amount")
    ErrNotFound            = errors.New("not found")
    ErrAccountNotFound     = errors.New("account not found")
    ErrInvalidStatus       = errors.New("invalid status")

    ErrInvalidPayoutAccount = errors.New("invalid payout account")
)
