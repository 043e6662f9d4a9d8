package notify

import (
    "context"
    "log/slog"

    "moneytree/internal/ledger"
    "moneytree/internal/store"
)

// Log writes notices to a structured logger instead of sending them. It is
// used when no bot token is configured.
type Log struct {
    logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
    if logger == nil {
        logger = slog.Default()
    }
    return &Log{logger: logger}
}

func (l *Log) WithdrawalRequested(ctx context.Context, w store.Withdrawal, actions ledger.AdminActions) error {
    l.logger.InfoContext(ctx, "notify_withdrawal_requested",
        "withdrawal_id", w.ID,
        "account_id", w.AccountID,
        "amount", w.Amount,
        "method", w.Method,
        "payout_account", w.PayoutAccount,
        "approve", actions.Approve,
        "reject", actions.Reject,
    )
    return nil
}

func (l *Log) WithdrawalDecided(ctx context.Context, w store.Withdrawal) error {
    l.logger.InfoContext(ctx, "notify_withdrawal_decided",
        "withdrawal_id", w.ID,
        "account_id", w.AccountID,
        "status", w.Status,
    )
    return nil
}
