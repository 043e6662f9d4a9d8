package store

import (
    "context"
    "errors"
    "strings"

    "github.com/jackc/pgx/v5"
)

// CreateWithdrawal reserves the amount from the account balance and inserts
// a pending request in one transaction. Either both happen or neither does.
// The returned balance is the one left after the reservation.
func (s *Store) CreateWithdrawal(ctx context.Context, input CreateWithdrawalInput) (Withdrawal, int64, error) {
    if input.Amount <= 0 {
        return Withdrawal{}, 0, ErrInvalidAmount
    }
    if strings.TrimSpace(input.PayoutAccount) == "" {
        return Withdrawal{}, 0, ErrInvalidPayoutAccount
    }
    tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return Withdrawal{}, 0, err
    }
    defer func() {
        _ = tx.Rollback(ctx)
    }()

    var balance int64
    err = tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", input.AccountID).Scan(&balance)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return Withdrawal{}, 0, ErrAccountNotFound
        }
        return Withdrawal{}, 0, err
    }

    if balance < input.Amount {
        return Withdrawal{}, 0, ErrInsufficientBalance
    }

    created, err := scanWithdrawal(tx.QueryRow(ctx, `
        INSERT INTO withdrawals (account_id, method, payout_account, amount, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING `+withdrawalColumns,
        input.AccountID,
        input.Method,
        input.PayoutAccount,
        input.Amount,
        StatusPending,
    ))
    if err != nil {
        return Withdrawal{}, 0, err
    }

    err = tx.QueryRow(ctx,
        "UPDATE accounts SET balance = balance - $1 WHERE id = $2 RETURNING balance",
        input.Amount, input.AccountID,
    ).Scan(&balance)
    if err != nil {
        if isCheckViolation(err) {
            return Withdrawal{}, 0, ErrInsufficientBalance
        }
        return Withdrawal{}, 0, err
    }

    if err := insertLedgerEntry(ctx, tx, LedgerEntry{
        AccountID:    input.AccountID,
        WithdrawalID: &created.ID,
        Amount:       input.Amount,
        Direction:    DirectionDebit,
        Reason:       ReasonWithdrawalReserve,
    }); err != nil {
        return Withdrawal{}, 0, err
    }

    if err := tx.Commit(ctx); err != nil {
        return Withdrawal{}, 0, err
    }

    return created, balance, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id int64) (Withdrawal, error) {
    w, err := scanWithdrawal(s.pool.QueryRow(ctx, "SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = $1", id))
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return Withdrawal{}, ErrNotFound
        }
        return Withdrawal{}, err
    }
    return w, nil
}

func (s *Store) ListPendingWithdrawals(ctx context.Context) ([]Withdrawal, error) {
    rows, err := s.pool.Query(ctx, `
        SELECT `+withdrawalColumns+`
        FROM withdrawals
        WHERE status = $1
        ORDER BY created_at DESC, id DESC
    `, StatusPending)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var out []Withdrawal
    for rows.Next() {
        w, err := scanWithdrawal(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, w)
    }
    return out, rows.Err()
}

func (s *Store) ApproveWithdrawal(ctx context.Context, id int64) (Withdrawal, error) {
    return s.decideWithdrawal(ctx, id, StatusApproved)
}

// RejectWithdrawal moves a pending request to rejected and refunds the
// reserved amount. The status check runs under the row lock, so a second
// reject fails with ErrInvalidStatus and refunds nothing.
func (s *Store) RejectWithdrawal(ctx context.Context, id int64) (Withdrawal, error) {
    return s.decideWithdrawal(ctx, id, StatusRejected)
}

func (s *Store) decideWithdrawal(ctx context.Context, id int64, status string) (Withdrawal, error) {
    tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return Withdrawal{}, err
    }
    defer func() {
        _ = tx.Rollback(ctx)
    }()

    w, err := scanWithdrawal(tx.QueryRow(ctx, "SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = $1 FOR UPDATE", id))
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return Withdrawal{}, ErrNotFound
        }
        return Withdrawal{}, err
    }

    if w.Status != StatusPending {
        return Withdrawal{}, ErrInvalidStatus
    }

    err = tx.QueryRow(ctx, `
        UPDATE withdrawals
        SET status = $1, processed_at = now()
        WHERE id = $2
        RETURNING processed_at
    `, status, id).Scan(&w.ProcessedAt)
    if err != nil {
        return Withdrawal{}, err
    }
    w.Status = status

    if status == StatusRejected {
        _, err = tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1 WHERE id = $2", w.Amount, w.AccountID)
        if err != nil {
            return Withdrawal{}, err
        }
        if err := insertLedgerEntry(ctx, tx, LedgerEntry{
            AccountID:    w.AccountID,
            WithdrawalID: &w.ID,
            Amount:       w.Amount,
            Direction:    DirectionCredit,
            Reason:       ReasonWithdrawalRefund,
        }); err != nil {
            return Withdrawal{}, err
        }
    }

    if err := tx.Commit(ctx); err != nil {
        return Withdrawal{}, err
    }

    return w, nil
}
