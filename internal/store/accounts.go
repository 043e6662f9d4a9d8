package store

import (
    "context"
    "errors"
    "time"

    "github.com/jackc/pgx/v5"
)

func (s *Store) GetAccount(ctx context.Context, id int64) (Account, error) {
    a, err := scanAccount(s.pool.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return Account{}, ErrAccountNotFound
        }
        return Account{}, err
    }
    return a, nil
}

// CreateAccountIfAbsent inserts the account unless it already exists. A
// referrer other than the account itself is recorded in referred_by as
// given. When that referrer exists it is also credited refBonus in the same
// transaction.
//
// Row locks are taken in ascending id order so that two registrations
// touching the same pair of accounts cannot deadlock.
func (s *Store) CreateAccountIfAbsent(ctx context.Context, input CreateAccountInput, refBonus int64) (Account, bool, error) {
    tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return Account{}, false, err
    }
    defer func() {
        _ = tx.Rollback(ctx)
    }()

    var referredBy *int64
    referrerID := int64(0)
    if input.ReferrerID != nil && *input.ReferrerID != input.ID {
        referrerID = *input.ReferrerID
        referredBy = &referrerID
    }
    referrerFound := false

    if referrerID != 0 && referrerID < input.ID {
        referrerFound, err = lockAccountExists(ctx, tx, referrerID)
        if err != nil {
            return Account{}, false, err
        }
    }

    created, err := scanAccount(tx.QueryRow(ctx, `
        INSERT INTO accounts (id, display_name, username, referred_by)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING
        RETURNING `+accountColumns,
        input.ID,
        input.DisplayName,
        input.Username,
        referredBy,
    ))
    if errors.Is(err, pgx.ErrNoRows) {
        existing, gerr := scanAccount(tx.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", input.ID))
        if gerr != nil {
            return Account{}, false, gerr
        }
        if err := tx.Commit(ctx); err != nil {
            return Account{}, false, err
        }
        return existing, false, nil
    }
    if err != nil {
        return Account{}, false, err
    }

    if referrerID != 0 && referrerID > input.ID {
        referrerFound, err = lockAccountExists(ctx, tx, referrerID)
        if err != nil {
            return Account{}, false, err
        }
    }

    if referrerFound {
        _, err = tx.Exec(ctx, `
            UPDATE accounts
            SET referrals_count = referrals_count + 1, balance = balance + $1
            WHERE id = $2
        `, refBonus, referrerID)
        if err != nil {
            return Account{}, false, err
        }
        if err := insertLedgerEntry(ctx, tx, LedgerEntry{
            AccountID: referrerID,
            Amount:    refBonus,
            Direction: DirectionCredit,
            Reason:    ReasonReferralBonus,
        }); err != nil {
            return Account{}, false, err
        }
    }

    if err := tx.Commit(ctx); err != nil {
        return Account{}, false, err
    }
    return created, true, nil
}

func lockAccountExists(ctx context.Context, tx pgx.Tx, id int64) (bool, error) {
    var found int64
    err := tx.QueryRow(ctx, "SELECT id FROM accounts WHERE id = $1 FOR UPDATE", id).Scan(&found)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return false, nil
        }
        return false, err
    }
    return true, nil
}

// GrantSignupBonus credits amount and flips bonus_given in one statement, so
// concurrent callers for the same account see exactly one true.
func (s *Store) GrantSignupBonus(ctx context.Context, id int64, amount int64) (bool, error) {
    if amount < 0 {
        return false, ErrInvalidAmount
    }
    tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return false, err
    }
    defer func() {
        _ = tx.Rollback(ctx)
    }()

    var balance int64
    err = tx.QueryRow(ctx, `
        UPDATE accounts
        SET balance = balance + $1, bonus_given = TRUE
        WHERE id = $2 AND NOT bonus_given
        RETURNING balance
    `, amount, id).Scan(&balance)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            found, ferr := lockAccountExists(ctx, tx, id)
            if ferr != nil {
                return false, ferr
            }
            if !found {
                return false, ErrAccountNotFound
            }
            return false, nil
        }
        return false, err
    }

    if err := insertLedgerEntry(ctx, tx, LedgerEntry{
        AccountID: id,
        Amount:    amount,
        Direction: DirectionCredit,
        Reason:    ReasonSignupBonus,
    }); err != nil {
        return false, err
    }

    if err := tx.Commit(ctx); err != nil {
        return false, err
    }
    return true, nil
}

func (s *Store) Credit(ctx context.Context, id int64, amount int64, reason string) (Account, error) {
    if amount <= 0 {
        return Account{}, ErrInvalidAmount
    }
    return s.adjustBalance(ctx, id, amount, DirectionCredit, reason)
}

func (s *Store) Debit(ctx context.Context, id int64, amount int64, reason string) (Account, error) {
    if amount <= 0 {
        return Account{}, ErrInvalidAmount
    }
    return s.adjustBalance(ctx, id, amount, DirectionDebit, reason)
}

func (s *Store) adjustBalance(ctx context.Context, id int64, amount int64, direction, reason string) (Account, error) {
    tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return Account{}, err
    }
    defer func() {
        _ = tx.Rollback(ctx)
    }()

    a, err := scanAccount(tx.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return Account{}, ErrAccountNotFound
        }
        return Account{}, err
    }

    delta := amount
    if direction == DirectionDebit {
        if a.Balance < amount {
            return Account{}, ErrInsufficientBalance
        }
        delta = -amount
    }

    err = tx.QueryRow(ctx, "UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance", delta, id).Scan(&a.Balance)
    if err != nil {
        if isCheckViolation(err) {
            return Account{}, ErrInsufficientBalance
        }
        return Account{}, err
    }

    if err := insertLedgerEntry(ctx, tx, LedgerEntry{
        AccountID: id,
        Amount:    amount,
        Direction: direction,
        Reason:    reason,
    }); err != nil {
        return Account{}, err
    }

    if err := tx.Commit(ctx); err != nil {
        return Account{}, err
    }
    return a, nil
}

func (s *Store) RecordTaskCompletion(ctx context.Context, id int64, limit int, today time.Time, reward int64) (TaskCompletion, error) {
    tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return TaskCompletion{}, err
    }
    defer func() {
        _ = tx.Rollback(ctx)
    }()

    a, err := scanAccount(tx.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return TaskCompletion{}, ErrAccountNotFound
        }
        return TaskCompletion{}, err
    }

    count := EffectiveQuotaCount(a, today)
    if count >= limit {
        return TaskCompletion{Count: count, Allowed: false, Balance: a.Balance}, nil
    }

    count++
    var balance int64
    err = tx.QueryRow(ctx, `
        UPDATE accounts
        SET quota_date = $1, quota_count = $2, balance = balance + $3
        WHERE id = $4
        RETURNING balance
    `, QuotaDay(today), count, reward, id).Scan(&balance)
    if err != nil {
        return TaskCompletion{}, err
    }

    if err := insertLedgerEntry(ctx, tx, LedgerEntry{
        AccountID: id,
        Amount:    reward,
        Direction: DirectionCredit,
        Reason:    ReasonTaskReward,
    }); err != nil {
        return TaskCompletion{}, err
    }

    if err := tx.Commit(ctx); err != nil {
        return TaskCompletion{}, err
    }
    return TaskCompletion{Count: count, Allowed: true, Balance: balance}, nil
}
