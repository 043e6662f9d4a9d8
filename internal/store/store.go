package store

import (
    "context"
    _ "embed"
    "errors"
    "strings"

    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgconn"
    "github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const accountColumns = `id, display_name, username, balance, bonus_given, referred_by,
        referrals_count, quota_date, quota_count, created_at`

const withdrawalColumns = `id, account_id, method, payout_account, amount, status, created_at, processed_at`

type Store struct {
    pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
    return &Store{pool: pool}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
    for _, stmt := range strings.Split(schema, ";") {
        stmt = strings.TrimSpace(stmt)
        if stmt == "" {
            continue
        }
        if _, err := s.pool.Exec(ctx, stmt); err != nil {
            return err
        }
    }
    return nil
}

type rowScanner interface {
    Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
    var a Account
    err := row.Scan(
        &a.ID,
        &a.DisplayName,
        &a.Username,
        &a.Balance,
        &a.BonusGiven,
        &a.ReferredBy,
        &a.ReferralsCount,
        &a.QuotaDate,
        &a.QuotaCount,
        &a.CreatedAt,
    )
    return a, err
}

func scanWithdrawal(row rowScanner) (Withdrawal, error) {
    var w Withdrawal
    err := row.Scan(
        &w.ID,
        &w.AccountID,
        &w.Method,
        &w.PayoutAccount,
        &w.Amount,
        &w.Status,
        &w.CreatedAt,
        &w.ProcessedAt,
    )
    return w, err
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, e LedgerEntry) error {
    if e.Amount <= 0 {
        return nil
    }
    _, err := tx.Exec(ctx, `
        INSERT INTO ledger_entries (account_id, withdrawal_id, amount, direction, reason)
        VALUES ($1, $2, $3, $4, $5)
    `, e.AccountID, e.WithdrawalID, e.Amount, e.Direction, e.Reason)
    return err
}

func (s *Store) LedgerEntries(ctx context.Context, accountID int64) ([]LedgerEntry, error) {
    rows, err := s.pool.Query(ctx, `
        SELECT id, account_id, withdrawal_id, amount, direction, reason, created_at
        FROM ledger_entries
        WHERE account_id = $1
        ORDER BY id ASC
    `, accountID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var entries []LedgerEntry
    for rows.Next() {
        var e LedgerEntry
        if err := rows.Scan(&e.ID, &e.AccountID, &e.WithdrawalID, &e.Amount, &e.Direction, &e.Reason, &e.CreatedAt); err != nil {
            return nil, err
        }
        entries = append(entries, e)
    }
    return entries, rows.Err()
}

func isCheckViolation(err error) bool {
    var pgErr *pgconn.PgError
    if !errors.As(err, &pgErr) {
        return false
    }
    return pgErr.Code == "23514"
}
