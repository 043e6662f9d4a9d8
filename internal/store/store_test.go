package store_test

import (
    "context"
    "errors"
    "os"
    "sync"
    "testing"
    "time"

    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/stretchr/testify/require"

    "moneytree/internal/store"
)

type testEnv struct {
    pool  *pgxpool.Pool
    store *store.Store
}

func setupTest(t *testing.T) *testEnv {
    t.Helper()

    dbURL := os.Getenv("DATABASE_URL")
    if dbURL == "" {
        t.Skip("DATABASE_URL is not set")
    }

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    pool, err := pgxpool.New(ctx, dbURL)
    if err != nil {
        t.Fatalf("db connection: %v", err)
    }
    t.Cleanup(pool.Close)

    st := store.New(pool)
    if err := st.Migrate(ctx); err != nil {
        t.Fatalf("migrate: %v", err)
    }
    if _, err := pool.Exec(ctx, "TRUNCATE ledger_entries, withdrawals, accounts RESTART IDENTITY"); err != nil {
        t.Fatalf("reset db: %v", err)
    }
    return &testEnv{pool: pool, store: st}
}

func (e *testEnv) seedAccount(t *testing.T, id int64, balance int64) {
    t.Helper()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    if _, err := e.pool.Exec(ctx, "INSERT INTO accounts (id, balance) VALUES ($1, $2)", id, balance); err != nil {
        t.Fatalf("seed account: %v", err)
    }
}

func (e *testEnv) balance(t *testing.T, id int64) int64 {
    t.Helper()

    a, err := e.store.GetAccount(context.Background(), id)
    if err != nil {
        t.Fatalf("get account: %v", err)
    }
    return a.Balance
}

func TestCreateAccountIfAbsent(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()

    a, created, err := env.store.CreateAccountIfAbsent(ctx, store.CreateAccountInput{ID: 1, DisplayName: "A", Username: "a"}, 10)
    require.NoError(t, err)
    require.True(t, created)
    require.Equal(t, "A", a.DisplayName)
    require.Nil(t, a.ReferredBy)

    ghost := int64(77)
    b, created, err := env.store.CreateAccountIfAbsent(ctx, store.CreateAccountInput{ID: 2, ReferrerID: &ghost}, 10)
    require.NoError(t, err)
    require.True(t, created)
    require.NotNil(t, b.ReferredBy)
    require.Equal(t, ghost, *b.ReferredBy)
    stored, err := env.store.GetAccount(ctx, 2)
    require.NoError(t, err)
    require.Equal(t, ghost, *stored.ReferredBy)
    entries, err := env.store.LedgerEntries(ctx, 77)
    require.NoError(t, err)
    require.Empty(t, entries)

    again, created, err := env.store.CreateAccountIfAbsent(ctx, store.CreateAccountInput{ID: 1, DisplayName: "renamed"}, 10)
    require.NoError(t, err)
    require.False(t, created)
    require.Equal(t, "A", again.DisplayName)
}

func TestReferralBothLockOrders(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 5, 0)

    for _, id := range []int64{3, 8} {
        ref := int64(5)
        a, created, err := env.store.CreateAccountIfAbsent(ctx, store.CreateAccountInput{ID: id, ReferrerID: &ref}, 10)
        require.NoError(t, err)
        require.True(t, created)
        require.NotNil(t, a.ReferredBy)
        require.Equal(t, ref, *a.ReferredBy)
    }

    referrer, err := env.store.GetAccount(ctx, 5)
    require.NoError(t, err)
    require.Equal(t, int64(2), referrer.ReferralsCount)
    require.Equal(t, int64(20), referrer.Balance)

    entries, err := env.store.LedgerEntries(ctx, 5)
    require.NoError(t, err)
    require.Len(t, entries, 2)
    require.Equal(t, store.ReasonReferralBonus, entries[0].Reason)
}

func TestConcurrentReferralCreditedOnce(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 5, 0)

    var wg sync.WaitGroup
    var mu sync.Mutex
    created := 0
    for i := 0; i < 10; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            ref := int64(5)
            _, ok, err := env.store.CreateAccountIfAbsent(ctx, store.CreateAccountInput{ID: 9, ReferrerID: &ref}, 10)
            if err != nil {
                t.Errorf("create: %v", err)
                return
            }
            if ok {
                mu.Lock()
                created++
                mu.Unlock()
            }
        }()
    }
    wg.Wait()

    require.Equal(t, 1, created)
    referrer, err := env.store.GetAccount(ctx, 5)
    require.NoError(t, err)
    require.Equal(t, int64(1), referrer.ReferralsCount)
    require.Equal(t, int64(10), referrer.Balance)
}

func TestGrantSignupBonusExactlyOnce(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 1, 0)

    var wg sync.WaitGroup
    var mu sync.Mutex
    granted := 0
    for i := 0; i < 10; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            ok, err := env.store.GrantSignupBonus(ctx, 1, 50)
            if err != nil {
                t.Errorf("grant: %v", err)
                return
            }
            if ok {
                mu.Lock()
                granted++
                mu.Unlock()
            }
        }()
    }
    wg.Wait()

    require.Equal(t, 1, granted)
    require.Equal(t, int64(50), env.balance(t, 1))

    _, err := env.store.GrantSignupBonus(ctx, 2, 50)
    require.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestCreditDebit(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 1, 100)

    a, err := env.store.Credit(ctx, 1, 50, store.ReasonAdjustment)
    require.NoError(t, err)
    require.Equal(t, int64(150), a.Balance)

    a, err = env.store.Debit(ctx, 1, 150, store.ReasonAdjustment)
    require.NoError(t, err)
    require.Equal(t, int64(0), a.Balance)

    _, err = env.store.Debit(ctx, 1, 1, store.ReasonAdjustment)
    require.ErrorIs(t, err, store.ErrInsufficientBalance)

    _, err = env.store.Credit(ctx, 1, 0, store.ReasonAdjustment)
    require.ErrorIs(t, err, store.ErrInvalidAmount)

    _, err = env.store.Credit(ctx, 99, 5, store.ReasonAdjustment)
    require.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestRecordTaskCompletionQuota(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 1, 0)
    day := time.Date(2024, 5, 1, 22, 30, 0, 0, time.UTC)

    for want := 1; want <= 2; want++ {
        tc, err := env.store.RecordTaskCompletion(ctx, 1, 2, day, 5)
        require.NoError(t, err)
        require.True(t, tc.Allowed)
        require.Equal(t, want, tc.Count)
    }

    tc, err := env.store.RecordTaskCompletion(ctx, 1, 2, day, 5)
    require.NoError(t, err)
    require.False(t, tc.Allowed)
    require.Equal(t, 2, tc.Count)
    require.Equal(t, int64(10), env.balance(t, 1))

    tc, err = env.store.RecordTaskCompletion(ctx, 1, 2, day.Add(3*time.Hour), 5)
    require.NoError(t, err)
    require.True(t, tc.Allowed)
    require.Equal(t, 1, tc.Count)
    require.Equal(t, int64(15), tc.Balance)
}

func TestConcurrentTaskCompletionsBounded(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 1, 0)
    day := time.Now().UTC()

    var wg sync.WaitGroup
    for i := 0; i < 20; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            if _, err := env.store.RecordTaskCompletion(ctx, 1, 5, day, 5); err != nil {
                t.Errorf("record: %v", err)
            }
        }()
    }
    wg.Wait()

    a, err := env.store.GetAccount(ctx, 1)
    require.NoError(t, err)
    require.Equal(t, 5, a.QuotaCount)
    require.Equal(t, int64(25), a.Balance)
}

func TestWithdrawalRejectRefundsOnce(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 1, 250)

    w, balance, err := env.store.CreateWithdrawal(ctx, store.CreateWithdrawalInput{AccountID: 1, Method: "Bkash", PayoutAccount: "017", Amount: 200})
    require.NoError(t, err)
    require.Equal(t, store.StatusPending, w.Status)
    require.Equal(t, int64(50), balance)
    require.Equal(t, int64(50), env.balance(t, 1))

    rejected, err := env.store.RejectWithdrawal(ctx, w.ID)
    require.NoError(t, err)
    require.Equal(t, store.StatusRejected, rejected.Status)
    require.NotNil(t, rejected.ProcessedAt)
    require.Equal(t, int64(250), env.balance(t, 1))

    _, err = env.store.RejectWithdrawal(ctx, w.ID)
    require.ErrorIs(t, err, store.ErrInvalidStatus)
    _, err = env.store.ApproveWithdrawal(ctx, w.ID)
    require.ErrorIs(t, err, store.ErrInvalidStatus)
    require.Equal(t, int64(250), env.balance(t, 1))

    entries, err := env.store.LedgerEntries(ctx, 1)
    require.NoError(t, err)
    require.Len(t, entries, 2)
    require.Equal(t, store.DirectionDebit, entries[0].Direction)
    require.Equal(t, store.DirectionCredit, entries[1].Direction)
    require.Equal(t, w.ID, *entries[1].WithdrawalID)
}

func TestWithdrawalApproveKeepsBalance(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 1, 500)

    w, balance, err := env.store.CreateWithdrawal(ctx, store.CreateWithdrawalInput{AccountID: 1, Method: "nagad", PayoutAccount: "018", Amount: 300})
    require.NoError(t, err)
    require.Equal(t, int64(200), balance)

    approved, err := env.store.ApproveWithdrawal(ctx, w.ID)
    require.NoError(t, err)
    require.Equal(t, store.StatusApproved, approved.Status)
    require.Equal(t, int64(200), env.balance(t, 1))

    _, err = env.store.ApproveWithdrawal(ctx, 999)
    require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateWithdrawalErrors(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 1, 100)

    _, _, err := env.store.CreateWithdrawal(ctx, store.CreateWithdrawalInput{AccountID: 1, Method: "bkash", PayoutAccount: "x", Amount: 200})
    require.ErrorIs(t, err, store.ErrInsufficientBalance)

    _, _, err = env.store.CreateWithdrawal(ctx, store.CreateWithdrawalInput{AccountID: 2, Method: "bkash", PayoutAccount: "x", Amount: 50})
    require.ErrorIs(t, err, store.ErrAccountNotFound)

    _, _, err = env.store.CreateWithdrawal(ctx, store.CreateWithdrawalInput{AccountID: 1, Method: "bkash", PayoutAccount: "x", Amount: 0})
    require.ErrorIs(t, err, store.ErrInvalidAmount)

    _, _, err = env.store.CreateWithdrawal(ctx, store.CreateWithdrawalInput{AccountID: 1, Method: "bkash", PayoutAccount: "  ", Amount: 50})
    require.ErrorIs(t, err, store.ErrInvalidPayoutAccount)
    require.Equal(t, int64(100), env.balance(t, 1))

    pending, err := env.store.ListPendingWithdrawals(ctx)
    require.NoError(t, err)
    require.Empty(t, pending)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 1, 100)

    var wg sync.WaitGroup
    results := make(chan error, 2)
    for i := 0; i < 2; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            _, _, err := env.store.CreateWithdrawal(ctx, store.CreateWithdrawalInput{AccountID: 1, Method: "bkash", PayoutAccount: "x", Amount: 80})
            results <- err
        }()
    }
    wg.Wait()
    close(results)

    created, conflicts := 0, 0
    for err := range results {
        switch {
        case err == nil:
            created++
        case errors.Is(err, store.ErrInsufficientBalance):
            conflicts++
        default:
            t.Fatalf("unexpected error: %v", err)
        }
    }
    if created != 1 || conflicts != 1 {
        t.Fatalf("expected 1 created and 1 conflict, got %d and %d", created, conflicts)
    }
    if balance := env.balance(t, 1); balance != 20 {
        t.Fatalf("expected balance 20, got %d", balance)
    }
}

func TestConcurrentDecisionsSingleWinner(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 1, 300)

    w, _, err := env.store.CreateWithdrawal(ctx, store.CreateWithdrawalInput{AccountID: 1, Method: "rocket", PayoutAccount: "x", Amount: 300})
    require.NoError(t, err)

    var wg sync.WaitGroup
    results := make(chan error, 6)
    for i := 0; i < 6; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            _, err := env.store.RejectWithdrawal(ctx, w.ID)
            results <- err
        }()
    }
    wg.Wait()
    close(results)

    ok := 0
    for err := range results {
        if err == nil {
            ok++
            continue
        }
        require.ErrorIs(t, err, store.ErrInvalidStatus)
    }
    require.Equal(t, 1, ok)
    require.Equal(t, int64(300), env.balance(t, 1))
}

func TestListPendingNewestFirst(t *testing.T) {
    env := setupTest(t)
    ctx := context.Background()
    env.seedAccount(t, 1, 1000)

    var ids []int64
    for _, amount := range []int64{100, 200, 300} {
        w, _, err := env.store.CreateWithdrawal(ctx, store.CreateWithdrawalInput{AccountID: 1, Method: "bkash", PayoutAccount: "x", Amount: amount})
        require.NoError(t, err)
        ids = append(ids, w.ID)
    }
    _, err := env.store.ApproveWithdrawal(ctx, ids[1])
    require.NoError(t, err)

    pending, err := env.store.ListPendingWithdrawals(ctx)
    require.NoError(t, err)
    require.Len(t, pending, 2)
    require.Equal(t, ids[2], pending[0].ID)
    require.Equal(t, ids[0], pending[1].ID)
}

func TestEffectiveQuotaCount(t *testing.T) {
    day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
    a := store.Account{QuotaDate: &day, QuotaCount: 4}

    require.Equal(t, 4, store.EffectiveQuotaCount(a, day.Add(23*time.Hour)))
    require.Equal(t, 0, store.EffectiveQuotaCount(a, day.Add(24*time.Hour)))
    require.Equal(t, 0, store.EffectiveQuotaCount(store.Account{QuotaCount: 4}, day))
}
