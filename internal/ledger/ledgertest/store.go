package ledgertest

import (
    "context"
    "sort"
    "strings"
    "sync"
    "time"

    "moneytree/internal/store"
)

// Store is an in-memory ledger.Store. Two-account operations lock in
// ascending id order, and decisions lock the withdrawal before its account.
type Store struct {
    mu          sync.Mutex
    accounts    map[int64]store.Account
    withdrawals map[int64]store.Withdrawal
    entries     []store.LedgerEntry
    accLocks    map[int64]*sync.Mutex
    wLocks      map[int64]*sync.Mutex
    nextWID     int64
    nextEID     int64
    now         func() time.Time
}

func New() *Store {
    return &Store{
        accounts:    make(map[int64]store.Account),
        withdrawals: make(map[int64]store.Withdrawal),
        accLocks:    make(map[int64]*sync.Mutex),
        wLocks:      make(map[int64]*sync.Mutex),
        now:         time.Now,
    }
}

// SetBalance overwrites a balance without a ledger entry. Seeding only.
func (s *Store) SetBalance(id int64, balance int64) {
    unlock := s.lockAccounts(id)
    defer unlock()

    s.mu.Lock()
    defer s.mu.Unlock()
    a, ok := s.accounts[id]
    if !ok {
        a = store.Account{ID: id, CreatedAt: s.now()}
    }
    a.Balance = balance
    s.accounts[id] = a
}

// Entries returns the ledger entries of an account, oldest first.
func (s *Store) Entries(accountID int64) []store.LedgerEntry {
    s.mu.Lock()
    defer s.mu.Unlock()

    var out []store.LedgerEntry
    for _, e := range s.entries {
        if e.AccountID == accountID {
            out = append(out, e)
        }
    }
    return out
}

func (s *Store) lockAccounts(ids ...int64) func() {
    sorted := append([]int64(nil), ids...)
    sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

    var held []*sync.Mutex
    for i, id := range sorted {
        if i > 0 && sorted[i-1] == id {
            continue
        }
        s.mu.Lock()
        l, ok := s.accLocks[id]
        if !ok {
            l = &sync.Mutex{}
            s.accLocks[id] = l
        }
        s.mu.Unlock()
        l.Lock()
        held = append(held, l)
    }
    return func() {
        for i := len(held) - 1; i >= 0; i-- {
            held[i].Unlock()
        }
    }
}

func (s *Store) lockWithdrawal(id int64) func() {
    s.mu.Lock()
    l, ok := s.wLocks[id]
    if !ok {
        l = &sync.Mutex{}
        s.wLocks[id] = l
    }
    s.mu.Unlock()
    l.Lock()
    return l.Unlock
}

func (s *Store) account(id int64) (store.Account, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    a, ok := s.accounts[id]
    return a, ok
}

func (s *Store) putAccount(a store.Account, entry *store.LedgerEntry) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.putAccountLocked(a, entry)
}

func (s *Store) putAccountLocked(a store.Account, entry *store.LedgerEntry) {
    s.accounts[a.ID] = a
    if entry != nil && entry.Amount > 0 {
        s.nextEID++
        entry.ID = s.nextEID
        entry.CreatedAt = s.now()
        s.entries = append(s.entries, *entry)
    }
}

func (s *Store) CreateAccountIfAbsent(_ context.Context, input store.CreateAccountInput, refBonus int64) (store.Account, bool, error) {
    var referredBy *int64
    referrerID := int64(0)
    if input.ReferrerID != nil && *input.ReferrerID != input.ID {
        referrerID = *input.ReferrerID
        referredBy = &referrerID
    }
    ids := []int64{input.ID}
    if referrerID != 0 {
        ids = append(ids, referrerID)
    }
    unlock := s.lockAccounts(ids...)
    defer unlock()

    if existing, ok := s.account(input.ID); ok {
        return existing, false, nil
    }

    a := store.Account{
        ID:          input.ID,
        DisplayName: input.DisplayName,
        Username:    input.Username,
        ReferredBy:  referredBy,
        CreatedAt:   s.now(),
    }
    s.mu.Lock()
    defer s.mu.Unlock()

    if referrer, ok := s.accounts[referrerID]; ok && referrerID != 0 {
        referrer.ReferralsCount++
        referrer.Balance += refBonus
        s.putAccountLocked(referrer, &store.LedgerEntry{
            AccountID: referrerID,
            Amount:    refBonus,
            Direction: store.DirectionCredit,
            Reason:    store.ReasonReferralBonus,
        })
    }
    s.putAccountLocked(a, nil)
    return a, true, nil
}

func (s *Store) GrantSignupBonus(_ context.Context, id int64, amount int64) (bool, error) {
    if amount < 0 {
        return false, store.ErrInvalidAmount
    }
    unlock := s.lockAccounts(id)
    defer unlock()

    a, ok := s.account(id)
    if !ok {
        return false, store.ErrAccountNotFound
    }
    if a.BonusGiven {
        return false, nil
    }
    a.BonusGiven = true
    a.Balance += amount
    s.putAccount(a, &store.LedgerEntry{
        AccountID: id,
        Amount:    amount,
        Direction: store.DirectionCredit,
        Reason:    store.ReasonSignupBonus,
    })
    return true, nil
}

func (s *Store) GetAccount(_ context.Context, id int64) (store.Account, error) {
    a, ok := s.account(id)
    if !ok {
        return store.Account{}, store.ErrAccountNotFound
    }
    return a, nil
}

func (s *Store) Credit(_ context.Context, id int64, amount int64, reason string) (store.Account, error) {
    return s.adjust(id, amount, store.DirectionCredit, reason)
}

func (s *Store) Debit(_ context.Context, id int64, amount int64, reason string) (store.Account, error) {
    return s.adjust(id, amount, store.DirectionDebit, reason)
}

func (s *Store) adjust(id int64, amount int64, direction, reason string) (store.Account, error) {
    if amount <= 0 {
        return store.Account{}, store.ErrInvalidAmount
    }
    unlock := s.lockAccounts(id)
    defer unlock()

    a, ok := s.account(id)
    if !ok {
        return store.Account{}, store.ErrAccountNotFound
    }
    if direction == store.DirectionDebit {
        if a.Balance < amount {
            return store.Account{}, store.ErrInsufficientBalance
        }
        a.Balance -= amount
    } else {
        a.Balance += amount
    }
    s.putAccount(a, &store.LedgerEntry{
        AccountID: id,
        Amount:    amount,
        Direction: direction,
        Reason:    reason,
    })
    return a, nil
}

func (s *Store) RecordTaskCompletion(_ context.Context, id int64, limit int, today time.Time, reward int64) (store.TaskCompletion, error) {
    unlock := s.lockAccounts(id)
    defer unlock()

    a, ok := s.account(id)
    if !ok {
        return store.TaskCompletion{}, store.ErrAccountNotFound
    }
    count := store.EffectiveQuotaCount(a, today)
    if count >= limit {
        return store.TaskCompletion{Count: count, Allowed: false, Balance: a.Balance}, nil
    }
    count++
    day := store.QuotaDay(today)
    a.QuotaDate = &day
    a.QuotaCount = count
    a.Balance += reward
    s.putAccount(a, &store.LedgerEntry{
        AccountID: id,
        Amount:    reward,
        Direction: store.DirectionCredit,
        Reason:    store.ReasonTaskReward,
    })
    return store.TaskCompletion{Count: count, Allowed: true, Balance: a.Balance}, nil
}

func (s *Store) CreateWithdrawal(_ context.Context, input store.CreateWithdrawalInput) (store.Withdrawal, int64, error) {
    if input.Amount <= 0 {
        return store.Withdrawal{}, 0, store.ErrInvalidAmount
    }
    if strings.TrimSpace(input.PayoutAccount) == "" {
        return store.Withdrawal{}, 0, store.ErrInvalidPayoutAccount
    }
    unlock := s.lockAccounts(input.AccountID)
    defer unlock()

    a, ok := s.account(input.AccountID)
    if !ok {
        return store.Withdrawal{}, 0, store.ErrAccountNotFound
    }
    if a.Balance < input.Amount {
        return store.Withdrawal{}, 0, store.ErrInsufficientBalance
    }

    s.mu.Lock()
    defer s.mu.Unlock()

    s.nextWID++
    w := store.Withdrawal{
        ID:            s.nextWID,
        AccountID:     input.AccountID,
        Method:        input.Method,
        PayoutAccount: input.PayoutAccount,
        Amount:        input.Amount,
        Status:        store.StatusPending,
        CreatedAt:     s.now(),
    }
    s.withdrawals[w.ID] = w

    a.Balance -= input.Amount
    wid := w.ID
    s.putAccountLocked(a, &store.LedgerEntry{
        AccountID:    input.AccountID,
        WithdrawalID: &wid,
        Amount:       input.Amount,
        Direction:    store.DirectionDebit,
        Reason:       store.ReasonWithdrawalReserve,
    })
    return w, a.Balance, nil
}

func (s *Store) GetWithdrawal(_ context.Context, id int64) (store.Withdrawal, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    w, ok := s.withdrawals[id]
    if !ok {
        return store.Withdrawal{}, store.ErrNotFound
    }
    return w, nil
}

func (s *Store) ListPendingWithdrawals(_ context.Context) ([]store.Withdrawal, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    var out []store.Withdrawal
    for _, w := range s.withdrawals {
        if w.Status == store.StatusPending {
            out = append(out, w)
        }
    }
    sort.Slice(out, func(i, j int) bool {
        if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
            return out[i].CreatedAt.After(out[j].CreatedAt)
        }
        return out[i].ID > out[j].ID
    })
    return out, nil
}

func (s *Store) ApproveWithdrawal(_ context.Context, id int64) (store.Withdrawal, error) {
    return s.decide(id, store.StatusApproved)
}

func (s *Store) RejectWithdrawal(_ context.Context, id int64) (store.Withdrawal, error) {
    return s.decide(id, store.StatusRejected)
}

func (s *Store) decide(id int64, status string) (store.Withdrawal, error) {
    unlockW := s.lockWithdrawal(id)
    defer unlockW()

    w, err := s.GetWithdrawal(context.Background(), id)
    if err != nil {
        return store.Withdrawal{}, err
    }
    if w.Status != store.StatusPending {
        return store.Withdrawal{}, store.ErrInvalidStatus
    }

    unlockA := s.lockAccounts(w.AccountID)
    defer unlockA()

    s.mu.Lock()
    defer s.mu.Unlock()

    processed := s.now()
    w.Status = status
    w.ProcessedAt = &processed
    s.withdrawals[id] = w

    if status == store.StatusRejected {
        a := s.accounts[w.AccountID]
        a.Balance += w.Amount
        wid := w.ID
        s.putAccountLocked(a, &store.LedgerEntry{
            AccountID:    w.AccountID,
            WithdrawalID: &wid,
            Amount:       w.Amount,
            Direction:    store.DirectionCredit,
            Reason:       store.ReasonWithdrawalRefund,
        })
    }
    return w, nil
}
