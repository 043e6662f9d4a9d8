package ledger

import (
    "context"
    "io"
    "log/slog"
    "sync"
    "time"

    "moneytree/internal/conversation"
    "moneytree/internal/store"
)

// Store is implemented by *store.Store. Every method is atomic.
type Store interface {
    CreateAccountIfAbsent(ctx context.Context, input store.CreateAccountInput, refBonus int64) (store.Account, bool, error)
    GrantSignupBonus(ctx context.Context, id int64, amount int64) (bool, error)
    GetAccount(ctx context.Context, id int64) (store.Account, error)
    Credit(ctx context.Context, id int64, amount int64, reason string) (store.Account, error)
    Debit(ctx context.Context, id int64, amount int64, reason string) (store.Account, error)
    RecordTaskCompletion(ctx context.Context, id int64, limit int, today time.Time, reward int64) (store.TaskCompletion, error)
    CreateWithdrawal(ctx context.Context, input store.CreateWithdrawalInput) (store.Withdrawal, int64, error)
    GetWithdrawal(ctx context.Context, id int64) (store.Withdrawal, error)
    ApproveWithdrawal(ctx context.Context, id int64) (store.Withdrawal, error)
    RejectWithdrawal(ctx context.Context, id int64) (store.Withdrawal, error)
    ListPendingWithdrawals(ctx context.Context) ([]store.Withdrawal, error)
}

type Notifier interface {
    WithdrawalRequested(ctx context.Context, w store.Withdrawal, actions AdminActions) error
    WithdrawalDecided(ctx context.Context, w store.Withdrawal) error
}

type nopNotifier struct{}

func (nopNotifier) WithdrawalRequested(context.Context, store.Withdrawal, AdminActions) error {
    return nil
}

func (nopNotifier) WithdrawalDecided(context.Context, store.Withdrawal) error {
    return nil
}

type Authorizer func(callerID int64) bool

func SingleAdmin(adminID int64) Authorizer {
    return func(callerID int64) bool {
        return adminID != 0 && callerID == adminID
    }
}

// Config holds the reward program amounts, all in minor units.
type Config struct {
    SignupBonus    int64
    ReferralBonus  int64
    TaskReward     int64
    DailyTaskLimit int
    MinWithdraw    int64
}

const notifyTimeout = 10 * time.Second

type dialogLock struct {
    mu   sync.Mutex
    refs int
}

type Service struct {
    store         Store
    conversations conversation.Store
    isAdmin       Authorizer
    cfg           Config
    notifier      Notifier
    logger        *slog.Logger
    now           func() time.Time

    locksMu     sync.Mutex
    dialogLocks map[int64]*dialogLock
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
    return func(s *Service) {
        if n != nil {
            s.notifier = n
        }
    }
}

func WithLogger(l *slog.Logger) Option {
    return func(s *Service) {
        if l != nil {
            s.logger = l
        }
    }
}

func WithClock(now func() time.Time) Option {
    return func(s *Service) {
        if now != nil {
            s.now = now
        }
    }
}

func NewService(st Store, conversations conversation.Store, isAdmin Authorizer, cfg Config, opts ...Option) *Service {
    if isAdmin == nil {
        isAdmin = func(int64) bool { return false }
    }
    s := &Service{
        store:         st,
        conversations: conversations,
        isAdmin:       isAdmin,
        cfg:           cfg,
        notifier:      nopNotifier{},
        logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
        now:           time.Now,
        dialogLocks:   make(map[int64]*dialogLock),
    }
    for _, opt := range opts {
        opt(s)
    }
    return s
}

func (s *Service) Config() Config {
    return s.cfg
}

// lockDialog serialises dialog steps of one account inside this process.
// Entries are dropped once no caller holds or waits for them.
func (s *Service) lockDialog(accountID int64) func() {
    s.locksMu.Lock()
    l, ok := s.dialogLocks[accountID]
    if !ok {
        l = &dialogLock{}
        s.dialogLocks[accountID] = l
    }
    l.refs++
    s.locksMu.Unlock()

    l.mu.Lock()
    return func() {
        l.mu.Unlock()
        s.locksMu.Lock()
        l.refs--
        if l.refs == 0 {
            delete(s.dialogLocks, accountID)
        }
        s.locksMu.Unlock()
    }
}

type RegisterInput struct {
    ID          int64
    DisplayName string
    Username    string
    ReferrerID  *int64
}

type RegisterResult struct {
    Account      store.Account
    Created      bool
    BonusGranted bool
}

// RegisterAccount is idempotent per id.
func (s *Service) RegisterAccount(ctx context.Context, in RegisterInput) (RegisterResult, error) {
    if in.ID <= 0 {
        return RegisterResult{}, invalid("id", ReasonNotPositive)
    }

    account, created, err := s.store.CreateAccountIfAbsent(ctx, store.CreateAccountInput{
        ID:          in.ID,
        DisplayName: in.DisplayName,
        Username:    in.Username,
        ReferrerID:  in.ReferrerID,
    }, s.cfg.ReferralBonus)
    if err != nil {
        return RegisterResult{}, translate("create account", err)
    }

    granted, err := s.store.GrantSignupBonus(ctx, in.ID, s.cfg.SignupBonus)
    if err != nil {
        return RegisterResult{}, translate("grant signup bonus", err)
    }
    if granted {
        account.Balance += s.cfg.SignupBonus
        account.BonusGiven = true
    }

    return RegisterResult{Account: account, Created: created, BonusGranted: granted}, nil
}

type TaskResult struct {
    Count   int
    Limit   int
    Allowed bool
    Reward  int64
    Balance int64
}

// RecordTaskCompletion counts one completed task against today's quota and
// credits the task reward. Once the quota is used up it returns the current
// count together with ErrQuotaExceeded and leaves the account untouched.
func (s *Service) RecordTaskCompletion(ctx context.Context, id int64) (TaskResult, error) {
    limit := s.cfg.DailyTaskLimit
    tc, err := s.store.RecordTaskCompletion(ctx, id, limit, s.now().UTC(), s.cfg.TaskReward)
    if err != nil {
        return TaskResult{}, translate("record task completion", err)
    }
    res := TaskResult{
        Count:   tc.Count,
        Limit:   limit,
        Allowed: tc.Allowed,
        Balance: tc.Balance,
    }
    if !tc.Allowed {
        return res, ErrQuotaExceeded
    }
    res.Reward = s.cfg.TaskReward
    return res, nil
}

type Summary struct {
    AccountID  int64
    Balance    int64
    Referrals  int64
    ReferredBy *int64
    BonusGiven bool
    QuotaDate  *time.Time
    QuotaCount int
    QuotaLimit int
    CreatedAt  time.Time
}

func (s *Service) GetAccountSummary(ctx context.Context, id int64) (Summary, error) {
    a, err := s.store.GetAccount(ctx, id)
    if err != nil {
        return Summary{}, translate("get account", err)
    }
    return Summary{
        AccountID:  a.ID,
        Balance:    a.Balance,
        Referrals:  a.ReferralsCount,
        ReferredBy: a.ReferredBy,
        BonusGiven: a.BonusGiven,
        QuotaDate:  a.QuotaDate,
        QuotaCount: store.EffectiveQuotaCount(a, s.now()),
        QuotaLimit: s.cfg.DailyTaskLimit,
        CreatedAt:  a.CreatedAt,
    }, nil
}

func (s *Service) ListPendingWithdrawals(ctx context.Context) ([]store.Withdrawal, error) {
    out, err := s.store.ListPendingWithdrawals(ctx)
    if err != nil {
        return nil, translate("list pending withdrawals", err)
    }
    return out, nil
}

func (s *Service) GetWithdrawal(ctx context.Context, id int64) (store.Withdrawal, error) {
    w, err := s.store.GetWithdrawal(ctx, id)
    if err != nil {
        return store.Withdrawal{}, translate("get withdrawal", err)
    }
    return w, nil
}

// deliver runs a notification after commit. It is detached from the caller's
// cancellation and its failure is only logged.
func (s *Service) deliver(ctx context.Context, event string, w store.Withdrawal, send func(context.Context) error) {
    ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
    defer cancel()

    if err := send(ctx); err != nil {
        s.logger.Error("notification_failed",
            "event", event,
            "withdrawal_id", w.ID,
            "account_id", w.AccountID,
            "error", err,
        )
    }
}
