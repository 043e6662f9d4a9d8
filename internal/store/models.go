package store

import "time"

const (
    StatusPending  = "pending"
    StatusApproved = "approved"
    StatusRejected = "rejected"
)

const (
    DirectionCredit = "credit"
    DirectionDebit  = "debit"
)

const (
    ReasonSignupBonus       = "signup_bonus"
    ReasonReferralBonus     = "referral_bonus"
    ReasonTaskReward        = "task_reward"
    ReasonWithdrawalReserve = "withdrawal_reserve"
    ReasonWithdrawalRefund  = "withdrawal_refund"
    ReasonAdjustment        = "adjustment"
)

type Account struct {
    ID             int64
    DisplayName    string
    Username       string
    Balance        int64
    BonusGiven     bool
    ReferredBy     *int64
    ReferralsCount int64
    QuotaDate      *time.Time
    QuotaCount     int
    CreatedAt      time.Time
}

type CreateAccountInput struct {
    ID          int64
    DisplayName string
    Username    string
    ReferrerID  *int64
}

type TaskCompletion struct {
    Count   int
    Allowed bool
    Balance int64
}

type Withdrawal struct {
    ID            int64
    AccountID     int64
    Method        string
    PayoutAccount string
    Amount        int64
    Status        string
    CreatedAt     time.Time
    ProcessedAt   *time.Time
}

type CreateWithdrawalInput struct {
    AccountID     int64
    Method        string
    PayoutAccount string
    Amount        int64
}

type LedgerEntry struct {
    ID           int64
    AccountID    int64
    WithdrawalID *int64
    Amount       int64
    Direction    string
    Reason       string
    CreatedAt    time.Time
}

func QuotaDay(t time.Time) time.Time {
    t = t.UTC()
    return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EffectiveQuotaCount is the completion count that applies on today: the
// stored count when it was recorded on the same UTC date, zero otherwise.
func EffectiveQuotaCount(a Account, today time.Time) int {
    if a.QuotaDate == nil || !QuotaDay(*a.QuotaDate).Equal(QuotaDay(today)) {
        return 0
    }
    return a.QuotaCount
}
