package conversation

import (
    "context"
    "time"
)

type State string

const (
    Idle            State = "idle"
    AwaitingAmount  State = "awaiting_amount"
    AwaitingMethod  State = "awaiting_method"
    AwaitingAccount State = "awaiting_account"
)

// Session is the transient per-account dialog state. Amount is set from
// AwaitingMethod onwards and Method from AwaitingAccount onwards.
type Session struct {
    State     State     `json:"state"`
    Amount    int64     `json:"amount,omitempty"`
    Method    string    `json:"method,omitempty"`
    UpdatedAt time.Time `json:"updated_at"`
}

func (s Session) Active() bool {
    return s.State != "" && s.State != Idle
}

// Store keeps one Session per account. Load returns an Idle session when
// nothing is stored or the stored session has expired. Take removes the
// session only if it is in state want, and reports whether this caller got
// it; of several concurrent callers at most one does.
type Store interface {
    Load(ctx context.Context, accountID int64) (Session, error)
    Save(ctx context.Context, accountID int64, s Session) error
    Clear(ctx context.Context, accountID int64) error
    Take(ctx context.Context, accountID int64, want State) (Session, bool, error)
}
