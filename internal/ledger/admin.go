package ledger

import (
    "context"
    "fmt"
    "strconv"
    "strings"

    "moneytree/internal/store"
)

const (
    ActionApprove = "approve"
    ActionReject  = "reject"
)

const actionPrefix = "w_"

// AdminActions are the opaque payloads the admin channel sends back to
// approve or reject one request.
type AdminActions struct {
    Approve string
    Reject  string
}

func ActionsFor(requestID int64) AdminActions {
    id := strconv.FormatInt(requestID, 10)
    return AdminActions{
        Approve: actionPrefix + ActionApprove + "_" + id,
        Reject:  actionPrefix + ActionReject + "_" + id,
    }
}

func ParseAdminAction(data string) (string, int64, error) {
    parts := strings.Split(data, "_")
    if len(parts) != 3 || parts[0]+"_" != actionPrefix {
        return "", 0, invalid("action", fmt.Sprintf("malformed %q", data))
    }
    if parts[1] != ActionApprove && parts[1] != ActionReject {
        return "", 0, invalid("action", fmt.Sprintf("unknown %q", parts[1]))
    }
    id, err := strconv.ParseInt(parts[2], 10, 64)
    if err != nil || id <= 0 {
        return "", 0, invalid("action", fmt.Sprintf("bad request id %q", parts[2]))
    }
    return parts[1], id, nil
}

// AdminApprove leaves the balance alone; funds were reserved at creation.
func (s *Service) AdminApprove(ctx context.Context, callerID, requestID int64) (store.Withdrawal, error) {
    if !s.isAdmin(callerID) {
        return store.Withdrawal{}, ErrUnauthorized
    }
    w, err := s.store.ApproveWithdrawal(ctx, requestID)
    if err != nil {
        return store.Withdrawal{}, translate("approve withdrawal", err)
    }
    s.deliver(ctx, "withdrawal_approved", w, func(ctx context.Context) error {
        return s.notifier.WithdrawalDecided(ctx, w)
    })
    return w, nil
}

func (s *Service) AdminReject(ctx context.Context, callerID, requestID int64) (store.Withdrawal, error) {
    if !s.isAdmin(callerID) {
        return store.Withdrawal{}, ErrUnauthorized
    }
    w, err := s.store.RejectWithdrawal(ctx, requestID)
    if err != nil {
        return store.Withdrawal{}, translate("reject withdrawal", err)
    }
    s.deliver(ctx, "withdrawal_rejected", w, func(ctx context.Context) error {
        return s.notifier.WithdrawalDecided(ctx, w)
    })
    return w, nil
}

func (s *Service) AdminDecide(ctx context.Context, callerID int64, data string) (store.Withdrawal, error) {
    if !s.isAdmin(callerID) {
        return store.Withdrawal{}, ErrUnauthorized
    }
    action, id, err := ParseAdminAction(data)
    if err != nil {
        return store.Withdrawal{}, err
    }
    if action == ActionApprove {
        return s.AdminApprove(ctx, callerID, id)
    }
    return s.AdminReject(ctx, callerID, id)
}

func (s *Service) AdminAdjustBalance(ctx context.Context, callerID, accountID, delta int64) (store.Account, error) {
    if !s.isAdmin(callerID) {
        return store.Account{}, ErrUnauthorized
    }
    var (
        a   store.Account
        err error
    )
    switch {
    case delta > 0:
        a, err = s.store.Credit(ctx, accountID, delta, store.ReasonAdjustment)
    case delta < 0:
        a, err = s.store.Debit(ctx, accountID, -delta, store.ReasonAdjustment)
    default:
        return store.Account{}, invalid("delta", ReasonNotPositive)
    }
    if err != nil {
        return store.Account{}, translate("adjust balance", err)
    }
    return a, nil
}
