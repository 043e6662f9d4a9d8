package ledger

import (
    "context"
    "strconv"
    "strings"

    "moneytree/internal/conversation"
    "moneytree/internal/store"
)

var payoutMethods = []string{"bkash", "nagad", "rocket"}

func IsPayoutMethod(text string) bool {
    m := strings.ToLower(strings.TrimSpace(text))
    for _, pm := range payoutMethods {
        if m == pm {
            return true
        }
    }
    return false
}

type WithdrawalPrompt struct {
    Balance int64
    Minimum int64
}

type AmountResult struct {
    Amount int64
}

type MethodResult struct {
    Amount int64
    Method string
}

type WithdrawalReceipt struct {
    RequestID     int64
    AccountID     int64
    Amount        int64
    Method        string
    PayoutAccount string
    Balance       int64
    Actions       AdminActions
}

func (s *Service) BeginWithdrawal(ctx context.Context, id int64) (WithdrawalPrompt, error) {
    unlock := s.lockDialog(id)
    defer unlock()

    a, err := s.store.GetAccount(ctx, id)
    if err != nil {
        return WithdrawalPrompt{}, translate("get account", err)
    }
    if err := s.conversations.Save(ctx, id, conversation.Session{State: conversation.AwaitingAmount}); err != nil {
        return WithdrawalPrompt{}, translate("save conversation", err)
    }
    return WithdrawalPrompt{Balance: a.Balance, Minimum: s.cfg.MinWithdraw}, nil
}

// SupplyWithdrawalAmount handles the amount step. Any failure ends the
// dialog.
func (s *Service) SupplyWithdrawalAmount(ctx context.Context, id int64, text string) (AmountResult, error) {
    unlock := s.lockDialog(id)
    defer unlock()

    sess, err := s.activeSession(ctx, id, conversation.AwaitingAmount)
    if err != nil {
        return AmountResult{}, err
    }
    return s.supplyAmount(ctx, id, sess, text)
}

func (s *Service) supplyAmount(ctx context.Context, id int64, sess conversation.Session, text string) (AmountResult, error) {
    amount, verr := parseAmount(text)
    if verr == nil && amount < s.cfg.MinWithdraw {
        verr = invalid("amount", ReasonBelowMinimum)
    }
    if verr != nil {
        return AmountResult{}, s.endDialog(ctx, id, verr)
    }

    a, err := s.store.GetAccount(ctx, id)
    if err != nil {
        return AmountResult{}, s.endDialog(ctx, id, translate("get account", err))
    }
    if amount > a.Balance {
        return AmountResult{}, s.endDialog(ctx, id, ErrInsufficientBalance)
    }

    sess.State = conversation.AwaitingMethod
    sess.Amount = amount
    if err := s.conversations.Save(ctx, id, sess); err != nil {
        return AmountResult{}, translate("save conversation", err)
    }
    return AmountResult{Amount: amount}, nil
}

// SupplyWithdrawalMethod handles the method step. An unknown method keeps
// the dialog where it is so the caller can prompt again.
func (s *Service) SupplyWithdrawalMethod(ctx context.Context, id int64, text string) (MethodResult, error) {
    unlock := s.lockDialog(id)
    defer unlock()

    sess, err := s.activeSession(ctx, id, conversation.AwaitingMethod)
    if err != nil {
        return MethodResult{}, err
    }
    return s.supplyMethod(ctx, id, sess, text)
}

func (s *Service) supplyMethod(ctx context.Context, id int64, sess conversation.Session, text string) (MethodResult, error) {
    if !IsPayoutMethod(text) {
        return MethodResult{}, invalid("method", ReasonUnknownMethod)
    }

    sess.State = conversation.AwaitingAccount
    sess.Method = strings.TrimSpace(text)
    if err := s.conversations.Save(ctx, id, sess); err != nil {
        return MethodResult{}, translate("save conversation", err)
    }
    return MethodResult{Amount: sess.Amount, Method: sess.Method}, nil
}

// SupplyWithdrawalAccount takes the payout destination and finalizes. The
// dialog ends whether or not the reservation succeeds.
func (s *Service) SupplyWithdrawalAccount(ctx context.Context, id int64, text string) (WithdrawalReceipt, error) {
    receipt, w, err := s.supplyAccount(ctx, id, text)
    if err != nil {
        return WithdrawalReceipt{}, err
    }
    s.announce(ctx, w, receipt.Actions)
    return receipt, nil
}

func (s *Service) supplyAccount(ctx context.Context, id int64, text string) (WithdrawalReceipt, store.Withdrawal, error) {
    unlock := s.lockDialog(id)
    defer unlock()

    return s.finalize(ctx, id, text)
}

// finalize claims the session before reserving. Only one delivery of the
// final message wins the claim, across processes too.
func (s *Service) finalize(ctx context.Context, id int64, text string) (WithdrawalReceipt, store.Withdrawal, error) {
    sess, ok, err := s.conversations.Take(ctx, id, conversation.AwaitingAccount)
    if err != nil {
        return WithdrawalReceipt{}, store.Withdrawal{}, translate("take conversation", err)
    }
    if !ok {
        return WithdrawalReceipt{}, store.Withdrawal{}, ErrInvalidState
    }

    w, balance, err := s.store.CreateWithdrawal(ctx, store.CreateWithdrawalInput{
        AccountID:     id,
        Method:        sess.Method,
        PayoutAccount: strings.TrimSpace(text),
        Amount:        sess.Amount,
    })
    if err != nil {
        return WithdrawalReceipt{}, store.Withdrawal{}, translate("create withdrawal", err)
    }

    return WithdrawalReceipt{
        RequestID:     w.ID,
        AccountID:     w.AccountID,
        Amount:        w.Amount,
        Method:        w.Method,
        PayoutAccount: w.PayoutAccount,
        Balance:       balance,
        Actions:       ActionsFor(w.ID),
    }, w, nil
}

// announce runs outside the dialog lock.
func (s *Service) announce(ctx context.Context, w store.Withdrawal, actions AdminActions) {
    s.deliver(ctx, "withdrawal_requested", w, func(ctx context.Context) error {
        return s.notifier.WithdrawalRequested(ctx, w, actions)
    })
}

func (s *Service) ResetConversation(ctx context.Context, id int64) error {
    unlock := s.lockDialog(id)
    defer unlock()

    if err := s.conversations.Clear(ctx, id); err != nil {
        return translate("clear conversation", err)
    }
    return nil
}

// TextResult describes where a free-text message left the dialog. Exactly
// one of Amount, Method or Receipt is filled in, matching the step handled.
type TextResult struct {
    State   conversation.State
    Amount  *AmountResult
    Method  *MethodResult
    Receipt *WithdrawalReceipt
}

// SubmitText routes free text to the step the dialog is waiting for.
func (s *Service) SubmitText(ctx context.Context, id int64, text string) (TextResult, error) {
    res, w, err := s.submitText(ctx, id, text)
    if err != nil {
        return res, err
    }
    if res.Receipt != nil {
        s.announce(ctx, w, res.Receipt.Actions)
    }
    return res, nil
}

func (s *Service) submitText(ctx context.Context, id int64, text string) (TextResult, store.Withdrawal, error) {
    unlock := s.lockDialog(id)
    defer unlock()

    sess, err := s.conversations.Load(ctx, id)
    if err != nil {
        return TextResult{}, store.Withdrawal{}, translate("load conversation", err)
    }

    switch sess.State {
    case conversation.AwaitingAmount:
        if !isDigits(strings.TrimSpace(text)) {
            return TextResult{State: conversation.Idle}, store.Withdrawal{}, s.endDialog(ctx, id, ErrWithdrawalCancelled)
        }
        res, err := s.supplyAmount(ctx, id, sess, text)
        if err != nil {
            return TextResult{State: conversation.Idle}, store.Withdrawal{}, err
        }
        return TextResult{State: conversation.AwaitingMethod, Amount: &res}, store.Withdrawal{}, nil
    case conversation.AwaitingMethod:
        res, err := s.supplyMethod(ctx, id, sess, text)
        if err != nil {
            return TextResult{State: conversation.AwaitingMethod}, store.Withdrawal{}, err
        }
        return TextResult{State: conversation.AwaitingAccount, Method: &res}, store.Withdrawal{}, nil
    case conversation.AwaitingAccount:
        receipt, w, err := s.finalize(ctx, id, text)
        if err != nil {
            return TextResult{State: conversation.Idle}, store.Withdrawal{}, err
        }
        return TextResult{State: conversation.Idle, Receipt: &receipt}, w, nil
    }
    return TextResult{State: conversation.Idle}, store.Withdrawal{}, ErrInvalidState
}

func (s *Service) activeSession(ctx context.Context, id int64, want conversation.State) (conversation.Session, error) {
    sess, err := s.conversations.Load(ctx, id)
    if err != nil {
        return conversation.Session{}, translate("load conversation", err)
    }
    if sess.State != want {
        return conversation.Session{}, ErrInvalidState
    }
    return sess, nil
}

func (s *Service) endDialog(ctx context.Context, id int64, cause error) error {
    if err := s.conversations.Clear(ctx, id); err != nil {
        s.logger.Warn("conversation_clear_failed", "account_id", id, "error", err)
    }
    return cause
}

func parseAmount(text string) (int64, error) {
    text = strings.TrimSpace(text)
    if !isDigits(text) {
        return 0, invalid("amount", ReasonNotANumber)
    }
    amount, err := strconv.ParseInt(text, 10, 64)
    if err != nil {
        return 0, invalid("amount", ReasonNotANumber)
    }
    if amount <= 0 {
        return 0, invalid("amount", ReasonNotPositive)
    }
    return amount, nil
}

func isDigits(s string) bool {
    if s == "" {
        return false
    }
    for _, r := range s {
        if r < '0' || r > '9' {
            return false
        }
    }
    return true
}
