package api

import (
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/gin-gonic/gin"

    "moneytree/internal/conversation"
    "moneytree/internal/ledger"
    "moneytree/internal/store"
)

type registerAccountRequest struct {
    ID          int64  `json:"id" binding:"required"`
    DisplayName string `json:"display_name"`
    Username    string `json:"username"`
    ReferrerID  *int64 `json:"referrer_id"`
}

type textRequest struct {
    Text string `json:"text"`
}

type adjustBalanceRequest struct {
    CallerID int64 `json:"caller_id" binding:"required"`
    Delta    int64 `json:"delta"`
}

type accountResponse struct {
    ID             int64     `json:"id"`
    DisplayName    string    `json:"display_name"`
    Username       string    `json:"username"`
    Balance        int64     `json:"balance"`
    BonusGiven     bool      `json:"bonus_given"`
    ReferredBy     *int64    `json:"referred_by"`
    ReferralsCount int64     `json:"referrals_count"`
    CreatedAt      time.Time `json:"created_at"`
}

type registerResponse struct {
    Account      accountResponse `json:"account"`
    Created      bool            `json:"created"`
    BonusGranted bool            `json:"bonus_granted"`
}

type summaryResponse struct {
    AccountID  int64      `json:"account_id"`
    Balance    int64      `json:"balance"`
    Referrals  int64      `json:"referrals"`
    ReferredBy *int64     `json:"referred_by"`
    BonusGiven bool       `json:"bonus_given"`
    QuotaDate  *time.Time `json:"quota_date"`
    QuotaCount int        `json:"quota_count"`
    QuotaLimit int        `json:"quota_limit"`
    CreatedAt  time.Time  `json:"created_at"`
}

type taskResponse struct {
    Count   int   `json:"count"`
    Limit   int   `json:"limit"`
    Allowed bool  `json:"allowed"`
    Reward  int64 `json:"reward"`
    Balance int64 `json:"balance"`
}

type quotaExceededResponse struct {
    Error string `json:"error"`
    Count int    `json:"count"`
    Limit int    `json:"limit"`
}

type promptResponse struct {
    State   conversation.State `json:"state"`
    Balance int64              `json:"balance"`
    Minimum int64              `json:"minimum"`
}

type amountResponse struct {
    State  conversation.State `json:"state"`
    Amount int64              `json:"amount"`
}

type methodResponse struct {
    State  conversation.State `json:"state"`
    Amount int64              `json:"amount"`
    Method string             `json:"method"`
}

type actionsResponse struct {
    Approve string `json:"approve"`
    Reject  string `json:"reject"`
}

type receiptResponse struct {
    State         conversation.State `json:"state"`
    RequestID     int64              `json:"request_id"`
    AccountID     int64              `json:"account_id"`
    Amount        int64              `json:"amount"`
    Method        string             `json:"method"`
    PayoutAccount string             `json:"payout_account"`
    Balance       int64              `json:"balance"`
    Actions       actionsResponse    `json:"actions"`
}

type textResponse struct {
    State   conversation.State `json:"state"`
    Amount  *int64             `json:"amount,omitempty"`
    Method  string             `json:"method,omitempty"`
    Receipt *receiptResponse   `json:"receipt,omitempty"`
}

func (s *Server) handleRegisterAccount(c *gin.Context) {
    var req registerAccountRequest
    if !bindJSON(c, &req) {
        s.logEvent(c, "account_register_failed", map[string]any{
            "reason": "invalid_request",
        })
        return
    }

    res, err := s.ledger.RegisterAccount(c.Request.Context(), ledger.RegisterInput{
        ID:          req.ID,
        DisplayName: strings.TrimSpace(req.DisplayName),
        Username:    strings.TrimSpace(req.Username),
        ReferrerID:  req.ReferrerID,
    })
    if err != nil {
        reason := s.writeLedgerError(c, "register account", err)
        s.logEvent(c, "account_register_failed", map[string]any{
            "reason":     reason,
            "account_id": req.ID,
        })
        return
    }

    s.logEvent(c, "account_registered", map[string]any{
        "account_id":    res.Account.ID,
        "created":       res.Created,
        "bonus_granted": res.BonusGranted,
        "referred_by":   res.Account.ReferredBy,
        "balance":       res.Account.Balance,
    })
    status := http.StatusOK
    if res.Created {
        status = http.StatusCreated
    }
    c.JSON(status, registerResponse{
        Account:      toAccountResponse(res.Account),
        Created:      res.Created,
        BonusGranted: res.BonusGranted,
    })
}

func (s *Server) handleGetAccount(c *gin.Context) {
    id, ok := pathID(c)
    if !ok {
        return
    }
    sum, err := s.ledger.GetAccountSummary(c.Request.Context(), id)
    if err != nil {
        s.writeLedgerError(c, "get account", err)
        return
    }
    c.JSON(http.StatusOK, summaryResponse{
        AccountID:  sum.AccountID,
        Balance:    sum.Balance,
        Referrals:  sum.Referrals,
        ReferredBy: sum.ReferredBy,
        BonusGiven: sum.BonusGiven,
        QuotaDate:  sum.QuotaDate,
        QuotaCount: sum.QuotaCount,
        QuotaLimit: sum.QuotaLimit,
        CreatedAt:  sum.CreatedAt,
    })
}

func (s *Server) handleRecordTask(c *gin.Context) {
    id, ok := pathID(c)
    if !ok {
        return
    }
    res, err := s.ledger.RecordTaskCompletion(c.Request.Context(), id)
    if errors.Is(err, ledger.ErrQuotaExceeded) {
        s.logEvent(c, "task_record_failed", map[string]any{
            "reason":     "quota_exceeded",
            "account_id": id,
            "count":      res.Count,
        })
        c.JSON(http.StatusConflict, quotaExceededResponse{Error: "quota_exceeded", Count: res.Count, Limit: res.Limit})
        return
    }
    if err != nil {
        reason := s.writeLedgerError(c, "record task", err)
        s.logEvent(c, "task_record_failed", map[string]any{
            "reason":     reason,
            "account_id": id,
        })
        return
    }

    s.logEvent(c, "task_recorded", map[string]any{
        "account_id": id,
        "count":      res.Count,
        "balance":    res.Balance,
    })
    c.JSON(http.StatusOK, taskResponse{
        Count:   res.Count,
        Limit:   res.Limit,
        Allowed: res.Allowed,
        Reward:  res.Reward,
        Balance: res.Balance,
    })
}

func (s *Server) handleBeginWithdrawal(c *gin.Context) {
    id, ok := pathID(c)
    if !ok {
        return
    }
    prompt, err := s.ledger.BeginWithdrawal(c.Request.Context(), id)
    if err != nil {
        s.writeLedgerError(c, "begin withdrawal", err)
        return
    }
    c.JSON(http.StatusOK, promptResponse{
        State:   conversation.AwaitingAmount,
        Balance: prompt.Balance,
        Minimum: prompt.Minimum,
    })
}

func (s *Server) handleResetConversation(c *gin.Context) {
    id, ok := pathID(c)
    if !ok {
        return
    }
    if err := s.ledger.ResetConversation(c.Request.Context(), id); err != nil {
        s.writeLedgerError(c, "reset conversation", err)
        return
    }
    c.Status(http.StatusNoContent)
}

func (s *Server) handleWithdrawalAmount(c *gin.Context) {
    id, req, ok := s.dialogInput(c)
    if !ok {
        return
    }
    res, err := s.ledger.SupplyWithdrawalAmount(c.Request.Context(), id, req.Text)
    if err != nil {
        s.writeLedgerError(c, "supply withdrawal amount", err)
        return
    }
    c.JSON(http.StatusOK, amountResponse{State: conversation.AwaitingMethod, Amount: res.Amount})
}

func (s *Server) handleWithdrawalMethod(c *gin.Context) {
    id, req, ok := s.dialogInput(c)
    if !ok {
        return
    }
    res, err := s.ledger.SupplyWithdrawalMethod(c.Request.Context(), id, req.Text)
    if err != nil {
        s.writeLedgerError(c, "supply withdrawal method", err)
        return
    }
    c.JSON(http.StatusOK, methodResponse{State: conversation.AwaitingAccount, Amount: res.Amount, Method: res.Method})
}

func (s *Server) handleWithdrawalAccount(c *gin.Context) {
    id, req, ok := s.dialogInput(c)
    if !ok {
        return
    }
    receipt, err := s.ledger.SupplyWithdrawalAccount(c.Request.Context(), id, req.Text)
    if err != nil {
        reason := s.writeLedgerError(c, "supply withdrawal account", err)
        s.logEvent(c, "withdrawal_request_failed", map[string]any{
            "reason":     reason,
            "account_id": id,
        })
        return
    }
    s.logWithdrawalRequested(c, receipt)
    c.JSON(http.StatusCreated, toReceiptResponse(receipt))
}

func (s *Server) handleSubmitText(c *gin.Context) {
    id, req, ok := s.dialogInput(c)
    if !ok {
        return
    }
    res, err := s.ledger.SubmitText(c.Request.Context(), id, req.Text)
    if err != nil {
        status, body := ledgerError(err)
        if status == http.StatusInternalServerError {
            s.logger.ErrorContext(c.Request.Context(), "submit text error", "error", err)
        }
        body.State = string(res.State)
        c.JSON(status, body)
        return
    }

    out := textResponse{State: res.State}
    status := http.StatusOK
    switch {
    case res.Amount != nil:
        out.Amount = &res.Amount.Amount
    case res.Method != nil:
        out.Amount = &res.Method.Amount
        out.Method = res.Method.Method
    case res.Receipt != nil:
        r := toReceiptResponse(*res.Receipt)
        out.Receipt = &r
        status = http.StatusCreated
        s.logWithdrawalRequested(c, *res.Receipt)
    }
    c.JSON(status, out)
}

func (s *Server) handleAdjustBalance(c *gin.Context) {
    id, ok := pathID(c)
    if !ok {
        return
    }
    var req adjustBalanceRequest
    if !bindJSON(c, &req) {
        return
    }
    a, err := s.ledger.AdminAdjustBalance(c.Request.Context(), req.CallerID, id, req.Delta)
    if err != nil {
        reason := s.writeLedgerError(c, "adjust balance", err)
        s.logEvent(c, "balance_adjust_failed", map[string]any{
            "reason":     reason,
            "account_id": id,
            "caller_id":  req.CallerID,
            "delta":      req.Delta,
        })
        return
    }
    s.logEvent(c, "balance_adjusted", map[string]any{
        "account_id": id,
        "caller_id":  req.CallerID,
        "delta":      req.Delta,
        "balance":    a.Balance,
    })
    c.JSON(http.StatusOK, toAccountResponse(a))
}

func (s *Server) dialogInput(c *gin.Context) (int64, textRequest, bool) {
    id, ok := pathID(c)
    if !ok {
        return 0, textRequest{}, false
    }
    var req textRequest
    if !bindJSON(c, &req) {
        return 0, textRequest{}, false
    }
    return id, req, true
}

func (s *Server) logWithdrawalRequested(c *gin.Context, r ledger.WithdrawalReceipt) {
    s.logEvent(c, "withdrawal_requested", map[string]any{
        "withdrawal_id": r.RequestID,
        "account_id":    r.AccountID,
        "amount":        r.Amount,
        "method":        r.Method,
        "balance":       r.Balance,
    })
}

func toAccountResponse(a store.Account) accountResponse {
    return accountResponse{
        ID:             a.ID,
        DisplayName:    a.DisplayName,
        Username:       a.Username,
        Balance:        a.Balance,
        BonusGiven:     a.BonusGiven,
        ReferredBy:     a.ReferredBy,
        ReferralsCount: a.ReferralsCount,
        CreatedAt:      a.CreatedAt,
    }
}

func toReceiptResponse(r ledger.WithdrawalReceipt) receiptResponse {
    return receiptResponse{
        State:         conversation.Idle,
        RequestID:     r.RequestID,
        AccountID:     r.AccountID,
        Amount:        r.Amount,
        Method:        r.Method,
        PayoutAccount: r.PayoutAccount,
        Balance:       r.Balance,
        Actions: actionsResponse{
            Approve: r.Actions.Approve,
            Reject:  r.Actions.Reject,
        },
    }
}
