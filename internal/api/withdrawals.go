package api

import (
    "context"
    "net/http"
    "time"

    "github.com/gin-gonic/gin"

    "moneytree/internal/store"
)

type decisionRequest struct {
    CallerID int64 `json:"caller_id" binding:"required"`
}

type adminActionRequest struct {
    CallerID int64  `json:"caller_id" binding:"required"`
    Data     string `json:"data" binding:"required"`
}

type withdrawalResponse struct {
    ID            int64      `json:"id"`
    AccountID     int64      `json:"account_id"`
    Method        string     `json:"method"`
    PayoutAccount string     `json:"payout_account"`
    Amount        int64      `json:"amount"`
    Status        string     `json:"status"`
    CreatedAt     time.Time  `json:"created_at"`
    ProcessedAt   *time.Time `json:"processed_at"`
}

func (s *Server) handleListPending(c *gin.Context) {
    pending, err := s.ledger.ListPendingWithdrawals(c.Request.Context())
    if err != nil {
        s.writeLedgerError(c, "list pending withdrawals", err)
        return
    }
    out := make([]withdrawalResponse, 0, len(pending))
    for _, w := range pending {
        out = append(out, toWithdrawalResponse(w))
    }
    c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetWithdrawal(c *gin.Context) {
    id, ok := pathID(c)
    if !ok {
        return
    }
    w, err := s.ledger.GetWithdrawal(c.Request.Context(), id)
    if err != nil {
        s.writeLedgerError(c, "get withdrawal", err)
        return
    }
    c.JSON(http.StatusOK, toWithdrawalResponse(w))
}

func (s *Server) handleApprove(c *gin.Context) {
    s.handleDecision(c, store.StatusApproved, s.ledger.AdminApprove)
}

func (s *Server) handleReject(c *gin.Context) {
    s.handleDecision(c, store.StatusRejected, s.ledger.AdminReject)
}

type decideFunc func(ctx context.Context, callerID, requestID int64) (store.Withdrawal, error)

func (s *Server) handleDecision(c *gin.Context, status string, decide decideFunc) {
    id, ok := pathID(c)
    if !ok {
        return
    }
    var req decisionRequest
    if !bindJSON(c, &req) {
        return
    }

    w, err := decide(c.Request.Context(), req.CallerID, id)
    if err != nil {
        reason := s.writeLedgerError(c, "decide withdrawal", err)
        s.logEvent(c, "withdrawal_decision_failed", map[string]any{
            "reason":        reason,
            "withdrawal_id": id,
            "caller_id":     req.CallerID,
            "status":        status,
        })
        return
    }
    s.logDecision(c, w, req.CallerID)
    c.JSON(http.StatusOK, toWithdrawalResponse(w))
}

func (s *Server) handleAdminAction(c *gin.Context) {
    var req adminActionRequest
    if !bindJSON(c, &req) {
        return
    }

    w, err := s.ledger.AdminDecide(c.Request.Context(), req.CallerID, req.Data)
    if err != nil {
        reason := s.writeLedgerError(c, "admin action", err)
        s.logEvent(c, "withdrawal_decision_failed", map[string]any{
            "reason":    reason,
            "caller_id": req.CallerID,
            "data":      req.Data,
        })
        return
    }
    s.logDecision(c, w, req.CallerID)
    c.JSON(http.StatusOK, toWithdrawalResponse(w))
}

func (s *Server) logDecision(c *gin.Context, w store.Withdrawal, callerID int64) {
    s.logEvent(c, "withdrawal_"+w.Status, map[string]any{
        "withdrawal_id": w.ID,
        "account_id":    w.AccountID,
        "amount":        w.Amount,
        "caller_id":     callerID,
    })
}

func toWithdrawalResponse(w store.Withdrawal) withdrawalResponse {
    return withdrawalResponse{
        ID:            w.ID,
        AccountID:     w.AccountID,
        Method:        w.Method,
        PayoutAccount: w.PayoutAccount,
        Amount:        w.Amount,
        Status:        w.Status,
        CreatedAt:     w.CreatedAt,
        ProcessedAt:   w.ProcessedAt,
    }
}
