package api

import (
    "errors"
    "io"
    "net/http"
    "strconv"

    "github.com/gin-gonic/gin"
    "github.com/gin-gonic/gin/binding"
    json "github.com/goccy/go-json"

    "moneytree/internal/ledger"
)

type errorResponse struct {
    Error  string `json:"error"`
    Field  string `json:"field,omitempty"`
    Reason string `json:"reason,omitempty"`
    State  string `json:"state,omitempty"`
}

func writeError(c *gin.Context, status int, code string) {
    c.JSON(status, errorResponse{Error: code})
}

func ledgerError(err error) (int, errorResponse) {
    var ve *ledger.ValidationError
    switch {
    case errors.As(err, &ve):
        return http.StatusBadRequest, errorResponse{Error: "invalid_request", Field: ve.Field, Reason: ve.Reason}
    case errors.Is(err, ledger.ErrUnknownAccount):
        return http.StatusNotFound, errorResponse{Error: "account_not_found"}
    case errors.Is(err, ledger.ErrUnknownWithdrawal):
        return http.StatusNotFound, errorResponse{Error: "withdrawal_not_found"}
    case errors.Is(err, ledger.ErrInsufficientBalance):
        return http.StatusConflict, errorResponse{Error: "insufficient_balance"}
    case errors.Is(err, ledger.ErrQuotaExceeded):
        return http.StatusConflict, errorResponse{Error: "quota_exceeded"}
    case errors.Is(err, ledger.ErrInvalidState):
        return http.StatusConflict, errorResponse{Error: "invalid_state"}
    case errors.Is(err, ledger.ErrWithdrawalCancelled):
        return http.StatusConflict, errorResponse{Error: "withdrawal_cancelled"}
    case errors.Is(err, ledger.ErrUnauthorized):
        return http.StatusForbidden, errorResponse{Error: "forbidden"}
    }
    return http.StatusInternalServerError, errorResponse{Error: "internal_error"}
}

func (s *Server) writeLedgerError(c *gin.Context, op string, err error) string {
    status, body := ledgerError(err)
    if status == http.StatusInternalServerError {
        s.logger.ErrorContext(c.Request.Context(), op+" error", "error", err)
    }
    c.JSON(status, body)
    return body.Error
}

func pathID(c *gin.Context) (int64, bool) {
    id, err := strconv.ParseInt(c.Param("id"), 10, 64)
    if err != nil || id <= 0 {
        writeError(c, http.StatusBadRequest, "invalid_id")
        return 0, false
    }
    return id, true
}

// bindJSON decodes exactly one JSON object into req, rejecting unknown
// fields, then runs the binding tags. It writes the 400 itself.
func bindJSON(c *gin.Context, req any) bool {
    dec := json.NewDecoder(c.Request.Body)
    dec.DisallowUnknownFields()
    if err := dec.Decode(req); err != nil {
        writeError(c, http.StatusBadRequest, "invalid_request")
        return false
    }
    if err := dec.Decode(&struct{}{}); err != io.EOF {
        writeError(c, http.StatusBadRequest, "invalid_request")
        return false
    }
    if err := binding.Validator.ValidateStruct(req); err != nil {
        writeError(c, http.StatusBadRequest, "invalid_request")
        return false
    }
    return true
}
