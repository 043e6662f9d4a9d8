package api

import (
    "crypto/subtle"
    "io"
    "log/slog"
    "net/http"
    "strings"

    "github.com/gin-gonic/gin"
    "github.com/google/uuid"

    "moneytree/internal/ledger"
)

const requestIDHeader = "X-Request-ID"

type Server struct {
    ledger    *ledger.Service
    authToken string
    logger    *slog.Logger
}

func NewServer(svc *ledger.Service, authToken string, logger *slog.Logger) *Server {
    if logger == nil {
        logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
    }
    return &Server{
        ledger:    svc,
        authToken: authToken,
        logger:    logger,
    }
}

func (s *Server) Routes() http.Handler {
    r := gin.New()
    r.Use(gin.Recovery(), requestID())
    r.NoRoute(func(c *gin.Context) {
        writeError(c, http.StatusNotFound, "not_found")
    })

    v1 := r.Group("/v1", s.authMiddleware())

    accounts := v1.Group("/accounts")
    accounts.POST("", s.handleRegisterAccount)
    accounts.GET("/:id", s.handleGetAccount)
    accounts.POST("/:id/tasks", s.handleRecordTask)
    accounts.POST("/:id/adjust", s.handleAdjustBalance)
    accounts.POST("/:id/messages", s.handleSubmitText)
    accounts.POST("/:id/withdrawal", s.handleBeginWithdrawal)
    accounts.DELETE("/:id/withdrawal", s.handleResetConversation)
    accounts.POST("/:id/withdrawal/amount", s.handleWithdrawalAmount)
    accounts.POST("/:id/withdrawal/method", s.handleWithdrawalMethod)
    accounts.POST("/:id/withdrawal/account", s.handleWithdrawalAccount)

    withdrawals := v1.Group("/withdrawals")
    withdrawals.GET("", s.handleListPending)
    withdrawals.GET("/:id", s.handleGetWithdrawal)
    withdrawals.POST("/:id/approve", s.handleApprove)
    withdrawals.POST("/:id/reject", s.handleReject)

    v1.POST("/admin/actions", s.handleAdminAction)

    return r
}

func (s *Server) authMiddleware() gin.HandlerFunc {
    return func(c *gin.Context) {
        token := extractBearerToken(c.GetHeader("Authorization"))
        if !secureCompare(token, s.authToken) {
            writeError(c, http.StatusUnauthorized, "unauthorized")
            c.Abort()
            return
        }
        c.Next()
    }
}

// requestID tags each request with the caller's X-Request-ID or a fresh
// uuid, and echoes it on the response.
func requestID() gin.HandlerFunc {
    return func(c *gin.Context) {
        id := strings.TrimSpace(c.GetHeader(requestIDHeader))
        if id == "" {
            id = uuid.NewString()
        }
        c.Set("request_id", id)
        c.Header(requestIDHeader, id)
        c.Next()
    }
}

func extractBearerToken(header string) string {
    if header == "" {
        return ""
    }
    parts := strings.SplitN(header, " ", 2)
    if len(parts) != 2 {
        return ""
    }
    if !strings.EqualFold(parts[0], "Bearer") {
        return ""
    }
    return strings.TrimSpace(parts[1])
}

func secureCompare(a, b string) bool {
    if len(a) != len(b) {
        return false
    }
    return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
