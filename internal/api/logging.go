package api

import (
    "log/slog"
    "sort"

    "github.com/gin-gonic/gin"
)

// logEvent writes one structured line per domain event. Keys are emitted in
// sorted order so lines for the same event line up.
func (s *Server) logEvent(c *gin.Context, event string, fields map[string]any) {
    keys := make([]string, 0, len(fields))
    for k := range fields {
        keys = append(keys, k)
    }
    sort.Strings(keys)

    attrs := make([]slog.Attr, 0, len(keys)+1)
    if id := c.GetString("request_id"); id != "" {
        attrs = append(attrs, slog.String("request_id", id))
    }
    for _, k := range keys {
        attrs = append(attrs, slog.Any(k, fields[k]))
    }

    level := slog.LevelInfo
    if reason, ok := fields["reason"].(string); ok && reason == "internal_error" {
        level = slog.LevelError
    }
    s.logger.LogAttrs(c.Request.Context(), level, event, attrs...)
}
