package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/calebford/roster/internal/auth"
)

// auditLog records who did what to which resource. Membership, invite, and
// billing mutations all pass through here so the trail is queryable by
// customer, team, or request id.
func auditLog(r *http.Request, action, resourceType, resourceID string, detail ...any) {
	attrs := make([]any, 0, 12+len(detail))
	attrs = append(attrs,
		"action", action,
		"resource_type", resourceType,
		"resource_id", resourceID,
		"ip", clientIP(r),
		"request_id", RequestIDFromContext(r.Context()),
	)
	if c := auth.CustomerFromContext(r.Context()); c != nil {
		attrs = append(attrs, "customer_id", c.ID, "customer_email", c.Email)
	}
	slog.Info("audit", append(attrs, detail...)...)
}

// clientIP returns the original client address, trusting the first
// X-Forwarded-For hop when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}
