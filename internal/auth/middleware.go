package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/calebford/roster/internal/customer"
)

// SessionCookie is the name of the browser session cookie. API clients may
// send the same token as a bearer header instead.
const SessionCookie = "roster_session"

type contextKey int

const customerContextKey contextKey = iota

// ContextWithCustomer returns a new context carrying the given customer.
func ContextWithCustomer(ctx context.Context, c *customer.Customer) context.Context {
	return context.WithValue(ctx, customerContextKey, c)
}

// CustomerFromContext extracts the customer from the context, or nil if not
// present.
func CustomerFromContext(ctx context.Context) *customer.Customer {
	c, _ := ctx.Value(customerContextKey).(*customer.Customer)
	return c
}

// SessionLookup resolves a plaintext session token to a customer. A bad or
// expired token resolves to (nil, nil).
type SessionLookup interface {
	GetSessionCustomer(ctx context.Context, token string) (*customer.Customer, error)
}

// SessionMiddleware returns middleware that authenticates requests via the
// session cookie or a bearer token. On success the customer is injected into
// the request context.
func SessionMiddleware(sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing session token")
				return
			}

			c, err := sessions.GetSessionCustomer(r.Context(), token)
			if err != nil || c == nil {
				writeUnauthorized(w, "invalid or expired session")
				return
			}

			ctx := ContextWithCustomer(r.Context(), c)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractToken returns the session token from the request: the session cookie
// if present, otherwise a bearer Authorization header.
func ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{Code: "unauthorized", Message: message},
	})
}
