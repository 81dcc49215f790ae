package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calebford/roster/internal/auth"
	"github.com/calebford/roster/internal/customer"
	"github.com/calebford/roster/internal/metrics"
)

const oauthStateCookie = "roster_oauth_state"

// CustomerStore is the customer-facing storage surface the handlers depend
// on. It exists to allow testing without a real database.
type CustomerStore interface {
	GetOrCreateByEmail(ctx context.Context, email string) (*customer.Customer, error)
	GetByID(ctx context.Context, id string) (*customer.Customer, error)
	Update(ctx context.Context, id string, in customer.UpdateCustomerInput) (*customer.Customer, error)
	SetActiveTeam(ctx context.Context, id, teamID string) error
	SaveLoginCode(ctx context.Context, email, code string) error
	ConsumeLoginCode(ctx context.Context, email, code string) error
	CreateSession(ctx context.Context, customerID string) (string, *customer.Session, error)
	GetSessionCustomer(ctx context.Context, token string) (*customer.Customer, error)
	DeleteSession(ctx context.Context, token string) error
	UpsertOAuthAccount(ctx context.Context, acct customer.OAuthAccount) error
	GetCustomerByOAuth(ctx context.Context, provider, providerAccountID string) (*customer.Customer, error)
}

// authHandler groups sign-in and sign-out HTTP handlers.
type authHandler struct {
	customers  CustomerStore
	sender     auth.CodeSender
	oauth      *auth.OAuth
	metrics    *metrics.Metrics
	sessionTTL time.Duration
}

func newAuthHandler(customers CustomerStore, sender auth.CodeSender, oauth *auth.OAuth, m *metrics.Metrics, sessionTTL time.Duration) *authHandler {
	return &authHandler{
		customers:  customers,
		sender:     sender,
		oauth:      oauth,
		metrics:    m,
		sessionTTL: sessionTTL,
	}
}

// RequestCode handles POST /api/v1/auth/code — issue an emailed login code.
func (h *authHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "invalid_email", "a valid email is required")
		return
	}

	code, err := auth.GenerateOTP()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to issue login code")
		return
	}
	if err := h.customers.SaveLoginCode(r.Context(), email, code); err != nil {
		slog.Error("failed to save login code", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to issue login code")
		return
	}
	if err := h.sender.SendLoginCode(r.Context(), email, code); err != nil {
		slog.Error("failed to send login code", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to send login code")
		return
	}

	if h.metrics != nil {
		h.metrics.LoginCodesIssuedTotal.Inc()
	}
	// 200 regardless of whether the address is known: codes create the
	// customer on verification, and the response must not leak who has an
	// account.
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// VerifyCode handles POST /api/v1/auth/verify — trade a login code for a
// session.
func (h *authHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.customers.ConsumeLoginCode(r.Context(), req.Email, req.Code); err != nil {
		if errors.Is(err, customer.ErrCodeInvalid) {
			if h.metrics != nil {
				h.metrics.IncAuthFailure("otp")
			}
			writeError(w, http.StatusUnauthorized, "invalid_code", "login code invalid or expired")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to verify login code")
		return
	}

	c, err := h.customers.GetOrCreateByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to sign in")
		return
	}

	h.startSession(w, r, c, "otp")
}

// Logout handles POST /api/v1/auth/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := auth.ExtractToken(r); token != "" {
		if err := h.customers.DeleteSession(r.Context(), token); err != nil {
			slog.Error("failed to delete session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// OAuthStart handles GET /api/v1/auth/oauth/{provider} — redirect to the
// provider's consent page.
func (h *authHandler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state := generateState()
	url, err := h.oauth.AuthURL(provider, state)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_provider", "unknown oauth provider")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, url, http.StatusFound)
}

// OAuthCallback handles GET /api/v1/auth/oauth/{provider}/callback.
func (h *authHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		if h.metrics != nil {
			h.metrics.IncAuthFailure("oauth")
		}
		writeError(w, http.StatusBadRequest, "invalid_state", "oauth state mismatch")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing authorization code")
		return
	}

	id, err := h.oauth.Exchange(r.Context(), provider, code)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownProvider) {
			writeError(w, http.StatusNotFound, "unknown_provider", "unknown oauth provider")
			return
		}
		slog.Error("oauth exchange failed", "provider", provider, "error", err)
		if h.metrics != nil {
			h.metrics.IncAuthFailure("oauth")
		}
		writeError(w, http.StatusBadGateway, "oauth_failed", "identity provider exchange failed")
		return
	}

	c, err := h.customers.GetCustomerByOAuth(r.Context(), provider, id.AccountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to sign in")
		return
	}
	if c == nil {
		if id.Email == "" {
			writeError(w, http.StatusBadRequest, "no_email", "identity provider returned no email")
			return
		}
		c, err = h.customers.GetOrCreateByEmail(r.Context(), id.Email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to sign in")
			return
		}
	}

	acct := customer.OAuthAccount{
		CustomerID:        c.ID,
		Provider:          provider,
		ProviderAccountID: id.AccountID,
		AccessToken:       id.Token.AccessToken,
		RefreshToken:      id.Token.RefreshToken,
		ExpiresAt:         id.Token.Expiry,
	}
	if err := h.customers.UpsertOAuthAccount(r.Context(), acct); err != nil {
		slog.Error("failed to link oauth account", "provider", provider, "error", err)
	}

	h.startSession(w, r, c, "oauth")
}

// startSession creates a session, sets the cookie, and writes the signed-in
// customer.
func (h *authHandler) startSession(w http.ResponseWriter, r *http.Request, c *customer.Customer, authType string) {
	token, sess, err := h.customers.CreateSession(r.Context(), c.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	if h.metrics != nil {
		h.metrics.IncAuthSuccess(authType)
	}
	auditLog(r, "auth.signed_in", "customer", c.ID, "auth_type", authType)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"customer": c,
		"token":    token,
	})
}

func generateState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
