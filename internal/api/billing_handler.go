package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/calebford/roster/internal/billing"
	"github.com/calebford/roster/internal/metrics"
	"github.com/calebford/roster/internal/team"
)

// BillingStore is the billing read surface the handlers depend on.
type BillingStore interface {
	GetByTeam(ctx context.Context, teamID string) (*billing.Subscription, error)
}

// EventHandler applies a verified webhook event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *billing.Event) error
}

// billingHandler groups the subscription view and the provider webhook.
type billingHandler struct {
	teams         TeamStore
	store         BillingStore
	reconciler    EventHandler
	metrics       *metrics.Metrics
	webhookSecret string
}

func newBillingHandler(teams TeamStore, store BillingStore, reconciler EventHandler, m *metrics.Metrics, webhookSecret string) *billingHandler {
	return &billingHandler{
		teams:         teams,
		store:         store,
		reconciler:    reconciler,
		metrics:       m,
		webhookSecret: webhookSecret,
	}
}

// GetSubscription handles GET /api/v1/teams/{slug}/billing. Owner-level.
func (h *billingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	t, _, ok := requireTeamRole(w, r, h.teams, team.RoleOwner)
	if !ok {
		return
	}

	sub, err := h.store.GetByTeam(r.Context(), t.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load subscription")
		return
	}

	resp := map[string]interface{}{"subscription": sub}
	if sub != nil {
		resp["billable"] = sub.Billable()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Webhook handles POST /webhooks/billing. The body is read raw because the
// signature covers the exact bytes the provider sent.
func (h *billingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}

	sig := r.Header.Get("Roster-Billing-Signature")
	if sig == "" {
		sig = r.Header.Get("Stripe-Signature")
	}
	if err := billing.VerifySignature(h.webhookSecret, body, sig, billing.DefaultSignatureTolerance, time.Now()); err != nil {
		slog.Warn("rejected billing webhook", "error", err, "ip", clientIP(r))
		if h.metrics != nil {
			h.metrics.IncWebhookEvent("unknown", "bad_signature")
		}
		writeError(w, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
		return
	}

	ev, err := billing.ParseEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed webhook event")
		return
	}

	if err := h.reconciler.HandleEvent(r.Context(), ev); err != nil {
		slog.Error("webhook processing failed", "event_id", ev.ID, "type", ev.Type, "error", err)
		if h.metrics != nil {
			h.metrics.IncWebhookEvent(ev.Type, "error")
		}
		// Non-2xx so the provider redelivers; processing is idempotent.
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to process event")
		return
	}

	if h.metrics != nil {
		h.metrics.IncWebhookEvent(ev.Type, "ok")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
