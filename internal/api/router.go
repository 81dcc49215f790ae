package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/calebford/roster/internal/activity"
	"github.com/calebford/roster/internal/auth"
	"github.com/calebford/roster/internal/metrics"
	"github.com/calebford/roster/internal/ratelimit"
	"github.com/calebford/roster/internal/team"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Customers   CustomerStore
	Teams       TeamStore
	TeamService *team.Service
	Billing     BillingStore
	Reconciler  EventHandler
	Activity    ActivityStore
	Recorder    *activity.Recorder
	CodeSender  auth.CodeSender
	OAuth       *auth.OAuth
	Metrics     *metrics.Metrics

	OTPLimiter    *ratelimit.Limiter
	InviteLimiter *ratelimit.Limiter

	WebhookSecret  string
	SessionTTL     time.Duration
	AllowedOrigins []string

	// DBPing reports database health; nil skips the check.
	DBPing func(ctx context.Context) error
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	record := recordFunc(func(ev activity.Event) {
		if deps.Recorder == nil {
			return
		}
		deps.Recorder.Record(ev)
		if deps.Metrics != nil {
			deps.Metrics.ActivityEventsTotal.Inc()
		}
	})

	// Handlers.
	authH := newAuthHandler(deps.Customers, deps.CodeSender, deps.OAuth, deps.Metrics, deps.SessionTTL)
	account := newAccountHandler(deps.Customers, deps.Teams)
	teams := newTeamsHandler(deps.Teams, deps.TeamService, deps.Metrics, record)
	members := newMembersHandler(deps.Teams, deps.TeamService, deps.Metrics, record)
	invites := newInvitesHandler(deps.Teams, deps.TeamService, deps.Metrics, record)
	billingH := newBillingHandler(deps.Teams, deps.Billing, deps.Reconciler, deps.Metrics, deps.WebhookSecret)
	activityH := newActivityHandler(deps.Teams, deps.Activity)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "database": "connected"}
		code := http.StatusOK
		if deps.DBPing != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.DBPing(ctx); err != nil {
				status["status"] = "degraded"
				status["database"] = "unreachable"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, status)
	})

	// Metrics summary.
	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.Handler())
	}

	// Billing provider webhook: raw body, signature-verified, no session.
	r.Post("/webhooks/billing", billingH.Webhook)

	// Sign-in flows.
	r.Route("/api/v1/auth", func(ar chi.Router) {
		if deps.OTPLimiter != nil {
			onReject := func() {
				if deps.Metrics != nil {
					deps.Metrics.IncRateLimitRejection("otp")
				}
			}
			ar.With(ratelimit.Middleware(deps.OTPLimiter, ratelimit.ByClientIP, onReject)).
				Post("/code", authH.RequestCode)
		} else {
			ar.Post("/code", authH.RequestCode)
		}
		ar.Post("/verify", authH.VerifyCode)
		ar.Post("/logout", authH.Logout)
		ar.Get("/oauth/{provider}", authH.OAuthStart)
		ar.Get("/oauth/{provider}/callback", authH.OAuthCallback)
	})

	// Session-authed routes.
	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(auth.SessionMiddleware(deps.Customers))

		ar.Get("/account", account.GetAccount)
		ar.Patch("/account", account.UpdateAccount)
		ar.Put("/account/active-team", account.SetActiveTeam)

		ar.Get("/teams", teams.ListTeams)
		ar.Post("/teams", teams.CreateTeam)
		ar.Get("/teams/{slug}", teams.GetTeam)
		ar.Patch("/teams/{slug}", teams.UpdateTeam)

		ar.Get("/teams/{slug}/members", members.ListMembers)
		ar.Patch("/teams/{slug}/members/{customerID}", members.ChangeRole)
		ar.Delete("/teams/{slug}/members/{customerID}", members.RemoveMember)
		ar.Post("/teams/{slug}/leave", members.Leave)

		ar.Get("/teams/{slug}/invites", invites.ListInvites)
		if deps.InviteLimiter != nil {
			onReject := func() {
				if deps.Metrics != nil {
					deps.Metrics.IncRateLimitRejection("invite")
				}
			}
			ar.With(ratelimit.Middleware(deps.InviteLimiter, ratelimit.ByClientIP, onReject)).
				Post("/teams/{slug}/invites", invites.CreateInvite)
		} else {
			ar.Post("/teams/{slug}/invites", invites.CreateInvite)
		}
		ar.Delete("/teams/{slug}/invites/{code}", invites.CancelInvite)
		ar.Get("/teams/{slug}/invites/{code}/preview", invites.PreviewInvite)
		ar.Post("/teams/{slug}/invite-code", invites.RotateInviteCode)
		ar.Delete("/teams/{slug}/invite-code", invites.DisableInviteCode)
		ar.Post("/teams/{slug}/join", invites.Join)

		ar.Get("/teams/{slug}/billing", billingH.GetSubscription)
		ar.Get("/teams/{slug}/activity", activityH.ListActivity)
	})

	return r
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}
