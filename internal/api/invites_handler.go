package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calebford/roster/internal/activity"
	"github.com/calebford/roster/internal/auth"
	"github.com/calebford/roster/internal/metrics"
	"github.com/calebford/roster/internal/team"
)

// invitesHandler groups invite lifecycle handlers.
type invitesHandler struct {
	store   TeamStore
	service *team.Service
	metrics *metrics.Metrics
	record  recordFunc
}

func newInvitesHandler(store TeamStore, service *team.Service, m *metrics.Metrics, record recordFunc) *invitesHandler {
	return &invitesHandler{store: store, service: service, metrics: m, record: record}
}

// ListInvites handles GET /api/v1/teams/{slug}/invites. Admin-level.
func (h *invitesHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
	t, _, ok := requireTeamRole(w, r, h.store, team.RoleAdmin)
	if !ok {
		return
	}

	invites, err := h.store.ListEmailInvites(r.Context(), t.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list invites")
		return
	}
	if invites == nil {
		invites = []*team.EmailInvite{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invites": invites})
}

// CreateInvite handles POST /api/v1/teams/{slug}/invites. Admin-level.
func (h *invitesHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	t, caller, ok := requireTeamRole(w, r, h.store, team.RoleAdmin)
	if !ok {
		return
	}

	var req struct {
		Email string    `json:"email"`
		Role  team.Role `json:"role"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	inv, err := h.service.InviteByEmail(r.Context(), t.ID, req.Email, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, team.ErrEmailInvalid):
			writeError(w, http.StatusBadRequest, "email_invalid", err.Error())
		case errors.Is(err, team.ErrRoleInvalid):
			writeError(w, http.StatusBadRequest, "role_invalid", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to create invite")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.IncInvite("email", "created")
	}
	auditLog(r, "invite.created", "invite", inv.Code, "team_id", t.ID, "email", inv.Email, "role", inv.Role)
	h.record(activity.Event{TeamID: t.ID, ActorID: caller.CustomerID, Action: activity.ActionInviteCreated,
		Metadata: map[string]any{"email": inv.Email, "role": string(inv.Role)}})
	writeJSON(w, http.StatusCreated, map[string]interface{}{"invite": inv})
}

// CancelInvite handles DELETE /api/v1/teams/{slug}/invites/{code}.
// Admin-level, idempotent.
func (h *invitesHandler) CancelInvite(w http.ResponseWriter, r *http.Request) {
	t, caller, ok := requireTeamRole(w, r, h.store, team.RoleAdmin)
	if !ok {
		return
	}
	code := chi.URLParam(r, "code")

	if err := h.service.CancelEmailInvite(r.Context(), t.ID, code); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to cancel invite")
		return
	}

	if h.metrics != nil {
		h.metrics.IncInvite("email", "canceled")
	}
	auditLog(r, "invite.canceled", "invite", code, "team_id", t.ID)
	h.record(activity.Event{TeamID: t.ID, ActorID: caller.CustomerID, Action: activity.ActionInviteCanceled})
	w.WriteHeader(http.StatusNoContent)
}

// RotateInviteCode handles POST /api/v1/teams/{slug}/invite-code.
// Admin-level; the previous code stops working immediately.
func (h *invitesHandler) RotateInviteCode(w http.ResponseWriter, r *http.Request) {
	t, caller, ok := requireTeamRole(w, r, h.store, team.RoleAdmin)
	if !ok {
		return
	}

	code, err := h.service.RefreshShareableInvite(r.Context(), t.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to rotate invite code")
		return
	}

	if h.metrics != nil {
		h.metrics.IncInvite("shareable", "rotated")
	}
	auditLog(r, "invite.rotated", "team", t.ID)
	h.record(activity.Event{TeamID: t.ID, ActorID: caller.CustomerID, Action: activity.ActionInviteRotated})
	writeJSON(w, http.StatusOK, map[string]string{"invite_code": code})
}

// DisableInviteCode handles DELETE /api/v1/teams/{slug}/invite-code.
// Admin-level.
func (h *invitesHandler) DisableInviteCode(w http.ResponseWriter, r *http.Request) {
	t, _, ok := requireTeamRole(w, r, h.store, team.RoleAdmin)
	if !ok {
		return
	}

	if err := h.service.ClearShareableInvite(r.Context(), t.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to disable invite code")
		return
	}

	auditLog(r, "invite.disabled", "team", t.ID)
	w.WriteHeader(http.StatusNoContent)
}

// PreviewInvite handles GET /api/v1/teams/{slug}/invites/{code}/preview.
// Signed-in but not membership-gated: the joining customer inspects what a
// code grants before accepting.
func (h *invitesHandler) PreviewInvite(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	code := chi.URLParam(r, "code")

	t, err := h.store.GetTeamBySlug(r.Context(), slug)
	if err != nil {
		// An invalid code and an unknown team look identical to the caller.
		writeError(w, http.StatusNotFound, "invite_not_found", "invite invalid or expired")
		return
	}

	info, err := h.service.ResolveInvite(r.Context(), t.ID, code)
	if err != nil {
		if errors.Is(err, team.ErrInviteNotFound) {
			writeError(w, http.StatusNotFound, "invite_not_found", "invite invalid or expired")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve invite")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"team": map[string]string{"name": t.Name, "slug": t.Slug, "image_url": t.ImageURL},
		"role": info.Role,
		"kind": info.Kind,
	})
}

// Join handles POST /api/v1/teams/{slug}/join — accept an invite code.
func (h *invitesHandler) Join(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	c := auth.CustomerFromContext(r.Context())

	var req struct {
		Code string `json:"code"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	t, err := h.store.GetTeamBySlug(r.Context(), slug)
	if err != nil {
		writeError(w, http.StatusNotFound, "invite_not_found", "invite invalid or expired")
		return
	}

	m, err := h.service.AcceptInvite(r.Context(), t.ID, c.ID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, team.ErrInviteNotFound):
			writeError(w, http.StatusNotFound, "invite_not_found", "invite invalid or expired")
		case errors.Is(err, team.ErrAlreadyMember):
			writeError(w, http.StatusConflict, "already_member", "already a member of this team")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to join team")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.IncMembershipChange("added")
	}
	auditLog(r, "member.joined", "member", c.ID, "team_id", t.ID, "role", m.Role)
	h.record(activity.Event{TeamID: t.ID, ActorID: c.ID, Action: activity.ActionMemberJoined,
		Metadata: map[string]any{"role": string(m.Role)}})
	writeJSON(w, http.StatusCreated, map[string]interface{}{"member": m})
}
