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

// membersHandler groups membership mutation handlers.
type membersHandler struct {
	store   TeamStore
	service *team.Service
	metrics *metrics.Metrics
	record  recordFunc
}

func newMembersHandler(store TeamStore, service *team.Service, m *metrics.Metrics, record recordFunc) *membersHandler {
	return &membersHandler{store: store, service: service, metrics: m, record: record}
}

// ListMembers handles GET /api/v1/teams/{slug}/members. Member-level.
func (h *membersHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	t, _, ok := requireTeamRole(w, r, h.store, team.RoleMember)
	if !ok {
		return
	}

	members, err := h.store.ListMembers(r.Context(), t.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list members")
		return
	}
	if members == nil {
		members = []*team.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"members": members})
}

// ChangeRole handles PATCH /api/v1/teams/{slug}/members/{customerID}.
// Admin-level, except grants involving the owner role, which are owner-level.
func (h *membersHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	t, caller, ok := requireTeamRole(w, r, h.store, team.RoleAdmin)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "customerID")

	var req struct {
		Role team.Role `json:"role"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	target, err := h.store.GetMember(r.Context(), t.ID, targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load member")
		return
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "not_found", "member not found")
		return
	}

	// Touching the owner role in either direction is reserved for owners.
	if (req.Role == team.RoleOwner || target.Role == team.RoleOwner) && !team.Authorize(caller, team.RoleOwner) {
		writeError(w, http.StatusForbidden, "forbidden", "only owners can grant or revoke ownership")
		return
	}

	m, err := h.service.ChangeRole(r.Context(), t.ID, targetID, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, team.ErrRoleInvalid):
			writeError(w, http.StatusBadRequest, "role_invalid", err.Error())
		case errors.Is(err, team.ErrNotMember):
			writeError(w, http.StatusNotFound, "not_found", "member not found")
		case errors.Is(err, team.ErrLastOwner):
			writeError(w, http.StatusConflict, "last_owner", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to change role")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.IncMembershipChange("role_changed")
	}
	auditLog(r, "member.role_changed", "member", targetID, "team_id", t.ID, "new_role", m.Role)
	h.record(activity.Event{TeamID: t.ID, ActorID: caller.CustomerID, Action: activity.ActionRoleChanged,
		Metadata: map[string]any{"customer_id": targetID, "role": string(m.Role)}})
	writeJSON(w, http.StatusOK, map[string]interface{}{"member": m})
}

// RemoveMember handles DELETE /api/v1/teams/{slug}/members/{customerID}.
// Admin-level; removing an owner is owner-level.
func (h *membersHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	t, caller, ok := requireTeamRole(w, r, h.store, team.RoleAdmin)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "customerID")

	target, err := h.store.GetMember(r.Context(), t.ID, targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load member")
		return
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "not_found", "member not found")
		return
	}
	if target.Role == team.RoleOwner && !team.Authorize(caller, team.RoleOwner) {
		writeError(w, http.StatusForbidden, "forbidden", "only owners can remove an owner")
		return
	}

	if err := h.service.RemoveMember(r.Context(), t.ID, targetID); err != nil {
		switch {
		case errors.Is(err, team.ErrNotMember):
			writeError(w, http.StatusNotFound, "not_found", "member not found")
		case errors.Is(err, team.ErrLastOwner):
			writeError(w, http.StatusConflict, "last_owner", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to remove member")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.IncMembershipChange("removed")
	}
	auditLog(r, "member.removed", "member", targetID, "team_id", t.ID)
	h.record(activity.Event{TeamID: t.ID, ActorID: caller.CustomerID, Action: activity.ActionMemberRemoved,
		Metadata: map[string]any{"customer_id": targetID}})
	w.WriteHeader(http.StatusNoContent)
}

// Leave handles POST /api/v1/teams/{slug}/leave. Any member can leave except
// the last owner.
func (h *membersHandler) Leave(w http.ResponseWriter, r *http.Request) {
	t, m, ok := requireTeamRole(w, r, h.store, team.RoleMember)
	if !ok {
		return
	}
	c := auth.CustomerFromContext(r.Context())

	if err := h.service.Leave(r.Context(), t.ID, c.ID); err != nil {
		if errors.Is(err, team.ErrLastOwner) {
			writeError(w, http.StatusConflict, "last_owner", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to leave team")
		return
	}

	if h.metrics != nil {
		h.metrics.IncMembershipChange("removed")
	}
	auditLog(r, "member.left", "member", c.ID, "team_id", t.ID, "role", m.Role)
	h.record(activity.Event{TeamID: t.ID, ActorID: c.ID, Action: activity.ActionMemberLeft})
	w.WriteHeader(http.StatusNoContent)
}
