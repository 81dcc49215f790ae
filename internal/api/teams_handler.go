package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calebford/roster/internal/activity"
	"github.com/calebford/roster/internal/auth"
	"github.com/calebford/roster/internal/metrics"
	"github.com/calebford/roster/internal/team"
)

// TeamStore is the team-facing read surface the handlers depend on.
// Mutations go through *team.Service.
type TeamStore interface {
	GetTeamBySlug(ctx context.Context, slug string) (*team.Team, error)
	ListTeamsForCustomer(ctx context.Context, customerID string) ([]*team.Team, error)
	UpdateTeam(ctx context.Context, id string, in team.UpdateTeamInput) (*team.Team, error)
	GetMember(ctx context.Context, teamID, customerID string) (*team.Member, error)
	ListMembers(ctx context.Context, teamID string) ([]*team.Member, error)
	CountMembers(ctx context.Context, teamID string) (int, error)
	ListEmailInvites(ctx context.Context, teamID string) ([]*team.EmailInvite, error)
}

// recordFunc forwards an activity event to the recorder. A no-op function is
// wired when the recorder is disabled.
type recordFunc func(activity.Event)

// teamsHandler groups team CRUD handlers.
type teamsHandler struct {
	store   TeamStore
	service *team.Service
	metrics *metrics.Metrics
	record  recordFunc
}

func newTeamsHandler(store TeamStore, service *team.Service, m *metrics.Metrics, record recordFunc) *teamsHandler {
	return &teamsHandler{store: store, service: service, metrics: m, record: record}
}

// resolveTeamMember loads the team by slug and the caller's membership in it.
// The member is nil when the caller has no relation to the team.
func resolveTeamMember(r *http.Request, store TeamStore) (*team.Team, *team.Member, error) {
	slug := chi.URLParam(r, "slug")
	t, err := store.GetTeamBySlug(r.Context(), slug)
	if err != nil {
		return nil, nil, err
	}
	c := auth.CustomerFromContext(r.Context())
	m, err := store.GetMember(r.Context(), t.ID, c.ID)
	if err != nil {
		return nil, nil, err
	}
	return t, m, nil
}

// requireTeamRole resolves the team and enforces the role policy. It writes
// the error response itself; callers bail out when ok is false. Outsiders get
// a 404 for member-level checks so team existence is not revealed.
func requireTeamRole(w http.ResponseWriter, r *http.Request, store TeamStore, required team.Role) (t *team.Team, m *team.Member, ok bool) {
	t, m, err := resolveTeamMember(r, store)
	if err != nil {
		if errors.Is(err, team.ErrTeamNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "team not found")
			return nil, nil, false
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load team")
		return nil, nil, false
	}

	if !team.Authorize(m, required) {
		if m == nil {
			writeError(w, http.StatusNotFound, "not_found", "team not found")
		} else {
			writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
		}
		return nil, nil, false
	}
	return t, m, true
}

// ListTeams handles GET /api/v1/teams — the caller's teams.
func (h *teamsHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	c := auth.CustomerFromContext(r.Context())
	teams, err := h.store.ListTeamsForCustomer(r.Context(), c.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list teams")
		return
	}
	if teams == nil {
		teams = []*team.Team{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"teams": teams})
}

// CreateTeam handles POST /api/v1/teams.
func (h *teamsHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	c := auth.CustomerFromContext(r.Context())

	var in team.CreateTeamInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	t, err := h.service.CreateTeam(r.Context(), c.ID, in)
	if err != nil {
		switch {
		case errors.Is(err, team.ErrNameRequired):
			writeError(w, http.StatusBadRequest, "name_required", err.Error())
		case errors.Is(err, team.ErrSlugInvalid):
			writeError(w, http.StatusBadRequest, "slug_invalid", err.Error())
		case errors.Is(err, team.ErrSlugTaken):
			writeError(w, http.StatusConflict, "slug_taken", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to create team")
		}
		return
	}

	auditLog(r, "team.created", "team", t.ID, "slug", t.Slug)
	h.record(activity.Event{TeamID: t.ID, ActorID: c.ID, Action: activity.ActionTeamCreated,
		Metadata: map[string]any{"slug": t.Slug}})
	writeJSON(w, http.StatusCreated, map[string]interface{}{"team": t})
}

// GetTeam handles GET /api/v1/teams/{slug}. Member-level.
func (h *teamsHandler) GetTeam(w http.ResponseWriter, r *http.Request) {
	t, m, ok := requireTeamRole(w, r, h.store, team.RoleMember)
	if !ok {
		return
	}

	count, err := h.store.CountMembers(r.Context(), t.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load team")
		return
	}

	// The shareable code is only shown to admins. Redact a copy: the store
	// may hand back a shared struct.
	resp := *t
	if m.Role == team.RoleMember {
		resp.InviteCode = ""
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"team":         &resp,
		"role":         m.Role,
		"member_count": count,
	})
}

// UpdateTeam handles PATCH /api/v1/teams/{slug}. Owner-level: team settings
// belong to owners.
func (h *teamsHandler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	t, m, ok := requireTeamRole(w, r, h.store, team.RoleOwner)
	if !ok {
		return
	}

	var in team.UpdateTeamInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	updated, err := h.store.UpdateTeam(r.Context(), t.ID, in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update team")
		return
	}

	auditLog(r, "team.updated", "team", t.ID)
	h.record(activity.Event{TeamID: t.ID, ActorID: m.CustomerID, Action: activity.ActionTeamUpdated})
	writeJSON(w, http.StatusOK, map[string]interface{}{"team": updated})
}
