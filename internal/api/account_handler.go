package api

import (
	"errors"
	"net/http"

	"github.com/calebford/roster/internal/auth"
	"github.com/calebford/roster/internal/customer"
	"github.com/calebford/roster/internal/team"
)

// accountHandler groups handlers for the signed-in customer's own profile.
type accountHandler struct {
	customers CustomerStore
	teams     TeamStore
}

func newAccountHandler(customers CustomerStore, teams TeamStore) *accountHandler {
	return &accountHandler{customers: customers, teams: teams}
}

// GetAccount handles GET /api/v1/account.
func (h *accountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	c := auth.CustomerFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"customer": c})
}

// UpdateAccount handles PATCH /api/v1/account.
func (h *accountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	c := auth.CustomerFromContext(r.Context())

	var in customer.UpdateCustomerInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	updated, err := h.customers.Update(r.Context(), c.ID, in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"customer": updated})
}

// SetActiveTeam handles PUT /api/v1/account/active-team. The customer must be
// a member of the team they point at.
func (h *accountHandler) SetActiveTeam(w http.ResponseWriter, r *http.Request) {
	c := auth.CustomerFromContext(r.Context())

	var req struct {
		TeamID string `json:"team_id"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.TeamID != "" {
		m, err := h.teams.GetMember(r.Context(), req.TeamID, c.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to check membership")
			return
		}
		if !team.Authorize(m, team.RoleMember) {
			writeError(w, http.StatusForbidden, "forbidden", "not a member of that team")
			return
		}
	}

	if err := h.customers.SetActiveTeam(r.Context(), c.ID, req.TeamID); err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "customer not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to set active team")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
