package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/calebford/roster/internal/activity"
	"github.com/calebford/roster/internal/team"
)

// ActivityStore is the activity feed read surface.
type ActivityStore interface {
	ListEvents(ctx context.Context, q activity.FeedQuery) ([]*activity.Event, string, error)
}

// activityHandler serves the per-team activity feed.
type activityHandler struct {
	teams TeamStore
	store ActivityStore
}

func newActivityHandler(teams TeamStore, store ActivityStore) *activityHandler {
	return &activityHandler{teams: teams, store: store}
}

// ListActivity handles GET /api/v1/teams/{slug}/activity. Member-level.
func (h *activityHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	t, _, ok := requireTeamRole(w, r, h.teams, team.RoleMember)
	if !ok {
		return
	}

	q := activity.FeedQuery{
		TeamID: t.ID,
		Action: r.URL.Query().Get("action"),
		Cursor: r.URL.Query().Get("cursor"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			q.Limit = n
		}
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			q.From = ts
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			q.To = ts
		}
	}

	events, next, err := h.store.ListEvents(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list activity")
		return
	}
	if events == nil {
		events = []*activity.Event{}
	}

	resp := map[string]interface{}{"events": events}
	if next != "" {
		resp["next_cursor"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}
