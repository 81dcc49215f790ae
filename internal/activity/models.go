package activity

import "time"

// Event actions recorded in the team activity feed.
const (
	ActionTeamCreated    = "team.created"
	ActionTeamUpdated    = "team.updated"
	ActionMemberJoined   = "member.joined"
	ActionMemberRemoved  = "member.removed"
	ActionMemberLeft     = "member.left"
	ActionRoleChanged    = "member.role_changed"
	ActionInviteCreated  = "invite.created"
	ActionInviteCanceled = "invite.canceled"
	ActionInviteRotated  = "invite.rotated"
	ActionSeatsChanged   = "billing.seats_changed"
)

// Event is one entry in a team's activity feed. ActorID is empty for events
// produced by webhooks rather than a signed-in customer.
type Event struct {
	ID        string         `json:"id"`
	TeamID    string         `json:"team_id"`
	ActorID   string         `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// FeedQuery filters and paginates a team's activity feed.
type FeedQuery struct {
	TeamID string
	Action string
	From   time.Time
	To     time.Time
	Limit  int
	Cursor string
}
