package team

import "time"

// Role is a member's role within a team. Roles form an ordered lattice:
// member < admin < owner.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Level returns the role's position in the lattice. Unknown roles rank below
// member so they never satisfy an authorization check.
func (r Role) Level() int {
	switch r {
	case RoleOwner:
		return 2
	case RoleAdmin:
		return 1
	case RoleMember:
		return 0
	}
	return -1
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin || r == RoleOwner
}

// Team is a tenant. The slug is URL-safe, unique, and immutable once created.
// InviteCode is the team's shareable join code; empty means link joining is
// disabled.
type Team struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Slug              string    `json:"slug"`
	ImageURL          string    `json:"image_url,omitempty"`
	InviteCode        string    `json:"invite_code,omitempty"`
	BillingCustomerID string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

// Member is the customer-to-team relation, keyed by (CustomerID, TeamID).
type Member struct {
	CustomerID string    `json:"customer_id"`
	TeamID     string    `json:"team_id"`
	Role       Role      `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EmailInvite is a pending invitation addressed to a specific email. At most
// one outstanding invite exists per (team, email); it is deleted when accepted
// or cancelled.
type EmailInvite struct {
	TeamID    string    `json:"team_id"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// InviteKind distinguishes how a join code was issued.
type InviteKind string

const (
	InviteKindEmail     InviteKind = "email"
	InviteKindShareable InviteKind = "shareable"
)

// InviteInfo is the result of resolving a join code against a team.
type InviteInfo struct {
	Kind InviteKind `json:"kind"`
	Role Role       `json:"role"`
	Code string     `json:"code"`
	// Email is set for email invites only.
	Email string `json:"email,omitempty"`
}

// CreateTeamInput holds the fields required to create a team.
type CreateTeamInput struct {
	Name              string `json:"name"`
	Slug              string `json:"slug"`
	ImageURL          string `json:"image_url"`
	BillingCustomerID string `json:"-"`
}

// UpdateTeamInput holds optional fields for a partial team update. The slug is
// deliberately absent: routes depend on it.
type UpdateTeamInput struct {
	Name     *string `json:"name,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
}
