package team

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Domain errors returned by the Service layer.
var (
	ErrTeamNotFound   = errors.New("team not found")
	ErrNotMember      = errors.New("customer is not a member of the team")
	ErrAlreadyMember  = errors.New("customer is already a member of the team")
	ErrLastOwner      = errors.New("team must keep at least one owner")
	ErrInviteNotFound = errors.New("invite invalid or expired")
	ErrSlugTaken      = errors.New("slug is already taken")
	ErrSlugInvalid    = errors.New("slug must be lowercase letters, digits, and hyphens")
	ErrNameRequired   = errors.New("name is required")
	ErrEmailInvalid   = errors.New("email is invalid")
	ErrRoleInvalid    = errors.New("role is invalid")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Storage is the subset of Store operations the Service depends on. It exists
// to allow testing without a real database.
type Storage interface {
	CreateTeam(ctx context.Context, in CreateTeamInput, ownerID string) (*Team, error)
	GetTeam(ctx context.Context, id string) (*Team, error)
	SetInviteCode(ctx context.Context, teamID, code string) error
	AddMember(ctx context.Context, teamID, customerID string, role Role) (*Member, error)
	UpdateMemberRole(ctx context.Context, teamID, customerID string, newRole Role) (*Member, error)
	RemoveMember(ctx context.Context, teamID, customerID string) error
	GetEmailInvite(ctx context.Context, teamID, code string) (*EmailInvite, error)
	CreateEmailInvite(ctx context.Context, in EmailInvite) (*EmailInvite, error)
	DeleteEmailInvite(ctx context.Context, teamID, code string) error
}

// SeatNotifier receives headcount changes so paid seat counts can follow
// membership. Implementations must tolerate being called for teams without a
// subscription.
type SeatNotifier interface {
	OnMemberAdded(ctx context.Context, teamID string) error
	OnMemberRemoved(ctx context.Context, teamID string) error
}

// Service provides validated membership and invite logic over the Storage.
// It does not authorize callers: handlers resolve identity and check the role
// policy before invoking it.
type Service struct {
	store Storage
	seats SeatNotifier
}

// NewService creates a new Service. seats may be nil when billing is disabled.
func NewService(store Storage, seats SeatNotifier) *Service {
	return &Service{store: store, seats: seats}
}

// CreateTeam validates the input and creates the team with the creator as its
// first owner.
func (s *Service) CreateTeam(ctx context.Context, ownerID string, in CreateTeamInput) (*Team, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, ErrNameRequired
	}
	in.Slug = strings.ToLower(strings.TrimSpace(in.Slug))
	if len(in.Slug) < 2 || len(in.Slug) > 50 || !slugPattern.MatchString(in.Slug) {
		return nil, ErrSlugInvalid
	}
	return s.store.CreateTeam(ctx, in, ownerID)
}

// ResolveInvite determines what a join code grants for a team. Email invites
// are checked first: they carry an explicit role and must win over the
// shareable code, which always grants plain membership, so a targeted admin
// invite is never silently downgraded if the codes ever collide.
func (s *Service) ResolveInvite(ctx context.Context, teamID, code string) (*InviteInfo, error) {
	if code == "" {
		return nil, ErrInviteNotFound
	}

	inv, err := s.store.GetEmailInvite(ctx, teamID, code)
	if err != nil {
		return nil, err
	}
	if inv != nil {
		return &InviteInfo{Kind: InviteKindEmail, Role: inv.Role, Code: inv.Code, Email: inv.Email}, nil
	}

	t, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if t.InviteCode != "" && t.InviteCode == code {
		return &InviteInfo{Kind: InviteKindShareable, Role: RoleMember, Code: code}, nil
	}

	return nil, ErrInviteNotFound
}

// AcceptInvite resolves the code, adds the customer with the granted role, and
// consumes the email invite if that is what the code was.
func (s *Service) AcceptInvite(ctx context.Context, teamID, customerID, code string) (*Member, error) {
	info, err := s.ResolveInvite(ctx, teamID, code)
	if err != nil {
		return nil, err
	}

	m, err := s.store.AddMember(ctx, teamID, customerID, info.Role)
	if err != nil {
		return nil, err
	}

	if info.Kind == InviteKindEmail {
		if err := s.store.DeleteEmailInvite(ctx, teamID, info.Code); err != nil {
			slog.Error("failed to consume email invite", "team_id", teamID, "error", err)
		}
	}

	s.notifyAdded(ctx, teamID)
	return m, nil
}

// AddMember adds a customer to a team with the given role. The caller is
// assumed to be authorized already.
func (s *Service) AddMember(ctx context.Context, teamID, customerID string, role Role) (*Member, error) {
	if !role.Valid() {
		return nil, ErrRoleInvalid
	}
	m, err := s.store.AddMember(ctx, teamID, customerID, role)
	if err != nil {
		return nil, err
	}
	s.notifyAdded(ctx, teamID)
	return m, nil
}

// ChangeRole updates a member's role, preserving the at-least-one-owner
// invariant (enforced transactionally in storage).
func (s *Service) ChangeRole(ctx context.Context, teamID, customerID string, newRole Role) (*Member, error) {
	if !newRole.Valid() {
		return nil, ErrRoleInvalid
	}
	return s.store.UpdateMemberRole(ctx, teamID, customerID, newRole)
}

// RemoveMember removes a customer from a team. Removing the last owner is
// rejected; a team can only become ownerless by being deleted outright.
func (s *Service) RemoveMember(ctx context.Context, teamID, customerID string) error {
	if err := s.store.RemoveMember(ctx, teamID, customerID); err != nil {
		return err
	}
	s.notifyRemoved(ctx, teamID)
	return nil
}

// Leave removes the calling customer from the team. Same invariants as
// RemoveMember.
func (s *Service) Leave(ctx context.Context, teamID, customerID string) error {
	return s.RemoveMember(ctx, teamID, customerID)
}

// InviteByEmail creates (or replaces) the outstanding invite for the given
// address. Owner invites are not issued by email: ownership is granted
// explicitly via ChangeRole after joining.
func (s *Service) InviteByEmail(ctx context.Context, teamID, email string, role Role) (*EmailInvite, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrEmailInvalid
	}
	if role == "" {
		role = RoleMember
	}
	if role != RoleMember && role != RoleAdmin {
		return nil, ErrRoleInvalid
	}

	code, err := generateCode("inv_", 18)
	if err != nil {
		return nil, err
	}

	return s.store.CreateEmailInvite(ctx, EmailInvite{
		TeamID: teamID,
		Email:  email,
		Code:   code,
		Role:   role,
	})
}

// CancelEmailInvite deletes the invite with the given code. Cancelling an
// invite that no longer exists is not an error.
func (s *Service) CancelEmailInvite(ctx context.Context, teamID, code string) error {
	return s.store.DeleteEmailInvite(ctx, teamID, code)
}

// RefreshShareableInvite regenerates the team's shareable code. Links built on
// the previous code stop resolving immediately: there is a single active code
// per team, overwritten rather than versioned.
func (s *Service) RefreshShareableInvite(ctx context.Context, teamID string) (string, error) {
	code, err := generateCode("join_", 18)
	if err != nil {
		return "", err
	}
	if err := s.store.SetInviteCode(ctx, teamID, code); err != nil {
		return "", err
	}
	return code, nil
}

// ClearShareableInvite disables link joining for the team.
func (s *Service) ClearShareableInvite(ctx context.Context, teamID string) error {
	return s.store.SetInviteCode(ctx, teamID, "")
}

// notifyAdded forwards a headcount increase to the seat reconciler. Billing
// problems never fail the membership operation; the member is already in.
func (s *Service) notifyAdded(ctx context.Context, teamID string) {
	if s.seats == nil {
		return
	}
	if err := s.seats.OnMemberAdded(ctx, teamID); err != nil {
		slog.Error("seat reconciliation after member add failed", "team_id", teamID, "error", err)
	}
}

func (s *Service) notifyRemoved(ctx context.Context, teamID string) {
	if s.seats == nil {
		return
	}
	if err := s.seats.OnMemberRemoved(ctx, teamID); err != nil {
		slog.Error("seat reconciliation after member removal failed", "team_id", teamID, "error", err)
	}
}

// generateCode returns prefix followed by URL-safe random characters.
func generateCode(prefix string, nbytes int) (string, error) {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}
