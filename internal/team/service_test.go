package team

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeStore is an in-memory Storage implementation mirroring the store's
// semantics, including the transactional last-owner guard.
type fakeStore struct {
	teams   map[string]*Team
	members map[string]map[string]*Member      // teamID -> customerID
	invites map[string]map[string]*EmailInvite // teamID -> email
	nextID  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		teams:   map[string]*Team{},
		members: map[string]map[string]*Member{},
		invites: map[string]map[string]*EmailInvite{},
	}
}

func (f *fakeStore) addTeam(id, inviteCode string) *Team {
	t := &Team{ID: id, Name: id, Slug: id, InviteCode: inviteCode, CreatedAt: time.Now()}
	f.teams[id] = t
	f.members[id] = map[string]*Member{}
	f.invites[id] = map[string]*EmailInvite{}
	return t
}

func (f *fakeStore) addMember(teamID, customerID string, role Role) {
	f.members[teamID][customerID] = &Member{CustomerID: customerID, TeamID: teamID, Role: role}
}

func (f *fakeStore) CreateTeam(_ context.Context, in CreateTeamInput, ownerID string) (*Team, error) {
	for _, t := range f.teams {
		if t.Slug == in.Slug {
			return nil, ErrSlugTaken
		}
	}
	f.nextID++
	id := in.Slug
	t := &Team{ID: id, Name: in.Name, Slug: in.Slug, ImageURL: in.ImageURL, CreatedAt: time.Now()}
	f.teams[id] = t
	f.members[id] = map[string]*Member{ownerID: {CustomerID: ownerID, TeamID: id, Role: RoleOwner}}
	f.invites[id] = map[string]*EmailInvite{}
	return t, nil
}

func (f *fakeStore) GetTeam(_ context.Context, id string) (*Team, error) {
	t, ok := f.teams[id]
	if !ok {
		return nil, ErrTeamNotFound
	}
	return t, nil
}

func (f *fakeStore) SetInviteCode(_ context.Context, teamID, code string) error {
	t, ok := f.teams[teamID]
	if !ok {
		return ErrTeamNotFound
	}
	t.InviteCode = code
	return nil
}

func (f *fakeStore) AddMember(_ context.Context, teamID, customerID string, role Role) (*Member, error) {
	if _, ok := f.members[teamID][customerID]; ok {
		return nil, ErrAlreadyMember
	}
	m := &Member{CustomerID: customerID, TeamID: teamID, Role: role}
	f.members[teamID][customerID] = m
	return m, nil
}

func (f *fakeStore) ownerCount(teamID string) int {
	n := 0
	for _, m := range f.members[teamID] {
		if m.Role == RoleOwner {
			n++
		}
	}
	return n
}

func (f *fakeStore) UpdateMemberRole(_ context.Context, teamID, customerID string, newRole Role) (*Member, error) {
	m, ok := f.members[teamID][customerID]
	if !ok {
		return nil, ErrNotMember
	}
	if err := ensureOwnerRemains(m.Role, &newRole, f.ownerCount(teamID)); err != nil {
		return nil, err
	}
	m.Role = newRole
	return m, nil
}

func (f *fakeStore) RemoveMember(_ context.Context, teamID, customerID string) error {
	m, ok := f.members[teamID][customerID]
	if !ok {
		return ErrNotMember
	}
	if err := ensureOwnerRemains(m.Role, nil, f.ownerCount(teamID)); err != nil {
		return err
	}
	delete(f.members[teamID], customerID)
	return nil
}

func (f *fakeStore) GetEmailInvite(_ context.Context, teamID, code string) (*EmailInvite, error) {
	for _, inv := range f.invites[teamID] {
		if inv.Code == code {
			return inv, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateEmailInvite(_ context.Context, in EmailInvite) (*EmailInvite, error) {
	inv := &EmailInvite{TeamID: in.TeamID, Email: in.Email, Code: in.Code, Role: in.Role, CreatedAt: time.Now()}
	f.invites[in.TeamID][in.Email] = inv
	return inv, nil
}

func (f *fakeStore) DeleteEmailInvite(_ context.Context, teamID, code string) error {
	for email, inv := range f.invites[teamID] {
		if inv.Code == code {
			delete(f.invites[teamID], email)
		}
	}
	return nil
}

// fakeSeats records seat notifications and can simulate billing failures.
type fakeSeats struct {
	added   int
	removed int
	err     error
}

func (f *fakeSeats) OnMemberAdded(context.Context, string) error   { f.added++; return f.err }
func (f *fakeSeats) OnMemberRemoved(context.Context, string) error { f.removed++; return f.err }

func TestCreateTeamValidation(t *testing.T) {
	svc := NewService(newFakeStore(), nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   CreateTeamInput
		wantErr error
	}{
		{"valid", CreateTeamInput{Name: "Acme", Slug: "acme"}, nil},
		{"valid with hyphens", CreateTeamInput{Name: "Acme Corp", Slug: "acme-corp-2"}, nil},
		{"empty name", CreateTeamInput{Name: "  ", Slug: "acme2"}, ErrNameRequired},
		{"uppercase slug is normalized", CreateTeamInput{Name: "Acme", Slug: "AcMe-Inc"}, nil},
		{"slug with spaces", CreateTeamInput{Name: "Acme", Slug: "ac me"}, ErrSlugInvalid},
		{"slug too short", CreateTeamInput{Name: "Acme", Slug: "a"}, ErrSlugInvalid},
		{"slug leading hyphen", CreateTeamInput{Name: "Acme", Slug: "-acme"}, ErrSlugInvalid},
		{"slug with slash", CreateTeamInput{Name: "Acme", Slug: "ac/me"}, ErrSlugInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateTeam(ctx, "cust-1", tt.input)
			if !errors.Is(err, tt.wantErr) && err != tt.wantErr {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateTeamDuplicateSlug(t *testing.T) {
	svc := NewService(newFakeStore(), nil)
	ctx := context.Background()

	if _, err := svc.CreateTeam(ctx, "cust-1", CreateTeamInput{Name: "Acme", Slug: "acme"}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.CreateTeam(ctx, "cust-2", CreateTeamInput{Name: "Other", Slug: "acme"})
	if !errors.Is(err, ErrSlugTaken) {
		t.Errorf("expected ErrSlugTaken, got %v", err)
	}
}

func TestResolveInviteEmailWinsOverShareable(t *testing.T) {
	store := newFakeStore()
	// The shareable code coincides with an outstanding email invite's code.
	store.addTeam("t1", "join_collide")
	store.invites["t1"]["x@y.com"] = &EmailInvite{TeamID: "t1", Email: "x@y.com", Code: "join_collide", Role: RoleAdmin}

	svc := NewService(store, nil)
	info, err := svc.ResolveInvite(context.Background(), "t1", "join_collide")
	if err != nil {
		t.Fatalf("ResolveInvite failed: %v", err)
	}
	if info.Kind != InviteKindEmail {
		t.Errorf("expected email invite to win, got %q", info.Kind)
	}
	if info.Role != RoleAdmin {
		t.Errorf("expected admin role preserved, got %q", info.Role)
	}
}

func TestResolveInviteShareable(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "join_abc")
	svc := NewService(store, nil)

	info, err := svc.ResolveInvite(context.Background(), "t1", "join_abc")
	if err != nil {
		t.Fatalf("ResolveInvite failed: %v", err)
	}
	if info.Kind != InviteKindShareable || info.Role != RoleMember {
		t.Errorf("expected shareable member invite, got %+v", info)
	}
}

func TestResolveInviteNotFound(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "join_abc")
	svc := NewService(store, nil)

	tests := []struct {
		name string
		code string
	}{
		{"wrong code", "join_wrong"},
		{"empty code", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ResolveInvite(context.Background(), "t1", tt.code); !errors.Is(err, ErrInviteNotFound) {
				t.Errorf("expected ErrInviteNotFound, got %v", err)
			}
		})
	}
}

func TestResolveInviteClearedShareableCode(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "")
	svc := NewService(store, nil)

	// A team with no shareable code must not match the empty string.
	if _, err := svc.ResolveInvite(context.Background(), "t1", ""); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("expected ErrInviteNotFound, got %v", err)
	}
}

func TestRefreshShareableInviteInvalidatesOldCode(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "join_old")
	svc := NewService(store, nil)
	ctx := context.Background()

	code, err := svc.RefreshShareableInvite(ctx, "t1")
	if err != nil {
		t.Fatalf("RefreshShareableInvite failed: %v", err)
	}
	if !strings.HasPrefix(code, "join_") {
		t.Errorf("expected join_ prefix, got %q", code)
	}
	if code == "join_old" {
		t.Error("expected a new code")
	}

	if _, err := svc.ResolveInvite(ctx, "t1", "join_old"); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("old code should stop resolving, got %v", err)
	}
	if _, err := svc.ResolveInvite(ctx, "t1", code); err != nil {
		t.Errorf("new code should resolve, got %v", err)
	}
}

func TestClearShareableInvite(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "join_abc")
	svc := NewService(store, nil)
	ctx := context.Background()

	if err := svc.ClearShareableInvite(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveInvite(ctx, "t1", "join_abc"); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("cleared code should stop resolving, got %v", err)
	}
}

func TestAcceptInviteConsumesEmailInvite(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "")
	store.invites["t1"]["x@y.com"] = &EmailInvite{TeamID: "t1", Email: "x@y.com", Code: "inv_abc", Role: RoleAdmin}
	seats := &fakeSeats{}
	svc := NewService(store, seats)
	ctx := context.Background()

	m, err := svc.AcceptInvite(ctx, "t1", "cust-1", "inv_abc")
	if err != nil {
		t.Fatalf("AcceptInvite failed: %v", err)
	}
	if m.Role != RoleAdmin {
		t.Errorf("expected admin role from invite, got %q", m.Role)
	}
	if len(store.invites["t1"]) != 0 {
		t.Error("email invite should be consumed on acceptance")
	}
	if seats.added != 1 {
		t.Errorf("expected 1 seat notification, got %d", seats.added)
	}

	// Accepting the same code again: invite is gone.
	if _, err := svc.AcceptInvite(ctx, "t1", "cust-2", "inv_abc"); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("consumed invite should not resolve, got %v", err)
	}
}

func TestAcceptInviteAlreadyMember(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "join_abc")
	store.addMember("t1", "cust-1", RoleMember)
	seats := &fakeSeats{}
	svc := NewService(store, seats)

	_, err := svc.AcceptInvite(context.Background(), "t1", "cust-1", "join_abc")
	if !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("expected ErrAlreadyMember, got %v", err)
	}
	if seats.added != 0 {
		t.Error("no seat notification for a rejected join")
	}
}

func TestLastOwnerScenario(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "")
	store.addMember("t1", "A", RoleOwner)
	store.addMember("t1", "B", RoleMember)
	svc := NewService(store, nil)
	ctx := context.Background()

	// Removing the sole owner is rejected and observably a no-op.
	if err := svc.RemoveMember(ctx, "t1", "A"); !errors.Is(err, ErrLastOwner) {
		t.Fatalf("expected ErrLastOwner, got %v", err)
	}
	if store.members["t1"]["A"] == nil {
		t.Fatal("rejected removal must not mutate membership")
	}

	// Demoting the sole owner is rejected too.
	if _, err := svc.ChangeRole(ctx, "t1", "A", RoleMember); !errors.Is(err, ErrLastOwner) {
		t.Fatalf("expected ErrLastOwner on demotion, got %v", err)
	}
	if store.members["t1"]["A"].Role != RoleOwner {
		t.Fatal("rejected demotion must not mutate role")
	}

	// Promote B, then removing A succeeds; B remains as owner.
	if _, err := svc.ChangeRole(ctx, "t1", "B", RoleOwner); err != nil {
		t.Fatalf("promoting B failed: %v", err)
	}
	if err := svc.RemoveMember(ctx, "t1", "A"); err != nil {
		t.Fatalf("removing A after promotion failed: %v", err)
	}
	if store.ownerCount("t1") != 1 || store.members["t1"]["B"].Role != RoleOwner {
		t.Fatal("expected B to be the remaining owner")
	}
}

func TestChangeRoleValidation(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "")
	store.addMember("t1", "A", RoleOwner)
	svc := NewService(store, nil)

	if _, err := svc.ChangeRole(context.Background(), "t1", "A", Role("superuser")); !errors.Is(err, ErrRoleInvalid) {
		t.Errorf("expected ErrRoleInvalid, got %v", err)
	}
	if _, err := svc.ChangeRole(context.Background(), "t1", "missing", RoleAdmin); !errors.Is(err, ErrNotMember) {
		t.Errorf("expected ErrNotMember, got %v", err)
	}
}

func TestRemoveMemberNotifiesSeats(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "")
	store.addMember("t1", "A", RoleOwner)
	store.addMember("t1", "B", RoleMember)
	seats := &fakeSeats{}
	svc := NewService(store, seats)

	if err := svc.RemoveMember(context.Background(), "t1", "B"); err != nil {
		t.Fatal(err)
	}
	if seats.removed != 1 {
		t.Errorf("expected 1 removal notification, got %d", seats.removed)
	}
}

func TestSeatNotifierFailureDoesNotBlockMembership(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "join_abc")
	seats := &fakeSeats{err: errors.New("billing provider unreachable")}
	svc := NewService(store, seats)

	m, err := svc.AcceptInvite(context.Background(), "t1", "cust-1", "join_abc")
	if err != nil {
		t.Fatalf("membership must commit despite billing failure: %v", err)
	}
	if m == nil || store.members["t1"]["cust-1"] == nil {
		t.Fatal("member should be present")
	}
}

func TestInviteByEmail(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "")
	svc := NewService(store, nil)
	ctx := context.Background()

	inv, err := svc.InviteByEmail(ctx, "t1", "X@Y.com", RoleAdmin)
	if err != nil {
		t.Fatalf("InviteByEmail failed: %v", err)
	}
	if inv.Email != "x@y.com" {
		t.Errorf("expected lowercased email, got %q", inv.Email)
	}
	if !strings.HasPrefix(inv.Code, "inv_") {
		t.Errorf("expected inv_ prefix, got %q", inv.Code)
	}

	// Re-inviting the same address replaces the outstanding invite.
	second, err := svc.InviteByEmail(ctx, "t1", "x@y.com", RoleMember)
	if err != nil {
		t.Fatal(err)
	}
	if len(store.invites["t1"]) != 1 {
		t.Fatalf("expected exactly one outstanding invite, got %d", len(store.invites["t1"]))
	}
	if second.Code == inv.Code {
		t.Error("replacement invite should rotate the code")
	}

	// The replaced code no longer resolves.
	if _, err := svc.ResolveInvite(ctx, "t1", inv.Code); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("replaced code should not resolve, got %v", err)
	}
}

func TestInviteByEmailValidation(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "")
	svc := NewService(store, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		email   string
		role    Role
		wantErr error
	}{
		{"missing email", "", RoleMember, ErrEmailInvalid},
		{"not an email", "nope", RoleMember, ErrEmailInvalid},
		{"owner invites not issued by email", "x@y.com", RoleOwner, ErrRoleInvalid},
		{"unknown role", "x@y.com", Role("root"), ErrRoleInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.InviteByEmail(ctx, "t1", tt.email, tt.role); !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCancelEmailInviteIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addTeam("t1", "")
	store.invites["t1"]["x@y.com"] = &EmailInvite{TeamID: "t1", Email: "x@y.com", Code: "inv_abc", Role: RoleMember}
	svc := NewService(store, nil)
	ctx := context.Background()

	if err := svc.CancelEmailInvite(ctx, "t1", "inv_abc"); err != nil {
		t.Fatal(err)
	}
	// Cancelling again is not an error.
	if err := svc.CancelEmailInvite(ctx, "t1", "inv_abc"); err != nil {
		t.Errorf("cancel should be idempotent, got %v", err)
	}
}
