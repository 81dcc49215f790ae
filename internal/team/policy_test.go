package team

import "testing"

func TestAuthorize(t *testing.T) {
	member := func(r Role) *Member { return &Member{Role: r} }

	tests := []struct {
		name     string
		m        *Member
		required Role
		want     bool
	}{
		{"no relation is never authorized", nil, RoleMember, false},
		{"no relation against owner", nil, RoleOwner, false},
		{"member satisfies member", member(RoleMember), RoleMember, true},
		{"member fails admin", member(RoleMember), RoleAdmin, false},
		{"member fails owner", member(RoleMember), RoleOwner, false},
		{"admin satisfies member", member(RoleAdmin), RoleMember, true},
		{"admin satisfies admin", member(RoleAdmin), RoleAdmin, true},
		{"admin fails owner", member(RoleAdmin), RoleOwner, false},
		{"owner satisfies member", member(RoleOwner), RoleMember, true},
		{"owner satisfies admin", member(RoleOwner), RoleAdmin, true},
		{"owner satisfies owner", member(RoleOwner), RoleOwner, true},
		{"unknown stored role fails member", member(Role("superuser")), RoleMember, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Authorize(tt.m, tt.required); got != tt.want {
				t.Errorf("Authorize(%v, %q) = %v, want %v", tt.m, tt.required, got, tt.want)
			}
		})
	}
}

func TestEnsureOwnerRemains(t *testing.T) {
	admin := RoleAdmin
	owner := RoleOwner

	tests := []struct {
		name       string
		current    Role
		newRole    *Role
		ownerCount int
		wantErr    error
	}{
		{"removing a plain member", RoleMember, nil, 1, nil},
		{"removing an admin", RoleAdmin, nil, 1, nil},
		{"removing one of two owners", RoleOwner, nil, 2, nil},
		{"removing the last owner", RoleOwner, nil, 1, ErrLastOwner},
		{"demoting the last owner", RoleOwner, &admin, 1, ErrLastOwner},
		{"demoting one of two owners", RoleOwner, &admin, 2, nil},
		{"owner-to-owner is a no-op for the invariant", RoleOwner, &owner, 1, nil},
		{"promoting a member never violates", RoleMember, &owner, 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ensureOwnerRemains(tt.current, tt.newRole, tt.ownerCount)
			if err != tt.wantErr {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRoleLevelOrdering(t *testing.T) {
	if !(RoleMember.Level() < RoleAdmin.Level() && RoleAdmin.Level() < RoleOwner.Level()) {
		t.Fatal("role lattice ordering broken")
	}
	if Role("bogus").Valid() {
		t.Error("unknown role should not be valid")
	}
}
