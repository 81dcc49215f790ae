package team

// Authorize decides whether a stored membership satisfies a required role.
// A nil member (no relation) is never authorized. Otherwise the member's role
// must rank at or above the required role: owners satisfy admin checks, and
// any member satisfies a member check.
func Authorize(m *Member, required Role) bool {
	if m == nil {
		return false
	}
	return m.Role.Level() >= required.Level()
}

// ensureOwnerRemains rejects a mutation that would leave a team with zero
// owners. currentRole is the target member's stored role, newRole is the role
// being assigned (nil for removal), and ownerCount is the team's current
// number of owners. The caller must evaluate this inside the same transaction
// that applies the mutation, with the team row locked, so two concurrent
// removals cannot both observe "not the last owner".
func ensureOwnerRemains(currentRole Role, newRole *Role, ownerCount int) error {
	if currentRole != RoleOwner {
		return nil
	}
	if newRole != nil && *newRole == RoleOwner {
		return nil
	}
	if ownerCount <= 1 {
		return ErrLastOwner
	}
	return nil
}
