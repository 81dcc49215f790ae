package team

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for teams, members, and email invites.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new team store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const teamColumns = `id, name, slug, COALESCE(image_url, ''), COALESCE(invite_code, ''), COALESCE(billing_customer_id, ''), created_at`

// scanTeam scans a team row.
func scanTeam(scan func(dest ...any) error) (*Team, error) {
	t := &Team{}
	err := scan(&t.ID, &t.Name, &t.Slug, &t.ImageURL, &t.InviteCode, &t.BillingCustomerID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateTeam inserts a team and its first member (the creator, as owner) in a
// single transaction. A duplicate slug is reported as ErrSlugTaken.
func (s *Store) CreateTeam(ctx context.Context, in CreateTeamInput, ownerID string) (*Team, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := scanTeam(func(dest ...any) error {
		return tx.QueryRow(ctx,
			`INSERT INTO teams (name, slug, image_url, billing_customer_id)
			 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
			 RETURNING `+teamColumns,
			in.Name, in.Slug, in.ImageURL, in.BillingCustomerID,
		).Scan(dest...)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlugTaken
		}
		return nil, fmt.Errorf("creating team: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO members (customer_id, team_id, role) VALUES ($1, $2, $3)`,
		ownerID, t.ID, RoleOwner,
	)
	if err != nil {
		return nil, fmt.Errorf("creating owner membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing team creation: %w", err)
	}
	return t, nil
}

// GetTeam retrieves a team by primary key.
func (s *Store) GetTeam(ctx context.Context, id string) (*Team, error) {
	t, err := scanTeam(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+teamColumns+` FROM teams WHERE id = $1`, id,
		).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("getting team: %w", err)
	}
	return t, nil
}

// GetTeamBySlug retrieves a team by its URL slug.
func (s *Store) GetTeamBySlug(ctx context.Context, slug string) (*Team, error) {
	t, err := scanTeam(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+teamColumns+` FROM teams WHERE slug = $1`, slug,
		).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("getting team by slug: %w", err)
	}
	return t, nil
}

// ListTeamsForCustomer returns all teams the customer belongs to.
func (s *Store) ListTeamsForCustomer(ctx context.Context, customerID string) ([]*Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+teamColumns+` FROM teams t
		 JOIN members m ON m.team_id = t.id
		 WHERE m.customer_id = $1
		 ORDER BY t.created_at`, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	defer rows.Close()

	var teams []*Team
	for rows.Next() {
		t, err := scanTeam(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning team row: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// UpdateTeam performs a partial update on the team with the given id. The slug
// is immutable and cannot be updated here.
func (s *Store) UpdateTeam(ctx context.Context, id string, in UpdateTeamInput) (*Team, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *in.Name)
		argIdx++
	}
	if in.ImageURL != nil {
		setClauses = append(setClauses, fmt.Sprintf("image_url = NULLIF($%d, '')", argIdx))
		args = append(args, *in.ImageURL)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetTeam(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE teams SET %s WHERE id = $%d RETURNING `+teamColumns,
		strings.Join(setClauses, ", "), argIdx,
	)

	t, err := scanTeam(func(dest ...any) error {
		return s.pool.QueryRow(ctx, query, args...).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("updating team: %w", err)
	}
	return t, nil
}

// SetInviteCode overwrites the team's shareable invite code. An empty code
// clears it, disabling link joining.
func (s *Store) SetInviteCode(ctx context.Context, teamID, code string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE teams SET invite_code = NULLIF($2, '') WHERE id = $1`, teamID, code)
	if err != nil {
		return fmt.Errorf("setting invite code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTeamNotFound
	}
	return nil
}

// GetMember retrieves the membership relation for (teamID, customerID).
// A missing relation is reported as (nil, nil) so callers can feed the result
// straight into Authorize.
func (s *Store) GetMember(ctx context.Context, teamID, customerID string) (*Member, error) {
	m := &Member{}
	err := s.pool.QueryRow(ctx,
		`SELECT customer_id, team_id, role, created_at, updated_at
		 FROM members WHERE team_id = $1 AND customer_id = $2`,
		teamID, customerID,
	).Scan(&m.CustomerID, &m.TeamID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting member: %w", err)
	}
	return m, nil
}

// ListMembers returns all members of a team, owners first.
func (s *Store) ListMembers(ctx context.Context, teamID string) ([]*Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT customer_id, team_id, role, created_at, updated_at
		 FROM members WHERE team_id = $1
		 ORDER BY CASE role WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 ELSE 2 END, created_at`,
		teamID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.CustomerID, &m.TeamID, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CountMembers returns the team's current headcount.
func (s *Store) CountMembers(ctx context.Context, teamID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM members WHERE team_id = $1`, teamID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting members: %w", err)
	}
	return n, nil
}

// AddMember inserts a membership relation. An existing relation is reported as
// ErrAlreadyMember.
func (s *Store) AddMember(ctx context.Context, teamID, customerID string, role Role) (*Member, error) {
	m := &Member{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO members (customer_id, team_id, role)
		 VALUES ($1, $2, $3)
		 RETURNING customer_id, team_id, role, created_at, updated_at`,
		customerID, teamID, role,
	).Scan(&m.CustomerID, &m.TeamID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("adding member: %w", err)
	}
	return m, nil
}

// lockTeamAndTarget locks the team row and reads the target member's role and
// the team's owner count. It anchors the last-owner guard: both concurrent
// mutators serialize on the team row, so the count they observe is current.
func lockTeamAndTarget(ctx context.Context, tx pgx.Tx, teamID, customerID string) (Role, int, error) {
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT true FROM teams WHERE id = $1 FOR UPDATE`, teamID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrTeamNotFound
		}
		return "", 0, fmt.Errorf("locking team: %w", err)
	}

	var role Role
	if err := tx.QueryRow(ctx,
		`SELECT role FROM members WHERE team_id = $1 AND customer_id = $2`,
		teamID, customerID).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrNotMember
		}
		return "", 0, fmt.Errorf("getting target member: %w", err)
	}

	var owners int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM members WHERE team_id = $1 AND role = $2`,
		teamID, RoleOwner).Scan(&owners); err != nil {
		return "", 0, fmt.Errorf("counting owners: %w", err)
	}

	return role, owners, nil
}

// UpdateMemberRole changes a member's role. A change that would leave the team
// with zero owners is rejected with ErrLastOwner and nothing is written.
func (s *Store) UpdateMemberRole(ctx context.Context, teamID, customerID string, newRole Role) (*Member, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, owners, err := lockTeamAndTarget(ctx, tx, teamID, customerID)
	if err != nil {
		return nil, err
	}
	if err := ensureOwnerRemains(current, &newRole, owners); err != nil {
		return nil, err
	}

	m := &Member{}
	err = tx.QueryRow(ctx,
		`UPDATE members SET role = $3, updated_at = now()
		 WHERE team_id = $1 AND customer_id = $2
		 RETURNING customer_id, team_id, role, created_at, updated_at`,
		teamID, customerID, newRole,
	).Scan(&m.CustomerID, &m.TeamID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("updating member role: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing role change: %w", err)
	}
	return m, nil
}

// RemoveMember deletes a membership relation. Removing the last owner is
// rejected with ErrLastOwner and nothing is written.
func (s *Store) RemoveMember(ctx context.Context, teamID, customerID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, owners, err := lockTeamAndTarget(ctx, tx, teamID, customerID)
	if err != nil {
		return err
	}
	if err := ensureOwnerRemains(current, nil, owners); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM members WHERE team_id = $1 AND customer_id = $2`,
		teamID, customerID)
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing member removal: %w", err)
	}
	return nil
}

// GetEmailInvite retrieves an email invite by its code. A missing invite is
// reported as (nil, nil).
func (s *Store) GetEmailInvite(ctx context.Context, teamID, code string) (*EmailInvite, error) {
	inv := &EmailInvite{}
	err := s.pool.QueryRow(ctx,
		`SELECT team_id, email, code, role, created_at
		 FROM email_invites WHERE team_id = $1 AND code = $2`,
		teamID, code,
	).Scan(&inv.TeamID, &inv.Email, &inv.Code, &inv.Role, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting email invite: %w", err)
	}
	return inv, nil
}

// ListEmailInvites returns a team's outstanding email invites.
func (s *Store) ListEmailInvites(ctx context.Context, teamID string) ([]*EmailInvite, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT team_id, email, code, role, created_at
		 FROM email_invites WHERE team_id = $1 ORDER BY created_at DESC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("listing email invites: %w", err)
	}
	defer rows.Close()

	var invites []*EmailInvite
	for rows.Next() {
		inv := &EmailInvite{}
		if err := rows.Scan(&inv.TeamID, &inv.Email, &inv.Code, &inv.Role, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning email invite row: %w", err)
		}
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

// CreateEmailInvite inserts an email invite, replacing any outstanding invite
// for the same (team, email) pair.
func (s *Store) CreateEmailInvite(ctx context.Context, in EmailInvite) (*EmailInvite, error) {
	inv := &EmailInvite{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO email_invites (team_id, email, code, role)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (team_id, email)
		 DO UPDATE SET code = EXCLUDED.code, role = EXCLUDED.role, created_at = now()
		 RETURNING team_id, email, code, role, created_at`,
		in.TeamID, in.Email, in.Code, in.Role,
	).Scan(&inv.TeamID, &inv.Email, &inv.Code, &inv.Role, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating email invite: %w", err)
	}
	return inv, nil
}

// DeleteEmailInvite removes an email invite by code. Deleting a nonexistent
// invite is not an error.
func (s *Store) DeleteEmailInvite(ctx context.Context, teamID, code string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM email_invites WHERE team_id = $1 AND code = $2`, teamID, code)
	if err != nil {
		return fmt.Errorf("deleting email invite: %w", err)
	}
	return nil
}
