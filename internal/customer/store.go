package customer

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/calebford/roster/internal/crypto"
)

// Domain errors returned by the Store.
var (
	ErrNotFound    = errors.New("customer not found")
	ErrCodeInvalid = errors.New("login code invalid or expired")
)

const (
	defaultSessionTTL = 7 * 24 * time.Hour
	defaultCodeTTL    = 10 * time.Minute
)

// Store provides database operations for customers, sessions, login codes,
// and linked OAuth accounts.
type Store struct {
	pool       *pgxpool.Pool
	cipher     *crypto.Cipher
	sessionTTL time.Duration
	codeTTL    time.Duration
}

// NewStore creates a customer store. cipher encrypts OAuth tokens at rest and
// may be nil in development.
func NewStore(pool *pgxpool.Pool, cipher *crypto.Cipher, sessionTTL, codeTTL time.Duration) *Store {
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	if codeTTL <= 0 {
		codeTTL = defaultCodeTTL
	}
	return &Store{pool: pool, cipher: cipher, sessionTTL: sessionTTL, codeTTL: codeTTL}
}

const customerColumns = `id, email, COALESCE(name, ''), COALESCE(image_url, ''), COALESCE(active_team_id, ''), created_at`

func scanCustomer(scan func(dest ...any) error) (*Customer, error) {
	c := &Customer{}
	err := scan(&c.ID, &c.Email, &c.Name, &c.ImageURL, &c.ActiveTeamID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetOrCreateByEmail returns the customer with the given email, creating one
// on first sign-in.
func (s *Store) GetOrCreateByEmail(ctx context.Context, email string) (*Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	c, err := scanCustomer(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO customers (email)
			 VALUES ($1)
			 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
			 RETURNING `+customerColumns, email,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting or creating customer: %w", err)
	}
	return c, nil
}

// GetByID retrieves a customer by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Customer, error) {
	c, err := scanCustomer(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id,
		).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting customer: %w", err)
	}
	return c, nil
}

// Update performs a partial update on the customer's profile.
func (s *Store) Update(ctx context.Context, id string, in UpdateCustomerInput) (*Customer, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = NULLIF($%d, '')", argIdx))
		args = append(args, *in.Name)
		argIdx++
	}
	if in.ImageURL != nil {
		setClauses = append(setClauses, fmt.Sprintf("image_url = NULLIF($%d, '')", argIdx))
		args = append(args, *in.ImageURL)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE customers SET %s WHERE id = $%d RETURNING `+customerColumns,
		strings.Join(setClauses, ", "), argIdx,
	)

	c, err := scanCustomer(func(dest ...any) error {
		return s.pool.QueryRow(ctx, query, args...).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating customer: %w", err)
	}
	return c, nil
}

// SetActiveTeam records the customer's last active team. An empty teamID
// clears the pointer.
func (s *Store) SetActiveTeam(ctx context.Context, id, teamID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE customers SET active_team_id = NULLIF($2, '') WHERE id = $1`, id, teamID)
	if err != nil {
		return fmt.Errorf("setting active team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession creates a session for the customer and returns the opaque
// plaintext token to hand to the client. Only the token's hash is stored.
func (s *Store) CreateSession(ctx context.Context, customerID string) (string, *Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}
	plaintext := hex.EncodeToString(b)
	tokenHash := hashToken(plaintext)

	now := time.Now()
	sess := &Session{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (token_hash, customer_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING token_hash, customer_id, created_at, expires_at`,
		tokenHash, customerID, now, now.Add(s.sessionTTL),
	).Scan(&sess.TokenHash, &sess.CustomerID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}
	return plaintext, sess, nil
}

// GetSessionCustomer resolves a plaintext session token to its customer.
// An unknown or expired token is reported as (nil, nil).
func (s *Store) GetSessionCustomer(ctx context.Context, plaintext string) (*Customer, error) {
	c, err := scanCustomer(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT c.id, c.email, COALESCE(c.name, ''), COALESCE(c.image_url, ''), COALESCE(c.active_team_id, ''), c.created_at
			 FROM sessions s JOIN customers c ON s.customer_id = c.id
			 WHERE s.token_hash = $1 AND s.expires_at > now()`,
			hashToken(plaintext),
		).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session customer: %w", err)
	}
	return c, nil
}

// DeleteSession removes a session by its plaintext token.
func (s *Store) DeleteSession(ctx context.Context, plaintext string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE token_hash = $1`, hashToken(plaintext))
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanExpiredSessions deletes all sessions that have expired.
func (s *Store) CleanExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SaveLoginCode stores a bcrypt hash of the one-time code for the email,
// replacing any outstanding code for the same address.
func (s *Store) SaveLoginCode(ctx context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing login code: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO login_codes (email, code_hash, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO UPDATE SET
		   code_hash = EXCLUDED.code_hash,
		   expires_at = EXCLUDED.expires_at,
		   created_at = now()`,
		email, string(hash), time.Now().Add(s.codeTTL))
	if err != nil {
		return fmt.Errorf("saving login code: %w", err)
	}
	return nil
}

// ConsumeLoginCode verifies the code for the email and deletes it on success.
// A wrong, expired, or already consumed code is reported as ErrCodeInvalid
// without distinguishing which, so the response leaks nothing.
func (s *Store) ConsumeLoginCode(ctx context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT code_hash FROM login_codes WHERE email = $1 AND expires_at > now()`,
		email).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCodeInvalid
		}
		return fmt.Errorf("getting login code: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		return ErrCodeInvalid
	}

	_, err = s.pool.Exec(ctx, `DELETE FROM login_codes WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("consuming login code: %w", err)
	}
	return nil
}

// UpsertOAuthAccount links an external identity to a customer, encrypting the
// provider tokens before they touch the database.
func (s *Store) UpsertOAuthAccount(ctx context.Context, acct OAuthAccount) error {
	access, err := s.cipher.Encrypt(acct.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}
	refresh, err := s.cipher.Encrypt(acct.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypting refresh token: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO oauth_accounts (customer_id, provider, provider_account_id, access_token, refresh_token, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (provider, provider_account_id) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   expires_at = EXCLUDED.expires_at`,
		acct.CustomerID, acct.Provider, acct.ProviderAccountID, access, refresh, acct.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upserting oauth account: %w", err)
	}
	return nil
}

// GetCustomerByOAuth resolves a linked provider account to its customer.
// An unlinked account is reported as (nil, nil).
func (s *Store) GetCustomerByOAuth(ctx context.Context, provider, providerAccountID string) (*Customer, error) {
	c, err := scanCustomer(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT c.id, c.email, COALESCE(c.name, ''), COALESCE(c.image_url, ''), COALESCE(c.active_team_id, ''), c.created_at
			 FROM oauth_accounts oa JOIN customers c ON oa.customer_id = c.id
			 WHERE oa.provider = $1 AND oa.provider_account_id = $2`,
			provider, providerAccountID,
		).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting customer by oauth account: %w", err)
	}
	return c, nil
}

func hashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
