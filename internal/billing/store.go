package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownCustomer indicates a webhook referenced a billing customer no team
// is linked to.
var ErrUnknownCustomer = errors.New("no team for billing customer")

// Store provides database operations for subscription mirrors.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new billing store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const subscriptionColumns = `team_id, external_id, external_item_id, status, product_id, price_id, "interval", quantity, current_period_seats, period_end, updated_at`

func scanSubscription(scan func(dest ...any) error) (*Subscription, error) {
	sub := &Subscription{}
	err := scan(&sub.TeamID, &sub.ExternalID, &sub.ItemID, &sub.Status, &sub.ProductID,
		&sub.PriceID, &sub.Interval, &sub.Quantity, &sub.CurrentPeriodSeats,
		&sub.PeriodEnd, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// GetByTeam retrieves a team's subscription. A team without one is reported as
// (nil, nil): absence of a subscription is a normal state, not an error.
func (s *Store) GetByTeam(ctx context.Context, teamID string) (*Subscription, error) {
	sub, err := scanSubscription(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions WHERE team_id = $1`, teamID,
		).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting subscription: %w", err)
	}
	return sub, nil
}

// ResolveTeamByCustomer maps a provider customer id to the owning team.
func (s *Store) ResolveTeamByCustomer(ctx context.Context, customerID string) (string, error) {
	var teamID string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM teams WHERE billing_customer_id = $1`, customerID).Scan(&teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUnknownCustomer
		}
		return "", fmt.Errorf("resolving billing customer: %w", err)
	}
	return teamID, nil
}

// Upsert writes the full subscription snapshot, keyed by the provider's
// subscription id. Redelivered or reordered webhooks land on the same row and
// the incoming snapshot always wins.
func (s *Store) Upsert(ctx context.Context, sub *Subscription) (*Subscription, error) {
	out, err := scanSubscription(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO subscriptions
			   (team_id, external_id, external_item_id, status, product_id, price_id, "interval", quantity, current_period_seats, period_end)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (external_id) DO UPDATE SET
			   external_item_id = EXCLUDED.external_item_id,
			   status = EXCLUDED.status,
			   product_id = EXCLUDED.product_id,
			   price_id = EXCLUDED.price_id,
			   "interval" = EXCLUDED."interval",
			   quantity = EXCLUDED.quantity,
			   current_period_seats = EXCLUDED.current_period_seats,
			   period_end = EXCLUDED.period_end,
			   updated_at = now()
			 RETURNING `+subscriptionColumns,
			sub.TeamID, sub.ExternalID, sub.ItemID, sub.Status, sub.ProductID,
			sub.PriceID, sub.Interval, sub.Quantity, sub.CurrentPeriodSeats, sub.PeriodEnd,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("upserting subscription: %w", err)
	}
	return out, nil
}

// MarkCanceled sets the subscription's status to canceled. Marking an already
// canceled or unknown subscription is not an error: deletion webhooks may be
// redelivered.
func (s *Store) MarkCanceled(ctx context.Context, externalID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET status = $2, updated_at = now() WHERE external_id = $1`,
		externalID, StatusCanceled)
	if err != nil {
		return fmt.Errorf("marking subscription canceled: %w", err)
	}
	return nil
}

// SetSeats persists a provider-confirmed seat quantity for the team's
// subscription.
func (s *Store) SetSeats(ctx context.Context, teamID string, quantity, currentPeriodSeats int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE subscriptions
		 SET quantity = $2, current_period_seats = $3, updated_at = now()
		 WHERE team_id = $1`,
		teamID, quantity, currentPeriodSeats)
	if err != nil {
		return fmt.Errorf("updating seat count: %w", err)
	}
	return nil
}
