package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Storage is the subset of Store operations the Reconciler depends on. It
// exists to allow testing without a real database.
type Storage interface {
	GetByTeam(ctx context.Context, teamID string) (*Subscription, error)
	ResolveTeamByCustomer(ctx context.Context, customerID string) (string, error)
	Upsert(ctx context.Context, sub *Subscription) (*Subscription, error)
	MarkCanceled(ctx context.Context, externalID string) error
	SetSeats(ctx context.Context, teamID string, quantity, currentPeriodSeats int) error
}

// Reconciler keeps the local subscription mirror and the provider's seat
// quantity consistent with team headcount. Seats only grow within a billing
// period; shrinking waits for the period boundary, where the provider's own
// webhook snapshot brings the mirror back in line.
type Reconciler struct {
	store    Storage
	provider Provider
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler. provider may be nil in environments
// without billing credentials; seat pushes are then skipped.
func NewReconciler(store Storage, provider Provider, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, provider: provider, logger: logger}
}

// OnMemberAdded pushes one more seat to the provider and, once the provider
// accepted it, persists the new count. The membership itself has already
// committed: a provider failure here is logged and left for the next webhook
// to reconcile, never surfaced to the joining member.
func (r *Reconciler) OnMemberAdded(ctx context.Context, teamID string) error {
	sub, err := r.store.GetByTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if sub == nil || !sub.Billable() {
		return nil
	}
	if r.provider == nil {
		r.logger.Warn("no billing provider configured, skipping seat increase", "team_id", teamID)
		return nil
	}

	newQuantity := sub.Quantity + 1
	if err := r.provider.SetSeatQuantity(ctx, sub.ItemID, newQuantity); err != nil {
		return fmt.Errorf("pushing seat quantity %d for team %s: %w", newQuantity, teamID, err)
	}
	if err := r.store.SetSeats(ctx, teamID, newQuantity, newQuantity); err != nil {
		return err
	}
	return nil
}

// OnMemberRemoved records nothing: paid seats never shrink mid-period, so the
// team simply runs with more seats than members until the period boundary.
func (r *Reconciler) OnMemberRemoved(ctx context.Context, teamID string) error {
	sub, err := r.store.GetByTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	r.logger.Debug("seat decrease deferred to period boundary",
		"team_id", teamID, "quantity", sub.Quantity)
	return nil
}

// HandleEvent applies a verified webhook event. Each event is a full-state
// snapshot, so redelivery and out-of-order delivery both collapse to the same
// final row. Event types outside the subscription lifecycle are acknowledged
// and ignored.
func (r *Reconciler) HandleEvent(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return r.upsertFromPayload(ctx, ev)
	case EventSubscriptionDeleted:
		r.logger.Info("subscription deleted",
			"event_id", ev.ID, "subscription_id", ev.Data.Object.ID)
		return r.store.MarkCanceled(ctx, ev.Data.Object.ID)
	default:
		r.logger.Debug("ignoring webhook event", "event_id", ev.ID, "type", ev.Type)
		return nil
	}
}

func (r *Reconciler) upsertFromPayload(ctx context.Context, ev *Event) error {
	payload := ev.Data.Object
	teamID, err := r.store.ResolveTeamByCustomer(ctx, payload.Customer)
	if err != nil {
		if errors.Is(err, ErrUnknownCustomer) {
			// Acknowledge so the provider stops redelivering; nothing local to
			// reconcile against.
			r.logger.Warn("webhook for unknown billing customer",
				"event_id", ev.ID, "customer", payload.Customer)
			return nil
		}
		return err
	}

	sub := &Subscription{
		TeamID:     teamID,
		ExternalID: payload.ID,
		Status:     payload.Status,
		PeriodEnd:  time.Unix(payload.CurrentPeriodEnd, 0).UTC(),
	}
	if len(payload.Items.Data) > 0 {
		item := payload.Items.Data[0]
		sub.ItemID = item.ID
		sub.Quantity = item.Quantity
		sub.CurrentPeriodSeats = item.Quantity
		sub.PriceID = item.Price.ID
		sub.ProductID = item.Price.Product
		sub.Interval = item.Price.Recurring.Interval
	}

	if _, err := r.store.Upsert(ctx, sub); err != nil {
		return err
	}
	r.logger.Info("subscription reconciled from webhook",
		"event_id", ev.ID, "team_id", teamID,
		"subscription_id", sub.ExternalID, "status", sub.Status,
		"quantity", sub.Quantity)
	return nil
}
