package billing

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeBillingStore struct {
	subs      map[string]*Subscription // teamID -> sub
	customers map[string]string        // customerID -> teamID
	seatCalls int
}

func newFakeBillingStore() *fakeBillingStore {
	return &fakeBillingStore{
		subs:      map[string]*Subscription{},
		customers: map[string]string{},
	}
}

func (f *fakeBillingStore) GetByTeam(_ context.Context, teamID string) (*Subscription, error) {
	return f.subs[teamID], nil
}

func (f *fakeBillingStore) ResolveTeamByCustomer(_ context.Context, customerID string) (string, error) {
	teamID, ok := f.customers[customerID]
	if !ok {
		return "", ErrUnknownCustomer
	}
	return teamID, nil
}

func (f *fakeBillingStore) Upsert(_ context.Context, sub *Subscription) (*Subscription, error) {
	cp := *sub
	for teamID, existing := range f.subs {
		if existing.ExternalID == sub.ExternalID && teamID != sub.TeamID {
			delete(f.subs, teamID)
		}
	}
	f.subs[sub.TeamID] = &cp
	return &cp, nil
}

func (f *fakeBillingStore) MarkCanceled(_ context.Context, externalID string) error {
	for _, sub := range f.subs {
		if sub.ExternalID == externalID {
			sub.Status = StatusCanceled
		}
	}
	return nil
}

func (f *fakeBillingStore) SetSeats(_ context.Context, teamID string, quantity, seats int) error {
	f.seatCalls++
	sub, ok := f.subs[teamID]
	if !ok {
		return errors.New("no subscription")
	}
	sub.Quantity = quantity
	sub.CurrentPeriodSeats = seats
	return nil
}

type fakeProvider struct {
	calls []struct {
		itemID   string
		quantity int
	}
	err error
}

func (f *fakeProvider) SetSeatQuantity(_ context.Context, itemID string, quantity int) error {
	f.calls = append(f.calls, struct {
		itemID   string
		quantity int
	}{itemID, quantity})
	return f.err
}

func activeSub(teamID string) *Subscription {
	return &Subscription{
		TeamID:             teamID,
		ExternalID:         "sub_1",
		ItemID:             "si_1",
		Status:             StatusActive,
		Quantity:           3,
		CurrentPeriodSeats: 3,
	}
}

func TestOnMemberAddedPushesOneMoreSeat(t *testing.T) {
	store := newFakeBillingStore()
	store.subs["t1"] = activeSub("t1")
	provider := &fakeProvider{}
	r := NewReconciler(store, provider, nil)

	if err := r.OnMemberAdded(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	if len(provider.calls) != 1 || provider.calls[0].itemID != "si_1" || provider.calls[0].quantity != 4 {
		t.Fatalf("unexpected provider calls: %+v", provider.calls)
	}
	if store.subs["t1"].Quantity != 4 || store.subs["t1"].CurrentPeriodSeats != 4 {
		t.Errorf("seat count not persisted: %+v", store.subs["t1"])
	}
}

func TestOnMemberAddedSkipsWithoutSubscription(t *testing.T) {
	store := newFakeBillingStore()
	provider := &fakeProvider{}
	r := NewReconciler(store, provider, nil)

	if err := r.OnMemberAdded(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	if len(provider.calls) != 0 {
		t.Error("no provider call expected for a team without a subscription")
	}
}

func TestOnMemberAddedSkipsNonBillableStatuses(t *testing.T) {
	for _, status := range []string{StatusCanceled, StatusUnpaid, StatusIncomplete, StatusIncompleteExpired, StatusPaused} {
		t.Run(status, func(t *testing.T) {
			store := newFakeBillingStore()
			sub := activeSub("t1")
			sub.Status = status
			store.subs["t1"] = sub
			provider := &fakeProvider{}
			r := NewReconciler(store, provider, nil)

			if err := r.OnMemberAdded(context.Background(), "t1"); err != nil {
				t.Fatal(err)
			}
			if len(provider.calls) != 0 {
				t.Errorf("no provider call expected for %s subscription", status)
			}
		})
	}
}

func TestOnMemberAddedBillableStatuses(t *testing.T) {
	for _, status := range []string{StatusActive, StatusTrialing, StatusPastDue} {
		t.Run(status, func(t *testing.T) {
			store := newFakeBillingStore()
			sub := activeSub("t1")
			sub.Status = status
			store.subs["t1"] = sub
			provider := &fakeProvider{}
			r := NewReconciler(store, provider, nil)

			if err := r.OnMemberAdded(context.Background(), "t1"); err != nil {
				t.Fatal(err)
			}
			if len(provider.calls) != 1 {
				t.Errorf("expected a seat push for %s subscription", status)
			}
		})
	}
}

func TestOnMemberAddedProviderFailureLeavesLocalStateUntouched(t *testing.T) {
	store := newFakeBillingStore()
	store.subs["t1"] = activeSub("t1")
	provider := &fakeProvider{err: ErrProviderUnavailable}
	r := NewReconciler(store, provider, nil)

	err := r.OnMemberAdded(context.Background(), "t1")
	if err == nil {
		t.Fatal("expected error from provider failure")
	}
	if store.subs["t1"].Quantity != 3 || store.seatCalls != 0 {
		t.Error("seat count must not be persisted when the provider rejected the push")
	}
}

func TestOnMemberRemovedIsLocalOnly(t *testing.T) {
	store := newFakeBillingStore()
	store.subs["t1"] = activeSub("t1")
	provider := &fakeProvider{}
	r := NewReconciler(store, provider, nil)

	if err := r.OnMemberRemoved(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	if len(provider.calls) != 0 {
		t.Error("removal must not call the provider")
	}
	if store.subs["t1"].Quantity != 3 || store.subs["t1"].CurrentPeriodSeats != 3 {
		t.Error("removal must not change seat counts mid-period")
	}
}

func TestAddThenRemoveKeepsSeats(t *testing.T) {
	store := newFakeBillingStore()
	store.subs["t1"] = activeSub("t1")
	provider := &fakeProvider{}
	r := NewReconciler(store, provider, nil)
	ctx := context.Background()

	if err := r.OnMemberAdded(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if err := r.OnMemberRemoved(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if store.subs["t1"].CurrentPeriodSeats != 4 {
		t.Errorf("seats should stay at 4 until the period boundary, got %d", store.subs["t1"].CurrentPeriodSeats)
	}
}

func subscriptionEvent(typ, subID, customer, status string, quantity int) *Event {
	ev := &Event{ID: "evt_" + subID, Type: typ}
	ev.Data.Object = SubscriptionPayload{
		ID:               subID,
		Customer:         customer,
		Status:           status,
		CurrentPeriodEnd: time.Now().Add(30 * 24 * time.Hour).Unix(),
	}
	item := ItemPayload{ID: "si_" + subID, Quantity: quantity}
	item.Price.ID = "price_1"
	item.Price.Product = "prod_1"
	item.Price.Recurring.Interval = "month"
	ev.Data.Object.Items.Data = []ItemPayload{item}
	return ev
}

func TestHandleEventUpsertsSnapshot(t *testing.T) {
	store := newFakeBillingStore()
	store.customers["cus_9"] = "t1"
	r := NewReconciler(store, &fakeProvider{}, nil)
	ctx := context.Background()

	ev := subscriptionEvent(EventSubscriptionCreated, "sub_1", "cus_9", StatusTrialing, 2)
	if err := r.HandleEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	sub := store.subs["t1"]
	if sub == nil {
		t.Fatal("subscription not created")
	}
	if sub.Status != StatusTrialing || sub.Quantity != 2 || sub.ItemID != "si_sub_1" {
		t.Errorf("unexpected snapshot: %+v", sub)
	}

	// The provider's snapshot wins over locally inferred counts.
	sub.Quantity = 7
	update := subscriptionEvent(EventSubscriptionUpdated, "sub_1", "cus_9", StatusActive, 5)
	if err := r.HandleEvent(ctx, update); err != nil {
		t.Fatal(err)
	}
	sub = store.subs["t1"]
	if sub.Status != StatusActive || sub.Quantity != 5 || sub.CurrentPeriodSeats != 5 {
		t.Errorf("snapshot should overwrite local state: %+v", sub)
	}
}

func TestHandleEventRedeliveryIsIdempotent(t *testing.T) {
	store := newFakeBillingStore()
	store.customers["cus_9"] = "t1"
	r := NewReconciler(store, &fakeProvider{}, nil)
	ctx := context.Background()

	ev := subscriptionEvent(EventSubscriptionUpdated, "sub_1", "cus_9", StatusActive, 3)
	for i := 0; i < 3; i++ {
		if err := r.HandleEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if len(store.subs) != 1 {
		t.Fatalf("expected one subscription row, got %d", len(store.subs))
	}
	if store.subs["t1"].Quantity != 3 {
		t.Errorf("quantity = %d", store.subs["t1"].Quantity)
	}
}

func TestHandleEventDeletedMarksCanceled(t *testing.T) {
	store := newFakeBillingStore()
	store.customers["cus_9"] = "t1"
	store.subs["t1"] = activeSub("t1")
	r := NewReconciler(store, &fakeProvider{}, nil)
	ctx := context.Background()

	ev := subscriptionEvent(EventSubscriptionDeleted, "sub_1", "cus_9", StatusCanceled, 3)
	if err := r.HandleEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if store.subs["t1"].Status != StatusCanceled {
		t.Errorf("status = %q", store.subs["t1"].Status)
	}

	// Redelivered deletion stays quiet.
	if err := r.HandleEvent(ctx, ev); err != nil {
		t.Errorf("redelivered deletion should not error: %v", err)
	}
}

func TestHandleEventUnknownCustomerIsAcknowledged(t *testing.T) {
	store := newFakeBillingStore()
	r := NewReconciler(store, &fakeProvider{}, nil)

	ev := subscriptionEvent(EventSubscriptionCreated, "sub_1", "cus_missing", StatusActive, 1)
	if err := r.HandleEvent(context.Background(), ev); err != nil {
		t.Errorf("unknown customer should be acknowledged, got %v", err)
	}
	if len(store.subs) != 0 {
		t.Error("nothing should be written for an unknown customer")
	}
}

func TestHandleEventIgnoresUnrelatedTypes(t *testing.T) {
	store := newFakeBillingStore()
	r := NewReconciler(store, &fakeProvider{}, nil)

	ev := &Event{ID: "evt_x", Type: "invoice.payment_succeeded"}
	if err := r.HandleEvent(context.Background(), ev); err != nil {
		t.Errorf("unrelated event types should be ignored, got %v", err)
	}
}
