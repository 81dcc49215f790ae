package billing

import "time"

// Subscription status values mirror the provider's subscription lifecycle
// verbatim. This package never invents states: whatever status a webhook
// payload carries is stored as-is.
const (
	StatusTrialing          = "trialing"
	StatusActive            = "active"
	StatusPastDue           = "past_due"
	StatusCanceled          = "canceled"
	StatusUnpaid            = "unpaid"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusPaused            = "paused"
)

// Subscription is the local mirror of a provider subscription, one per team.
// ExternalID is the provider's subscription id and the webhook upsert key;
// ItemID is the subscription-item whose quantity carries the seat count.
type Subscription struct {
	TeamID             string    `json:"team_id"`
	ExternalID         string    `json:"external_id"`
	ItemID             string    `json:"-"`
	Status             string    `json:"status"`
	ProductID          string    `json:"product_id"`
	PriceID            string    `json:"price_id"`
	Interval           string    `json:"interval"`
	Quantity           int       `json:"quantity"`
	CurrentPeriodSeats int       `json:"current_period_seats"`
	PeriodEnd          time.Time `json:"period_end"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Billable reports whether the subscription's status entitles the team to
// seats, and so whether headcount changes should be pushed to the provider.
func (s *Subscription) Billable() bool {
	switch s.Status {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// Webhook event types this package reacts to. Everything else is acknowledged
// and ignored.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Event is the provider's webhook envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object             SubscriptionPayload `json:"object"`
		PreviousAttributes map[string]any      `json:"previous_attributes,omitempty"`
	} `json:"data"`
}

// SubscriptionPayload is the provider's external representation of a
// subscription, the authoritative snapshot a webhook delivers.
type SubscriptionPayload struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []ItemPayload `json:"data"`
	} `json:"items"`
}

// ItemPayload is a subscription line item. The first item carries the seat
// price and quantity.
type ItemPayload struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	Price    struct {
		ID        string `json:"id"`
		Product   string `json:"product"`
		Recurring struct {
			Interval string `json:"interval"`
		} `json:"recurring"`
	} `json:"price"`
}
