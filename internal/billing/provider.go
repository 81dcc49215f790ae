package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

// ErrProviderUnavailable is returned when the circuit breaker is open and no
// call was attempted.
var ErrProviderUnavailable = errors.New("billing provider unavailable")

// Provider is the outbound surface of the billing provider this package
// needs: setting the seat quantity on a subscription item.
type Provider interface {
	SetSeatQuantity(ctx context.Context, itemID string, quantity int) error
}

// Client calls the provider's REST API. Calls run through a circuit breaker
// so a provider outage fails fast instead of tying up request handlers on
// timeouts.
type Client struct {
	apiBase   string
	secretKey string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[struct{}]
	logger    *slog.Logger
}

// NewClient creates a provider client. apiBase is the provider's REST root,
// secretKey the bearer credential.
func NewClient(apiBase, secretKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "billing-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		apiBase:   strings.TrimRight(apiBase, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
		breaker:   gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:    logger,
	}
}

// SetSeatQuantity updates the quantity on a subscription item. The request
// carries a fresh idempotency key; the provider deduplicates retries on its
// side.
func (c *Client) SetSeatQuantity(ctx context.Context, itemID string, quantity int) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.postItemQuantity(ctx, itemID, quantity)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrProviderUnavailable
	}
	return err
}

func (c *Client) postItemQuantity(ctx context.Context, itemID string, quantity int) error {
	form := url.Values{}
	form.Set("quantity", strconv.Itoa(quantity))

	endpoint := c.apiBase + "/subscription_items/" + url.PathEscape(itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling billing provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("billing provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
