package customer

import "time"

// Customer is a person who signs in to the product. Team membership lives in
// the team package; ActiveTeamID is only a UI pointer to the last team the
// customer worked in.
type Customer struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	ImageURL     string    `json:"image_url,omitempty"`
	ActiveTeamID string    `json:"active_team_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is a stored login session. Only the SHA-256 hash of the opaque
// token is persisted.
type Session struct {
	TokenHash  string
	CustomerID string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// OAuthAccount links a customer to an external identity provider account.
// Access and refresh tokens are encrypted at rest.
type OAuthAccount struct {
	CustomerID        string
	Provider          string
	ProviderAccountID string
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
	CreatedAt         time.Time
}

// UpdateCustomerInput holds optional fields for a partial profile update.
type UpdateCustomerInput struct {
	Name     *string `json:"name,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
}
