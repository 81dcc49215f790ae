package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/calebford/roster/internal/config"
)

// ErrUnknownProvider indicates a login attempt with a provider that is not
// configured.
var ErrUnknownProvider = errors.New("unknown oauth provider")

// OAuthIdentity is what an identity provider tells us about the signed-in
// account.
type OAuthIdentity struct {
	Provider  string
	AccountID string
	Email     string
	Name      string
	ImageURL  string
	Token     *oauth2.Token
}

// OAuth wraps the configured identity providers.
type OAuth struct {
	configs map[string]*oauth2.Config
	client  *http.Client
}

// NewOAuth builds provider configs from credentials. Providers without a
// client id are left unregistered.
func NewOAuth(cfg config.OAuthConfig) *OAuth {
	o := &OAuth{configs: map[string]*oauth2.Config{}, client: http.DefaultClient}

	if cfg.Google.ClientID != "" {
		o.configs["google"] = &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		}
	}
	if cfg.GitHub.ClientID != "" {
		o.configs["github"] = &oauth2.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.GitHub.RedirectURL,
			Endpoint:     endpoints.GitHub,
			Scopes:       []string{"read:user", "user:email"},
		}
	}
	return o
}

// AuthURL returns the provider's consent page URL for the given CSRF state.
func (o *OAuth) AuthURL(provider, state string) (string, error) {
	cfg, ok := o.configs[provider]
	if !ok {
		return "", ErrUnknownProvider
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Exchange trades the callback code for a token and fetches the account's
// identity from the provider's user-info endpoint.
func (o *OAuth) Exchange(ctx context.Context, provider, code string) (*OAuthIdentity, error) {
	cfg, ok := o.configs[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging oauth code: %w", err)
	}

	id, err := o.fetchIdentity(ctx, provider, cfg, token)
	if err != nil {
		return nil, err
	}
	id.Provider = provider
	id.Token = token
	return id, nil
}

func (o *OAuth) fetchIdentity(ctx context.Context, provider string, cfg *oauth2.Config, token *oauth2.Token) (*OAuthIdentity, error) {
	var endpoint string
	switch provider {
	case "google":
		endpoint = "https://openidconnect.googleapis.com/v1/userinfo"
	case "github":
		endpoint = "https://api.github.com/user"
	default:
		return nil, ErrUnknownProvider
	}

	resp, err := cfg.Client(ctx, token).Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetching oauth identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("identity endpoint returned %d: %s", resp.StatusCode, body)
	}

	switch provider {
	case "google":
		var info struct {
			Sub     string `json:"sub"`
			Email   string `json:"email"`
			Name    string `json:"name"`
			Picture string `json:"picture"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return nil, fmt.Errorf("decoding identity: %w", err)
		}
		return &OAuthIdentity{AccountID: info.Sub, Email: info.Email, Name: info.Name, ImageURL: info.Picture}, nil
	default:
		var info struct {
			ID        int64  `json:"id"`
			Email     string `json:"email"`
			Name      string `json:"name"`
			AvatarURL string `json:"avatar_url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return nil, fmt.Errorf("decoding identity: %w", err)
		}
		return &OAuthIdentity{AccountID: fmt.Sprintf("%d", info.ID), Email: info.Email, Name: info.Name, ImageURL: info.AvatarURL}, nil
	}
}
