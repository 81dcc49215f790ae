package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calebford/roster/internal/config"
	"github.com/calebford/roster/internal/customer"
)

func TestGenerateOTP(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateOTP()
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != OTPLength {
			t.Fatalf("code %q has wrong length", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit", code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Error("codes should vary")
	}
}

type stubSessions struct {
	customers map[string]*customer.Customer
}

func (s *stubSessions) GetSessionCustomer(_ context.Context, token string) (*customer.Customer, error) {
	return s.customers[token], nil
}

func TestSessionMiddleware(t *testing.T) {
	sessions := &stubSessions{customers: map[string]*customer.Customer{
		"good-token": {ID: "cust-1", Email: "x@y.com"},
	}}

	var got *customer.Customer
	handler := SessionMiddleware(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CustomerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		setup      func(*http.Request)
		wantStatus int
		wantID     string
	}{
		{
			"cookie session",
			func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "good-token"})
			},
			http.StatusOK, "cust-1",
		},
		{
			"bearer session",
			func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-token") },
			http.StatusOK, "cust-1",
		},
		{
			"cookie wins over bearer",
			func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "good-token"})
				r.Header.Set("Authorization", "Bearer bad-token")
			},
			http.StatusOK, "cust-1",
		},
		{
			"missing token",
			func(*http.Request) {},
			http.StatusUnauthorized, "",
		},
		{
			"unknown token",
			func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
			http.StatusUnauthorized, "",
		},
		{
			"malformed authorization header",
			func(r *http.Request) { r.Header.Set("Authorization", "Token abc") },
			http.StatusUnauthorized, "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/account", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantID != "" && (got == nil || got.ID != tt.wantID) {
				t.Errorf("customer in context = %+v, want id %q", got, tt.wantID)
			}
		})
	}
}

func TestOAuthProviderRegistration(t *testing.T) {
	o := NewOAuth(config.OAuthConfig{
		Google: config.OAuthProviderConfig{ClientID: "id", ClientSecret: "secret", RedirectURL: "http://localhost/cb"},
	})

	url, err := o.AuthURL("google", "state-1")
	if err != nil {
		t.Fatal(err)
	}
	if url == "" {
		t.Error("expected a consent url")
	}

	if _, err := o.AuthURL("github", "state-1"); err != ErrUnknownProvider {
		t.Errorf("unconfigured provider should be unknown, got %v", err)
	}
	if _, err := o.Exchange(context.Background(), "gitlab", "code"); err != ErrUnknownProvider {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}
