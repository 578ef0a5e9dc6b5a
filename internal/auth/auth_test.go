package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/contentworks/drivebridge/internal/crypto"
	"github.com/contentworks/drivebridge/internal/model"
)

// tokenEndpoint fakes the OAuth2 token endpoint. Each response is served in
// order; hits counts requests.
type tokenEndpoint struct {
	responses []string
	hits      int
}

func (e *tokenEndpoint) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := e.hits
		e.hits++
		if i >= len(e.responses) {
			i = len(e.responses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, e.responses[i])
	}
}

func testService(tokenURL string, probe ProbeFunc) *Service {
	return NewService(
		&oauth2.Config{
			ClientID:     "test-client-id",
			ClientSecret: "test-client-secret",
			RedirectURL:  "http://localhost:3000/callback",
			Endpoint:     oauth2.Endpoint{AuthURL: tokenURL + "/auth", TokenURL: tokenURL + "/token"},
		},
		nil, // No DynamoDB client — uses in-memory fallback
		"test-tokens-table",
		crypto.NewMockEncryptor(),
		probe,
	)
}

func TestAuthURL(t *testing.T) {
	s := testService("http://localhost", nil)

	url := s.AuthURL("test-state", "jane")
	if !strings.Contains(url, "test-state") {
		t.Errorf("URL missing state: %s", url)
	}
	if !strings.Contains(url, "test-client-id") {
		t.Errorf("URL missing client id: %s", url)
	}
	if !strings.Contains(url, "login_hint=jane") {
		t.Errorf("URL missing login hint: %s", url)
	}
}

func TestCompleteAuthentication(t *testing.T) {
	ep := &tokenEndpoint{responses: []string{
		`{"access_token":"access-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3600}`,
	}}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	s := testService(srv.URL, nil)
	ctx := context.Background()

	if err := s.CompleteAuthentication(ctx, "jane", "code-1"); err != nil {
		t.Fatalf("CompleteAuthentication: %v", err)
	}

	saved, err := s.Token(ctx, "jane")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if saved.AccessToken != "access-1" {
		t.Errorf("AccessToken = %q", saved.AccessToken)
	}
	// MockEncryptor prefixes with "mock:"
	if saved.EncryptedRefreshToken != "mock:refresh-1" {
		t.Errorf("EncryptedRefreshToken = %q", saved.EncryptedRefreshToken)
	}
	if !saved.Expiry.After(time.Now()) {
		t.Errorf("Expiry = %v, want future", saved.Expiry)
	}
}

func TestCompleteAuthenticationPreservesRefreshToken(t *testing.T) {
	ep := &tokenEndpoint{responses: []string{
		`{"access_token":"access-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3600}`,
		`{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`,
	}}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	s := testService(srv.URL, nil)
	ctx := context.Background()

	if err := s.CompleteAuthentication(ctx, "jane", "code-1"); err != nil {
		t.Fatal(err)
	}
	// Re-consent without a refresh token in the response.
	if err := s.CompleteAuthentication(ctx, "jane", "code-2"); err != nil {
		t.Fatal(err)
	}

	saved, _ := s.Token(ctx, "jane")
	if saved.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q", saved.AccessToken)
	}
	if saved.EncryptedRefreshToken != "mock:refresh-1" {
		t.Errorf("refresh token not preserved: %q", saved.EncryptedRefreshToken)
	}
}

func TestCompleteAuthenticationNoRefreshTokenAnywhere(t *testing.T) {
	ep := &tokenEndpoint{responses: []string{
		`{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`,
	}}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	s := testService(srv.URL, nil)
	err := s.CompleteAuthentication(context.Background(), "jane", "code-1")
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("err = %v, want ErrNoRefreshToken", err)
	}
}

func TestGetClientUnknownUser(t *testing.T) {
	s := testService("http://localhost", nil)
	_, err := s.GetClient(context.Background(), "nobody")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestGetClientValidToken(t *testing.T) {
	ep := &tokenEndpoint{responses: []string{`{}`}}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	probes := 0
	s := testService(srv.URL, func(ctx context.Context, c *http.Client) error {
		probes++
		return nil
	})
	ctx := context.Background()
	s.SaveToken(ctx, model.UserToken{
		UserID:                "jane",
		AccessToken:           "access-1",
		EncryptedRefreshToken: "mock:refresh-1",
		Expiry:                time.Now().Add(1 * time.Hour),
	})

	client, err := s.GetClient(ctx, "jane")
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if client == nil {
		t.Fatal("client is nil")
	}
	if probes != 1 {
		t.Errorf("probes = %d, want 1", probes)
	}
	if ep.hits != 0 {
		t.Errorf("token endpoint hit %d times, want 0", ep.hits)
	}
}

func TestGetClientRefreshesOnce(t *testing.T) {
	ep := &tokenEndpoint{responses: []string{
		`{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`,
	}}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	probes := 0
	s := testService(srv.URL, func(ctx context.Context, c *http.Client) error {
		probes++
		if probes == 1 {
			return errors.New("stale token")
		}
		return nil
	})
	ctx := context.Background()
	s.SaveToken(ctx, model.UserToken{
		UserID:                "jane",
		AccessToken:           "access-1",
		EncryptedRefreshToken: "mock:refresh-1",
		Expiry:                time.Now().Add(1 * time.Hour),
	})

	if _, err := s.GetClient(ctx, "jane"); err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if ep.hits != 1 {
		t.Errorf("token endpoint hit %d times, want 1", ep.hits)
	}

	// The refreshed access token is persisted.
	saved, _ := s.Token(ctx, "jane")
	if saved.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q, want access-2", saved.AccessToken)
	}
	if saved.EncryptedRefreshToken != "mock:refresh-1" {
		t.Errorf("refresh token changed: %q", saved.EncryptedRefreshToken)
	}
}

func TestGetClientProbeKeepsFailing(t *testing.T) {
	ep := &tokenEndpoint{responses: []string{
		`{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`,
	}}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	s := testService(srv.URL, func(ctx context.Context, c *http.Client) error {
		return errors.New("revoked")
	})
	ctx := context.Background()
	s.SaveToken(ctx, model.UserToken{
		UserID:                "jane",
		AccessToken:           "access-1",
		EncryptedRefreshToken: "mock:refresh-1",
		Expiry:                time.Now().Add(1 * time.Hour),
	})

	_, err := s.GetClient(ctx, "jane")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
	// Exactly one refresh attempt, never more.
	if ep.hits != 1 {
		t.Errorf("token endpoint hit %d times, want 1", ep.hits)
	}
}

func TestGetClientNoRefreshToken(t *testing.T) {
	s := testService("http://localhost", func(ctx context.Context, c *http.Client) error {
		return errors.New("stale")
	})
	ctx := context.Background()
	s.SaveToken(ctx, model.UserToken{
		UserID:      "jane",
		AccessToken: "access-1",
		Expiry:      time.Now().Add(1 * time.Hour),
	})

	_, err := s.GetClient(ctx, "jane")
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("err = %v, want ErrNoRefreshToken", err)
	}
}
