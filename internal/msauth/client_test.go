package msauth

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/graphvault/graphvault/internal/config"
	"github.com/graphvault/graphvault/internal/errors"
)

func testProviderConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		TenantID:     "tenant-1",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURI:  "https://assistant.example.com/auth/callback",
		Scopes:       []string{"offline_access", "https://graph.microsoft.com/User.Read"},
		BaseURL:      baseURL,
	}
}

func TestAuthorizeURL(t *testing.T) {
	client := NewClient(testProviderConfig(""))

	raw := client.AuthorizeURL("state-abc")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("unparseable URL: %v", err)
	}

	if u.Host != "login.microsoftonline.com" {
		t.Errorf("unexpected host %q", u.Host)
	}
	if !strings.HasPrefix(u.Path, "/tenant-1/oauth2/v2.0/authorize") {
		t.Errorf("unexpected path %q", u.Path)
	}

	q := u.Query()
	if q.Get("client_id") != "client-1" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("state") != "state-abc" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if !strings.Contains(q.Get("scope"), "offline_access") {
		t.Errorf("scope = %q", q.Get("scope"))
	}

	// Deterministic for the same state.
	if client.AuthorizeURL("state-abc") != raw {
		t.Error("AuthorizeURL is not deterministic")
	}
}

func TestExchangeCodeSuccess(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tenant-1/oauth2/v2.0/token" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"A1","refresh_token":"R1","expires_in":3600}`))
	}))
	defer srv.Close()

	client := NewClient(testProviderConfig(srv.URL))
	tokens, err := client.ExchangeCode(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}

	if tokens.AccessToken != "A1" || tokens.RefreshToken != "R1" || tokens.ExpiresIn != 3600 {
		t.Errorf("unexpected token set: %+v", tokens)
	}
	if gotForm.Get("grant_type") != "authorization_code" {
		t.Errorf("grant_type = %q", gotForm.Get("grant_type"))
	}
	if gotForm.Get("code") != "code-1" {
		t.Errorf("code = %q", gotForm.Get("code"))
	}
}

func TestRefreshSuccessDefaultsExpiresIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("refresh_token") != "R1" {
			t.Errorf("refresh_token = %q", r.PostForm.Get("refresh_token"))
		}
		w.Write([]byte(`{"access_token":"A2","refresh_token":"R2"}`))
	}))
	defer srv.Close()

	client := NewClient(testProviderConfig(srv.URL))
	tokens, err := client.Refresh(context.Background(), "R1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if tokens.ExpiresIn != 3600 {
		t.Errorf("expected default expires_in, got %d", tokens.ExpiresIn)
	}
}

func TestRefreshInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"AADSTS70000: refresh token revoked"}`))
	}))
	defer srv.Close()

	client := NewClient(testProviderConfig(srv.URL))
	_, err := client.Refresh(context.Background(), "dead-token")

	var invalid *errors.ErrRefreshTokenInvalid
	if !stderrors.As(err, &invalid) {
		t.Fatalf("expected ErrRefreshTokenInvalid, got %v", err)
	}
}

func TestExchangeCodeInvalidGrantIsNotRefreshInvalid(t *testing.T) {
	// invalid_grant on a code exchange means a bad/expired code, not a dead
	// refresh token; it must stay a plain provider rejection.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer srv.Close()

	client := NewClient(testProviderConfig(srv.URL))
	_, err := client.ExchangeCode(context.Background(), "stale-code")

	var invalid *errors.ErrRefreshTokenInvalid
	if stderrors.As(err, &invalid) {
		t.Fatal("code exchange must not produce ErrRefreshTokenInvalid")
	}
	var rejected *errors.ErrProviderRejected
	if !stderrors.As(err, &rejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}

func TestUnauthorizedSignalsClientCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client","error_description":"AADSTS7000215: invalid client secret"}`))
	}))
	defer srv.Close()

	client := NewClient(testProviderConfig(srv.URL))
	_, err := client.ExchangeCode(context.Background(), "code-1")

	var creds *errors.ErrClientCredentials
	if !stderrors.As(err, &creds) {
		t.Fatalf("expected ErrClientCredentials, got %v", err)
	}
	if !strings.Contains(creds.Body, "invalid_client") {
		t.Errorf("expected error code in body summary, got %q", creds.Body)
	}
	if strings.Contains(creds.Error(), "secret-1") {
		t.Error("client secret leaked into error message")
	}
}

func TestServerErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream maintenance"))
	}))
	defer srv.Close()

	client := NewClient(testProviderConfig(srv.URL))
	_, err := client.Refresh(context.Background(), "R1")

	var rejected *errors.ErrProviderRejected
	if !stderrors.As(err, &rejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	if rejected.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rejected.Status)
	}
	if !strings.Contains(rejected.Body, "upstream maintenance") {
		t.Errorf("body = %q", rejected.Body)
	}
}

func TestTimeoutSurfacesAsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testProviderConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	client := NewClient(cfg)

	_, err := client.Refresh(context.Background(), "R1")
	if err == nil {
		t.Fatal("expected timeout error")
	}

	// Transport failures stay untyped: the manager maps them to RefreshFailed.
	var rejected *errors.ErrProviderRejected
	if stderrors.As(err, &rejected) {
		t.Error("timeout must not be classified as a provider rejection")
	}
}

func TestMalformedTokenResponseRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"A1"}`))
	}))
	defer srv.Close()

	client := NewClient(testProviderConfig(srv.URL))
	_, err := client.ExchangeCode(context.Background(), "code-1")

	var rejected *errors.ErrProviderRejected
	if !stderrors.As(err, &rejected) {
		t.Fatalf("expected ErrProviderRejected for missing refresh token, got %v", err)
	}
}
