package msauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/graphvault/graphvault/internal/config"
	"github.com/graphvault/graphvault/internal/errors"
	"github.com/graphvault/graphvault/internal/models"
)

// Client talks to the Microsoft identity platform's OAuth2 endpoints for a
// single registered application. It holds no credential state of its own and
// never retries: an authorization code is single-use, and refresh retry
// policy belongs to the lifecycle manager.
type Client struct {
	httpClient   *http.Client
	tenantID     string
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string
	baseURL      string
}

// NewClient builds a provider client from validated configuration.
func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.EffectiveTimeout(),
		},
		tenantID:     cfg.TenantID,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		scopes:       cfg.EffectiveScopes(),
		baseURL:      strings.TrimRight(cfg.EffectiveBaseURL(), "/"),
	}
}

func (c *Client) authorizeEndpoint() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize", c.baseURL, c.tenantID)
}

func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.baseURL, c.tenantID)
}

// AuthorizeURL constructs the provider's login redirect URL with the given
// anti-forgery state echoed back on callback. Deterministic for a given
// state.
func (c *Client) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", c.redirectURI)
	params.Set("response_mode", "query")
	params.Set("scope", strings.Join(c.scopes, " "))
	params.Set("state", state)
	return c.authorizeEndpoint() + "?" + params.Encode()
}

// ExchangeCode swaps a single-use authorization code for a token set.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*models.TokenSet, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.redirectURI)

	return c.postToken(ctx, "code exchange", form)
}

// Refresh obtains a fresh token set from a refresh token. The provider may
// rotate the refresh token; callers must persist the returned one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("scope", strings.Join(c.scopes, " "))

	return c.postToken(ctx, "refresh", form)
}

// providerError is the OAuth2 error body shape (RFC 6749 §5.2).
type providerError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) postToken(ctx context.Context, operation string, form url.Values) (*models.TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// 1MB cap: the token endpoint never legitimately sends more.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classifyRejection(operation, resp.StatusCode, body)
	}

	var tokens models.TokenSet
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, &errors.ErrProviderRejected{
			Operation: operation,
			Status:    resp.StatusCode,
			Body:      "unparseable token response",
		}
	}
	if !tokens.Valid() {
		return nil, &errors.ErrProviderRejected{
			Operation: operation,
			Status:    resp.StatusCode,
			Body:      "token response missing access or refresh token",
		}
	}
	if tokens.ExpiresIn <= 0 {
		tokens.ExpiresIn = 3600
	}

	return &tokens, nil
}

// classifyRejection maps a non-2xx token response onto the error taxonomy.
// The body is included for diagnostics; the client secret never appears in
// provider responses.
func (c *Client) classifyRejection(operation string, status int, body []byte) error {
	var oauthErr providerError
	_ = json.Unmarshal(body, &oauthErr)

	if operation == "refresh" && oauthErr.Error == "invalid_grant" {
		return &errors.ErrRefreshTokenInvalid{}
	}
	if status == http.StatusUnauthorized {
		return &errors.ErrClientCredentials{
			Operation: operation,
			Body:      summarize(oauthErr, body),
		}
	}
	return &errors.ErrProviderRejected{
		Operation: operation,
		Status:    status,
		Body:      summarize(oauthErr, body),
	}
}

func summarize(oauthErr providerError, body []byte) string {
	if oauthErr.Error != "" {
		if oauthErr.ErrorDescription != "" {
			return oauthErr.Error + ": " + oauthErr.ErrorDescription
		}
		return oauthErr.Error
	}
	s := string(body)
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
