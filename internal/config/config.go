package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version    string           `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	API        APIConfig        `yaml:"api"`
	Provider   ProviderConfig   `yaml:"provider"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig contains API authentication configuration.
type AuthConfig struct {
	APIKeys    []string `yaml:"api_keys"`
	HeaderName string   `yaml:"header_name"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// ProviderConfig describes the Microsoft identity platform application this
// service exchanges codes and refresh tokens with.
type ProviderConfig struct {
	TenantID     string        `yaml:"tenant_id"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RedirectURI  string        `yaml:"redirect_uri"`
	Scopes       []string      `yaml:"scopes"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// EncryptionConfig carries the at-rest encryption key for stored tokens.
type EncryptionConfig struct {
	// Key is a base64-encoded 32-byte AES key. Required.
	Key string `yaml:"key"`
	// ExpiryMargin is subtracted from the provider TTL so a token reported
	// valid still has provider-side headroom when used.
	ExpiryMargin time.Duration `yaml:"expiry_margin"`
}

// TelegramConfig enables the optional re-auth notification ping.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// AuditConfig controls the durable audit trail.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// DefaultScopes is the Graph permission set the assistant backend needs.
var DefaultScopes = []string{
	"offline_access",
	"https://graph.microsoft.com/Mail.ReadWrite",
	"https://graph.microsoft.com/Mail.Send",
	"https://graph.microsoft.com/Calendars.ReadWrite",
	"https://graph.microsoft.com/User.Read",
}

const defaultProviderBaseURL = "https://login.microsoftonline.com"

// Validate checks the complete configuration. Missing client secret or
// encryption key is fatal here, at startup, never at first use.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if err := c.Encryption.Validate(); err != nil {
		return err
	}
	if c.Audit.Enabled && c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days must not be negative")
	}
	return nil
}

// Validate checks server configuration.
func (s *ServerConfig) Validate() error {
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got %d", s.HTTPPort)
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be one of debug/info/warn/error, got %q", s.LogLevel)
	}
	return nil
}

// Validate checks API configuration.
func (a *APIConfig) Validate() error {
	if a.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("api.rate_limit.requests_per_minute must not be negative")
	}
	if a.RateLimit.Burst < 0 {
		return fmt.Errorf("api.rate_limit.burst must not be negative")
	}
	return nil
}

// Validate checks provider configuration.
func (p *ProviderConfig) Validate() error {
	if p.TenantID == "" {
		return fmt.Errorf("provider.tenant_id is required")
	}
	if p.ClientID == "" {
		return fmt.Errorf("provider.client_id is required")
	}
	if p.ClientSecret == "" {
		return fmt.Errorf("provider.client_secret is required")
	}
	if p.RedirectURI == "" {
		return fmt.Errorf("provider.redirect_uri is required")
	}
	if _, err := url.ParseRequestURI(p.RedirectURI); err != nil {
		return fmt.Errorf("provider.redirect_uri is not a valid URL: %v", err)
	}
	if p.BaseURL != "" {
		if _, err := url.ParseRequestURI(p.BaseURL); err != nil {
			return fmt.Errorf("provider.base_url is not a valid URL: %v", err)
		}
	}
	if p.Timeout < 0 {
		return fmt.Errorf("provider.timeout must not be negative")
	}
	return nil
}

// Validate checks encryption configuration. The key material itself is
// validated by the codec constructor; here we only require presence.
func (e *EncryptionConfig) Validate() error {
	if e.Key == "" {
		return fmt.Errorf("encryption.key is required")
	}
	if e.ExpiryMargin < 0 {
		return fmt.Errorf("encryption.expiry_margin must not be negative")
	}
	return nil
}

// EffectiveScopes returns configured scopes or the Graph defaults.
func (p *ProviderConfig) EffectiveScopes() []string {
	if len(p.Scopes) > 0 {
		return p.Scopes
	}
	return DefaultScopes
}

// EffectiveBaseURL returns the configured endpoint base or the Microsoft
// identity platform default.
func (p *ProviderConfig) EffectiveBaseURL() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return defaultProviderBaseURL
}

// EffectiveTimeout returns the provider call timeout, defaulting to 30s.
func (p *ProviderConfig) EffectiveTimeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return 30 * time.Second
}

// EffectiveExpiryMargin returns the expiry safety margin, defaulting to 300s.
func (e *EncryptionConfig) EffectiveExpiryMargin() time.Duration {
	if e.ExpiryMargin > 0 {
		return e.ExpiryMargin
	}
	return 5 * time.Minute
}
