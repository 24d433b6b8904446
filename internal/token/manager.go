package token

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/graphvault/graphvault/internal/cryptox"
	"github.com/graphvault/graphvault/internal/errors"
	"github.com/graphvault/graphvault/internal/logging"
	"github.com/graphvault/graphvault/internal/metrics"
	"github.com/graphvault/graphvault/internal/models"
	"github.com/graphvault/graphvault/internal/store"
	"golang.org/x/sync/singleflight"
)

// Refresher is the slice of the identity provider client the manager needs.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error)
}

// Notifier is pinged when a user is downgraded to needs-reauth, so the
// assistant can tell its user to log in again.
type Notifier interface {
	NotifyReauthRequired(userID string)
}

// Manager owns the credential lifecycle per user: it decides whether a
// cached token is still usable, serializes refreshes, and is the only
// component that reads or writes credential records.
type Manager struct {
	store    store.Store
	provider Refresher
	codec    *cryptox.Codec
	logger   *logging.Logger
	metrics  *metrics.Metrics
	audit    logging.AuditSink
	notifier Notifier
	now      func() time.Time

	// group guarantees at most one in-flight refresh per user_id; concurrent
	// callers for the same user share the winner's result instead of issuing
	// duplicate refresh-token uses, which some providers punish by revoking
	// the whole token family.
	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the default logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics attaches a metrics instance.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// WithAuditSink overrides the default logger-backed audit sink.
func WithAuditSink(sink logging.AuditSink) Option {
	return func(m *Manager) {
		m.audit = sink
	}
}

// WithNotifier attaches a re-auth notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager builds a lifecycle manager over the given store and provider.
func NewManager(s store.Store, provider Refresher, codec *cryptox.Codec, opts ...Option) *Manager {
	m := &Manager{
		store:    s,
		provider: provider,
		codec:    codec,
		logger:   logging.NewLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.audit == nil {
		m.audit = &logging.LoggerSink{Logger: m.logger}
	}
	return m
}

// GetValidAccessToken returns a plaintext access token that is valid right
// now. Callers must not cache it beyond one outbound call; a concurrent
// refresh can invalidate it at any time.
//
// Failure modes: *errors.ErrReauthRequired when the user has no usable
// credential, *errors.ErrRefreshFailed on transient provider trouble (the
// stored record is untouched), *errors.ErrIntegrity on decryption failure,
// *errors.ErrStorage on persistence failure.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		var notFound *errors.ErrNotFound
		if stderrors.As(err, &notFound) {
			m.recordTokenRequest("reauth_required")
			return "", &errors.ErrReauthRequired{UserID: userID, Reason: "no credential stored"}
		}
		m.recordTokenRequest("error")
		return "", err
	}

	if !rec.Expired(m.now()) {
		access, err := m.codec.Decrypt(rec.EncryptedAccessToken)
		if err != nil {
			m.reportIntegrityFailure(ctx, userID, err)
			m.recordTokenRequest("error")
			return "", err
		}
		m.recordTokenRequest("cache_hit")
		return access, nil
	}

	access, err, _ := m.group.Do(userID, func() (interface{}, error) {
		return m.refresh(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return access.(string), nil
}

// refresh runs inside the per-user single-flight group. It re-reads the
// record first: a caller that queued behind a completed flight must reuse
// the fresh credential rather than spend the rotated refresh token again.
func (m *Manager) refresh(ctx context.Context, userID string) (string, error) {
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		var notFound *errors.ErrNotFound
		if stderrors.As(err, &notFound) {
			m.recordTokenRequest("reauth_required")
			return "", &errors.ErrReauthRequired{UserID: userID, Reason: "no credential stored"}
		}
		m.recordTokenRequest("error")
		return "", err
	}

	if !rec.Expired(m.now()) {
		access, err := m.codec.Decrypt(rec.EncryptedAccessToken)
		if err != nil {
			m.reportIntegrityFailure(ctx, userID, err)
			m.recordTokenRequest("error")
			return "", err
		}
		m.recordTokenRequest("refreshed")
		return access, nil
	}

	refreshToken, err := m.codec.Decrypt(rec.EncryptedRefreshToken)
	if err != nil {
		m.reportIntegrityFailure(ctx, userID, err)
		m.recordTokenRequest("error")
		return "", err
	}

	m.logger.InfoWithContext(ctx, "access token expired, refreshing", "user_id", userID)

	start := m.now()
	tokens, err := m.provider.Refresh(ctx, refreshToken)
	if m.metrics != nil {
		m.metrics.ObserveProviderCall("refresh", m.now().Sub(start))
	}
	if err != nil {
		return "", m.handleRefreshError(ctx, userID, err)
	}

	if err := m.store.Upsert(ctx, userID, tokens.AccessToken, tokens.RefreshToken, time.Duration(tokens.ExpiresIn)*time.Second); err != nil {
		// Fail closed: without a durable record we do not hand out the new
		// token, or the next call would spend a refresh token we never kept.
		m.logger.ErrorWithContext(ctx, "failed to persist refreshed tokens", "user_id", userID, "error", err.Error())
		m.recordRefresh("storage_error")
		m.recordTokenRequest("error")
		return "", err
	}

	m.recordRefresh("success")
	m.recordTokenRequest("refreshed")
	_ = m.audit.AppendAudit(logging.NewAuditEvent(logging.TokenRefreshed, userID, logging.StatusSuccess))

	return tokens.AccessToken, nil
}

// handleRefreshError maps a provider failure onto the taxonomy. Only an
// explicit invalid_grant destroys the credential; everything else leaves the
// record untouched so the still-possibly-valid refresh token survives.
func (m *Manager) handleRefreshError(ctx context.Context, userID string, err error) error {
	var invalid *errors.ErrRefreshTokenInvalid
	if stderrors.As(err, &invalid) {
		m.logger.WarnWithContext(ctx, "refresh token revoked, deleting credential", "user_id", userID)
		m.recordRefresh("token_invalid")
		m.recordTokenRequest("reauth_required")

		if delErr := m.store.Delete(ctx, userID); delErr != nil {
			m.logger.ErrorWithContext(ctx, "failed to delete dead credential", "user_id", userID, "error", delErr.Error())
		}
		_ = m.audit.AppendAudit(logging.NewAuditEvent(logging.ReauthRequired, userID, logging.StatusFailure).
			WithError("refresh token revoked or expired"))
		if m.notifier != nil {
			m.notifier.NotifyReauthRequired(userID)
		}
		return &errors.ErrReauthRequired{UserID: userID, Reason: "refresh token revoked or expired"}
	}

	m.logger.WarnWithContext(ctx, "token refresh failed, keeping stored credential", "user_id", userID, "error", err.Error())
	m.recordRefresh("transient_failure")
	m.recordTokenRequest("refresh_failed")
	return &errors.ErrRefreshFailed{UserID: userID, Err: err}
}

// StoreInitialTokens persists the token set from a completed code exchange.
// It returns false rather than an error on failure so the callback handler
// can render a user-facing message without unwinding.
func (m *Manager) StoreInitialTokens(ctx context.Context, userID string, tokens *models.TokenSet) bool {
	if !tokens.Valid() {
		m.logger.ErrorWithContext(ctx, "provider returned incomplete token set", "user_id", userID)
		return false
	}

	if err := m.store.Upsert(ctx, userID, tokens.AccessToken, tokens.RefreshToken, time.Duration(tokens.ExpiresIn)*time.Second); err != nil {
		m.logger.ErrorWithContext(ctx, "failed to store initial tokens", "user_id", userID, "error", err.Error())
		return false
	}

	m.logger.InfoWithContext(ctx, "stored initial tokens", "user_id", userID)
	return true
}

// Revoke deletes the stored credential. Idempotent: revoking an absent
// credential is success.
func (m *Manager) Revoke(ctx context.Context, userID string) bool {
	if err := m.store.Delete(ctx, userID); err != nil {
		m.logger.ErrorWithContext(ctx, "failed to revoke credential", "user_id", userID, "error", err.Error())
		return false
	}
	_ = m.audit.AppendAudit(logging.NewAuditEvent(logging.TokenRevoked, userID, logging.StatusSuccess))
	return true
}

// HasToken reports whether a credential record exists, without touching the
// token material. Used by the status endpoint.
func (m *Manager) HasToken(ctx context.Context, userID string) (bool, error) {
	_, err := m.store.Get(ctx, userID)
	if err != nil {
		var notFound *errors.ErrNotFound
		if stderrors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *Manager) reportIntegrityFailure(ctx context.Context, userID string, err error) {
	m.logger.ErrorWithContext(ctx, "stored credential failed integrity check", "user_id", userID, "error", err.Error())
	if m.metrics != nil {
		m.metrics.RecordError("integrity")
	}
	_ = m.audit.AppendAudit(logging.NewAuditEvent(logging.IntegrityFailure, userID, logging.StatusFailure).
		WithError(err.Error()))
}

func (m *Manager) recordTokenRequest(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordTokenRequest(outcome)
	}
}

func (m *Manager) recordRefresh(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordRefresh(outcome)
	}
}
