package authflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/graphvault/graphvault/internal/logging"
	"github.com/graphvault/graphvault/internal/metrics"
	"github.com/graphvault/graphvault/internal/models"
)

// Provider is the slice of the identity provider client the flow needs.
type Provider interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*models.TokenSet, error)
}

// TokenStorer persists the token set from a completed exchange.
type TokenStorer interface {
	StoreInitialTokens(ctx context.Context, userID string, tokens *models.TokenSet) bool
}

// Status classifies the terminal result of a callback.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusProviderError  Status = "provider_error"
	StatusStateMismatch  Status = "state_mismatch"
	StatusMissingCode    Status = "missing_code"
	StatusExchangeFailed Status = "exchange_failed"
	StatusStorageFailed  Status = "storage_failed"
)

// Outcome is what the callback handler renders to the user.
type Outcome struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	UserID  string `json:"-"`
}

// stateTTL bounds how long an issued login link stays redeemable.
const stateTTL = 10 * time.Minute

// providerErrorMessages maps the closed set of OAuth2 authorize-endpoint
// error codes to user-facing text. Anything outside the set falls through
// to the "other" entry.
var providerErrorMessages = map[string]string{
	"access_denied":           "You declined the sign-in request. Start over if you change your mind.",
	"invalid_request":         "The sign-in request was malformed. Please try again.",
	"unauthorized_client":     "This application is not authorized for sign-in. Contact the operator.",
	"invalid_scope":           "The requested permissions were rejected by the identity provider.",
	"server_error":            "The identity provider hit an internal error. Please try again shortly.",
	"temporarily_unavailable": "The identity provider is temporarily unavailable. Please try again shortly.",
	"other":                   "Sign-in failed at the identity provider.",
}

type pendingState struct {
	userID    string
	expiresAt time.Time
}

// Flow drives the three-legged authorization dance. Each issued state value
// is unpredictable, bound to one user, redeemable once, and expires after
// stateTTL. A callback whose state is unknown, spent, or stale is rejected
// before any code exchange.
type Flow struct {
	provider Provider
	manager  TokenStorer
	logger   *logging.Logger
	metrics  *metrics.Metrics
	audit    logging.AuditSink
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]pendingState
}

// Option configures a Flow.
type Option func(*Flow)

// WithLogger overrides the default logger.
func WithLogger(logger *logging.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

// WithMetrics attaches a metrics instance.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(f *Flow) {
		f.metrics = mx
	}
}

// WithAuditSink overrides the default logger-backed audit sink.
func WithAuditSink(sink logging.AuditSink) Option {
	return func(f *Flow) {
		f.audit = sink
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		f.now = now
	}
}

// NewFlow builds an authorization flow controller.
func NewFlow(provider Provider, manager TokenStorer, opts ...Option) *Flow {
	f := &Flow{
		provider: provider,
		manager:  manager,
		logger:   logging.NewLogger(),
		now:      time.Now,
		pending:  make(map[string]pendingState),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.audit == nil {
		f.audit = &logging.LoggerSink{Logger: f.logger}
	}
	return f
}

// Start issues a fresh anti-forgery state bound to userID and returns the
// provider authorize URL the browser should be redirected to.
func (f *Flow) Start(ctx context.Context, userID string) string {
	state := uuid.NewString()
	now := f.now()

	f.mu.Lock()
	for s, p := range f.pending {
		if now.After(p.expiresAt) {
			delete(f.pending, s)
		}
	}
	f.pending[state] = pendingState{userID: userID, expiresAt: now.Add(stateTTL)}
	f.mu.Unlock()

	f.logger.InfoWithContext(ctx, "authorization flow started", "user_id", userID)
	_ = f.audit.AppendAudit(logging.NewAuditEvent(logging.AuthStarted, userID, logging.StatusSuccess))

	return f.provider.AuthorizeURL(state)
}

// consume redeems a state value. Each state works at most once; a second
// redemption, an unknown value, or a stale one all fail identically so an
// attacker learns nothing from the distinction.
func (f *Flow) consume(state string) (string, bool) {
	if state == "" {
		return "", false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pending[state]
	if !ok {
		return "", false
	}
	delete(f.pending, state)

	if f.now().After(p.expiresAt) {
		return "", false
	}
	return p.userID, true
}

// HandleCallback processes the provider redirect. Terminal on first success
// or first unrecoverable error; a provider-reported error short-circuits
// before any state or code handling.
func (f *Flow) HandleCallback(ctx context.Context, code, errCode, errDescription, state string) Outcome {
	if errCode != "" {
		userID, _ := f.consume(state)
		message, known := providerErrorMessages[errCode]
		if !known {
			message = providerErrorMessages["other"]
		}
		f.logger.WarnWithContext(ctx, "provider reported authorization error",
			"error_code", errCode, "description", errDescription)
		f.recordOutcome(string(StatusProviderError))
		_ = f.audit.AppendAudit(logging.NewAuditEvent(logging.AuthFailed, userID, logging.StatusFailure).
			WithError(errCode))
		return Outcome{Status: StatusProviderError, Message: message, UserID: userID}
	}

	userID, ok := f.consume(state)
	if !ok {
		f.logger.WarnWithContext(ctx, "callback state rejected")
		f.recordOutcome(string(StatusStateMismatch))
		_ = f.audit.AppendAudit(logging.NewAuditEvent(logging.StateMismatch, "", logging.StatusFailure).
			WithError("unknown, expired, or reused state"))
		return Outcome{
			Status:  StatusStateMismatch,
			Message: "Sign-in session is invalid or has expired. Please start over.",
		}
	}

	if code == "" {
		f.recordOutcome(string(StatusMissingCode))
		_ = f.audit.AppendAudit(logging.NewAuditEvent(logging.AuthFailed, userID, logging.StatusFailure).
			WithError("missing authorization code"))
		return Outcome{
			Status:  StatusMissingCode,
			Message: "The identity provider did not return an authorization code.",
			UserID:  userID,
		}
	}

	tokens, err := f.provider.ExchangeCode(ctx, code)
	if err != nil {
		f.logger.ErrorWithContext(ctx, "code exchange failed", "user_id", userID, "error", err.Error())
		f.recordOutcome(string(StatusExchangeFailed))
		_ = f.audit.AppendAudit(logging.NewAuditEvent(logging.AuthFailed, userID, logging.StatusFailure).
			WithError(err.Error()))
		return Outcome{
			Status:  StatusExchangeFailed,
			Message: "Could not complete sign-in with the identity provider. Please try again.",
			UserID:  userID,
		}
	}

	if !f.manager.StoreInitialTokens(ctx, userID, tokens) {
		f.recordOutcome(string(StatusStorageFailed))
		_ = f.audit.AppendAudit(logging.NewAuditEvent(logging.AuthFailed, userID, logging.StatusFailure).
			WithError("failed to persist tokens"))
		return Outcome{
			Status:  StatusStorageFailed,
			Message: "Sign-in succeeded but the credentials could not be saved. Please try again.",
			UserID:  userID,
		}
	}

	f.logger.InfoWithContext(ctx, "authorization flow completed", "user_id", userID)
	f.recordOutcome(string(StatusSuccess))
	_ = f.audit.AppendAudit(logging.NewAuditEvent(logging.AuthCompleted, userID, logging.StatusSuccess))

	return Outcome{
		Status:  StatusSuccess,
		Message: "Sign-in complete. You can close this window.",
		UserID:  userID,
	}
}

func (f *Flow) recordOutcome(outcome string) {
	if f.metrics != nil {
		f.metrics.RecordAuthFlow(outcome)
	}
}
