package logging

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Authorization flow events
	AuthStarted   AuditEventType = "AUTH_STARTED"
	AuthCompleted AuditEventType = "AUTH_COMPLETED"
	AuthFailed    AuditEventType = "AUTH_FAILED"
	StateMismatch AuditEventType = "STATE_MISMATCH"

	// Token lifecycle events
	TokenRefreshed   AuditEventType = "TOKEN_REFRESHED"
	TokenRevoked     AuditEventType = "TOKEN_REVOKED"
	ReauthRequired   AuditEventType = "REAUTH_REQUIRED"
	IntegrityFailure AuditEventType = "INTEGRITY_FAILURE"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	StatusSuccess AuditStatus = "success"
	StatusFailure AuditStatus = "failure"
)

// AuditEvent records one security-relevant action against a user's
// credential. Events carry identifiers and outcomes only, never tokens.
type AuditEvent struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	EventType    AuditEventType `json:"event_type"`
	UserID       string         `json:"user_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	Status       AuditStatus    `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// NewAuditEvent creates an audit event with a generated ID and timestamp.
func NewAuditEvent(eventType AuditEventType, userID string, status AuditStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Status:    status,
	}
}

// WithIPAddress sets the client address for the audit event.
func (e *AuditEvent) WithIPAddress(ip string) *AuditEvent {
	e.IPAddress = ip
	return e
}

// WithError attaches a sanitized failure description.
func (e *AuditEvent) WithError(msg string) *AuditEvent {
	e.ErrorMessage = msg
	return e
}

// AuditSink receives audit events. The SQLite store implements this; a
// Logger-backed sink is used when the durable trail is disabled.
type AuditSink interface {
	AppendAudit(event *AuditEvent) error
}

// LoggerSink writes audit events through the structured logger.
type LoggerSink struct {
	Logger *Logger
}

// AppendAudit implements AuditSink.
func (s *LoggerSink) AppendAudit(event *AuditEvent) error {
	s.Logger.Info("audit event",
		"event_type", string(event.EventType),
		"user_id", event.UserID,
		"status", string(event.Status),
		"error_message", event.ErrorMessage,
	)
	return nil
}
