package store

import (
	"context"
	"time"

	"github.com/graphvault/graphvault/internal/logging"
	"github.com/graphvault/graphvault/internal/models"
)

// Store is the durable keyed credential record per user identity. All access
// is mediated by the token lifecycle manager; no other component touches
// these records directly.
type Store interface {
	// Upsert encrypts both tokens and writes the record atomically, replacing
	// any prior record for the user. expires_at is computed as
	// now + ttl - margin so a token reported valid still has provider-side
	// headroom. A half-written record is never observable.
	Upsert(ctx context.Context, userID, accessPlain, refreshPlain string, ttl time.Duration) error

	// Get returns the credential record (ciphertexts, not plaintext) or
	// *errors.ErrNotFound.
	Get(ctx context.Context, userID string) (*models.CredentialRecord, error)

	// Delete removes the record. Deleting a non-existent record is success.
	Delete(ctx context.Context, userID string) error

	// AppendAudit records a security-relevant event.
	AppendAudit(event *logging.AuditEvent) error

	// Stats returns record counts for diagnostics.
	Stats() (StoreStats, error)

	Close() error
}

// StoreStats describes store contents for the doctor command and health
// endpoint.
type StoreStats struct {
	CredentialCount int `json:"credential_count"`
	AuditEventCount int `json:"audit_event_count"`
}

// DefaultExpiryMargin is subtracted from the provider TTL on upsert.
const DefaultExpiryMargin = 5 * time.Minute

// expiresAt applies the safety margin, clamped so a TTL shorter than the
// margin yields an immediately-expired record rather than one in the past.
func expiresAt(now time.Time, ttl, margin time.Duration) time.Time {
	e := now.Add(ttl - margin)
	if e.Before(now) {
		return now
	}
	return e
}
