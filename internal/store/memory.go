package store

import (
	"context"
	"sync"
	"time"

	"github.com/graphvault/graphvault/internal/cryptox"
	"github.com/graphvault/graphvault/internal/errors"
	"github.com/graphvault/graphvault/internal/logging"
	"github.com/graphvault/graphvault/internal/models"
)

// MemoryStore keeps credential records in process memory. It mirrors the
// SQLiteStore contract exactly (including encryption on upsert) and exists
// for tests and ephemeral deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	codec  *cryptox.Codec
	margin time.Duration
	now    func() time.Time

	records map[string]*models.CredentialRecord
	audits  []*logging.AuditEvent

	// FailNextUpsert simulates a storage failure for the next Upsert call.
	FailNextUpsert bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryExpiryMargin overrides the default expiry safety margin.
func WithMemoryExpiryMargin(margin time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.margin = margin
	}
}

// WithMemoryClock overrides the time source, for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an in-memory credential store.
func NewMemoryStore(codec *cryptox.Codec, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		codec:   codec,
		margin:  DefaultExpiryMargin,
		now:     time.Now,
		records: make(map[string]*models.CredentialRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, userID, accessPlain, refreshPlain string, ttl time.Duration) error {
	encryptedAccess, err := s.codec.Encrypt(accessPlain)
	if err != nil {
		return &errors.ErrStorage{Operation: "encrypt access token", Err: err}
	}
	encryptedRefresh, err := s.codec.Encrypt(refreshPlain)
	if err != nil {
		return &errors.ErrStorage{Operation: "encrypt refresh token", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNextUpsert {
		s.FailNextUpsert = false
		return &errors.ErrStorage{Operation: "upsert credential", Err: context.DeadlineExceeded}
	}

	now := s.now().UTC()
	rec := &models.CredentialRecord{
		UserID:                userID,
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		ExpiresAt:             expiresAt(now, ttl, s.margin),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if prev, ok := s.records[userID]; ok {
		rec.CreatedAt = prev.CreatedAt
	}
	s.records[userID] = rec

	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, userID string) (*models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, &errors.ErrNotFound{UserID: userID}
	}
	return rec.Clone(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, userID)
	return nil
}

// AppendAudit implements logging.AuditSink.
func (s *MemoryStore) AppendAudit(event *logging.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audits = append(s.audits, event)
	return nil
}

// AuditEvents returns recorded audit events, for tests.
func (s *MemoryStore) AuditEvents() []*logging.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*logging.AuditEvent, len(s.audits))
	copy(out, s.audits)
	return out
}

// Stats implements Store.
func (s *MemoryStore) Stats() (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreStats{
		CredentialCount: len(s.records),
		AuditEventCount: len(s.audits),
	}, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)
