package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/graphvault/graphvault/internal/cryptox"
	"github.com/graphvault/graphvault/internal/errors"
	"github.com/graphvault/graphvault/internal/logging"
	"github.com/graphvault/graphvault/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists credential records in SQLite with WAL mode. Tokens
// are encrypted before they reach a SQL statement; the plaintext never
// touches the database layer's buffers beyond this type.
type SQLiteStore struct {
	db     *sql.DB
	codec  *cryptox.Codec
	logger *logging.Logger
	margin time.Duration
	now    func() time.Time

	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	retentionDays int
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithExpiryMargin overrides the default 300s expiry safety margin.
func WithExpiryMargin(margin time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		s.margin = margin
	}
}

// WithRetentionDays sets audit event retention. Zero disables the sweep.
func WithRetentionDays(days int) SQLiteOption {
	return func(s *SQLiteStore) {
		s.retentionDays = days
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *logging.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		s.logger = logger
	}
}

// NewSQLiteStore opens (creating if needed) the credential database.
func NewSQLiteStore(dbPath string, codec *cryptox.Codec, opts ...SQLiteOption) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{
		db:            db,
		codec:         codec,
		logger:        logging.NewLogger(),
		margin:        DefaultExpiryMargin,
		now:           time.Now,
		cleanupDone:   make(chan struct{}),
		retentionDays: 90,
	}
	for _, opt := range opts {
		opt(store)
	}

	if store.retentionDays > 0 {
		store.startCleanup()
	}

	return store, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrStorage{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrStorage{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS user_tokens (
					user_id TEXT PRIMARY KEY,
					encrypted_access_token TEXT NOT NULL,
					encrypted_refresh_token TEXT NOT NULL,
					expires_at DATETIME NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);
			`,
		},
		{
			version: 2,
			up: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id TEXT PRIMARY KEY,
					event_type TEXT NOT NULL,
					user_id TEXT,
					ip_address TEXT,
					status TEXT NOT NULL,
					error_message TEXT,
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
				CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrStorage{Operation: "begin migration transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrStorage{Operation: "commit migrations", Err: err}
	}

	return nil
}

// Upsert implements Store. Encryption happens first so a codec failure never
// reaches the database; the write itself is a single statement, so readers
// see either the old record or the new one, never a mixture.
func (s *SQLiteStore) Upsert(ctx context.Context, userID, accessPlain, refreshPlain string, ttl time.Duration) error {
	encryptedAccess, err := s.codec.Encrypt(accessPlain)
	if err != nil {
		return &errors.ErrStorage{Operation: "encrypt access token", Err: err}
	}
	encryptedRefresh, err := s.codec.Encrypt(refreshPlain)
	if err != nil {
		return &errors.ErrStorage{Operation: "encrypt refresh token", Err: err}
	}

	now := s.now().UTC()
	expiry := expiresAt(now, ttl, s.margin)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_tokens (user_id, encrypted_access_token, encrypted_refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			encrypted_access_token = excluded.encrypted_access_token,
			encrypted_refresh_token = excluded.encrypted_refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, userID, encryptedAccess, encryptedRefresh, expiry, now, now)
	if err != nil {
		return &errors.ErrStorage{Operation: "upsert credential", Err: err}
	}

	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*models.CredentialRecord, error) {
	var rec models.CredentialRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, encrypted_access_token, encrypted_refresh_token, expires_at, created_at, updated_at
		FROM user_tokens WHERE user_id = ?
	`, userID).Scan(&rec.UserID, &rec.EncryptedAccessToken, &rec.EncryptedRefreshToken, &rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{UserID: userID}
	}
	if err != nil {
		return nil, &errors.ErrStorage{Operation: "get credential", Err: err}
	}

	return &rec, nil
}

// Delete implements Store. Idempotent: a missing row is success.
func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM user_tokens WHERE user_id = ?", userID)
	if err != nil {
		return &errors.ErrStorage{Operation: "delete credential", Err: err}
	}
	return nil
}

// AppendAudit implements logging.AuditSink.
func (s *SQLiteStore) AppendAudit(event *logging.AuditEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO audit_events (id, event_type, user_id, ip_address, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, string(event.EventType), event.UserID, event.IPAddress, string(event.Status), event.ErrorMessage, event.Timestamp)
	if err != nil {
		return &errors.ErrStorage{Operation: "append audit event", Err: err}
	}
	return nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats() (StoreStats, error) {
	var stats StoreStats
	if err := s.db.QueryRow("SELECT COUNT(*) FROM user_tokens").Scan(&stats.CredentialCount); err != nil {
		return stats, &errors.ErrStorage{Operation: "count credentials", Err: err}
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&stats.AuditEventCount); err != nil {
		return stats, &errors.ErrStorage{Operation: "count audit events", Err: err}
	}
	return stats, nil
}

func (s *SQLiteStore) startCleanup() {
	s.cleanupTicker = time.NewTicker(time.Hour)
	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				s.cleanupOldAuditEvents()
			case <-s.cleanupDone:
				return
			}
		}
	}()
}

func (s *SQLiteStore) cleanupOldAuditEvents() {
	if s.retentionDays <= 0 {
		return
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	if _, err := s.db.Exec("DELETE FROM audit_events WHERE created_at < ?", cutoff); err != nil {
		s.logger.Error("audit retention cleanup failed", "error", err.Error())
	}
}

// Close gracefully shuts down the store.
func (s *SQLiteStore) Close() error {
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
		close(s.cleanupDone)
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure SQLiteStore implements the Store interface
var _ Store = (*SQLiteStore)(nil)
