package token

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/graphvault/graphvault/internal/cryptox"
	"github.com/graphvault/graphvault/internal/errors"
	"github.com/graphvault/graphvault/internal/logging"
	"github.com/graphvault/graphvault/internal/models"
	"github.com/graphvault/graphvault/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int32
	delay time.Duration
	fn    func(refreshToken string) (*models.TokenSet, error)
}

func (p *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	return fn(refreshToken)
}

func (p *fakeProvider) callCount() int32 {
	return atomic.LoadInt32(&p.calls)
}

func rotatingProvider(wantRefresh, newAccess, newRefresh string) *fakeProvider {
	return &fakeProvider{fn: func(refreshToken string) (*models.TokenSet, error) {
		if refreshToken != wantRefresh {
			return nil, fmt.Errorf("unexpected refresh token %q", refreshToken)
		}
		return &models.TokenSet{
			AccessToken:  newAccess,
			RefreshToken: newRefresh,
			ExpiresIn:    3600,
		}, nil
	}}
}

func testCodec(t *testing.T) *cryptox.Codec {
	t.Helper()
	key, err := cryptox.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	codec, err := cryptox.NewCodec(key)
	if err != nil {
		t.Fatal(err)
	}
	return codec
}

func quietLogger() *logging.Logger {
	return logging.NewLogger(logging.WithOutput(io.Discard))
}

type testEnv struct {
	manager  *Manager
	store    *store.MemoryStore
	provider *fakeProvider
	clock    *fakeClock
	codec    *cryptox.Codec
}

func newTestEnv(t *testing.T, provider *fakeProvider, opts ...Option) *testEnv {
	t.Helper()

	clock := newFakeClock()
	codec := testCodec(t)
	st := store.NewMemoryStore(codec,
		store.WithMemoryClock(clock.Now),
		store.WithMemoryExpiryMargin(0),
	)

	base := []Option{
		WithClock(clock.Now),
		WithLogger(quietLogger()),
		WithAuditSink(st),
	}
	manager := NewManager(st, provider, codec, append(base, opts...)...)

	return &testEnv{
		manager:  manager,
		store:    st,
		provider: provider,
		clock:    clock,
		codec:    codec,
	}
}

func (e *testEnv) seed(t *testing.T, userID, access, refresh string, ttl time.Duration) {
	t.Helper()
	if err := e.store.Upsert(context.Background(), userID, access, refresh, ttl); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}
}

func TestGetValidAccessTokenCacheHit(t *testing.T) {
	env := newTestEnv(t, rotatingProvider("R1", "A2", "R2"))
	env.seed(t, "alice", "A1", "R1", time.Hour)

	access, err := env.manager.GetValidAccessToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetValidAccessToken: %v", err)
	}
	if access != "A1" {
		t.Errorf("access = %q, want A1", access)
	}
	if env.provider.callCount() != 0 {
		t.Errorf("provider called %d times for a valid token", env.provider.callCount())
	}
}

func TestGetValidAccessTokenNoCredential(t *testing.T) {
	env := newTestEnv(t, rotatingProvider("R1", "A2", "R2"))

	_, err := env.manager.GetValidAccessToken(context.Background(), "nobody")

	var reauth *errors.ErrReauthRequired
	if !stderrors.As(err, &reauth) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	if reauth.UserID != "nobody" {
		t.Errorf("UserID = %q", reauth.UserID)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	env := newTestEnv(t, rotatingProvider("R1", "A2", "R2"))
	env.seed(t, "alice", "A1", "R1", time.Hour)

	before, err := env.store.Get(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(2 * time.Hour)

	access, err := env.manager.GetValidAccessToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetValidAccessToken: %v", err)
	}
	if access != "A2" {
		t.Errorf("access = %q, want A2", access)
	}
	if env.provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", env.provider.callCount())
	}

	after, err := env.store.Get(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if gotAccess, _ := env.codec.Decrypt(after.EncryptedAccessToken); gotAccess != "A2" {
		t.Errorf("stored access = %q, want A2", gotAccess)
	}
	if gotRefresh, _ := env.codec.Decrypt(after.EncryptedRefreshToken); gotRefresh != "R2" {
		t.Errorf("stored refresh = %q, want R2", gotRefresh)
	}
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Errorf("expires_at did not advance: %v -> %v", before.ExpiresAt, after.ExpiresAt)
	}

	found := false
	for _, ev := range env.store.AuditEvents() {
		if ev.EventType == logging.TokenRefreshed && ev.UserID == "alice" {
			found = true
		}
	}
	if !found {
		t.Error("no token_refreshed audit event recorded")
	}
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	provider := rotatingProvider("R1", "A2", "R2")
	provider.delay = 50 * time.Millisecond

	env := newTestEnv(t, provider)
	env.seed(t, "alice", "A1", "R1", time.Hour)
	env.clock.Advance(2 * time.Hour)

	const callers = 8
	results := make(chan string, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			access, err := env.manager.GetValidAccessToken(context.Background(), "alice")
			if err != nil {
				errs <- err
				return
			}
			results <- access
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent caller failed: %v", err)
	}
	for access := range results {
		if access != "A2" {
			t.Errorf("caller got %q, want A2", access)
		}
	}
	if got := env.provider.callCount(); got != 1 {
		t.Errorf("provider refresh called %d times, want exactly 1", got)
	}
}

func TestQueuedCallerReusesFreshCredential(t *testing.T) {
	// A caller that checks expiry, then loses the race to a completed
	// refresh, must not spend the rotated refresh token again.
	env := newTestEnv(t, rotatingProvider("R1", "A2", "R2"))
	env.seed(t, "alice", "A1", "R1", time.Hour)
	env.clock.Advance(2 * time.Hour)

	if _, err := env.manager.GetValidAccessToken(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}

	access, err := env.manager.GetValidAccessToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if access != "A2" {
		t.Errorf("access = %q, want A2", access)
	}
	if env.provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", env.provider.callCount())
	}
}

func TestTransientFailureLeavesRecordUntouched(t *testing.T) {
	provider := &fakeProvider{fn: func(string) (*models.TokenSet, error) {
		return nil, fmt.Errorf("dial tcp: connection refused")
	}}
	env := newTestEnv(t, provider)
	env.seed(t, "alice", "A1", "R1", time.Hour)

	before, err := env.store.Get(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(2 * time.Hour)

	_, err = env.manager.GetValidAccessToken(context.Background(), "alice")
	var failed *errors.ErrRefreshFailed
	if !stderrors.As(err, &failed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if failed.UserID != "alice" {
		t.Errorf("UserID = %q", failed.UserID)
	}

	after, err := env.store.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("record vanished after transient failure: %v", err)
	}
	if after.EncryptedAccessToken != before.EncryptedAccessToken ||
		after.EncryptedRefreshToken != before.EncryptedRefreshToken ||
		!after.ExpiresAt.Equal(before.ExpiresAt) {
		t.Error("stored record mutated by a failed refresh")
	}

	// Once the provider recovers, the same refresh token must still work.
	provider.mu.Lock()
	provider.fn = func(refreshToken string) (*models.TokenSet, error) {
		if refreshToken != "R1" {
			return nil, fmt.Errorf("refresh token lost: got %q", refreshToken)
		}
		return &models.TokenSet{AccessToken: "A2", RefreshToken: "R2", ExpiresIn: 3600}, nil
	}
	provider.mu.Unlock()

	access, err := env.manager.GetValidAccessToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if access != "A2" {
		t.Errorf("access = %q, want A2", access)
	}
}

func TestInvalidGrantDeletesCredentialAndNotifies(t *testing.T) {
	provider := &fakeProvider{fn: func(string) (*models.TokenSet, error) {
		return nil, &errors.ErrRefreshTokenInvalid{}
	}}

	var notified []string
	env := newTestEnv(t, provider, WithNotifier(notifierFunc(func(userID string) {
		notified = append(notified, userID)
	})))
	env.seed(t, "alice", "A1", "R1", time.Hour)
	env.clock.Advance(2 * time.Hour)

	_, err := env.manager.GetValidAccessToken(context.Background(), "alice")
	var reauth *errors.ErrReauthRequired
	if !stderrors.As(err, &reauth) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}

	_, err = env.store.Get(context.Background(), "alice")
	var notFound *errors.ErrNotFound
	if !stderrors.As(err, &notFound) {
		t.Fatalf("dead credential still stored: %v", err)
	}

	if len(notified) != 1 || notified[0] != "alice" {
		t.Errorf("notifier calls = %v, want [alice]", notified)
	}

	found := false
	for _, ev := range env.store.AuditEvents() {
		if ev.EventType == logging.ReauthRequired && ev.UserID == "alice" {
			found = true
		}
	}
	if !found {
		t.Error("no reauth_required audit event recorded")
	}
}

type notifierFunc func(userID string)

func (f notifierFunc) NotifyReauthRequired(userID string) { f(userID) }

func TestIntegrityFailureSurfaces(t *testing.T) {
	env := newTestEnv(t, rotatingProvider("R1", "A2", "R2"))
	env.seed(t, "alice", "A1", "R1", time.Hour)

	// A manager holding a different key cannot decrypt the stored blobs.
	wrongCodec := testCodec(t)
	stranger := NewManager(env.store, env.provider, wrongCodec,
		WithClock(env.clock.Now),
		WithLogger(quietLogger()),
		WithAuditSink(env.store),
	)

	_, err := stranger.GetValidAccessToken(context.Background(), "alice")
	var integrity *errors.ErrIntegrity
	if !stderrors.As(err, &integrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}

	found := false
	for _, ev := range env.store.AuditEvents() {
		if ev.EventType == logging.IntegrityFailure {
			found = true
		}
	}
	if !found {
		t.Error("no integrity_failure audit event recorded")
	}
}

func TestRefreshPersistFailureFailsClosed(t *testing.T) {
	env := newTestEnv(t, rotatingProvider("R1", "A2", "R2"))
	env.seed(t, "alice", "A1", "R1", time.Hour)
	env.clock.Advance(2 * time.Hour)

	env.store.FailNextUpsert = true

	_, err := env.manager.GetValidAccessToken(context.Background(), "alice")
	var storage *errors.ErrStorage
	if !stderrors.As(err, &storage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestStoreInitialTokens(t *testing.T) {
	env := newTestEnv(t, rotatingProvider("R1", "A2", "R2"))

	ok := env.manager.StoreInitialTokens(context.Background(), "alice", &models.TokenSet{
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresIn:    3600,
	})
	if !ok {
		t.Fatal("StoreInitialTokens returned false for a valid set")
	}

	has, err := env.manager.HasToken(context.Background(), "alice")
	if err != nil || !has {
		t.Errorf("HasToken = (%v, %v), want (true, nil)", has, err)
	}

	if env.manager.StoreInitialTokens(context.Background(), "bob", &models.TokenSet{AccessToken: "A1"}) {
		t.Error("accepted a token set without a refresh token")
	}
	if has, _ := env.manager.HasToken(context.Background(), "bob"); has {
		t.Error("incomplete token set was persisted")
	}
}

func TestRevokeIdempotent(t *testing.T) {
	env := newTestEnv(t, rotatingProvider("R1", "A2", "R2"))
	env.seed(t, "alice", "A1", "R1", time.Hour)

	if !env.manager.Revoke(context.Background(), "alice") {
		t.Error("revoke of existing credential failed")
	}
	if !env.manager.Revoke(context.Background(), "alice") {
		t.Error("revoke must be idempotent")
	}

	has, err := env.manager.HasToken(context.Background(), "alice")
	if err != nil || has {
		t.Errorf("HasToken after revoke = (%v, %v), want (false, nil)", has, err)
	}

	count := 0
	for _, ev := range env.store.AuditEvents() {
		if ev.EventType == logging.TokenRevoked {
			count++
		}
	}
	if count != 2 {
		t.Errorf("token_revoked audit events = %d, want 2", count)
	}
}
