package taskauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taskvault/taskauth/record"
	"github.com/taskvault/taskauth/record/redisstore"
)

type staticIdentity struct {
	identifier string
	secret     string
	subject    string
}

func (p staticIdentity) VerifyCredentials(ctx context.Context, identifier, secret string) (string, error) {
	if identifier == p.identifier && secret == p.secret {
		return p.subject, nil
	}
	return "", errors.New("no match")
}

func newTestEngine(t *testing.T) (*Engine, *redisstore.Store) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := redisstore.New(rdb, "rt", time.Hour)

	cfg := DefaultConfig()
	cfg.Token.PrivateKey = []byte("engine-test-secret")
	cfg.Token.Issuer = "taskauth-test"

	engine, err := New().
		WithConfig(cfg).
		WithStore(store).
		WithIdentityProvider(staticIdentity{"alice@example.com", "s3cret", "user-alice"}).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return engine, store
}

func TestLoginIssuesVerifiablePair(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatalf("refresh should outlive access: %v vs %v", pair.RefreshExpiresAt, pair.AccessExpiresAt)
	}

	subject, err := engine.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if subject != "user-alice" {
		t.Fatalf("expected subject user-alice, got %q", subject)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct{ identifier, secret string }{
		{"alice@example.com", "wrong"},
		{"nobody@example.com", "s3cret"},
		{"", ""},
	}
	for _, tc := range cases {
		if _, err := engine.Login(ctx, tc.identifier, tc.secret); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login %q/%q: expected ErrInvalidCredentials, got %v", tc.identifier, tc.secret, err)
		}
	}
}

func TestRefreshRotates(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	next, err := engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh must issue a new token")
	}

	old, err := store.Lookup(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if old.Status != record.StatusRotated || old.SuccessorID != next.RefreshToken {
		t.Fatalf("expected rotated predecessor pointing at successor, got %+v", old)
	}

	successor, err := store.Lookup(ctx, next.RefreshToken)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if successor.ChainID != old.ChainID {
		t.Fatalf("successor left the chain: %q vs %q", successor.ChainID, old.ChainID)
	}
	if successor.Owner != "user-alice" {
		t.Fatalf("successor owner mismatch: %q", successor.Owner)
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	engine, _ := newTestEngine(t)

	if _, err := engine.Refresh(context.Background(), "no-such-token"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, "user-alice", -time.Minute)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := engine.Refresh(ctx, rec.ID); !errors.Is(err, ErrRefreshExpired) {
		t.Fatalf("expected ErrRefreshExpired, got %v", err)
	}

	// No state change: the record stays active until the reaper removes it.
	got, err := store.Lookup(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.Status != record.StatusActive {
		t.Fatalf("expired refresh must not mutate status, got %v", got.Status)
	}
}

func TestReuseRevokesEntireChain(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	next, err := engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Replaying the rotated token is theft evidence.
	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}

	// The legitimate successor went down with the chain.
	got, err := store.Lookup(ctx, next.RefreshToken)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.Status != record.StatusRevoked {
		t.Fatalf("expected successor revoked, got %v", got.Status)
	}
	if _, err := engine.Refresh(ctx, next.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse for revoked successor, got %v", err)
	}

	// The original token stays on the reuse verdict, never Expired or
	// NotFound, as long as it has not been swept.
	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse on repeat replay, got %v", err)
	}
}

func TestReplayOfExpiredRotatedToken(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	// A rotated record that has since aged past its own expiry but has not
	// been swept yet.
	root, err := store.Create(ctx, "user-alice", -time.Minute)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	successor, err := store.CreateSuccessor(ctx, root, uuid.NewString(), time.Hour)
	if err != nil {
		t.Fatalf("CreateSuccessor failed: %v", err)
	}
	if err := store.MarkRotated(ctx, root.ID, successor.ID); err != nil {
		t.Fatalf("MarkRotated failed: %v", err)
	}

	// The replay verdict is reuse, never expiry, while the record exists.
	if _, err := engine.Refresh(ctx, root.ID); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}

	got, err := store.Lookup(ctx, successor.ID)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.Status != record.StatusRevoked {
		t.Fatalf("expected successor revoked after replay, got %v", got.Status)
	}
}

// revokeRacingStore revokes the chain between MarkRotated and
// CreateSuccessor, the window in which a concurrent reuse detection can land.
type revokeRacingStore struct {
	record.Store

	mu        sync.Mutex
	fired     bool
	successor record.Record
}

func (s *revokeRacingStore) CreateSuccessor(ctx context.Context, predecessor record.Record, id string, ttl time.Duration) (record.Record, error) {
	s.mu.Lock()
	fired := s.fired
	s.fired = true
	s.mu.Unlock()

	if !fired {
		if err := s.Store.RevokeChain(ctx, predecessor.ChainID); err != nil {
			return record.Record{}, err
		}
	}

	rec, err := s.Store.CreateSuccessor(ctx, predecessor, id, ttl)
	if err == nil {
		s.mu.Lock()
		s.successor = rec
		s.mu.Unlock()
	}
	return rec, err
}

func TestRefreshChainRevokedMidRotation(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	base := redisstore.New(rdb, "rt", time.Hour)
	racing := &revokeRacingStore{Store: base}

	cfg := DefaultConfig()
	cfg.Token.PrivateKey = []byte("engine-test-secret")

	engine, err := New().
		WithConfig(cfg).
		WithStore(racing).
		WithIdentityProvider(staticIdentity{"alice@example.com", "s3cret", "user-alice"}).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ctx := context.Background()
	pair, err := engine.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// The rotation wins the CAS but the chain is revoked before the
	// successor row exists; the refresh must not hand out a live session.
	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}

	for _, id := range []string{pair.RefreshToken, racing.successor.ID} {
		got, err := base.Lookup(ctx, id)
		if err != nil {
			t.Fatalf("Lookup %s failed: %v", id, err)
		}
		if got.Status != record.StatusRevoked {
			t.Fatalf("expected %s revoked, got %v", id, got.Status)
		}
	}
}

func TestLogoutIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := engine.Logout(ctx, pair.RefreshToken); err != nil {
			t.Fatalf("Logout call %d failed: %v", i+1, err)
		}
	}
	if err := engine.Logout(ctx, "never-issued"); err != nil {
		t.Fatalf("Logout of unknown token failed: %v", err)
	}
	if err := engine.Logout(ctx, ""); err != nil {
		t.Fatalf("Logout of empty token failed: %v", err)
	}

	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected revoked token rejected as reuse, got %v", err)
	}

	// Access token stays cryptographically valid until expiry.
	if _, err := engine.Verify(pair.AccessToken); err != nil {
		t.Fatalf("access token should survive logout: %v", err)
	}
}

func TestNilEngine(t *testing.T) {
	var engine *Engine
	ctx := context.Background()

	if _, err := engine.Login(ctx, "a", "b"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := engine.Refresh(ctx, "r"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if err := engine.Logout(ctx, "r"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := engine.Verify("t"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
