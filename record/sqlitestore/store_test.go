package sqlitestore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskvault/taskauth/record"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", strings.ToLower(journalMode))

	var busyTimeout int
	require.NoError(t, s.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)
}

func TestCreateLookupRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "user-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, rec.ChainID)
	assert.Equal(t, record.StatusActive, rec.Status)

	got, err := s.Lookup(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Owner)
	assert.Equal(t, rec.ChainID, got.ChainID)
	assert.True(t, got.ExpiresAt.Equal(rec.ExpiresAt))
}

func TestLookupMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Lookup(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, record.ErrNotFound)
}

func TestMarkRotatedCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "user-1", time.Hour)
	require.NoError(t, err)

	succID := uuid.NewString()
	require.NoError(t, s.MarkRotated(ctx, rec.ID, succID))

	got, err := s.Lookup(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusRotated, got.Status)
	assert.Equal(t, succID, got.SuccessorID)

	err = s.MarkRotated(ctx, rec.ID, uuid.NewString())
	require.ErrorIs(t, err, record.ErrInvalidTransition)

	err = s.MarkRotated(ctx, uuid.NewString(), uuid.NewString())
	require.ErrorIs(t, err, record.ErrNotFound)
}

func TestMarkRevokedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "user-1", time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.MarkRevoked(ctx, rec.ID))
	require.NoError(t, s.MarkRevoked(ctx, rec.ID))
	require.NoError(t, s.MarkRevoked(ctx, uuid.NewString()))

	got, err := s.Lookup(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusRevoked, got.Status)
}

func TestRevokeChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root, err := s.Create(ctx, "user-1", time.Hour)
	require.NoError(t, err)
	child, err := s.CreateSuccessor(ctx, root, uuid.NewString(), time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.MarkRotated(ctx, root.ID, child.ID))

	other, err := s.Create(ctx, "user-2", time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.RevokeChain(ctx, root.ChainID))

	for _, id := range []string{root.ID, child.ID} {
		got, err := s.Lookup(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, record.StatusRevoked, got.Status)
	}

	got, err := s.Lookup(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusActive, got.Status)
}

func TestSweepExpiredBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expired, err := s.Create(ctx, "user-1", -time.Hour)
	require.NoError(t, err)
	atBoundary, err := s.Create(ctx, "user-1", 0)
	require.NoError(t, err)
	live, err := s.Create(ctx, "user-1", time.Hour)
	require.NoError(t, err)

	count, err := s.SweepExpired(ctx, atBoundary.ExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.Lookup(ctx, expired.ID)
	require.ErrorIs(t, err, record.ErrNotFound)
	_, err = s.Lookup(ctx, atBoundary.ID)
	require.NoError(t, err)
	_, err = s.Lookup(ctx, live.ID)
	require.NoError(t, err)
}

func TestExpiredRecordVisibleUntilSwept(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "user-1", -time.Minute)
	require.NoError(t, err)

	got, err := s.Lookup(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Expired(time.Now()))
}
