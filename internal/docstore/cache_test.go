package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachedStore(t *testing.T) (*CachedStore, *MemoryStore) {
	t.Helper()
	db, err := OpenCache()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	backing := NewMemoryStore()
	return NewCachedStore(backing, db, 0), backing
}

func TestCachedStore_DefaultReadsMayBeStale(t *testing.T) {
	cached, backing := newCachedStore(t)
	ctx := context.Background()

	require.NoError(t, backing.Commit(ctx, NewBatch().Set("users/a", map[string]any{"partnershipId": nil})))
	snap, err := cached.Get(ctx, "users/a")
	require.NoError(t, err)
	assert.Nil(t, snap.Data["partnershipId"])

	// Another writer bypasses this cache.
	require.NoError(t, backing.Commit(ctx, NewBatch().Update("users/a", map[string]any{"partnershipId": "p1"})))

	stale, err := cached.Get(ctx, "users/a")
	require.NoError(t, err)
	assert.Nil(t, stale.Data["partnershipId"])

	fresh, err := cached.Get(ctx, "users/a", FromServer())
	require.NoError(t, err)
	assert.Equal(t, "p1", fresh.Data["partnershipId"])

	refreshed, err := cached.Get(ctx, "users/a")
	require.NoError(t, err)
	assert.Equal(t, "p1", refreshed.Data["partnershipId"])
}

func TestCachedStore_CommitEvictsTouchedPaths(t *testing.T) {
	cached, _ := newCachedStore(t)
	ctx := context.Background()

	require.NoError(t, cached.Commit(ctx, NewBatch().Set("users/a", map[string]any{"name": "A"})))
	_, err := cached.Get(ctx, "users/a")
	require.NoError(t, err)

	require.NoError(t, cached.Commit(ctx, NewBatch().Delete("users/a")))
	_, err = cached.Get(ctx, "users/a")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// slowReadStore returns each snapshot only after running afterRead, standing
// in for a commit that lands while a read is still on the wire
type slowReadStore struct {
	Store
	afterRead func()
}

func (s *slowReadStore) Get(ctx context.Context, path string, opts ...GetOption) (*Snapshot, error) {
	snap, err := s.Store.Get(ctx, path, opts...)
	if run := s.afterRead; run != nil {
		s.afterRead = nil
		run()
	}
	return snap, err
}

func TestCachedStore_ReadOverlappingCommitIsNotCached(t *testing.T) {
	db, err := OpenCache()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	backing := NewMemoryStore()
	slow := &slowReadStore{Store: backing}
	cached := NewCachedStore(slow, db, 0)

	require.NoError(t, backing.Commit(ctx, NewBatch().Set("users/a", map[string]any{"partnershipId": nil})))

	slow.afterRead = func() {
		require.NoError(t, cached.Commit(ctx, NewBatch().Update("users/a", map[string]any{"partnershipId": "p1"})))
	}
	old, err := cached.Get(ctx, "users/a")
	require.NoError(t, err)
	assert.Nil(t, old.Data["partnershipId"], "the read itself began before the commit")

	next, err := cached.Get(ctx, "users/a")
	require.NoError(t, err)
	assert.Equal(t, "p1", next.Data["partnershipId"])
	assert.Empty(t, cached.reads)
}
