package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestDoc_BuildsPaths(t *testing.T) {
	assert.Equal(t, "recipes/r1/versions/v2", Doc("recipes", "r1", "versions", "v2"))
	assert.Panics(t, func() { Doc("recipes") })
	assert.Panics(t, func() { Doc("recipes", "") })
	assert.Panics(t, func() { Doc("recipes", "a/b") })
}

func TestMemoryStore_CommitIsAllOrNothing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, NewBatch().Set("users/a", map[string]any{"name": "A"})))

	b := NewBatch().
		Update("users/a", map[string]any{"name": "changed"}).
		Set("users/b", map[string]any{"name": "B"}).
		Update("users/missing", map[string]any{"name": "x"}, Exists())
	err := store.Commit(ctx, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPreconditionFailed))

	snap, err := store.Get(ctx, "users/a")
	require.NoError(t, err)
	assert.Equal(t, "A", snap.Data["name"])

	_, err = store.Get(ctx, "users/b")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_UpdateRequiresDocument(t *testing.T) {
	store := NewMemoryStore()
	err := store.Commit(context.Background(), NewBatch().Update("users/ghost", map[string]any{"x": 1}))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_MatchPrecondition(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Commit(ctx, NewBatch().Set("users/a", map[string]any{"partnershipId": nil})))

	ok := NewBatch().Update("users/a", map[string]any{"partnershipId": "p1"}, Match(map[string]any{"partnershipId": nil}))
	require.NoError(t, store.Commit(ctx, ok))

	again := NewBatch().Update("users/a", map[string]any{"partnershipId": "p2"}, Match(map[string]any{"partnershipId": nil}))
	err := store.Commit(ctx, again)
	assert.True(t, errors.Is(err, ErrPreconditionFailed))

	snap, err := store.Get(ctx, "users/a")
	require.NoError(t, err)
	assert.Equal(t, "p1", snap.Data["partnershipId"])
}

func TestMemoryStore_NotExistsPrecondition(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Commit(ctx, NewBatch().Set("users/a", map[string]any{"name": "first"}, NotExists())))

	err := store.Commit(ctx, NewBatch().
		Set("users/b", map[string]any{"name": "b"}).
		Set("users/a", map[string]any{"name": "second"}, NotExists()))
	assert.True(t, errors.Is(err, ErrPreconditionFailed))

	snap, err := store.Get(ctx, "users/a")
	require.NoError(t, err)
	assert.Equal(t, "first", snap.Data["name"])
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_ServerTimestampAndArrayUnion(t *testing.T) {
	store := NewMemoryStore()
	store.SetClock(fixedClock(1700000000123))
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, NewBatch().Set("users/a", map[string]any{
		"createdAt": ServerTimestamp,
		"past":      ArrayUnion("p1"),
	})))
	require.NoError(t, store.Commit(ctx, NewBatch().Merge("users/a", map[string]any{
		"past": ArrayUnion("p1", "p2"),
	})))

	snap, err := store.Get(ctx, "users/a")
	require.NoError(t, err)
	assert.Equal(t, float64(1700000000123), snap.Data["createdAt"])
	assert.Equal(t, []any{"p1", "p2"}, snap.Data["past"])
}

func TestMemoryStore_DeleteMissingIsNoop(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Commit(context.Background(), NewBatch().Delete("users/none")))

	err := store.Commit(context.Background(), NewBatch().Delete("users/none", Exists()))
	assert.True(t, errors.Is(err, ErrPreconditionFailed))
}

func TestMemoryStore_QueryFiltersAndOrders(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	b := NewBatch()
	for i := 0; i < 5; i++ {
		scope := "s1"
		if i%2 == 1 {
			scope = "s2"
		}
		b.Set(Doc("recipes", fmt.Sprintf("r%d", i)), map[string]any{"scope": scope, "updatedAt": i})
	}
	b.Set(Doc("recipes", "r0", "versions", "v1"), map[string]any{"scope": "s1"})
	require.NoError(t, store.Commit(ctx, b))

	snaps, err := store.Query(ctx, Query{
		Collection: "recipes",
		Filters:    []Filter{WhereIn("scope", []string{"s1"})},
		OrderBy:    "updatedAt",
		Desc:       true,
	})
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, []string{"r4", "r2", "r0"}, []string{snaps[0].ID, snaps[1].ID, snaps[2].ID})

	children, err := store.Query(ctx, Query{Parent: "recipes/r0", Collection: "versions"})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "v1", children[0].ID)
}

func TestMemoryStore_RejectsOversizedRequests(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	values := make([]string, MaxInValues+1)
	for i := range values {
		values[i] = fmt.Sprint(i)
	}
	_, err := store.Query(ctx, Query{Collection: "recipes", Filters: []Filter{WhereIn("scope", values)}})
	assert.True(t, errors.Is(err, ErrTooManyInValues))

	b := NewBatch()
	for i := 0; i <= MaxBatchOps; i++ {
		b.Delete(Doc("x", fmt.Sprint(i)))
	}
	assert.True(t, errors.Is(store.Commit(ctx, b), ErrBatchTooLarge))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Commit(ctx, NewBatch().Set("users/a", map[string]any{"tags": []string{"x"}})))

	snap, err := store.Get(ctx, "users/a")
	require.NoError(t, err)
	snap.Data["tags"].([]any)[0] = "mutated"

	again, err := store.Get(ctx, "users/a")
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, again.Data["tags"])
}
