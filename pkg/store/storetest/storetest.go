// Package storetest holds the behaviour every store.Store implementation must
// share. Backends call Run from their own tests with a factory returning an
// empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"bonzai/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It may register cleanup on t.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("AllOrNothing", func(t *testing.T) { testAllOrNothing(t, newStore(t)) })
	t.Run("Conditions", func(t *testing.T) { testConditions(t, newStore) })
	t.Run("Queries", func(t *testing.T) { testQueries(t, newStore(t)) })
	t.Run("BodyRoundTrip", func(t *testing.T) { testBodyRoundTrip(t, newStore(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
	t.Run("VersionedRewrites", func(t *testing.T) { testVersionedRewrites(t, newStore(t)) })
}

func lock(room int, date, owner string) store.Item {
	return store.Item{
		Key:   store.Key{PK: fmt.Sprintf("ROOM#%d", room), SK: "DATE#" + date},
		Owner: owner,
		Date:  date,
	}
}

func testAllOrNothing(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.TransactWrite(ctx, []store.Op{
		store.Put(lock(1, "2025-09-20", "a"), store.Absent()),
	}))

	err := s.TransactWrite(ctx, []store.Op{
		store.Put(lock(2, "2025-09-20", "b"), store.Absent()),
		store.Put(lock(1, "2025-09-20", "b"), store.Absent()),
	})
	var tce *store.TransactionCanceledError
	require.True(t, errors.As(err, &tce), "expected cancellation, got %v", err)
	assert.Contains(t, tce.FailedIndexes(), 1)

	_, err = s.Get(ctx, lock(2, "2025-09-20", "").Key)
	assert.ErrorIs(t, err, store.ErrNotFound)

	held, err := s.Get(ctx, lock(1, "2025-09-20", "").Key)
	require.NoError(t, err)
	assert.Equal(t, "a", held.Owner)
}

func testConditions(t *testing.T, newStore Factory) {
	ctx := context.Background()
	key := store.Key{PK: "BOOKING#x", SK: "CONFIRMATION"}

	tests := []struct {
		name    string
		seed    *store.Item
		op      store.Op
		wantErr bool
	}{
		{"absent on empty", nil, store.Put(store.Item{Key: key}, store.Absent()), false},
		{"absent on existing", &store.Item{Key: key}, store.Put(store.Item{Key: key}, store.Absent()), true},
		{"absent or owned, missing", nil, store.Put(store.Item{Key: key, Owner: "a"}, store.AbsentOrOwnedBy("a")), false},
		{"absent or owned, other owner", &store.Item{Key: key, Owner: "b"}, store.Put(store.Item{Key: key, Owner: "a"}, store.AbsentOrOwnedBy("a")), true},
		{"absent or owned, same owner", &store.Item{Key: key, Owner: "a"}, store.Put(store.Item{Key: key, Owner: "a"}, store.AbsentOrOwnedBy("a")), false},
		{"owned by on missing", nil, store.Delete(key, store.OwnedBy("a")), true},
		{"owned by, other owner", &store.Item{Key: key, Owner: "b"}, store.Delete(key, store.OwnedBy("a")), true},
		{"owned by matches", &store.Item{Key: key, Owner: "a"}, store.Delete(key, store.OwnedBy("a")), false},
		{"status not on missing", nil, store.Put(store.Item{Key: key}, store.StatusNot("CANCELLED")), true},
		{"status not blocked", &store.Item{Key: key, Status: "CANCELLED"}, store.Put(store.Item{Key: key}, store.StatusNot("CANCELLED")), true},
		{"status not allowed", &store.Item{Key: key, Status: "CONFIRMED"}, store.Put(store.Item{Key: key, Status: "CANCELLED"}, store.StatusNot("CANCELLED")), false},
		{"at version matches", &store.Item{Key: key, Version: 2}, store.Put(store.Item{Key: key, Version: 3}, store.AtVersion(2)), false},
		{"at version moved on", &store.Item{Key: key, Version: 3}, store.Put(store.Item{Key: key, Version: 3}, store.AtVersion(2)), true},
		{"at version zero matches unversioned", &store.Item{Key: key}, store.Put(store.Item{Key: key, Version: 1}, store.AtVersion(0)), false},
		{"at version on missing", nil, store.Put(store.Item{Key: key, Version: 1}, store.AtVersion(0)), true},
		{"at version delete", &store.Item{Key: key, Version: 4}, store.Delete(key, store.AtVersion(4)), false},
		{"status not at version allowed", &store.Item{Key: key, Status: "CONFIRMED", Version: 1}, store.Put(store.Item{Key: key, Status: "CONFIRMED", Version: 2}, store.StatusNotAtVersion("CANCELLED", 1)), false},
		{"status not at version, stale", &store.Item{Key: key, Status: "CONFIRMED", Version: 2}, store.Put(store.Item{Key: key, Status: "CONFIRMED", Version: 2}, store.StatusNotAtVersion("CANCELLED", 1)), true},
		{"status not at version, cancelled", &store.Item{Key: key, Status: "CANCELLED", Version: 1}, store.Put(store.Item{Key: key, Status: "CONFIRMED", Version: 2}, store.StatusNotAtVersion("CANCELLED", 1)), true},
		{"unconditional delete of missing key", nil, store.Delete(key, store.NoCondition()), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			if tt.seed != nil {
				require.NoError(t, s.TransactWrite(ctx, []store.Op{store.Put(*tt.seed, store.NoCondition())}))
			}
			err := s.TransactWrite(ctx, []store.Op{tt.op})
			if tt.wantErr {
				assert.True(t, store.IsTransactionCanceled(err), "expected cancellation, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func testQueries(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.TransactWrite(ctx, []store.Op{
		store.Put(lock(1, "2025-09-22", "a"), store.Absent()),
		store.Put(lock(1, "2025-09-20", "a"), store.Absent()),
		store.Put(lock(2, "2025-09-20", "b"), store.Absent()),
		store.Put(store.Item{Key: store.Key{PK: "BOOKING#b", SK: "CONFIRMATION"}, Status: "CONFIRMED"}, store.Absent()),
		store.Put(store.Item{Key: store.Key{PK: "BOOKING#a", SK: "CONFIRMATION"}, Status: "CONFIRMED"}, store.Absent()),
	}))

	items, err := s.Query(ctx, "ROOM#1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "DATE#2025-09-20", items[0].SK)

	items, err = s.QueryRange(ctx, "ROOM#1", "DATE#2025-09-21", "DATE#2025-09-23", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "DATE#2025-09-22", items[0].SK)

	items, err = s.QueryDate(ctx, "2025-09-20")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, total, err := s.QuerySortKey(ctx, "CONFIRMATION", 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, items, 1)
	assert.Equal(t, "BOOKING#b", items[0].PK)

	_, err = s.Get(ctx, store.Key{PK: "ROOM#9", SK: "DATE#2025-09-20"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testBodyRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	item := store.Item{
		Key:    store.Key{PK: "BOOKING#r", SK: "CONFIRMATION"},
		Status: "CONFIRMED",
		Body:   []byte(`{"booking_id":"r","reserved_rooms":[201,202],"total_price":500}`),
	}
	require.NoError(t, s.TransactWrite(ctx, []store.Op{store.Put(item, store.Absent())}))

	got, err := s.Get(ctx, item.Key)
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", got.Status)
	assert.JSONEq(t, string(item.Body), string(got.Body))
}

func testConcurrentClaims(t *testing.T, s store.Store) {
	ctx := context.Background()

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			err := s.TransactWrite(ctx, []store.Op{
				store.Put(lock(7, "2025-09-20", owner), store.Absent()),
				store.Put(lock(7, "2025-09-21", owner), store.Absent()),
			})
			if err == nil {
				wins.Add(1)
			} else if !store.IsTransactionCanceled(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("owner-%d", i))
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	first, err := s.Get(ctx, lock(7, "2025-09-20", "").Key)
	require.NoError(t, err)
	second, err := s.Get(ctx, lock(7, "2025-09-21", "").Key)
	require.NoError(t, err)
	assert.Equal(t, first.Owner, second.Owner)
}

// testVersionedRewrites has every worker rewrite the same record from the
// same read. Only one rewrite may land, and it must bump the version.
func testVersionedRewrites(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := store.Key{PK: "BOOKING#v", SK: "CONFIRMATION"}
	require.NoError(t, s.TransactWrite(ctx, []store.Op{
		store.Put(store.Item{Key: key, Status: "CONFIRMED", Version: 1}, store.Absent()),
	}))

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			err := s.TransactWrite(ctx, []store.Op{
				store.Put(store.Item{Key: key, Status: "CONFIRMED", Owner: owner, Version: 2}, store.StatusNotAtVersion("CANCELLED", 1)),
				store.Put(lock(8, "2025-09-20", owner), store.NoCondition()),
			})
			if err == nil {
				wins.Add(1)
			} else if !store.IsTransactionCanceled(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("writer-%d", i))
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version)
	held, err := s.Get(ctx, lock(8, "2025-09-20", "").Key)
	require.NoError(t, err)
	assert.Equal(t, got.Owner, held.Owner, "the lock write belongs to the winning rewrite")
}
