// Package memory is an in-process implementation of store.Store. A single
// mutex serializes transactions, which gives it the same all-or-nothing
// semantics as the database backends.
package memory

import (
	"context"
	"sort"
	"sync"

	"bonzai/pkg/store"
)

type Store struct {
	mu    sync.RWMutex
	items map[store.Key]store.Item
}

func New() *Store {
	return &Store{items: make(map[store.Key]store.Item)}
}

func (s *Store) Get(ctx context.Context, key store.Key) (*store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) Query(ctx context.Context, pk string) ([]store.Item, error) {
	return s.collect(ctx, func(it store.Item) bool { return it.PK == pk }, bySortKey, 0)
}

func (s *Store) QueryRange(ctx context.Context, pk, fromSK, toSK string, limit int) ([]store.Item, error) {
	return s.collect(ctx, func(it store.Item) bool {
		return it.PK == pk && it.SK >= fromSK && it.SK <= toSK
	}, bySortKey, limit)
}

func (s *Store) QueryDate(ctx context.Context, date string) ([]store.Item, error) {
	return s.collect(ctx, func(it store.Item) bool { return it.Date == date }, byPartitionKey, 0)
}

func (s *Store) QuerySortKey(ctx context.Context, sk string, limit int, offset int64) ([]store.Item, int64, error) {
	all, err := s.collect(ctx, func(it store.Item) bool { return it.SK == sk }, byPartitionKey, 0)
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(all))
	if offset >= total {
		return []store.Item{}, total, nil
	}
	end := total
	if limit > 0 && offset+int64(limit) < total {
		end = offset + int64(limit)
	}
	return all[offset:end], total, nil
}

func (s *Store) TransactWrite(ctx context.Context, ops []store.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateOps(ops); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reasons := make([]store.CancellationReason, len(ops))
	failed := false
	for i, op := range ops {
		reasons[i] = store.ReasonNone
		var current *store.Item
		if it, ok := s.items[op.Item.Key]; ok {
			current = &it
		}
		if !op.Cond.Holds(current) {
			reasons[i] = store.ReasonConditionalCheckFailed
			failed = true
		}
	}
	if failed {
		return &store.TransactionCanceledError{Reasons: reasons}
	}

	for _, op := range ops {
		switch op.Kind {
		case store.OpPut:
			item := op.Item
			if item.Body != nil {
				item.Body = append([]byte(nil), item.Body...)
			}
			s.items[item.Key] = item
		case store.OpDelete:
			delete(s.items, op.Item.Key)
		}
	}
	return nil
}

// Len reports the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func bySortKey(a, b store.Item) bool { return a.SK < b.SK }

func byPartitionKey(a, b store.Item) bool {
	if a.PK != b.PK {
		return a.PK < b.PK
	}
	return a.SK < b.SK
}

func (s *Store) collect(ctx context.Context, match func(store.Item) bool, less func(a, b store.Item) bool, limit int) ([]store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]store.Item, 0)
	for _, it := range s.items {
		if match(it) {
			out = append(out, it)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
