// Package availability answers whether a room is free on a set of nights.
// The answer is advisory: it narrows candidates before the reservation
// transaction, whose conditional writes are what actually guarantee
// exclusivity.
package availability

import (
	"context"
	"fmt"

	"bonzai/internal/bookings/records"
	"bonzai/pkg/store"
)

type Prober struct {
	store store.Store
}

func NewProber(s store.Store) *Prober {
	return &Prober{store: s}
}

// IsFree reports whether roomNo has no night lock on any of nights. When
// owner is non-empty, locks held by that booking count as free.
//
// A single range probe between the first and last night is used. Anything
// it cannot vouch for is reported as occupied.
func (p *Prober) IsFree(ctx context.Context, roomNo int, nights []string, owner string) (bool, error) {
	if len(nights) == 0 {
		return false, nil
	}

	from, to := nights[0], nights[0]
	for _, n := range nights[1:] {
		if n < from {
			from = n
		}
		if n > to {
			to = n
		}
	}

	limit := 1
	if owner != "" {
		limit = 0
	}
	locks, err := p.store.QueryRange(ctx,
		records.LockPartition(roomNo),
		records.DateSortKey(from),
		records.DateSortKey(to),
		limit,
	)
	if err != nil {
		return false, fmt.Errorf("failed to probe room %d: %w", roomNo, err)
	}

	for _, lock := range locks {
		if owner == "" || lock.Owner != owner {
			return false, nil
		}
	}
	return true, nil
}
