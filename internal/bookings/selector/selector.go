// Package selector picks concrete rooms for a booking request.
package selector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	bookingserrors "bonzai/internal/bookings/errors"
	"bonzai/pkg/model"
)

type Prober interface {
	IsFree(ctx context.Context, roomNo int, nights []string, owner string) (bool, error)
}

type Request struct {
	RoomTypes map[model.RoomType]int
	Guests    int
	Nights    []string
	// Owner, when set, lets rooms already locked by this booking count as free.
	Owner string
}

type Selection struct {
	Rooms         []model.Room
	TotalCapacity int
	PricePerNight float64
}

func (s *Selection) RoomNumbers() []int {
	out := make([]int, len(s.Rooms))
	for i, r := range s.Rooms {
		out[i] = r.RoomNo
	}
	return out
}

type Selector struct {
	prober Prober
}

func New(prober Prober) *Selector {
	return &Selector{prober: prober}
}

// Select walks the catalog in order, type by type, and returns the first rooms
// that are administratively available and currently free. Identical state
// always yields the identical selection.
func (s *Selector) Select(ctx context.Context, req Request, catalog []model.Room) (*Selection, error) {
	requested, err := validateTypes(req.RoomTypes)
	if err != nil {
		return nil, err
	}

	selection := &Selection{}
	for _, rt := range model.RoomTypes {
		want := req.RoomTypes[rt]
		if want <= 0 {
			continue
		}
		got := 0
		for _, room := range catalog {
			if got == want {
				break
			}
			if room.RoomType != rt || !room.IsAvailable {
				continue
			}
			free, err := s.prober.IsFree(ctx, room.RoomNo, req.Nights, req.Owner)
			if err != nil {
				return nil, err
			}
			if !free {
				continue
			}
			selection.Rooms = append(selection.Rooms, room)
			got++
		}
	}

	if len(selection.Rooms) < requested {
		return nil, fmt.Errorf("%w: requested %d, found %d", bookingserrors.ErrInsufficientInventory, requested, len(selection.Rooms))
	}

	for _, room := range selection.Rooms {
		selection.TotalCapacity += room.GuestsAllowed
		selection.PricePerNight += room.Price
	}
	if selection.TotalCapacity < req.Guests {
		return nil, fmt.Errorf("%w: capacity %d, guests %d", bookingserrors.ErrInsufficientCapacity, selection.TotalCapacity, req.Guests)
	}

	return selection, nil
}

// validateTypes rejects unknown room types and returns the total number of
// rooms requested.
func validateTypes(counts map[model.RoomType]int) (int, error) {
	var unknown []string
	total := 0
	for rt, n := range counts {
		if !rt.Valid() {
			unknown = append(unknown, string(rt))
			continue
		}
		if n > 0 {
			total += n
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return 0, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidRoomType, strings.Join(unknown, ", "))
	}
	if total == 0 {
		return 0, bookingserrors.ErrNoRoomsRequested
	}
	return total, nil
}
