// Package txbuilder translates booking state transitions into the exact
// batches of conditional writes that must commit atomically. It performs no
// I/O.
package txbuilder

import (
	"time"

	bookingserrors "bonzai/internal/bookings/errors"
	"bonzai/internal/bookings/records"
	"bonzai/pkg/model"
	"bonzai/pkg/store"
)

// Draft is the booking content a transition should produce.
type Draft struct {
	BookingID  string
	CheckIn    string
	CheckOut   string
	Guests     int
	Name       string
	Email      string
	Note       string
	CreatedAt  time.Time
	ModifiedAt *time.Time
}

type Plan struct {
	Booking *model.Booking
	Lines   []model.BookingLine
	Ops     []store.Op
}

// ModifyPlan holds the two sub-transactions of a structural modification and
// the compensation to run if the second one is rejected.
type ModifyPlan struct {
	Booking *model.Booking
	Lines   []model.BookingLine
	// Lock claims every new (room, night) pair, reclaiming pairs this booking
	// already holds.
	Lock []store.Op
	// Swap drops the old-only locks and stale lines and writes the new lines
	// and confirmation.
	Swap []store.Op
	// Claimed lists every pair Lock writes. Release gives back the ones the
	// stored booking does not hold if Swap is rejected; a pair shared with
	// the old state may have been re-created by Lock after a concurrent
	// cancellation deleted it.
	Claimed []store.Key
	// Kept counts the pairs held by both the old and the new state.
	Kept int
}

// Lines groups rooms by type in the fixed type order. Rooms keep their
// selection order within a line.
func Lines(rooms []model.Room, nightCount int) []model.BookingLine {
	var lines []model.BookingLine
	for _, rt := range model.RoomTypes {
		var line *model.BookingLine
		for _, room := range rooms {
			if room.RoomType != rt {
				continue
			}
			if line == nil {
				line = &model.BookingLine{RoomType: rt}
			}
			line.Quantity++
			line.ReservedRooms = append(line.ReservedRooms, room.RoomNo)
			line.PricePerNightSum += room.Price
		}
		if line != nil {
			line.LineTotal = line.PricePerNightSum * float64(nightCount)
			lines = append(lines, *line)
		}
	}
	return lines
}

// Confirmation builds the CONFIRMED booking record for rooms over nights.
func Confirmation(d Draft, rooms []model.Room, nights []string) *model.Booking {
	b := &model.Booking{
		BookingID:     d.BookingID,
		CheckIn:       d.CheckIn,
		CheckOut:      d.CheckOut,
		Guests:        d.Guests,
		Name:          d.Name,
		Email:         d.Email,
		Note:          d.Note,
		Status:        model.BookingStatusConfirmed,
		ReservedRooms: make([]int, 0, len(rooms)),
		RoomsCount:    len(rooms),
		CreatedAt:     d.CreatedAt,
		ModifiedAt:    d.ModifiedAt,
	}
	var perNight float64
	for _, room := range rooms {
		b.ReservedRooms = append(b.ReservedRooms, room.RoomNo)
		b.TotalCapacity += room.GuestsAllowed
		perNight += room.Price
	}
	b.TotalPrice = perNight * float64(len(nights))
	return b
}

// Create emits every write of a new booking: one lock per (room, night), one
// line per room type and the confirmation, all conditioned on absence.
func Create(d Draft, rooms []model.Room, nights []string) (*Plan, error) {
	if len(rooms) == 0 {
		return nil, bookingserrors.ErrEmptyReservation
	}
	booking := Confirmation(d, rooms, nights)
	booking.Version = 1
	lines := Lines(rooms, len(nights))

	ops := make([]store.Op, 0, len(rooms)*len(nights)+len(lines)+1)
	ops = append(ops, lockOps(d.BookingID, booking.ReservedRooms, nights, store.Absent())...)

	lineOps, err := lineWrites(d.BookingID, lines, store.Absent())
	if err != nil {
		return nil, err
	}
	ops = append(ops, lineOps...)

	conf, err := records.ConfirmationItem(booking)
	if err != nil {
		return nil, err
	}
	ops = append(ops, store.Put(conf, store.Absent()))

	return &Plan{Booking: booking, Lines: lines, Ops: ops}, nil
}

// guard is the condition on every rewrite of a confirmation read at version:
// the booking is still live and nobody has written it since.
func guard(version int64) store.Condition {
	return store.StatusNotAtVersion(string(model.BookingStatusCancelled), version)
}

// Cancel marks the booking CANCELLED and deletes its locks and lines. The
// status write only succeeds if the booking is still at the version b was
// read at, so the deleted locks are exactly the ones the booking holds and
// concurrent cancellations or modifications settle on one winner.
func Cancel(b *model.Booking, lineCount int, nights []string, at time.Time) (*Plan, error) {
	if len(b.ReservedRooms) == 0 {
		return nil, bookingserrors.ErrEmptyReservation
	}

	cancelled := *b
	cancelled.Status = model.BookingStatusCancelled
	cancelled.ModifiedAt = &at
	cancelled.Version = b.Version + 1

	conf, err := records.ConfirmationItem(&cancelled)
	if err != nil {
		return nil, err
	}

	ops := []store.Op{store.Put(conf, guard(b.Version))}
	for _, key := range records.LockKeys(b.ReservedRooms, nights) {
		ops = append(ops, store.Delete(key, store.OwnedBy(b.BookingID)))
	}
	for n := 1; n <= lineCount; n++ {
		ops = append(ops, store.Delete(records.LineKey(b.BookingID, n), store.NoCondition()))
	}
	return &Plan{Booking: &cancelled, Ops: ops}, nil
}

// Rewrite replaces the confirmation without touching locks or lines. It is
// used for changes that do not affect which room nights are held. b carries
// the version it was read at; the returned booking is what gets written.
func Rewrite(b *model.Booking) (*model.Booking, []store.Op, error) {
	updated := *b
	updated.Version = b.Version + 1

	conf, err := records.ConfirmationItem(&updated)
	if err != nil {
		return nil, nil, err
	}
	return &updated, []store.Op{store.Put(conf, guard(b.Version))}, nil
}

// Modify plans the move from old (held over oldNights with oldLineCount
// lines) to rooms over nights.
//
// Pairs present in both states are reclaimed by Lock and left alone by Swap,
// so they stay locked throughout. Pairs only in the old state are deleted by
// Swap after the new pairs are already held.
func Modify(old *model.Booking, oldLineCount int, oldNights []string, d Draft, rooms []model.Room, nights []string) (*ModifyPlan, error) {
	if len(rooms) == 0 {
		return nil, bookingserrors.ErrEmptyReservation
	}
	d.BookingID = old.BookingID
	d.CreatedAt = old.CreatedAt

	booking := Confirmation(d, rooms, nights)
	booking.Version = old.Version + 1
	lines := Lines(rooms, len(nights))

	oldKeys := records.LockKeys(old.ReservedRooms, oldNights)
	newKeys := records.LockKeys(booking.ReservedRooms, nights)

	plan := &ModifyPlan{
		Booking: booking,
		Lines:   lines,
		Lock:    lockOps(old.BookingID, booking.ReservedRooms, nights, store.AbsentOrOwnedBy(old.BookingID)),
	}

	for _, key := range subtract(oldKeys, newKeys) {
		plan.Swap = append(plan.Swap, store.Delete(key, store.OwnedBy(old.BookingID)))
	}
	for n := len(lines) + 1; n <= oldLineCount; n++ {
		plan.Swap = append(plan.Swap, store.Delete(records.LineKey(old.BookingID, n), store.NoCondition()))
	}
	lineOps, err := lineWrites(old.BookingID, lines, store.NoCondition())
	if err != nil {
		return nil, err
	}
	plan.Swap = append(plan.Swap, lineOps...)

	conf, err := records.ConfirmationItem(booking)
	if err != nil {
		return nil, err
	}
	plan.Swap = append(plan.Swap, store.Put(conf, guard(old.Version)))

	plan.Claimed = newKeys
	plan.Kept = len(newKeys) - len(subtract(newKeys, oldKeys))
	return plan, nil
}

// Release gives back claimed locks after a rejected Swap. current is the
// booking as stored now and nights its stay. Pairs the current state holds
// are kept, so a modification that committed in the meantime is not
// under-locked. A cancelled booking keeps nothing.
//
// The first op rewrites the confirmation at its current version, which fails
// the release if the booking moves again before it lands and fails any
// in-flight modification planned against the version it replaces. The
// remaining ops are deletes in claimed order. It returns nil when nothing is
// left to release.
func Release(current *model.Booking, nights []string, claimed []store.Key) ([]store.Op, error) {
	var keep []store.Key
	if current.Status != model.BookingStatusCancelled {
		keep = records.LockKeys(current.ReservedRooms, nights)
	}
	drop := subtract(claimed, keep)
	if len(drop) == 0 {
		return nil, nil
	}

	touched := *current
	touched.Version = current.Version + 1
	conf, err := records.ConfirmationItem(&touched)
	if err != nil {
		return nil, err
	}

	ops := make([]store.Op, 0, len(drop)+1)
	ops = append(ops, store.Put(conf, store.AtVersion(current.Version)))
	for _, key := range drop {
		ops = append(ops, store.Delete(key, store.OwnedBy(current.BookingID)))
	}
	return ops, nil
}

func lockOps(bookingID string, rooms []int, nights []string, cond store.Condition) []store.Op {
	ops := make([]store.Op, 0, len(rooms)*len(nights))
	for _, roomNo := range rooms {
		for _, night := range nights {
			ops = append(ops, store.Put(records.LockItem(roomNo, night, bookingID), cond))
		}
	}
	return ops
}

func lineWrites(bookingID string, lines []model.BookingLine, cond store.Condition) ([]store.Op, error) {
	ops := make([]store.Op, 0, len(lines))
	for i, line := range lines {
		item, err := records.LineItem(bookingID, i+1, line)
		if err != nil {
			return nil, err
		}
		ops = append(ops, store.Put(item, cond))
	}
	return ops, nil
}

// subtract returns the keys of a that are not in b, preserving a's order.
func subtract(a, b []store.Key) []store.Key {
	drop := make(map[store.Key]struct{}, len(b))
	for _, k := range b {
		drop[k] = struct{}{}
	}
	var out []store.Key
	for _, k := range a {
		if _, ok := drop[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
