package repository

import (
	"context"
	"testing"

	bookingserrors "bonzai/internal/bookings/errors"
	"bonzai/internal/bookings/records"
	"bonzai/pkg/model"
	"bonzai/pkg/store"
	"bonzai/pkg/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBooking(t *testing.T, s store.Store, b *model.Booking, nights []string) {
	t.Helper()
	confirmation, err := records.ConfirmationItem(b)
	require.NoError(t, err)
	line, err := records.LineItem(b.BookingID, 1, model.BookingLine{RoomType: model.RoomTypeDouble, Quantity: len(b.ReservedRooms), ReservedRooms: b.ReservedRooms})
	require.NoError(t, err)

	ops := []store.Op{store.Put(confirmation, store.Absent()), store.Put(line, store.Absent())}
	for _, roomNo := range b.ReservedRooms {
		for _, night := range nights {
			ops = append(ops, store.Put(records.LockItem(roomNo, night, b.BookingID), store.Absent()))
		}
	}
	require.NoError(t, s.TransactWrite(context.Background(), ops))
}

func TestFindByID(t *testing.T) {
	s := memory.New()
	repo := NewBookingRepository(s)
	seedBooking(t, s, &model.Booking{BookingID: "b-1", CheckIn: "2025-09-20", CheckOut: "2025-09-22", ReservedRooms: []int{201}, Status: model.BookingStatusConfirmed},
		[]string{"2025-09-20", "2025-09-21"})

	booking, lines, err := repo.FindByID(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, "b-1", booking.BookingID)
	require.Len(t, lines, 1)
	assert.Equal(t, []int{201}, lines[0].ReservedRooms)

	_, _, err = repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, bookingserrors.ErrNotFound)
}

func TestFindByNights(t *testing.T) {
	s := memory.New()
	repo := NewBookingRepository(s)
	seedBooking(t, s, &model.Booking{BookingID: "late", CheckIn: "2025-09-21", ReservedRooms: []int{201}}, []string{"2025-09-21", "2025-09-22"})
	seedBooking(t, s, &model.Booking{BookingID: "early", CheckIn: "2025-09-20", ReservedRooms: []int{202, 203}}, []string{"2025-09-20", "2025-09-21"})

	// An orphaned lock without a confirmation is ignored.
	require.NoError(t, s.TransactWrite(context.Background(), []store.Op{
		store.Put(records.LockItem(301, "2025-09-21", "ghost"), store.Absent()),
	}))

	bookings, err := repo.FindByNights(context.Background(), []string{"2025-09-21"})
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, "early", bookings[0].BookingID)
	assert.Equal(t, "late", bookings[1].BookingID)

	bookings, err = repo.FindByNights(context.Background(), []string{"2025-09-25"})
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestFindAll(t *testing.T) {
	s := memory.New()
	repo := NewBookingRepository(s)
	for _, id := range []string{"c", "a", "b"} {
		seedBooking(t, s, &model.Booking{BookingID: id, CheckIn: "2025-09-20", ReservedRooms: []int{201}}, nil)
	}

	bookings, total, err := repo.FindAll(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, bookings, 2)
	assert.Equal(t, "b", bookings[0].BookingID)
	assert.Equal(t, "c", bookings[1].BookingID)
}

func TestExecuteTransaction_WrapsConflict(t *testing.T) {
	s := memory.New()
	repo := NewBookingRepository(s)
	op := store.Put(records.LockItem(201, "2025-09-20", "a"), store.Absent())

	require.NoError(t, repo.ExecuteTransaction(context.Background(), []store.Op{op}))
	err := repo.ExecuteTransaction(context.Background(), []store.Op{op})
	assert.ErrorIs(t, err, bookingserrors.ErrConcurrentConflict)
	assert.True(t, store.IsTransactionCanceled(err))
}
