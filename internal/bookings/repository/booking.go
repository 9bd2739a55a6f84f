package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	bookingserrors "bonzai/internal/bookings/errors"
	"bonzai/internal/bookings/records"
	"bonzai/pkg/model"
	"bonzai/pkg/store"
)

type BookingRepository interface {
	// FindByID returns the confirmation and its lines in line order.
	FindByID(ctx context.Context, id string) (*model.Booking, []model.BookingLine, error)
	FindAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error)
	// FindByNights returns bookings holding a lock on any of the nights,
	// ordered by check-in.
	FindByNights(ctx context.Context, nights []string) ([]*model.Booking, error)
	// ExecuteTransaction submits ops atomically. A rejected condition is
	// reported as ErrConcurrentConflict wrapping the store error.
	ExecuteTransaction(ctx context.Context, ops []store.Op) error
}

type storeBookingRepository struct {
	store store.Store
}

func NewBookingRepository(s store.Store) BookingRepository {
	return &storeBookingRepository{store: s}
}

func (r *storeBookingRepository) FindByID(ctx context.Context, id string) (*model.Booking, []model.BookingLine, error) {
	items, err := r.store.Query(ctx, records.BookingPartition(id))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find booking: %w", err)
	}

	var booking *model.Booking
	lines := make([]model.BookingLine, 0, len(items))
	for _, item := range items {
		switch {
		case item.SK == records.ConfirmationSK:
			booking, err = records.DecodeBooking(item)
			if err != nil {
				return nil, nil, err
			}
		case records.IsLineKey(item.Key):
			line, err := records.DecodeLine(item)
			if err != nil {
				return nil, nil, err
			}
			lines = append(lines, line)
		}
	}
	if booking == nil {
		return nil, nil, bookingserrors.ErrNotFound
	}
	return booking, lines, nil
}

func (r *storeBookingRepository) FindAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error) {
	items, total, err := r.store.QuerySortKey(ctx, records.ConfirmationSK, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}
	bookings := make([]*model.Booking, 0, len(items))
	for _, item := range items {
		b, err := records.DecodeBooking(item)
		if err != nil {
			return nil, 0, err
		}
		bookings = append(bookings, b)
	}
	return bookings, total, nil
}

func (r *storeBookingRepository) FindByNights(ctx context.Context, nights []string) ([]*model.Booking, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, night := range nights {
		locks, err := r.store.QueryDate(ctx, night)
		if err != nil {
			return nil, fmt.Errorf("failed to find locks for %s: %w", night, err)
		}
		for _, lock := range locks {
			if lock.Owner == "" {
				continue
			}
			if _, ok := seen[lock.Owner]; ok {
				continue
			}
			seen[lock.Owner] = struct{}{}
			ids = append(ids, lock.Owner)
		}
	}

	bookings := make([]*model.Booking, 0, len(ids))
	for _, id := range ids {
		item, err := r.store.Get(ctx, records.ConfirmationKey(id))
		if err != nil {
			// Orphaned locks are not bookings.
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to find booking %s: %w", id, err)
		}
		b, err := records.DecodeBooking(*item)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}

	sort.SliceStable(bookings, func(i, j int) bool {
		if bookings[i].CheckIn != bookings[j].CheckIn {
			return bookings[i].CheckIn < bookings[j].CheckIn
		}
		return bookings[i].BookingID < bookings[j].BookingID
	})
	return bookings, nil
}

func (r *storeBookingRepository) ExecuteTransaction(ctx context.Context, ops []store.Op) error {
	err := r.store.TransactWrite(ctx, ops)
	if err == nil {
		return nil
	}
	if store.IsTransactionCanceled(err) {
		return fmt.Errorf("%w: %w", bookingserrors.ErrConcurrentConflict, err)
	}
	return fmt.Errorf("failed to execute booking transaction: %w", err)
}
