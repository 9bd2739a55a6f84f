package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bonzai/internal/bookings/records"
	roomserrors "bonzai/internal/rooms/errors"
	"bonzai/pkg/model"
	"bonzai/pkg/store"
)

type RoomRepository interface {
	// FindAll returns the catalog ordered by room number.
	FindAll(ctx context.Context) ([]model.Room, error)
	FindByNo(ctx context.Context, roomNo int) (*model.Room, error)
	// Upsert writes rooms in one transaction, keeping the creation time of
	// rooms that already exist.
	Upsert(ctx context.Context, rooms []model.Room) error
}

type storeRoomRepository struct {
	store store.Store
	now   func() time.Time
}

func NewRoomRepository(s store.Store) RoomRepository {
	return &storeRoomRepository{store: s, now: time.Now}
}

func (r *storeRoomRepository) FindAll(ctx context.Context) ([]model.Room, error) {
	items, err := r.store.Query(ctx, records.RoomPartition)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	rooms := make([]model.Room, 0, len(items))
	for _, item := range items {
		room, err := records.DecodeRoom(item)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (r *storeRoomRepository) FindByNo(ctx context.Context, roomNo int) (*model.Room, error) {
	item, err := r.store.Get(ctx, records.RoomKey(roomNo))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, roomserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	room, err := records.DecodeRoom(*item)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *storeRoomRepository) Upsert(ctx context.Context, rooms []model.Room) error {
	if len(rooms) == 0 {
		return roomserrors.ErrEmptyCatalog
	}

	existing, err := r.FindAll(ctx)
	if err != nil {
		return err
	}
	byNo := make(map[int]model.Room, len(existing))
	for _, room := range existing {
		byNo[room.RoomNo] = room
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	ops := make([]store.Op, 0, len(rooms))
	for _, room := range rooms {
		if prev, ok := byNo[room.RoomNo]; ok {
			room.CreatedAt = prev.CreatedAt
			room.ModifiedAt = &now
		} else {
			room.CreatedAt = now
		}
		item, err := records.RoomItem(room)
		if err != nil {
			return err
		}
		ops = append(ops, store.Put(item, store.NoCondition()))
	}

	if err := r.store.TransactWrite(ctx, ops); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return roomserrors.ErrDuplicateRoomNo
		}
		return fmt.Errorf("failed to upsert rooms: %w", err)
	}
	return nil
}
