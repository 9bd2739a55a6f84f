package service

import (
	"context"
	"errors"
	"strconv"

	roomserrors "bonzai/internal/rooms/errors"
	"bonzai/internal/rooms/repository"
	"bonzai/pkg/config"
	apperrors "bonzai/pkg/errors"
	"bonzai/pkg/model"
)

type RoomService interface {
	GetAll(ctx context.Context) ([]model.Room, error)
	GetByNo(ctx context.Context, roomNo int) (*model.Room, error)
}

type roomService struct {
	repo repository.RoomRepository
	cfg  *config.Config
}

func NewRoomService(repo repository.RoomRepository, cfg *config.Config) RoomService {
	return &roomService{repo: repo, cfg: cfg}
}

func (s *roomService) GetAll(ctx context.Context) ([]model.Room, error) {
	rooms, err := s.repo.FindAll(ctx)
	if err != nil {
		s.cfg.Log.FromContext(ctx).Error("Failed to list rooms", "error", err)
		return nil, apperrors.Internal("Failed to retrieve rooms", err)
	}
	return rooms, nil
}

func (s *roomService) GetByNo(ctx context.Context, roomNo int) (*model.Room, error) {
	if roomNo <= 0 {
		return nil, apperrors.InvalidInput("Room number must be positive")
	}
	room, err := s.repo.FindByNo(ctx, roomNo)
	if err != nil {
		if errors.Is(err, roomserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Room", strconv.Itoa(roomNo))
		}
		s.cfg.Log.FromContext(ctx).Error("Failed to retrieve room", "room_no", roomNo, "error", err)
		return nil, apperrors.Internal("Failed to retrieve room", err)
	}
	return room, nil
}
