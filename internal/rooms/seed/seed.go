// Package seed loads the room catalog from a YAML file.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	roomserrors "bonzai/internal/rooms/errors"
	"bonzai/internal/rooms/repository"
	"bonzai/pkg/model"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Rooms []roomEntry `yaml:"rooms"`
}

// roomEntry mirrors model.Room so that a missing is_available defaults to
// true instead of false.
type roomEntry struct {
	RoomNo        int            `yaml:"room_no"`
	RoomName      string         `yaml:"room_name"`
	RoomType      model.RoomType `yaml:"room_type"`
	GuestsAllowed int            `yaml:"guests_allowed"`
	Price         float64        `yaml:"price"`
	IsAvailable   *bool          `yaml:"is_available"`
}

func LoadFile(path string) ([]model.Room, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open room catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates a catalog. Rooms are returned ordered by room
// number.
func Load(r io.Reader) ([]model.Room, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, roomserrors.ErrEmptyCatalog
		}
		return nil, fmt.Errorf("failed to parse room catalog: %w", err)
	}
	if len(file.Rooms) == 0 {
		return nil, roomserrors.ErrEmptyCatalog
	}

	validate := validator.New()
	seen := make(map[int]struct{}, len(file.Rooms))
	rooms := make([]model.Room, 0, len(file.Rooms))
	for i, e := range file.Rooms {
		room := model.Room{
			RoomNo:        e.RoomNo,
			RoomName:      e.RoomName,
			RoomType:      e.RoomType,
			GuestsAllowed: e.GuestsAllowed,
			Price:         e.Price,
			IsAvailable:   e.IsAvailable == nil || *e.IsAvailable,
		}
		if err := validate.Struct(room); err != nil {
			return nil, fmt.Errorf("room #%d (%d) is invalid: %w", i+1, room.RoomNo, err)
		}
		if _, dup := seen[room.RoomNo]; dup {
			return nil, fmt.Errorf("%w: %d", roomserrors.ErrDuplicateRoomNo, room.RoomNo)
		}
		seen[room.RoomNo] = struct{}{}
		rooms = append(rooms, room)
	}

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RoomNo < rooms[j].RoomNo })
	return rooms, nil
}

// Seed writes the catalog, keeping creation times of rooms already stored.
func Seed(ctx context.Context, repo repository.RoomRepository, rooms []model.Room) error {
	if err := repo.Upsert(ctx, rooms); err != nil {
		return fmt.Errorf("failed to seed rooms: %w", err)
	}
	return nil
}
