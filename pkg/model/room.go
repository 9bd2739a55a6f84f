package model

import "time"

type RoomType string

const (
	RoomTypeSingle RoomType = "single"
	RoomTypeDouble RoomType = "double"
	RoomTypeSuite  RoomType = "suite"
)

// RoomTypes is the fixed set of room types in selection order.
var RoomTypes = []RoomType{RoomTypeSingle, RoomTypeDouble, RoomTypeSuite}

func (t RoomType) Valid() bool {
	for _, rt := range RoomTypes {
		if t == rt {
			return true
		}
	}
	return false
}

type Room struct {
	RoomNo        int        `json:"room_no" yaml:"room_no" validate:"required,min=1"`
	RoomName      string     `json:"room_name" yaml:"room_name" validate:"max=100"`
	RoomType      RoomType   `json:"room_type" yaml:"room_type" validate:"required,oneof=single double suite"`
	GuestsAllowed int        `json:"guests_allowed" yaml:"guests_allowed" validate:"required,min=1,max=20"`
	Price         float64    `json:"price" yaml:"price" validate:"gte=0"`
	IsAvailable   bool       `json:"is_available" yaml:"is_available"`
	CreatedAt     time.Time  `json:"created_at" yaml:"-"`
	ModifiedAt    *time.Time `json:"modified_at,omitempty" yaml:"-"`
}
