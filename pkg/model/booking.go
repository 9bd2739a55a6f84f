package model

import (
	"time"
)

type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// Booking is the confirmation record. ReservedRooms is the authoritative room
// set; BookingLines are derived from it.
type Booking struct {
	BookingID     string        `json:"booking_id" bson:"booking_id"`
	CheckIn       string        `json:"check_in" bson:"check_in"`
	CheckOut      string        `json:"check_out" bson:"check_out"`
	Guests        int           `json:"guests" bson:"guests"`
	Name          string        `json:"name" bson:"name"`
	Email         string        `json:"email" bson:"email"`
	Note          string        `json:"note,omitempty" bson:"note,omitempty"`
	Status        BookingStatus `json:"status" bson:"status"`
	ReservedRooms []int         `json:"reserved_rooms" bson:"reserved_rooms"`
	RoomsCount    int           `json:"rooms_count" bson:"rooms_count"`
	TotalCapacity int           `json:"total_capacity" bson:"total_capacity"`
	TotalPrice    float64       `json:"total_price" bson:"total_price"`
	CreatedAt     time.Time     `json:"created_at" bson:"created_at"`
	ModifiedAt    *time.Time    `json:"modified_at,omitempty" bson:"modified_at,omitempty"`
	// Version counts committed writes of the confirmation. Every rewrite
	// is conditioned on the version it was derived from.
	Version int64 `json:"version" bson:"version"`
}

type BookingLine struct {
	RoomType         RoomType `json:"room_type" bson:"room_type"`
	Quantity         int      `json:"quantity" bson:"quantity"`
	ReservedRooms    []int    `json:"reserved_rooms" bson:"reserved_rooms"`
	PricePerNightSum float64  `json:"price_per_night_sum" bson:"price_per_night_sum"`
	LineTotal        float64  `json:"line_total" bson:"line_total"`
}

type BookingDetails struct {
	Booking
	Lines []BookingLine `json:"lines"`
}

// RoomTypeCounts returns the per-type quantities recorded in lines.
func RoomTypeCounts(lines []BookingLine) map[RoomType]int {
	counts := make(map[RoomType]int, len(lines))
	for _, l := range lines {
		counts[l.RoomType] += l.Quantity
	}
	return counts
}

type CreateBookingRequest struct {
	RoomTypes map[RoomType]int `json:"room_types" validate:"required,min=1,room_counts"`
	Guests    int              `json:"guests" validate:"required,min=1,max=100"`
	CheckIn   string           `json:"check_in" validate:"required,date_only"`
	CheckOut  string           `json:"check_out" validate:"required,date_only"`
	Name      string           `json:"name" validate:"required,min=1,max=200"`
	Email     string           `json:"email" validate:"required,email,max=254"`
	Note      string           `json:"note,omitempty" validate:"max=2000"`
}

// BookingPatch carries a partial modification. Nil fields keep the stored
// value.
type BookingPatch struct {
	RoomTypes map[RoomType]int `json:"room_types,omitempty" validate:"omitempty,min=1,room_counts"`
	Guests    *int             `json:"guests,omitempty" validate:"omitempty,min=1,max=100"`
	CheckIn   *string          `json:"check_in,omitempty" validate:"omitempty,date_only"`
	CheckOut  *string          `json:"check_out,omitempty" validate:"omitempty,date_only"`
	Name      *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Email     *string          `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Note      *string          `json:"note,omitempty" validate:"omitempty,max=2000"`
}

// IsStructural reports whether applying the patch changes which room nights
// the booking holds.
func (p *BookingPatch) IsStructural() bool {
	return p.RoomTypes != nil || p.Guests != nil || p.CheckIn != nil || p.CheckOut != nil
}

func (p *BookingPatch) IsEmpty() bool {
	return !p.IsStructural() && p.Name == nil && p.Email == nil && p.Note == nil
}
