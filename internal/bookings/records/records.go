// Package records maps rooms, bookings, booking lines and night locks onto
// the single-table key layout used by every store backend.
package records

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"bonzai/pkg/model"
	"bonzai/pkg/store"
)

const (
	RoomPartition  = "ROOM"
	ConfirmationSK = "CONFIRMATION"

	roomLockPrefix = "ROOM#"
	datePrefix     = "DATE#"
	bookingPrefix  = "BOOKING#"
	linePrefix     = "LINE#"
)

// NightLock is the body stored under a (room, night) key.
type NightLock struct {
	RoomNo    int    `json:"room_no"`
	Date      string `json:"date"`
	BookingID string `json:"booking_id"`
}

func RoomKey(roomNo int) store.Key {
	return store.Key{PK: RoomPartition, SK: fmt.Sprintf("%06d", roomNo)}
}

func LockPartition(roomNo int) string {
	return roomLockPrefix + strconv.Itoa(roomNo)
}

func DateSortKey(date string) string {
	return datePrefix + date
}

func LockKey(roomNo int, date string) store.Key {
	return store.Key{PK: LockPartition(roomNo), SK: DateSortKey(date)}
}

func BookingPartition(bookingID string) string {
	return bookingPrefix + bookingID
}

func ConfirmationKey(bookingID string) store.Key {
	return store.Key{PK: BookingPartition(bookingID), SK: ConfirmationSK}
}

// LineKey addresses the n-th booking line, counting from 1.
func LineKey(bookingID string, n int) store.Key {
	return store.Key{PK: BookingPartition(bookingID), SK: fmt.Sprintf("%s%03d", linePrefix, n)}
}

func IsLineKey(k store.Key) bool {
	return strings.HasPrefix(k.SK, linePrefix)
}

// LockKeys is the Cartesian product rooms x nights in room-major order.
func LockKeys(rooms []int, nights []string) []store.Key {
	keys := make([]store.Key, 0, len(rooms)*len(nights))
	for _, roomNo := range rooms {
		for _, night := range nights {
			keys = append(keys, LockKey(roomNo, night))
		}
	}
	return keys
}

func LockItem(roomNo int, date, bookingID string) store.Item {
	body, _ := json.Marshal(NightLock{RoomNo: roomNo, Date: date, BookingID: bookingID})
	return store.Item{
		Key:   LockKey(roomNo, date),
		Owner: bookingID,
		Date:  date,
		Body:  body,
	}
}

func RoomItem(room model.Room) (store.Item, error) {
	body, err := json.Marshal(room)
	if err != nil {
		return store.Item{}, fmt.Errorf("failed to encode room %d: %w", room.RoomNo, err)
	}
	return store.Item{Key: RoomKey(room.RoomNo), Body: body}, nil
}

func DecodeRoom(item store.Item) (model.Room, error) {
	var room model.Room
	if err := json.Unmarshal(item.Body, &room); err != nil {
		return model.Room{}, fmt.Errorf("failed to decode room %s: %w", item.SK, err)
	}
	return room, nil
}

func ConfirmationItem(b *model.Booking) (store.Item, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return store.Item{}, fmt.Errorf("failed to encode booking %s: %w", b.BookingID, err)
	}
	return store.Item{
		Key:     ConfirmationKey(b.BookingID),
		Status:  string(b.Status),
		Version: b.Version,
		Body:    body,
	}, nil
}

func DecodeBooking(item store.Item) (*model.Booking, error) {
	var b model.Booking
	if err := json.Unmarshal(item.Body, &b); err != nil {
		return nil, fmt.Errorf("failed to decode booking %s: %w", item.PK, err)
	}
	if item.Status != "" {
		b.Status = model.BookingStatus(item.Status)
	}
	b.Version = item.Version
	return &b, nil
}

func LineItem(bookingID string, n int, line model.BookingLine) (store.Item, error) {
	body, err := json.Marshal(line)
	if err != nil {
		return store.Item{}, fmt.Errorf("failed to encode line %d of %s: %w", n, bookingID, err)
	}
	return store.Item{Key: LineKey(bookingID, n), Body: body}, nil
}

func DecodeLine(item store.Item) (model.BookingLine, error) {
	var line model.BookingLine
	if err := json.Unmarshal(item.Body, &line); err != nil {
		return model.BookingLine{}, fmt.Errorf("failed to decode line %s/%s: %w", item.PK, item.SK, err)
	}
	return line, nil
}
