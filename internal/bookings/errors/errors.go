package errors

import "errors"

var (
	ErrNotFound = errors.New("booking not found")

	ErrInvalidRange = errors.New("check-out must be after check-in and both must be valid dates")

	ErrInvalidRoomType = errors.New("unknown room type")

	ErrNoRoomsRequested = errors.New("at least one room must be requested")

	ErrInsufficientInventory = errors.New("not enough rooms of the requested types are available")

	ErrInsufficientCapacity = errors.New("selected rooms cannot accommodate the requested guests")

	ErrAlreadyCancelled = errors.New("booking is already cancelled")

	ErrCancellationWindow = errors.New("booking can no longer be cancelled")

	ErrConcurrentConflict = errors.New("rooms were claimed by a concurrent booking")

	ErrEmptyReservation = errors.New("booking has no reserved rooms")

	ErrEmptyPatch = errors.New("modification contains no changes")
)

// Codes surfaced to clients for each domain failure.
const (
	CodeInvalidRange          = "INVALID_RANGE"
	CodeInvalidRoomType       = "INVALID_ROOM_TYPE"
	CodeInsufficientInventory = "INSUFFICIENT_INVENTORY"
	CodeInsufficientCapacity  = "INSUFFICIENT_CAPACITY"
	CodeAlreadyCancelled      = "ALREADY_CANCELLED"
	CodeCancellationWindow    = "CANCELLATION_WINDOW"
	CodeConcurrentConflict    = "CONCURRENT_CONFLICT"
)
