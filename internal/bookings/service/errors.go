package service

import (
	"errors"

	bookingserrors "bonzai/internal/bookings/errors"
	apperrors "bonzai/pkg/errors"
)

// mapDomainError converts engine failures into client facing errors. Storage
// details behind a conflict are never exposed.
func mapDomainError(err error, id string) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, bookingserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Booking", id)
	case errors.Is(err, bookingserrors.ErrInvalidRange):
		return apperrors.BadRequestWithCode(bookingserrors.CodeInvalidRange, err.Error(), err)
	case errors.Is(err, bookingserrors.ErrInvalidRoomType):
		return apperrors.BadRequestWithCode(bookingserrors.CodeInvalidRoomType, err.Error(), err)
	case errors.Is(err, bookingserrors.ErrNoRoomsRequested), errors.Is(err, bookingserrors.ErrEmptyPatch):
		return apperrors.InvalidInput(err.Error())
	case errors.Is(err, bookingserrors.ErrInsufficientInventory):
		return apperrors.ConflictWithCode(bookingserrors.CodeInsufficientInventory, err.Error(), err)
	case errors.Is(err, bookingserrors.ErrInsufficientCapacity):
		return apperrors.ConflictWithCode(bookingserrors.CodeInsufficientCapacity, err.Error(), err)
	case errors.Is(err, bookingserrors.ErrAlreadyCancelled):
		return apperrors.ConflictWithCode(bookingserrors.CodeAlreadyCancelled, err.Error(), err)
	case errors.Is(err, bookingserrors.ErrCancellationWindow):
		return apperrors.ConflictWithCode(bookingserrors.CodeCancellationWindow, err.Error(), err)
	case errors.Is(err, bookingserrors.ErrConcurrentConflict):
		return apperrors.ConflictWithCode(bookingserrors.CodeConcurrentConflict, bookingserrors.ErrConcurrentConflict.Error(), err)
	default:
		return apperrors.Internal("Failed to process booking", err)
	}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		bookingserrors.ErrNotFound,
		bookingserrors.ErrInvalidRange,
		bookingserrors.ErrInvalidRoomType,
		bookingserrors.ErrNoRoomsRequested,
		bookingserrors.ErrInsufficientInventory,
		bookingserrors.ErrInsufficientCapacity,
		bookingserrors.ErrAlreadyCancelled,
		bookingserrors.ErrCancellationWindow,
		bookingserrors.ErrEmptyPatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
