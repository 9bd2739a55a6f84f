package errors

import "errors"

var (
	ErrNotFound = errors.New("room not found")

	ErrDuplicateRoomNo = errors.New("room number appears more than once")

	ErrEmptyCatalog = errors.New("room catalog is empty")
)
