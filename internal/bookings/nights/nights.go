// Package nights turns a stay into the calendar nights it occupies.
package nights

import (
	"fmt"
	"time"

	bookingserrors "bonzai/internal/bookings/errors"
)

const DateLayout = "2006-01-02"

// Parse reads a YYYY-MM-DD date as UTC midnight.
func Parse(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", bookingserrors.ErrInvalidRange, date)
	}
	return t, nil
}

// Enumerate returns the nights of the half-open stay [checkIn, checkOut) in
// ascending order. It never returns an empty slice without an error.
func Enumerate(checkIn, checkOut string) ([]string, error) {
	start, err := Parse(checkIn)
	if err != nil {
		return nil, err
	}
	end, err := Parse(checkOut)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: %s is not before %s", bookingserrors.ErrInvalidRange, checkIn, checkOut)
	}

	out := make([]string, 0, int(end.Sub(start).Hours()/24))
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(DateLayout))
	}
	return out, nil
}
