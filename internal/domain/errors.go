package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrVenueUnavailable = errors.New("venue unavailable")
	ErrCycleInFlight    = errors.New("detection cycle already in flight")
)
