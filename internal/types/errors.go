package types

import "errors"

var (
	// ErrDataAlignment is returned when the weather and water level records do
	// not share a usable common period.
	ErrDataAlignment = errors.New("data alignment error")

	// ErrInvalidArgument is returned for structurally bad input: empty series,
	// non-positive specific yield, unknown propagation direction, etc.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned by stores when a calibration run does not exist.
	ErrNotFound = errors.New("not found")
)
