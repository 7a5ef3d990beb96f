package bookings

import "errors"

var (
	// ErrValidation is returned when a request field is missing or malformed.
	ErrValidation = errors.New("validation failed")

	// ErrBusinessHours is returned when a slot falls outside the center's grid.
	ErrBusinessHours = errors.New("slot outside business hours")

	// ErrPastSlot is returned when a slot starts before now.
	ErrPastSlot = errors.New("slot is in the past")

	// ErrSlotConflict is returned when an active booking already overlaps the slot.
	ErrSlotConflict = errors.New("slot already booked")

	// ErrNotFound is returned when a booking does not exist.
	ErrNotFound = errors.New("booking not found")

	// ErrInvalidState is returned when the booking status forbids the operation.
	ErrInvalidState = errors.New("invalid booking state")

	// ErrNoAvailableSlot is returned when move-down finds no later free slot that day.
	ErrNoAvailableSlot = errors.New("no available slot later that day")

	// ErrStore wraps unexpected persistence failures.
	ErrStore = errors.New("booking store failure")
)
