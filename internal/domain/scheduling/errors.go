package scheduling

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the engine returns wraps exactly one of these, and
// the HTTP layer maps them to status codes with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)

var (
	ErrProviderNotFound = fmt.Errorf("provider %w", ErrNotFound)
	ErrClientNotFound   = fmt.Errorf("client %w", ErrNotFound)
	ErrWindowNotFound   = fmt.Errorf("availability window %w", ErrNotFound)
	ErrSlotNotFound     = fmt.Errorf("slot %w", ErrNotFound)
	ErrBookingNotFound  = fmt.Errorf("booking %w", ErrNotFound)

	ErrSlotFull          = fmt.Errorf("%w: slot has no remaining capacity", ErrConflict)
	ErrDuplicateSession  = fmt.Errorf("%w: client already holds a booking with this provider in this session", ErrConflict)
	ErrWindowExists      = fmt.Errorf("%w: availability already exists for this provider and date", ErrConflict)
	ErrHasBookings       = fmt.Errorf("%w: bookings already exist", ErrConflict)
	ErrSlotOverlap       = fmt.Errorf("%w: slot overlaps an existing slot", ErrConflict)
	ErrAlreadyCancelled  = fmt.Errorf("%w: booking is already cancelled", ErrConflict)
	ErrInvalidShift      = fmt.Errorf("%w: shift must be between %d and %d minutes", ErrConflict, MinShiftMinutes, MaxShiftMinutes)
	ErrShiftPastMidnight = fmt.Errorf("%w: shift would move a reporting time past 23:59", ErrConflict)
	ErrSlotBusy          = fmt.Errorf("%w: slot is being booked by someone else, retry", ErrConflict)

	ErrNotBookingParty = fmt.Errorf("%w: caller is neither the provider nor the client of this booking", ErrForbidden)
	ErrNotOwner        = fmt.Errorf("%w: resource belongs to another provider", ErrForbidden)
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
