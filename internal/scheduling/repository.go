package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrShiftNotFound   = errors.New("shift not found")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrBookingNotFound = errors.New("booking not found")

	// ErrSlotVersionConflict means a compare-and-swap on a slot lost the race:
	// the slot's status or version changed since it was read.
	ErrSlotVersionConflict = errors.New("slot version conflict")

	// ErrShiftHasBookedSlots rejects slot regeneration for a shift that already
	// has reservations against it.
	ErrShiftHasBookedSlots = errors.New("shift has booked slots")

	// ErrNoCandidate means the SOS candidate list has no entry at the requested
	// position.
	ErrNoCandidate = errors.New("no candidate clinic at position")
)

// Repository contains all store interactions needed by the scheduling service.
type Repository interface {
	// Shifts and slots
	GetShiftByID(ctx context.Context, id uuid.UUID) (*Shift, error)
	GetShiftForStaffDate(ctx context.Context, staffID uuid.UUID, workDate time.Time) (*Shift, error)
	// ReplaceShiftSlots deletes a shift's existing slots and inserts the given
	// ones in a single transaction. Fails with ErrShiftHasBookedSlots if any
	// existing slot is booked.
	ReplaceShiftSlots(ctx context.Context, shiftID uuid.UUID, slots []Slot) error
	ListAvailableSlots(ctx context.Context, shiftID uuid.UUID) ([]Slot, error)
	// ReserveSlot flips one slot from available to booked iff its version still
	// matches what the caller read. Returns ErrSlotVersionConflict on a lost race.
	ReserveSlot(ctx context.Context, slotID uuid.UUID, version int) (*Slot, error)
	UpdateSlotStatus(ctx context.Context, slotID uuid.UUID, from, to SlotStatus, version int) (*Slot, error)

	// Bookings
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	CreateBooking(ctx context.Context, b *Booking, items []ServiceItem) error
	ListServiceItems(ctx context.Context, bookingID uuid.UUID) ([]ServiceItem, error)
	InsertBookingSlot(ctx context.Context, bs BookingSlot) error
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error)

	// Expiry sweeper
	FindStalePending(ctx context.Context, cutoff time.Time) ([]Booking, error)
	CancelBooking(ctx context.Context, id uuid.UUID, from BookingStatus, note string) (*Booking, error)

	// SOS escalation
	CreateSOSCandidates(ctx context.Context, candidates []SOSCandidate) error
	GetSOSCandidate(ctx context.Context, bookingID uuid.UUID, position int) (*SOSCandidate, error)
	// BeginMatch opens the first matching attempt for a booking that is not
	// yet matching.
	BeginMatch(ctx context.Context, bookingID uuid.UUID, first SOSCandidate, startedAt time.Time) (*Booking, error)
	FindStalledMatching(ctx context.Context, cutoff time.Time) ([]Booking, error)
	// AdvanceMatch moves a matching booking to the candidate at next.Position
	// iff its match position is still fromPos.
	AdvanceMatch(ctx context.Context, bookingID uuid.UUID, fromPos int, next SOSCandidate, startedAt time.Time) (*Booking, error)
	MarkUnmatched(ctx context.Context, bookingID uuid.UUID, fromPos int) (*Booking, error)
	MarkMatched(ctx context.Context, bookingID uuid.UUID, clinicID uuid.UUID) (*Booking, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
