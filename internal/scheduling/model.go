package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// SlotLength is the fixed granularity of the booking calendar. Shifts are cut
// into slots of exactly this length; a trailing remainder shorter than one
// slot is dropped.
const SlotLength = 30 * time.Minute

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingAssigned   BookingStatus = "assigned"
	BookingInProgress BookingStatus = "in_progress"
	BookingCancelled  BookingStatus = "cancelled"
	BookingCompleted  BookingStatus = "completed"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotBlocked   SlotStatus = "blocked"
)

// MatchStatus tracks the SOS escalation state machine for emergency bookings.
type MatchStatus string

const (
	MatchNone      MatchStatus = "none"
	MatchSearching MatchStatus = "matching"
	MatchMatched   MatchStatus = "matched"
	MatchUnmatched MatchStatus = "unmatched"
)

type Clinic struct {
	ID        uuid.UUID
	Name      string
	City      *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Staff struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Shift is one staff member's working interval at one clinic on one date.
// Immutable once any of its slots is booked.
type Shift struct {
	ID        uuid.UUID
	StaffID   uuid.UUID
	ClinicID  uuid.UUID
	WorkDate  time.Time
	StartTime time.Time
	EndTime   time.Time
	Overnight bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is a fixed 30-minute bookable sub-interval of a shift. Version is an
// optimistic-lock counter; every status change must carry the version the
// writer read, so two assigners racing for the same slot cannot both win.
type Slot struct {
	ID        uuid.UUID
	ShiftID   uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Status    SlotStatus
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Booking struct {
	ID          uuid.UUID
	Code        string
	ClinicID    uuid.UUID
	OwnerID     uuid.UUID
	PetID       uuid.UUID
	StaffID     *uuid.UUID
	Status      BookingStatus
	Emergency   bool
	RequestedAt time.Time
	CancelNote  *string

	// SOS matching state, meaningful only when Emergency is true.
	MatchStatus    MatchStatus
	MatchPosition  int
	MatchClinicID  *uuid.UUID
	MatchStartedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServiceItem is one requested service line within a booking. SlotsRequired is
// derived from the service duration at creation time: ceil(duration / 30min).
type ServiceItem struct {
	ID              uuid.UUID
	BookingID       uuid.UUID
	ServiceID       uuid.UUID
	Position        int
	DurationMinutes int
}

// SlotsRequired returns how many contiguous slots this item needs.
func (it ServiceItem) SlotsRequired() int {
	n := (it.DurationMinutes + int(SlotLength/time.Minute) - 1) / int(SlotLength/time.Minute)
	if n < 1 {
		n = 1
	}
	return n
}

// BookingSlot links one physical slot to one service line of one booking.
type BookingSlot struct {
	ID            uuid.UUID
	BookingID     uuid.UUID
	SlotID        uuid.UUID
	ServiceItemID uuid.UUID
	CreatedAt     time.Time
}

// SOSCandidate is one entry in the ordered candidate-clinic list of an
// emergency booking. The list itself is produced by the matching workflow
// outside this package.
type SOSCandidate struct {
	BookingID uuid.UUID
	Position  int
	ClinicID  uuid.UUID
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// EligibleForAutoCancel reports whether the sweeper may cancel this booking.
// Only bookings still waiting for owner confirmation are swept; every other
// status is either already terminal or owned by a later stage of the workflow.
func (b *Booking) EligibleForAutoCancel() bool {
	return b.Status == BookingPending
}
