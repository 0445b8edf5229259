package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/pawcare/vetsched/internal/redis"
)

var (
	ErrNoStaffAssigned = errors.New("booking has no assigned staff")
	ErrCalendarBusy    = errors.New("staff calendar is being modified, please retry")
)

type AssignmentOutcome string

const (
	AssignmentFull    AssignmentOutcome = "full"
	AssignmentPartial AssignmentOutcome = "partial"
	AssignmentNone    AssignmentOutcome = "none"
)

// ItemAssignment reports the result for one service line: either the
// contiguous slots reserved for it, or Assigned=false when no qualifying run
// of slots existed. An unassigned item is an outcome, not an error.
type ItemAssignment struct {
	ServiceItemID uuid.UUID
	ServiceID     uuid.UUID
	Assigned      bool
	Slots         []Slot
}

type AssignmentResult struct {
	BookingID uuid.UUID
	Items     []ItemAssignment
}

func (r *AssignmentResult) Outcome() AssignmentOutcome {
	assigned := 0
	for _, it := range r.Items {
		if it.Assigned {
			assigned++
		}
	}
	switch {
	case len(r.Items) == 0 || assigned == 0:
		return AssignmentNone
	case assigned == len(r.Items):
		return AssignmentFull
	default:
		return AssignmentPartial
	}
}

// AssignBooking reserves slots for every service line of a booking against the
// assigned staff member's shift on the booking's requested date.
//
// Service items are processed in their declared order. For each item the
// search starts at the current cursor (initially the booking's requested
// time), walks the staff member's available slots in time order, and reserves
// the first contiguous run long enough for the item. The cursor then advances
// to the end of the reserved run, so no later item can start earlier than an
// earlier item ends. Items that find no qualifying run are reported
// unassigned; the booking is moved to assigned only when every item got slots.
func (s *Service) AssignBooking(ctx context.Context, bookingID uuid.UUID) (*AssignmentResult, error) {
	booking, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if booking.StaffID == nil {
		return nil, ErrNoStaffAssigned
	}

	items, err := s.repo.ListServiceItems(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("load service items: %w", err)
	}

	day := booking.RequestedAt
	shift, err := s.repo.GetShiftForStaffDate(ctx, *booking.StaffID, day)
	if err != nil {
		return nil, fmt.Errorf("load shift: %w", err)
	}

	result := &AssignmentResult{BookingID: booking.ID}

	err = s.locker.WithCalendarLock(ctx, *booking.StaffID, day, func(lockCtx context.Context) error {
		open, err := s.repo.ListAvailableSlots(lockCtx, shift.ID)
		if err != nil {
			return fmt.Errorf("list available slots: %w", err)
		}

		cursor := booking.RequestedAt
		taken := make(map[uuid.UUID]bool, len(open))

		for _, item := range items {
			reserved, err := s.reserveRun(lockCtx, booking, item, open, taken, cursor)
			if err != nil {
				return err
			}

			ia := ItemAssignment{
				ServiceItemID: item.ID,
				ServiceID:     item.ServiceID,
				Assigned:      len(reserved) > 0,
				Slots:         reserved,
			}
			result.Items = append(result.Items, ia)

			if ia.Assigned {
				for _, sl := range reserved {
					taken[sl.ID] = true
				}
				cursor = reserved[len(reserved)-1].EndTime
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrCalendarBusy
		}
		return nil, err
	}

	switch result.Outcome() {
	case AssignmentFull:
		if _, err := s.repo.UpdateBookingStatus(ctx, booking.ID, booking.Status, BookingAssigned); err != nil {
			return nil, fmt.Errorf("mark booking assigned: %w", err)
		}
		s.logEvent(ctx, booking.ID, EventBookingAssigned, map[string]any{
			"staff_id": booking.StaffID.String(),
			"items":    len(result.Items),
		})
		s.notify(ctx, booking.ID, EventBookingAssigned)
	case AssignmentPartial:
		s.logEvent(ctx, booking.ID, EventBookingPartiallyAssigned, map[string]any{
			"staff_id": booking.StaffID.String(),
		})
		s.notify(ctx, booking.ID, EventBookingPartiallyAssigned)
	}

	return result, nil
}

// reserveRun finds and reserves the first contiguous run of slots that can
// hold the item, starting at or after the cursor. Returns nil when no run
// qualifies. A lost compare-and-swap on any slot of a candidate run releases
// the run's earlier reservations and moves the search past the contested slot.
func (s *Service) reserveRun(ctx context.Context, booking *Booking, item ServiceItem, open []Slot, taken map[uuid.UUID]bool, cursor time.Time) ([]Slot, error) {
	need := item.SlotsRequired()

search:
	for i := 0; i <= len(open)-need; i++ {
		if open[i].StartTime.Before(cursor) || taken[open[i].ID] {
			continue
		}
		for j := 1; j < need; j++ {
			if taken[open[i+j].ID] || !open[i+j].StartTime.Equal(open[i+j-1].EndTime) {
				continue search
			}
		}

		run := make([]Slot, 0, need)
		for j := 0; j < need; j++ {
			reserved, err := s.repo.ReserveSlot(ctx, open[i+j].ID, open[i+j].Version)
			if err != nil {
				if errors.Is(err, ErrSlotVersionConflict) || errors.Is(err, ErrSlotNotFound) {
					s.releaseRun(ctx, run)
					taken[open[i+j].ID] = true
					continue search
				}
				return nil, fmt.Errorf("reserve slot %s: %w", open[i+j].ID, err)
			}
			run = append(run, *reserved)
		}

		for _, sl := range run {
			bs := BookingSlot{
				ID:            uuid.New(),
				BookingID:     booking.ID,
				SlotID:        sl.ID,
				ServiceItemID: item.ID,
			}
			if err := s.repo.InsertBookingSlot(ctx, bs); err != nil {
				return nil, fmt.Errorf("insert booking slot: %w", err)
			}
		}
		return run, nil
	}

	return nil, nil
}

func (s *Service) releaseRun(ctx context.Context, run []Slot) {
	for _, sl := range run {
		if _, err := s.repo.UpdateSlotStatus(ctx, sl.ID, SlotBooked, SlotAvailable, sl.Version); err != nil {
			log.Printf("failed to release slot %s after lost reservation race: %v", sl.ID, err)
		}
	}
}
