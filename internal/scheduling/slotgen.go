package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GenerateSlots cuts a shift's working interval into consecutive fixed-length
// available slots covering [start, end). A trailing remainder shorter than one
// slot is dropped, never emitted as a short slot. A shift shorter than one
// slot yields an empty result rather than an error.
func GenerateSlots(shift *Shift) []Slot {
	start := shift.StartTime
	end := shift.EndTime
	if shift.Overnight && !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}

	var slots []Slot
	for cur := start; !cur.Add(SlotLength).After(end); cur = cur.Add(SlotLength) {
		slots = append(slots, Slot{
			ID:        uuid.New(),
			ShiftID:   shift.ID,
			StartTime: cur,
			EndTime:   cur.Add(SlotLength),
			Status:    SlotAvailable,
		})
	}
	return slots
}

// RegenerateShiftSlots replaces a shift's slots with a freshly generated set.
// Regeneration is rejected with ErrShiftHasBookedSlots if any existing slot is
// already booked; a shift with reservations against it is immutable.
func (s *Service) RegenerateShiftSlots(ctx context.Context, shiftID uuid.UUID) ([]Slot, error) {
	shift, err := s.repo.GetShiftByID(ctx, shiftID)
	if err != nil {
		return nil, fmt.Errorf("load shift: %w", err)
	}

	slots := GenerateSlots(shift)

	if err := s.repo.ReplaceShiftSlots(ctx, shift.ID, slots); err != nil {
		return nil, fmt.Errorf("replace shift slots: %w", err)
	}

	return slots, nil
}
