package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pawcare/vetsched/internal/config"
	redisclient "github.com/pawcare/vetsched/internal/redis"
)

const (
	EventBookingCreated           = "BOOKING_CREATED"
	EventBookingAssigned          = "BOOKING_ASSIGNED"
	EventBookingPartiallyAssigned = "BOOKING_PARTIALLY_ASSIGNED"
	EventBookingAutoCancelled     = "BOOKING_AUTO_CANCELLED"
)

const autoCancelNote = "auto-cancelled: booking was not confirmed in time"

// Notifier pushes a booking event toward the pet owner. Delivery is handled by
// the notification service outside this package; a failed push never rolls
// back the state change it reports.
type Notifier interface {
	BookingEvent(ctx context.Context, bookingID uuid.UUID, kind string) error
}

// CodeIssuer hands out human-facing booking codes. Implementations must be
// safe for concurrent processes; no in-memory counters.
type CodeIssuer interface {
	NextBookingCode(ctx context.Context, day time.Time) (string, error)
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	codes    CodeIssuer
	cfg      config.Config
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, codes CodeIssuer, cfg config.Config) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		codes:    codes,
		cfg:      cfg,
	}
}

type NewServiceItem struct {
	ServiceID       uuid.UUID
	DurationMinutes int
}

type NewBooking struct {
	ClinicID    uuid.UUID
	OwnerID     uuid.UUID
	PetID       uuid.UUID
	StaffID     *uuid.UUID
	RequestedAt time.Time
	Emergency   bool
	Services    []NewServiceItem
}

// CreateBooking persists a pending booking with its ordered service lines.
// The booking stays pending until the owner confirms it; the expiry sweeper
// cancels it if that takes longer than the pending timeout.
func (s *Service) CreateBooking(ctx context.Context, in NewBooking) (*Booking, error) {
	if len(in.Services) == 0 {
		return nil, errors.New("booking needs at least one service")
	}

	code, err := s.codes.NextBookingCode(ctx, in.RequestedAt)
	if err != nil {
		return nil, fmt.Errorf("issue booking code: %w", err)
	}

	booking := &Booking{
		ID:          uuid.New(),
		Code:        code,
		ClinicID:    in.ClinicID,
		OwnerID:     in.OwnerID,
		PetID:       in.PetID,
		StaffID:     in.StaffID,
		Status:      BookingPending,
		Emergency:   in.Emergency,
		RequestedAt: in.RequestedAt,
		MatchStatus: MatchNone,
	}

	items := make([]ServiceItem, 0, len(in.Services))
	for i, svc := range in.Services {
		items = append(items, ServiceItem{
			ID:              uuid.New(),
			BookingID:       booking.ID,
			ServiceID:       svc.ServiceID,
			Position:        i,
			DurationMinutes: svc.DurationMinutes,
		})
	}

	if err := s.repo.CreateBooking(ctx, booking, items); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.logEvent(ctx, booking.ID, EventBookingCreated, map[string]any{
		"code":      booking.Code,
		"emergency": booking.Emergency,
		"services":  len(items),
	})

	return booking, nil
}

// ConfirmBooking moves a pending booking to confirmed, making it eligible for
// slot assignment and no longer subject to the expiry sweep.
func (s *Service) ConfirmBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	updated, err := s.repo.UpdateBookingStatus(ctx, id, BookingPending, BookingConfirmed)
	if err != nil {
		return nil, fmt.Errorf("confirm booking: %w", err)
	}
	return updated, nil
}

// ExpireStalePendingBookings is called periodically by the expiry worker. It
// cancels every pending booking older than the pending timeout, attaching a
// system cancellation note and notifying the owner. Each booking is processed
// independently; a failure on one never aborts the sweep.
func (s *Service) ExpireStalePendingBookings(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.PendingTimeout)
	stale, err := s.repo.FindStalePending(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find stale pending bookings: %w", err)
	}

	for _, b := range stale {
		if !b.EligibleForAutoCancel() {
			continue
		}
		_, err := s.repo.CancelBooking(ctx, b.ID, BookingPending, autoCancelNote)
		if err != nil {
			// Already cancelled or confirmed since the select; the next tick
			// will not see it again.
			if !errors.Is(err, ErrBookingNotFound) {
				log.Printf("failed to auto-cancel booking %s: %v", b.ID, err)
			}
			continue
		}
		s.logEvent(ctx, b.ID, EventBookingAutoCancelled, map[string]any{
			"created_at": b.CreatedAt,
		})
		s.notify(ctx, b.ID, EventBookingAutoCancelled)
	}

	return nil
}

// BlockSlot takes an available slot out of the calendar, e.g. for a break.
func (s *Service) BlockSlot(ctx context.Context, slotID uuid.UUID, version int) (*Slot, error) {
	slot, err := s.repo.UpdateSlotStatus(ctx, slotID, SlotAvailable, SlotBlocked, version)
	if err != nil {
		return nil, fmt.Errorf("block slot: %w", err)
	}
	return slot, nil
}

// UnblockSlot returns a manually blocked slot to the calendar.
func (s *Service) UnblockSlot(ctx context.Context, slotID uuid.UUID, version int) (*Slot, error) {
	slot, err := s.repo.UpdateSlotStatus(ctx, slotID, SlotBlocked, SlotAvailable, version)
	if err != nil {
		return nil, fmt.Errorf("unblock slot: %w", err)
	}
	return slot, nil
}

func (s *Service) notify(ctx context.Context, bookingID uuid.UUID, kind string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.BookingEvent(ctx, bookingID, kind); err != nil {
		log.Printf("failed to notify %s for booking %s: %v", kind, bookingID, err)
	}
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	bID := bookingID

	ev := EventLog{
		EventType: eventType,
		BookingID: &bID,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for booking %s: %v", eventType, bookingID, err)
	}
}
