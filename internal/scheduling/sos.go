package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const (
	EventSOSStarted   = "SOS_MATCHING_STARTED"
	EventSOSAdvanced  = "SOS_ADVANCED"
	EventSOSMatched   = "SOS_MATCHED"
	EventSOSUnmatched = "SOS_UNMATCHED"
)

var ErrNoCandidates = errors.New("sos matching needs at least one candidate clinic")

// StartSOSMatching registers the ordered candidate clinics for an emergency
// booking and opens the first matching attempt against the head of the list.
// The candidate list itself comes from the matching workflow outside this
// package.
func (s *Service) StartSOSMatching(ctx context.Context, bookingID uuid.UUID, clinicIDs []uuid.UUID) (*Booking, error) {
	if len(clinicIDs) == 0 {
		return nil, ErrNoCandidates
	}

	candidates := make([]SOSCandidate, 0, len(clinicIDs))
	for i, clinicID := range clinicIDs {
		candidates = append(candidates, SOSCandidate{
			BookingID: bookingID,
			Position:  i,
			ClinicID:  clinicID,
		})
	}

	if err := s.repo.CreateSOSCandidates(ctx, candidates); err != nil {
		return nil, fmt.Errorf("create sos candidates: %w", err)
	}

	booking, err := s.repo.BeginMatch(ctx, bookingID, candidates[0], time.Now())
	if err != nil {
		return nil, fmt.Errorf("begin sos match: %w", err)
	}

	s.logEvent(ctx, booking.ID, EventSOSStarted, map[string]any{
		"candidates": len(candidates),
		"clinic_id":  candidates[0].ClinicID.String(),
	})

	return booking, nil
}

// MarkMatched records a clinic's acceptance of an SOS booking. Called by the
// clinic-response path; ends the matching cycle for this booking.
func (s *Service) MarkMatched(ctx context.Context, bookingID, clinicID uuid.UUID) (*Booking, error) {
	booking, err := s.repo.MarkMatched(ctx, bookingID, clinicID)
	if err != nil {
		return nil, fmt.Errorf("mark sos matched: %w", err)
	}

	s.logEvent(ctx, booking.ID, EventSOSMatched, map[string]any{
		"clinic_id": clinicID.String(),
	})
	s.notify(ctx, booking.ID, EventSOSMatched)

	return booking, nil
}

// AdvanceStalledMatches is called periodically by the SOS worker. Every
// matching booking whose current attempt is older than the response timeout is
// moved to the next candidate clinic with a fresh attempt timer, or marked
// unmatched when the candidate list is exhausted. Bookings are processed
// independently; a failure on one never blocks the rest.
func (s *Service) AdvanceStalledMatches(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.SOSResponseTimeout)
	stalled, err := s.repo.FindStalledMatching(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find stalled sos matches: %w", err)
	}

	for _, b := range stalled {
		if b.MatchStatus != MatchSearching {
			continue
		}

		next, err := s.repo.GetSOSCandidate(ctx, b.ID, b.MatchPosition+1)
		if err != nil {
			if errors.Is(err, ErrNoCandidate) {
				s.failMatch(ctx, b)
				continue
			}
			log.Printf("failed to load next sos candidate for booking %s: %v", b.ID, err)
			continue
		}

		_, err = s.repo.AdvanceMatch(ctx, b.ID, b.MatchPosition, *next, time.Now())
		if err != nil {
			// ErrBookingNotFound here means the clinic answered between the
			// select and the update; leave the booking alone.
			if !errors.Is(err, ErrBookingNotFound) {
				log.Printf("failed to advance sos match for booking %s: %v", b.ID, err)
			}
			continue
		}

		s.logEvent(ctx, b.ID, EventSOSAdvanced, map[string]any{
			"position":  next.Position,
			"clinic_id": next.ClinicID.String(),
		})
		s.notify(ctx, b.ID, EventSOSAdvanced)
	}

	return nil
}

func (s *Service) failMatch(ctx context.Context, b Booking) {
	if _, err := s.repo.MarkUnmatched(ctx, b.ID, b.MatchPosition); err != nil {
		if !errors.Is(err, ErrBookingNotFound) {
			log.Printf("failed to mark booking %s unmatched: %v", b.ID, err)
		}
		return
	}
	s.logEvent(ctx, b.ID, EventSOSUnmatched, map[string]any{
		"attempts": b.MatchPosition + 1,
	})
	s.notify(ctx, b.ID, EventSOSUnmatched)
}
