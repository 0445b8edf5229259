package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func emergencyBooking(repo *memRepo) *Booking {
	b := Booking{
		ID:          uuid.New(),
		Code:        "BK-SOS",
		ClinicID:    uuid.New(),
		OwnerID:     uuid.New(),
		PetID:       uuid.New(),
		Status:      BookingPending,
		Emergency:   true,
		RequestedAt: time.Now(),
		MatchStatus: MatchNone,
		CreatedAt:   time.Now(),
	}
	repo.addBooking(b, nil)
	return &b
}

// backdateMatch rewinds the current attempt's start so the escalation tick
// sees it as stalled.
func backdateMatch(repo *memRepo, id uuid.UUID, age time.Duration) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	started := time.Now().Add(-age)
	repo.bookings[id].MatchStartedAt = &started
}

func TestStartSOSMatching(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(repo, noopLocker{}, nil, &staticCodes{}, testConfig())

	b := emergencyBooking(repo)
	clinicA, clinicB := uuid.New(), uuid.New()

	matched, err := svc.StartSOSMatching(ctx, b.ID, []uuid.UUID{clinicA, clinicB})
	if err != nil {
		t.Fatalf("start matching: %v", err)
	}

	if matched.MatchStatus != MatchSearching {
		t.Errorf("match status = %s, want matching", matched.MatchStatus)
	}
	if matched.MatchPosition != 0 {
		t.Errorf("match position = %d, want 0", matched.MatchPosition)
	}
	if matched.MatchClinicID == nil || *matched.MatchClinicID != clinicA {
		t.Errorf("match clinic = %v, want first candidate", matched.MatchClinicID)
	}
	if matched.MatchStartedAt == nil {
		t.Error("match started at not set")
	}
}

func TestStartSOSMatchingNeedsCandidates(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, noopLocker{}, nil, &staticCodes{}, testConfig())
	b := emergencyBooking(repo)

	_, err := svc.StartSOSMatching(context.Background(), b.ID, nil)
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("got %v, want ErrNoCandidates", err)
	}
}

func TestAdvanceStalledMatches(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	notifier := newRecordingNotifier()
	svc := NewService(repo, noopLocker{}, notifier, &staticCodes{}, testConfig())

	b := emergencyBooking(repo)
	clinicA, clinicB := uuid.New(), uuid.New()
	if _, err := svc.StartSOSMatching(ctx, b.ID, []uuid.UUID{clinicA, clinicB}); err != nil {
		t.Fatalf("start matching: %v", err)
	}

	// Attempt not yet timed out: nothing moves.
	if err := svc.AdvanceStalledMatches(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := repo.bookingByID(b.ID); got.MatchPosition != 0 {
		t.Fatalf("match advanced before timeout, position = %d", got.MatchPosition)
	}

	// Time out the first attempt: advance to clinic B with a fresh timer.
	backdateMatch(repo, b.ID, 2*time.Minute)
	if err := svc.AdvanceStalledMatches(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got := repo.bookingByID(b.ID)
	if got.MatchStatus != MatchSearching {
		t.Errorf("match status = %s, want still matching", got.MatchStatus)
	}
	if got.MatchPosition != 1 {
		t.Errorf("match position = %d, want 1", got.MatchPosition)
	}
	if got.MatchClinicID == nil || *got.MatchClinicID != clinicB {
		t.Errorf("match clinic = %v, want clinic B", got.MatchClinicID)
	}
	if got.MatchStartedAt == nil || time.Since(*got.MatchStartedAt) > time.Minute {
		t.Error("attempt timer was not reset")
	}
	if kinds := notifier.sent(b.ID); len(kinds) != 1 || kinds[0] != EventSOSAdvanced {
		t.Errorf("notifications = %v, want [%s]", kinds, EventSOSAdvanced)
	}
}

func TestAdvanceStalledMatchesExhaustsCandidates(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	notifier := newRecordingNotifier()
	svc := NewService(repo, noopLocker{}, notifier, &staticCodes{}, testConfig())

	b := emergencyBooking(repo)
	if _, err := svc.StartSOSMatching(ctx, b.ID, []uuid.UUID{uuid.New()}); err != nil {
		t.Fatalf("start matching: %v", err)
	}

	backdateMatch(repo, b.ID, 2*time.Minute)
	if err := svc.AdvanceStalledMatches(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got := repo.bookingByID(b.ID)
	if got.MatchStatus != MatchUnmatched {
		t.Errorf("match status = %s, want unmatched", got.MatchStatus)
	}
	if kinds := notifier.sent(b.ID); len(kinds) != 1 || kinds[0] != EventSOSUnmatched {
		t.Errorf("notifications = %v, want [%s]", kinds, EventSOSUnmatched)
	}

	// Terminal state: further ticks leave the booking alone.
	if err := svc.AdvanceStalledMatches(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if got := repo.bookingByID(b.ID); got.MatchStatus != MatchUnmatched {
		t.Errorf("match status after second tick = %s, want unmatched", got.MatchStatus)
	}
}

func TestAdvanceStalledMatchesIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(repo, noopLocker{}, nil, &staticCodes{}, testConfig())

	// Booking A has a next candidate; booking B is exhausted. Both stalled.
	a := emergencyBooking(repo)
	bb := emergencyBooking(repo)
	if _, err := svc.StartSOSMatching(ctx, a.ID, []uuid.UUID{uuid.New(), uuid.New()}); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if _, err := svc.StartSOSMatching(ctx, bb.ID, []uuid.UUID{uuid.New()}); err != nil {
		t.Fatalf("start b: %v", err)
	}
	backdateMatch(repo, a.ID, 2*time.Minute)
	backdateMatch(repo, bb.ID, 2*time.Minute)

	if err := svc.AdvanceStalledMatches(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if got := repo.bookingByID(a.ID); got.MatchPosition != 1 || got.MatchStatus != MatchSearching {
		t.Errorf("booking a = %s/%d, want matching/1", got.MatchStatus, got.MatchPosition)
	}
	if got := repo.bookingByID(bb.ID); got.MatchStatus != MatchUnmatched {
		t.Errorf("booking b = %s, want unmatched", got.MatchStatus)
	}
}

func TestMarkMatched(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	notifier := newRecordingNotifier()
	svc := NewService(repo, noopLocker{}, notifier, &staticCodes{}, testConfig())

	b := emergencyBooking(repo)
	clinicA := uuid.New()
	if _, err := svc.StartSOSMatching(ctx, b.ID, []uuid.UUID{clinicA}); err != nil {
		t.Fatalf("start matching: %v", err)
	}

	matched, err := svc.MarkMatched(ctx, b.ID, clinicA)
	if err != nil {
		t.Fatalf("mark matched: %v", err)
	}
	if matched.MatchStatus != MatchMatched {
		t.Errorf("match status = %s, want matched", matched.MatchStatus)
	}

	// A matched booking never re-enters escalation.
	backdateMatch(repo, b.ID, 2*time.Minute)
	if err := svc.AdvanceStalledMatches(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := repo.bookingByID(b.ID); got.MatchStatus != MatchMatched {
		t.Errorf("match status after tick = %s, want matched", got.MatchStatus)
	}
}
