package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pawcare/vetsched/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		PendingTimeout:     30 * time.Minute,
		SOSResponseTimeout: time.Minute,
	}
}

// memRepo is an in-memory Repository for exercising the service without a
// database. Status updates follow the same compare-and-swap rules as the
// Postgres implementation. cancelErr, when set, lets a test inject a store
// failure for specific bookings.
type memRepo struct {
	mu           sync.Mutex
	shifts       map[uuid.UUID]*Shift
	slots        map[uuid.UUID]*Slot
	bookings     map[uuid.UUID]*Booking
	items        map[uuid.UUID][]ServiceItem
	bookingSlots []BookingSlot
	candidates   map[uuid.UUID][]SOSCandidate
	events       []EventLog

	cancelErr func(id uuid.UUID) error
}

func newMemRepo() *memRepo {
	return &memRepo{
		shifts:     make(map[uuid.UUID]*Shift),
		slots:      make(map[uuid.UUID]*Slot),
		bookings:   make(map[uuid.UUID]*Booking),
		items:      make(map[uuid.UUID][]ServiceItem),
		candidates: make(map[uuid.UUID][]SOSCandidate),
	}
}

func (m *memRepo) addShift(sh Shift) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := sh
	m.shifts[sh.ID] = &cp
}

func (m *memRepo) addSlots(slots []Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range slots {
		cp := s
		m.slots[s.ID] = &cp
	}
}

func (m *memRepo) addBooking(b Booking, items []ServiceItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := b
	m.bookings[b.ID] = &cp
	m.items[b.ID] = append([]ServiceItem(nil), items...)
}

func (m *memRepo) slotByID(id uuid.UUID) Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.slots[id]
}

func (m *memRepo) bookingByID(id uuid.UUID) Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.bookings[id]
}

func (m *memRepo) GetShiftByID(ctx context.Context, id uuid.UUID) (*Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shifts[id]
	if !ok {
		return nil, ErrShiftNotFound
	}
	cp := *sh
	return &cp, nil
}

func (m *memRepo) GetShiftForStaffDate(ctx context.Context, staffID uuid.UUID, workDate time.Time) (*Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := workDate.Format("2006-01-02")
	for _, sh := range m.shifts {
		if sh.StaffID == staffID && sh.WorkDate.Format("2006-01-02") == day {
			cp := *sh
			return &cp, nil
		}
	}
	return nil, ErrShiftNotFound
}

func (m *memRepo) ReplaceShiftSlots(ctx context.Context, shiftID uuid.UUID, slots []Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.ShiftID == shiftID && s.Status == SlotBooked {
			return ErrShiftHasBookedSlots
		}
	}
	for id, s := range m.slots {
		if s.ShiftID == shiftID {
			delete(m.slots, id)
		}
	}
	for _, s := range slots {
		cp := s
		m.slots[s.ID] = &cp
	}
	return nil
}

func (m *memRepo) ListAvailableSlots(ctx context.Context, shiftID uuid.UUID) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Slot
	for _, s := range m.slots {
		if s.ShiftID == shiftID && s.Status == SlotAvailable {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (m *memRepo) ReserveSlot(ctx context.Context, slotID uuid.UUID, version int) (*Slot, error) {
	return m.casSlot(slotID, SlotAvailable, SlotBooked, version)
}

func (m *memRepo) UpdateSlotStatus(ctx context.Context, slotID uuid.UUID, from, to SlotStatus, version int) (*Slot, error) {
	return m.casSlot(slotID, from, to, version)
}

func (m *memRepo) casSlot(slotID uuid.UUID, from, to SlotStatus, version int) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok || s.Status != from || s.Version != version {
		return nil, ErrSlotVersionConflict
	}
	s.Status = to
	s.Version++
	cp := *s
	return &cp, nil
}

func (m *memRepo) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memRepo) CreateBooking(ctx context.Context, b *Booking, items []ServiceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.bookings[b.ID] = &cp
	m.items[b.ID] = append([]ServiceItem(nil), items...)
	return nil
}

func (m *memRepo) ListServiceItems(ctx context.Context, bookingID uuid.UUID) ([]ServiceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := append([]ServiceItem(nil), m.items[bookingID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func (m *memRepo) InsertBookingSlot(ctx context.Context, bs BookingSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bookingSlots {
		if existing.SlotID == bs.SlotID {
			return fmt.Errorf("slot %s already linked", bs.SlotID)
		}
	}
	m.bookingSlots = append(m.bookingSlots, bs)
	return nil
}

func (m *memRepo) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrBookingNotFound
	}
	b.Status = to
	cp := *b
	return &cp, nil
}

func (m *memRepo) FindStalePending(ctx context.Context, cutoff time.Time) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Booking
	for _, b := range m.bookings {
		if b.Status == BookingPending && !b.CreatedAt.After(cutoff) {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *memRepo) CancelBooking(ctx context.Context, id uuid.UUID, from BookingStatus, note string) (*Booking, error) {
	if m.cancelErr != nil {
		if err := m.cancelErr(id); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrBookingNotFound
	}
	b.Status = BookingCancelled
	b.CancelNote = &note
	cp := *b
	return &cp, nil
}

func (m *memRepo) CreateSOSCandidates(ctx context.Context, candidates []SOSCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candidates {
		m.candidates[c.BookingID] = append(m.candidates[c.BookingID], c)
	}
	return nil
}

func (m *memRepo) GetSOSCandidate(ctx context.Context, bookingID uuid.UUID, position int) (*SOSCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.candidates[bookingID] {
		if c.Position == position {
			cp := c
			return &cp, nil
		}
	}
	return nil, ErrNoCandidate
}

func (m *memRepo) BeginMatch(ctx context.Context, bookingID uuid.UUID, first SOSCandidate, startedAt time.Time) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.MatchStatus != MatchNone {
		return nil, ErrBookingNotFound
	}
	b.MatchStatus = MatchSearching
	b.MatchPosition = first.Position
	clinicID := first.ClinicID
	b.MatchClinicID = &clinicID
	started := startedAt
	b.MatchStartedAt = &started
	cp := *b
	return &cp, nil
}

func (m *memRepo) FindStalledMatching(ctx context.Context, cutoff time.Time) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Booking
	for _, b := range m.bookings {
		if b.MatchStatus == MatchSearching && b.MatchStartedAt != nil && !b.MatchStartedAt.After(cutoff) {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (m *memRepo) AdvanceMatch(ctx context.Context, bookingID uuid.UUID, fromPos int, next SOSCandidate, startedAt time.Time) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.MatchStatus != MatchSearching || b.MatchPosition != fromPos {
		return nil, ErrBookingNotFound
	}
	b.MatchPosition = next.Position
	clinicID := next.ClinicID
	b.MatchClinicID = &clinicID
	started := startedAt
	b.MatchStartedAt = &started
	cp := *b
	return &cp, nil
}

func (m *memRepo) MarkUnmatched(ctx context.Context, bookingID uuid.UUID, fromPos int) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.MatchStatus != MatchSearching || b.MatchPosition != fromPos {
		return nil, ErrBookingNotFound
	}
	b.MatchStatus = MatchUnmatched
	cp := *b
	return &cp, nil
}

func (m *memRepo) MarkMatched(ctx context.Context, bookingID uuid.UUID, clinicID uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.MatchStatus != MatchSearching {
		return nil, ErrBookingNotFound
	}
	b.MatchStatus = MatchMatched
	cID := clinicID
	b.MatchClinicID = &cID
	cp := *b
	return &cp, nil
}

func (m *memRepo) InsertEvent(ctx context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// noopLocker runs the critical section directly.
type noopLocker struct{}

func (noopLocker) WithCalendarLock(ctx context.Context, staffID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// recordingNotifier captures emitted booking events per kind.
type recordingNotifier struct {
	mu    sync.Mutex
	kinds map[uuid.UUID][]string
	err   error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{kinds: make(map[uuid.UUID][]string)}
}

func (n *recordingNotifier) BookingEvent(ctx context.Context, bookingID uuid.UUID, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.kinds[bookingID] = append(n.kinds[bookingID], kind)
	return nil
}

func (n *recordingNotifier) sent(bookingID uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.kinds[bookingID]...)
}

// staticCodes issues predictable booking codes.
type staticCodes struct {
	mu sync.Mutex
	n  int
}

func (c *staticCodes) NextBookingCode(ctx context.Context, day time.Time) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("BK-%s-%04d", day.Format("20060102"), c.n), nil
}
