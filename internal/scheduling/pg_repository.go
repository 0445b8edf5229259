package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const bookingColumns = `id, code, clinic_id, owner_id, pet_id, staff_id, status, emergency,
	requested_at, cancel_note, match_status, match_position, match_clinic_id, match_started_at,
	created_at, updated_at`

// Helpers

func scanShift(row pgx.Row) (*Shift, error) {
	var sh Shift

	err := row.Scan(
		&sh.ID,
		&sh.StaffID,
		&sh.ClinicID,
		&sh.WorkDate,
		&sh.StartTime,
		&sh.EndTime,
		&sh.Overnight,
		&sh.CreatedAt,
		&sh.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShiftNotFound
		}
		return nil, err
	}

	return &sh, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.ShiftID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var staffID, matchClinicID *uuid.UUID
	var cancelNote *string
	var matchStartedAt *time.Time

	err := row.Scan(
		&b.ID,
		&b.Code,
		&b.ClinicID,
		&b.OwnerID,
		&b.PetID,
		&staffID,
		&b.Status,
		&b.Emergency,
		&b.RequestedAt,
		&cancelNote,
		&b.MatchStatus,
		&b.MatchPosition,
		&matchClinicID,
		&matchStartedAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.StaffID = staffID
	b.CancelNote = cancelNote
	b.MatchClinicID = matchClinicID
	b.MatchStartedAt = matchStartedAt
	return &b, nil
}

// Shifts and slots

func (r *PgRepository) GetShiftByID(ctx context.Context, id uuid.UUID) (*Shift, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, staff_id, clinic_id, work_date, start_time, end_time, overnight, created_at, updated_at
		FROM shifts
		WHERE id = $1
	`, id)
	return scanShift(row)
}

func (r *PgRepository) GetShiftForStaffDate(ctx context.Context, staffID uuid.UUID, workDate time.Time) (*Shift, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, staff_id, clinic_id, work_date, start_time, end_time, overnight, created_at, updated_at
		FROM shifts
		WHERE staff_id = $1 AND work_date = $2::date
	`, staffID, workDate)
	return scanShift(row)
}

func (r *PgRepository) ReplaceShiftSlots(ctx context.Context, shiftID uuid.UUID, slots []Slot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var booked int
	err = tx.QueryRow(ctx, `
		SELECT count(*)
		FROM slots
		WHERE shift_id = $1 AND status = 'booked'
	`, shiftID).Scan(&booked)
	if err != nil {
		return fmt.Errorf("count booked slots: %w", err)
	}
	if booked > 0 {
		return ErrShiftHasBookedSlots
	}

	if _, err := tx.Exec(ctx, `DELETE FROM slots WHERE shift_id = $1`, shiftID); err != nil {
		return fmt.Errorf("delete old slots: %w", err)
	}

	for _, s := range slots {
		_, err := tx.Exec(ctx, `
			INSERT INTO slots (id, shift_id, start_time, end_time, status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 0, now(), now())
		`, s.ID, s.ShiftID, s.StartTime, s.EndTime, s.Status)
		if err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, shiftID uuid.UUID) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, shift_id, start_time, end_time, status, version, created_at, updated_at
		FROM slots
		WHERE shift_id = $1 AND status = 'available'
		ORDER BY start_time
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ReserveSlot(ctx context.Context, slotID uuid.UUID, version int) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE slots
		SET status = 'booked',
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'available'
		  AND version = $2
		RETURNING id, shift_id, start_time, end_time, status, version, created_at, updated_at
	`, slotID, version)

	slot, err := scanSlot(row)
	if err != nil {
		// No row means the slot either vanished or someone else won the race;
		// both look the same to the assigner.
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrSlotVersionConflict
		}
		return nil, err
	}
	return slot, nil
}

func (r *PgRepository) UpdateSlotStatus(ctx context.Context, slotID uuid.UUID, from, to SlotStatus, version int) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE slots
		SET status = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		  AND version = $4
		RETURNING id, shift_id, start_time, end_time, status, version, created_at, updated_at
	`, slotID, to, from, version)

	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrSlotVersionConflict
		}
		return nil, err
	}
	return slot, nil
}

// Bookings

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) CreateBooking(ctx context.Context, b *Booking, items []ServiceItem) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO bookings (id, code, clinic_id, owner_id, pet_id, staff_id, status, emergency,
			requested_at, match_status, match_position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, now(), now())
	`, b.ID, b.Code, b.ClinicID, b.OwnerID, b.PetID, b.StaffID, b.Status, b.Emergency,
		b.RequestedAt, b.MatchStatus)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	for _, it := range items {
		_, err := tx.Exec(ctx, `
			INSERT INTO booking_service_items (id, booking_id, service_id, position, duration_minutes)
			VALUES ($1, $2, $3, $4, $5)
		`, it.ID, it.BookingID, it.ServiceID, it.Position, it.DurationMinutes)
		if err != nil {
			return fmt.Errorf("insert service item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) ListServiceItems(ctx context.Context, bookingID uuid.UUID) ([]ServiceItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, booking_id, service_id, position, duration_minutes
		FROM booking_service_items
		WHERE booking_id = $1
		ORDER BY position
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ServiceItem
	for rows.Next() {
		var it ServiceItem
		if err := rows.Scan(&it.ID, &it.BookingID, &it.ServiceID, &it.Position, &it.DurationMinutes); err != nil {
			return nil, err
		}
		result = append(result, it)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertBookingSlot(ctx context.Context, bs BookingSlot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_slots (id, booking_id, slot_id, service_item_id, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, bs.ID, bs.BookingID, bs.SlotID, bs.ServiceItemID)
	if err != nil {
		return fmt.Errorf("insert booking slot: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns+`
	`, id, to, from)

	return scanBooking(row)
}

// Expiry sweeper

func (r *PgRepository) FindStalePending(ctx context.Context, cutoff time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
		  AND created_at <= $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBookings(rows)
}

func (r *PgRepository) CancelBooking(ctx context.Context, id uuid.UUID, from BookingStatus, note string) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
		    cancel_note = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+bookingColumns+`
	`, id, from, note)

	return scanBooking(row)
}

// SOS escalation

func (r *PgRepository) CreateSOSCandidates(ctx context.Context, candidates []SOSCandidate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range candidates {
		_, err := tx.Exec(ctx, `
			INSERT INTO sos_candidates (booking_id, position, clinic_id)
			VALUES ($1, $2, $3)
		`, c.BookingID, c.Position, c.ClinicID)
		if err != nil {
			return fmt.Errorf("insert sos candidate: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) GetSOSCandidate(ctx context.Context, bookingID uuid.UUID, position int) (*SOSCandidate, error) {
	var c SOSCandidate

	err := r.pool.QueryRow(ctx, `
		SELECT booking_id, position, clinic_id
		FROM sos_candidates
		WHERE booking_id = $1 AND position = $2
	`, bookingID, position).Scan(&c.BookingID, &c.Position, &c.ClinicID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoCandidate
		}
		return nil, err
	}

	return &c, nil
}

func (r *PgRepository) BeginMatch(ctx context.Context, bookingID uuid.UUID, first SOSCandidate, startedAt time.Time) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET match_status = 'matching',
		    match_position = $2,
		    match_clinic_id = $3,
		    match_started_at = $4,
		    updated_at = now()
		WHERE id = $1
		  AND match_status = 'none'
		RETURNING `+bookingColumns+`
	`, bookingID, first.Position, first.ClinicID, startedAt)

	return scanBooking(row)
}

func (r *PgRepository) FindStalledMatching(ctx context.Context, cutoff time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE match_status = 'matching'
		  AND match_started_at IS NOT NULL
		  AND match_started_at <= $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBookings(rows)
}

func (r *PgRepository) AdvanceMatch(ctx context.Context, bookingID uuid.UUID, fromPos int, next SOSCandidate, startedAt time.Time) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET match_position = $3,
		    match_clinic_id = $4,
		    match_started_at = $5,
		    updated_at = now()
		WHERE id = $1
		  AND match_status = 'matching'
		  AND match_position = $2
		RETURNING `+bookingColumns+`
	`, bookingID, fromPos, next.Position, next.ClinicID, startedAt)

	return scanBooking(row)
}

func (r *PgRepository) MarkUnmatched(ctx context.Context, bookingID uuid.UUID, fromPos int) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET match_status = 'unmatched',
		    updated_at = now()
		WHERE id = $1
		  AND match_status = 'matching'
		  AND match_position = $2
		RETURNING `+bookingColumns+`
	`, bookingID, fromPos)

	return scanBooking(row)
}

func (r *PgRepository) MarkMatched(ctx context.Context, bookingID uuid.UUID, clinicID uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET match_status = 'matched',
		    match_clinic_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND match_status = 'matching'
		RETURNING `+bookingColumns+`
	`, bookingID, clinicID)

	return scanBooking(row)
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
