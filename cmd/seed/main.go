package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawcare/vetsched/internal/db"
	"github.com/pawcare/vetsched/internal/scheduling"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	initSchema := flag.Bool("init", false, "apply migrations/0001_init.sql before seeding")
	clinicCount := flag.Int("clinics", 10, "number of clinics to seed")
	staffPerClinic := flag.Int("staff", 5, "staff members per clinic")
	shiftDays := flag.Int("days", 7, "days of shifts to generate per staff member")
	flag.Parse()

	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if *initSchema {
		if err := applySchema(context.Background(), pool); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
		log.Println("schema applied")
	}

	gofakeit.Seed(time.Now().UnixNano())

	clinicIDs, err := seedClinics(context.Background(), pool, *clinicCount)
	if err != nil {
		log.Fatalf("seed clinics: %v", err)
	}

	staffIDs, err := seedStaff(context.Background(), pool, clinicIDs, *staffPerClinic)
	if err != nil {
		log.Fatalf("seed staff: %v", err)
	}

	if err := seedShifts(context.Background(), pool, staffIDs, *shiftDays); err != nil {
		log.Fatalf("seed shifts: %v", err)
	}

	log.Println("seed complete")
}

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	sql, err := os.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, string(sql))
	return err
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d clinics", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Company() + " Veterinary Clinic"
		city := gofakeit.City()

		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, city, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, city)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("clinics seeded")
	return ids, nil
}

type staffRef struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
}

func seedStaff(ctx context.Context, pool *pgxpool.Pool, clinicIDs []uuid.UUID, perClinic int) ([]staffRef, error) {
	log.Printf("seeding %d staff per clinic", perClinic)

	specialties := []string{
		"General Practice",
		"Surgery",
		"Dermatology",
		"Dentistry",
		"Cardiology",
		"Orthopedics",
		"Exotic Animals",
		"Ophthalmology",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var refs []staffRef
	for _, clinicID := range clinicIDs {
		for i := 0; i < perClinic; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

			_, err := tx.Exec(ctx, `
				INSERT INTO staff (id, clinic_id, name, specialty, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, clinicID, name, specialty)
			if err != nil {
				return nil, err
			}
			refs = append(refs, staffRef{ID: id, ClinicID: clinicID})
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("staff seeded")
	return refs, nil
}

func seedShifts(ctx context.Context, pool *pgxpool.Pool, staff []staffRef, days int) error {
	log.Printf("seeding %d days of shifts for %d staff", days, len(staff))

	today := time.Now().Truncate(24 * time.Hour)

	for _, st := range staff {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for d := 0; d < days; d++ {
			workDate := today.AddDate(0, 0, d)
			start := workDate.Add(8 * time.Hour)
			end := workDate.Add(17 * time.Hour)

			shift := scheduling.Shift{
				ID:        uuid.New(),
				StaffID:   st.ID,
				ClinicID:  st.ClinicID,
				WorkDate:  workDate,
				StartTime: start,
				EndTime:   end,
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO shifts (id, staff_id, clinic_id, work_date, start_time, end_time, overnight, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, false, now(), now())
			`, shift.ID, shift.StaffID, shift.ClinicID, shift.WorkDate, shift.StartTime, shift.EndTime)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			for _, slot := range scheduling.GenerateSlots(&shift) {
				_, err := tx.Exec(ctx, `
					INSERT INTO slots (id, shift_id, start_time, end_time, status, version, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, 0, now(), now())
				`, slot.ID, slot.ShiftID, slot.StartTime, slot.EndTime, slot.Status)
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("shifts seeded")
	return nil
}
