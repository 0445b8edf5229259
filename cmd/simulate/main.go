package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawcare/vetsched/internal/config"
	"github.com/pawcare/vetsched/internal/db"
	redisclient "github.com/pawcare/vetsched/internal/redis"
	"github.com/pawcare/vetsched/internal/scheduling"
)

// The simulator drives the scheduling service in-process: it creates pending
// bookings against seeded shifts, confirms a share of them and runs slot
// assignment, all concurrently, then reports outcome and latency stats.

type SimConfig struct {
	Duration     time.Duration
	Workers      int
	CreateRatio  float64
	ConfirmRatio float64
	AssignRatio  float64
	ShiftLimit   int
}

type shiftRef struct {
	StaffID   uuid.UUID
	ClinicID  uuid.UUID
	WorkDate  time.Time
	StartTime time.Time
}

type DataPool struct {
	Shifts   []shiftRef
	mu       sync.RWMutex
	bookings []uuid.UUID
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) GetRandomBooking(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Partial   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, outcome string) {
	atomic.AddInt64(&om.Total, 1)
	switch outcome {
	case "success":
		atomic.AddInt64(&om.Success, 1)
	case "partial":
		atomic.AddInt64(&om.Partial, 1)
	case "conflict":
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Create  OperationMetrics
	Confirm OperationMetrics
	Assign  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	svc     *scheduling.Service
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	simCfg := loadSimConfig()
	if err := validateSimConfig(simCfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d create=%.2f confirm=%.2f assign=%.2f",
		simCfg.Duration, simCfg.Workers, simCfg.CreateRatio, simCfg.ConfirmRatio, simCfg.AssignRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(baseCfg.RedisAddr, baseCfg.RedisUsername, baseCfg.RedisPassword)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer rdb.Close()

	dataPool, err := loadDataPool(ctx, pgPool, simCfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d shifts", len(dataPool.Shifts))

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisCalendarLocker(rdb, baseCfg.LockTTL)
	codes := redisclient.NewCodeCounter(rdb)
	svc := scheduling.NewService(repo, locker, nil, codes, baseCfg)

	sim := &Simulator{
		config: simCfg,
		pool:   dataPool,
		svc:    svc,
	}

	sim.Run()
	sim.PrintReport()
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		CreateRatio:  getFloat("SIM_CREATE_RATIO", 0.5),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.25),
		AssignRatio:  getFloat("SIM_ASSIGN_RATIO", 0.25),
		ShiftLimit:   getInt("SIM_SHIFT_LIMIT", 2000),
	}

	// Normalize ratios
	total := cfg.CreateRatio + cfg.ConfirmRatio + cfg.AssignRatio
	if total > 0 {
		cfg.CreateRatio /= total
		cfg.ConfirmRatio /= total
		cfg.AssignRatio /= total
	}

	return cfg
}

func validateSimConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT staff_id, clinic_id, work_date, start_time
		FROM shifts
		WHERE work_date >= now()::date
		LIMIT $1
	`, cfg.ShiftLimit)
	if err != nil {
		return nil, fmt.Errorf("load shifts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref shiftRef
		if err := rows.Scan(&ref.StaffID, &ref.ClinicID, &ref.WorkDate, &ref.StartTime); err != nil {
			return nil, err
		}
		dataPool.Shifts = append(dataPool.Shifts, ref)
	}

	if len(dataPool.Shifts) == 0 {
		return nil, fmt.Errorf("no shifts loaded, run the seeder first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.CreateRatio:
				s.doCreate(ctx, rng)
			case r < s.config.CreateRatio+s.config.ConfirmRatio:
				s.doConfirm(ctx, rng)
			default:
				s.doAssign(ctx, rng)
			}
		}
	}
}

var serviceDurations = []int{15, 30, 45, 60, 90}

func (s *Simulator) doCreate(ctx context.Context, rng *rand.Rand) {
	shift := s.pool.Shifts[rng.Intn(len(s.pool.Shifts))]

	// Requested time somewhere in the first six hours of the shift, on the
	// half hour.
	requested := shift.StartTime.Add(time.Duration(rng.Intn(12)) * 30 * time.Minute)

	services := make([]scheduling.NewServiceItem, 0, 3)
	for i := 0; i < 1+rng.Intn(3); i++ {
		services = append(services, scheduling.NewServiceItem{
			ServiceID:       uuid.New(),
			DurationMinutes: serviceDurations[rng.Intn(len(serviceDurations))],
		})
	}

	staffID := shift.StaffID

	start := time.Now()
	booking, err := s.svc.CreateBooking(ctx, scheduling.NewBooking{
		ClinicID:    shift.ClinicID,
		OwnerID:     uuid.New(),
		PetID:       uuid.New(),
		StaffID:     &staffID,
		RequestedAt: requested,
		Services:    services,
	})
	latency := time.Since(start)

	if err != nil {
		s.metrics.Create.Record(latency, "error")
		return
	}

	s.pool.AddBooking(booking.ID)
	s.metrics.Create.Record(latency, "success")
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	bookingID, ok := s.pool.GetRandomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	_, err := s.svc.ConfirmBooking(ctx, bookingID)
	latency := time.Since(start)

	switch {
	case err == nil:
		s.metrics.Confirm.Record(latency, "success")
	case errors.Is(err, scheduling.ErrBookingNotFound):
		// Already confirmed or cancelled; benign under concurrency.
		s.metrics.Confirm.Record(latency, "conflict")
	default:
		s.metrics.Confirm.Record(latency, "error")
	}
}

func (s *Simulator) doAssign(ctx context.Context, rng *rand.Rand) {
	bookingID, ok := s.pool.GetRandomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.svc.AssignBooking(ctx, bookingID)
	latency := time.Since(start)

	switch {
	case err == nil && result.Outcome() == scheduling.AssignmentFull:
		s.metrics.Assign.Record(latency, "success")
	case err == nil:
		s.metrics.Assign.Record(latency, "partial")
	case errors.Is(err, scheduling.ErrCalendarBusy):
		s.metrics.Assign.Record(latency, "conflict")
	case errors.Is(err, scheduling.ErrShiftNotFound), errors.Is(err, scheduling.ErrBookingNotFound):
		s.metrics.Assign.Record(latency, "conflict")
	default:
		s.metrics.Assign.Record(latency, "error")
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Create booking", &s.metrics.Create)
	printOperationReport("Confirm booking", &s.metrics.Confirm)
	printOperationReport("Assign slots", &s.metrics.Assign)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	partial := atomic.LoadInt64(&om.Partial)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if partial > 0 {
		fmt.Printf("  Partial: %d (%.1f%%)\n", partial, float64(partial)/float64(total)*100)
	}
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
