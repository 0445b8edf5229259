package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/pawcare/vetsched/internal/config"
	"github.com/pawcare/vetsched/internal/db"
	"github.com/pawcare/vetsched/internal/notify"
	"github.com/pawcare/vetsched/internal/ops"
	redisclient "github.com/pawcare/vetsched/internal/redis"
	"github.com/pawcare/vetsched/internal/scheduling"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running expiry worker in env=%s interval=%s pending_timeout=%s",
		cfg.Env, cfg.SweepInterval, cfg.PendingTimeout)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisCalendarLocker(rdb, cfg.LockTTL)
	notifier := notify.NewRedisNotifier(rdb, cfg.NotifyChannel)
	codes := redisclient.NewCodeCounter(rdb)
	svc := scheduling.NewService(repo, locker, notifier, codes, cfg)

	opsSrv := ops.NewServer(pgPool, rdb, cfg.Env, "expiry-worker")
	go opsSrv.ListenAndServe(rootCtx, cfg.OpsPort)

	// Run once at startup
	runOnce(rootCtx, svc)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc)
		}
	}
}

func runOnce(ctx context.Context, svc *scheduling.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.ExpireStalePendingBookings(runCtx); err != nil {
		log.Printf("sweep run error: %v", err)
		return
	}
	log.Printf("sweep run complete in %s", time.Since(start))
}
