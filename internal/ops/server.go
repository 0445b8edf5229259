// Package ops serves liveness/readiness endpoints for the worker binaries.
// The booking REST API lives in another system; this is operational surface
// only.
package ops

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	pgPool *pgxpool.Pool
	redis  *redis.Client
	env    string
	worker string
}

func NewServer(pgPool *pgxpool.Pool, rdb *redis.Client, env, worker string) *Server {
	return &Server{
		pgPool: pgPool,
		redis:  rdb,
		env:    env,
		worker: worker,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)
	r.Get("/health/live", s.liveness)
	r.Get("/health/ready", s.readiness)
	return r
}

// ListenAndServe runs the ops endpoint until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port string) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("ops server error: %v", err)
	}
}

type livenessResponse struct {
	Status string `json:"status"`
	Worker string `json:"worker,omitempty"`
	Env    string `json:"env,omitempty"`
}

type readinessResponse struct {
	Status       string            `json:"status"`
	Worker       string            `json:"worker,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, livenessResponse{
		Status: "ok",
		Worker: s.worker,
		Env:    s.env,
	})
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	pgCtx, pgCancel := context.WithTimeout(ctx, time.Second)
	err := s.pgPool.Ping(pgCtx)
	pgCancel()
	if err != nil {
		deps["postgres"] = "down"
		status = "error"
	} else {
		deps["postgres"] = "ok"
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, time.Second)
	err = s.redis.Ping(redisCtx).Err()
	redisCancel()
	if err != nil {
		deps["redis"] = "down"
		if status == "ok" {
			status = "degraded"
		} else {
			status = "error"
		}
	} else {
		deps["redis"] = "ok"
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, readinessResponse{
		Status:       status,
		Worker:       s.worker,
		Env:          s.env,
		Dependencies: deps,
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Printf("method=%s path=%s status=%d duration=%s",
			r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
