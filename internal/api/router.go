package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/careops/clinic-cache/internal/coordinator"
	"github.com/careops/clinic-cache/internal/metrics"
)

type RouterConfig struct {
	Coordinator *coordinator.Coordinator
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Logger      *zap.Logger
	Metrics     *metrics.Collector
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/bookings", attemptBookingHandler(cfg.Coordinator))
	r.Post("/bookings/cancel", cancelBookingHandler(cfg.Coordinator))
	r.Get("/bookings/status", queueStatusHandler(cfg.Coordinator))

	r.Get("/patients/{id}", getPatientHandler(cfg.Coordinator))
	r.Get("/doctors/{id}", getDoctorHandler(cfg.Coordinator))
	r.Get("/hospitals/{id}", getHospitalHandler(cfg.Coordinator))
	r.Get("/hospitals/{id}/doctors", doctorsByHospitalHandler(cfg.Coordinator))
	r.Get("/therapists/{id}", getTherapistHandler(cfg.Coordinator))
	r.Get("/specialties", specialtiesHandler(cfg.Coordinator))
	r.Get("/specialties/{name}/doctors", doctorsBySpecialtyHandler(cfg.Coordinator))

	r.Post("/session/invalidate", invalidateSessionHandler(cfg.Coordinator))

	return r
}
