package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-booking/internal/booking"
	"github.com/carebridge/telehealth-booking/internal/records"
)

type RouterConfig struct {
	Appointments *booking.Service
	Records      *records.Service
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	AuthSecret   string
	Env          string
	Version      string
	Log          zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(MetricsMiddleware)

	// Health and metrics stay outside auth.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", MetricsHandler())

	appointments := NewAppointmentHandler(cfg.Appointments, cfg.Log)
	recordsHandler := NewRecordHandler(cfg.Records, cfg.Log)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.AuthSecret))

		r.Post("/appointments", appointments.Book)
		r.Get("/appointments/patient/{patientId}", appointments.ListByPatient)
		r.Get("/appointments/doctor/{doctorId}", appointments.ListByDoctor)
		r.Patch("/appointments/{id}", appointments.Reschedule)
		r.Post("/appointments/{id}/cancel", appointments.Cancel)
		r.Patch("/appointments/{id}/status", appointments.UpdateStatus)
		r.Get("/appointments/{id}/call-link", appointments.GetCallLink)

		r.Get("/availability/{doctorId}", appointments.FreeSlots)

		r.Get("/patients/{patientId}/records", recordsHandler.ListByPatient)
		r.Post("/patients/{patientId}/records", recordsHandler.Create)
		r.Get("/records/{recordId}", recordsHandler.Get)
		r.Patch("/records/{recordId}", recordsHandler.Update)
		r.Delete("/records/{recordId}", recordsHandler.Delete)
		r.Get("/records/{recordId}/file", recordsHandler.FileURL)
	})

	return r
}
