// Package httpserver is the engine's external surface: webhook job
// submission, resume-event intake, and job status reads. Webhook
// adapters validate and shape their provider payloads before calling
// these endpoints; they never touch the broker directly.
package httpserver

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/engine"
)

type App struct {
	Submitter *engine.Submitter
	Resume    *engine.ResumeTrigger
	Store     engine.JobStore
	Redis     *redis.Client
	Logger    *slog.Logger
}

func NewRouter(app *App) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", app.submitJobHandler)
		r.Get("/jobs/{job_id}", app.getJobHandler)
		r.Post("/events", app.deliverEventHandler)
		r.Get("/destinations/{destination}/concurrency", app.getConcurrencyHandler)
		r.Put("/destinations/{destination}/concurrency", app.setConcurrencyHandler)
	})
	return r
}
