package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dispatchlab/mail-dispatch-system/internal/engine"
	"github.com/dispatchlab/mail-dispatch-system/internal/mailer"
	"github.com/dispatchlab/mail-dispatch-system/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(pgStore *store.PostgresStore, enqueuer *engine.Enqueuer, transmitter mailer.Transmitter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	dispatchHandler := NewDispatchHandler(pgStore, enqueuer, transmitter)
	smtpHandler := NewSMTPConfigHandler(pgStore)
	testerHandler := NewTesterHandler(pgStore)
	dashHandler := NewDashboardHandler(pgStore)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/dispatches", func(r chi.Router) {
			r.Post("/", dispatchHandler.CreateDraft)
			r.Post("/send", dispatchHandler.Send)
			r.Post("/test", dispatchHandler.SendTest)
			r.Get("/", dispatchHandler.List)
			r.Get("/{id}", dispatchHandler.Get)
			r.Post("/{id}/send", dispatchHandler.StartDraft)
		})

		r.Route("/smtp-configs", func(r chi.Router) {
			r.Post("/", smtpHandler.Create)
			r.Get("/", smtpHandler.List)
			r.Get("/{id}", smtpHandler.Get)
			r.Put("/{id}", smtpHandler.Update)
			r.Delete("/{id}", smtpHandler.Delete)
		})

		r.Route("/testers", func(r chi.Router) {
			r.Post("/", testerHandler.Create)
			r.Get("/", testerHandler.List)
			r.Put("/{id}", testerHandler.Update)
			r.Delete("/{id}", testerHandler.Delete)
		})

		r.Get("/metrics", dashHandler.Metrics)
	})

	return r
}
