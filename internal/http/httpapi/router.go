package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"pdfforge/internal/http/handlers"
	"pdfforge/internal/middleware"
)

type Options struct {
	Logger      zerolog.Logger
	Metrics     http.Handler
	DrainSecret string
	// RateLimit guards job creation. Nil disables it.
	RateLimit func(http.Handler) http.Handler
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Owner)
		r.Get("/healthz", app.Health)
		r.Get("/openapi.json", app.OpenAPIJSON)
		r.Get("/docs", app.OpenAPIDocs)
		r.Get("/pool", app.PoolStats)
		r.Get("/stats", app.JobStats)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/{id}", app.GetJob)
			r.Get("/{id}/document", app.JobDocument)
			r.Group(func(r chi.Router) {
				if opts.RateLimit != nil {
					r.Use(opts.RateLimit)
				}
				r.Post("/", app.CreateJob)
				r.Post("/{id}/regenerate", app.RegenerateJob)
			})
		})
	})

	r.With(middleware.RequireDrainSecret(opts.DrainSecret)).Post("/internal/drain", app.Drain)

	return r
}
