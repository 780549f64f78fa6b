package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/wer-engine/internal/config"
	"github.com/snarg/wer-engine/internal/database"
	"github.com/snarg/wer-engine/internal/dataset"
	"github.com/snarg/wer-engine/internal/metrics"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions carries the dependencies of the HTTP API.
type ServerOptions struct {
	Config      *config.Config
	Evaluations EvaluationService
	Repo        database.Repository
	Datasets    DatasetQueue
	Layout      dataset.Layout
	Live        LiveDataSource
	Health      HealthOptions
	Log         zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	return &Server{
		http: &http.Server{
			Addr:         opts.Config.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  opts.Config.ReadTimeout,
			WriteTimeout: opts.Config.WriteTimeout,
			IdleTimeout:  opts.Config.IdleTimeout,
		},
		log: opts.Log,
	}
}

// NewRouter builds the HTTP handler tree.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(opts.Log))
	r.Use(Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.Origins()))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint: no auth
		r.Get("/health", NewHealthHandler(opts.Health).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			r.Use(MaxBodySize(cfg.MaxBodyBytes))

			NewEvaluationsHandler(opts.Evaluations, opts.Repo).Routes(r)
			if opts.Datasets != nil {
				NewDatasetsHandler(opts.Datasets, opts.Layout, opts.Log).Routes(r)
			}
			NewEventsHandler(opts.Live).Routes(r)
		})
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
