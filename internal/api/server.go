package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/voxdoc/internal/config"
	"github.com/snarg/voxdoc/internal/eventbus"
	"github.com/snarg/voxdoc/internal/jobs"
	"github.com/snarg/voxdoc/internal/metrics"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Deps carries everything the router wires together. DB, MQTT and Documents
// may be nil when the corresponding backend is not configured.
type Deps struct {
	Selector  Transcriber
	Jobs      *jobs.Manager
	Audio     AudioSink
	Bus       *eventbus.Bus
	DB        DBChecker
	MQTT      ConnChecker
	Documents DocumentLister
	Version   string
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Health and metrics endpoints — no auth
	health := NewHealthHandler(deps.DB, deps.MQTT, deps.Selector, deps.Version, time.Now())
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	sessions := NewSessionsHandler(deps.Selector, deps.Jobs, deps.Audio, cfg)
	jobsHandler := NewJobsHandler(deps.Jobs)
	documents := NewDocumentsHandler(deps.Documents)
	events := NewEventsHandler(deps.Bus)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		sessions.Routes(r)
		jobsHandler.Routes(r)
		documents.Routes(r)
		events.Routes(r)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
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
