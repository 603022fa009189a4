// Package server provides the HTTP server and routing for signald.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/config"
	"github.com/aristath/signald/internal/database"
	"github.com/aristath/signald/internal/events"
	"github.com/aristath/signald/internal/metrics"
	"github.com/aristath/signald/internal/modules/engine"
	"github.com/aristath/signald/internal/modules/ledger"
	ledgerhandlers "github.com/aristath/signald/internal/modules/ledger/handlers"
	"github.com/aristath/signald/internal/modules/marketdata"
	"github.com/aristath/signald/internal/modules/signals"
)

// Config holds server configuration
type Config struct {
	Log         zerolog.Logger
	Config      *config.Config
	DecisionsDB *database.DB
	CacheDB     *database.DB
	Bus         *events.Bus
	Normalizer  *signals.Normalizer
	Engines     *engine.Router
	Recorder    *ledger.Recorder
	LedgerRepo  *ledger.Repository
	Pending     *ledger.PendingRepository
	Stream      *marketdata.QuoteStream // nil when the quote feed is disabled
	Port        int
	DevMode     bool
}

// Server is the HTTP boundary: signal ingest, ledger queries, the SSE
// decision stream, and operational endpoints.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	decisionsDB    *database.DB
	cacheDB        *database.DB
	bus            *events.Bus
	normalizer     *signals.Normalizer
	engines        *engine.Router
	recorder       *ledger.Recorder
	ledgerRepo     *ledger.Repository
	pending        *ledger.PendingRepository
	stream         *marketdata.QuoteStream
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		cfg:         cfg.Config,
		decisionsDB: cfg.DecisionsDB,
		cacheDB:     cfg.CacheDB,
		bus:         cfg.Bus,
		normalizer:  cfg.Normalizer,
		engines:     cfg.Engines,
		recorder:    cfg.Recorder,
		ledgerRepo:  cfg.LedgerRepo,
		pending:     cfg.Pending,
		stream:      cfg.Stream,
	}

	s.systemHandlers = NewSystemHandlers(
		cfg.Log,
		cfg.Config.DataDir,
		cfg.DecisionsDB,
		cfg.CacheDB,
		cfg.Stream,
		cfg.Engines,
	)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// SSE decision stream must register before the catch-all middleware
		// timeout would matter; the stream handler manages its own lifetime
		// via the request context.
		streamHandler := NewEventsStreamHandler(s.bus, s.log)
		r.Get("/decisions/stream", streamHandler.ServeHTTP)

		// Inbound signal boundary, authenticated per sender request.
		r.With(s.ingestAuth).Post("/signals/{sender}", s.handleIngest)

		// Ledger query surface and the exit amendment.
		ledgerHandler := ledgerhandlers.NewHandler(s.ledgerRepo, s.recorder, s.pending, s.log)
		ledgerHandler.RegisterRoutes(r)

		// System monitoring
		r.Route("/system", func(r chi.Router) {
			r.Get("/", s.systemHandlers.HandleStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)
		})
	})
}

// handleHealth reports liveness plus a quick ping of both databases.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	checks := map[string]string{}
	for _, db := range []*database.DB{s.decisionsDB, s.cacheDB} {
		if db == nil {
			continue
		}
		if err := db.QuickCheck(ctx); err != nil {
			status = "degraded"
			checks[db.Name()] = err.Error()
		} else {
			checks[db.Name()] = "ok"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"databases": checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
