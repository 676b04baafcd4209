// Package api serves the HTTP control surface for sessions, conferences,
// voice stacks and shared settings.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/flowpbx/telephony/internal/api/middleware"
	"github.com/flowpbx/telephony/internal/database"
	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telephony"
)

// Options holds the dependencies of the HTTP server. Service and Phones are
// required; a nil repository or handler disables the routes that need it.
type Options struct {
	Service   *telephony.Service
	Phones    *phone.Registry
	Settings  database.SettingsRepository
	Operators database.OperatorRepository
	Records   database.ConnectionRecordRepository

	// Events serves the live event stream.
	Events http.Handler
	// Metrics serves the Prometheus scrape endpoint.
	Metrics http.Handler

	// JWTSecret signs operator tokens. Empty disables authentication.
	JWTSecret []byte
	RateLimit middleware.RateLimitConfig

	// OnSettingChanged runs after a setting is stored.
	OnSettingChanged func(key, value string)

	Logger *slog.Logger
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router    *chi.Mux
	service   *telephony.Service
	phones    *phone.Registry
	settings  database.SettingsRepository
	operators database.OperatorRepository
	records   database.ConnectionRecordRepository
	events    http.Handler
	metrics   http.Handler
	jwtSecret []byte

	onSettingChanged func(key, value string)

	limiter      *middleware.IPRateLimiter
	loginLimiter *middleware.IPRateLimiter
	logger       *slog.Logger
	startTime    time.Time
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rl := opts.RateLimit
	if rl.Rate == 0 {
		rl = middleware.NewRateLimitConfig(0, 0)
	}

	s := &Server{
		router:           chi.NewRouter(),
		service:          opts.Service,
		phones:           opts.Phones,
		settings:         opts.Settings,
		operators:        opts.Operators,
		records:          opts.Records,
		events:           opts.Events,
		metrics:          opts.Metrics,
		jwtSecret:        opts.JWTSecret,
		onSettingChanged: opts.OnSettingChanged,
		limiter:          middleware.NewIPRateLimiter(rl),
		loginLimiter:     middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig()),
		logger:           logger.With("subsystem", "api"),
		startTime:        time.Now(),
	}

	s.routes(logger)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiters' background cleanup.
func (s *Server) Close() {
	s.limiter.Stop()
	s.loginLimiter.Stop()
}

func (s *Server) routes(logger *slog.Logger) {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.RateLimit(s.limiter))

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIHeaders)

		r.Get("/health", s.handleHealth)
		r.With(middleware.RateLimit(s.loginLimiter)).Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.jwtSecret))

			r.Route("/connections", func(r chi.Router) {
				r.Get("/", s.handleListConnections)
				r.Post("/outgoing", s.handleCreateOutgoing)
				r.Post("/incoming", s.handleCreateIncoming)
				r.Post("/unknown", s.handleCreateUnknown)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetConnection)
					r.Post("/answer", s.handleAnswer)
					r.Post("/reject", s.handleConnectionAction(actionReject))
					r.Post("/disconnect", s.handleConnectionAction(actionDisconnect))
					r.Post("/hold", s.handleConnectionAction(actionHold))
					r.Post("/unhold", s.handleConnectionAction(actionUnhold))
					r.Post("/answer-release", s.handleAnswerAndRelease)
				})
			})

			r.Route("/conferences", func(r chi.Router) {
				r.Get("/", s.handleListConferences)
				r.Post("/", s.handleMerge)
				r.Get("/{id}", s.handleGetConference)
				r.Post("/{id}/disconnect", s.handleDisconnectConference)
			})

			r.Route("/phones", func(r chi.Router) {
				r.Get("/", s.handleListPhones)
				r.Get("/{id}", s.handleGetPhone)
				r.Post("/{id}/ring", s.handleRing)
				r.Post("/{id}/service-state", s.handleSetServiceState)
				r.Post("/{id}/remote-hangup", s.handleRemoteHangup)
			})

			r.Get("/settings", s.handleListSettings)
			r.Put("/settings/{key}", s.handleUpdateSetting)

			r.Get("/history", s.handleListHistory)

			if s.events != nil {
				r.Method(http.MethodGet, "/events", s.events)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.logger.Info("api routes mounted", "auth", len(s.jwtSecret) > 0)
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"phones":         len(s.phones.Phones()),
		"connections":    len(s.service.Registry().Connections()),
		"conferences":    len(s.service.Registry().Conferences()),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
