package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"washbook/internal/admin"
	"washbook/internal/allowlist"
	"washbook/internal/booking"
	"washbook/internal/session"
	"washbook/internal/slots"
)

// CheckFunc reports whether a dependency is ready.
type CheckFunc func(ctx context.Context) error

// Deps are the collaborators served over HTTP.
type Deps struct {
	Allowlist allowlist.Provider
	Sessions  session.Store
	Slots     *slots.Engine
	Booking   *booking.Service
	Admin     *admin.Service
	Checks    map[string]CheckFunc
}

// Options tune the HTTP surface.
type Options struct {
	Addr            string
	CookieName      string
	SessionTTL      time.Duration
	SecureCookies   bool
	PublicTimeslots bool
	DateLayout      string
	CORSOrigins     []string
	LoginRatePerMin int
	AdminRatePerMin int
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a reverse proxy that sets them.
	TrustProxyHeaders bool
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

type HTTPServer struct {
	deps         Deps
	opts         Options
	router       *mux.Router
	loginLimiter *clientLimiter
	adminLimiter *clientLimiter
	logger       *zerolog.Logger
	server       *http.Server
}

func NewHTTPServer(deps Deps, opts Options, logger *zerolog.Logger) *HTTPServer {
	if opts.CookieName == "" {
		opts.CookieName = "washbook_session"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = session.DefaultTTL
	}
	if opts.LoginRatePerMin <= 0 {
		opts.LoginRatePerMin = 20
	}
	if opts.AdminRatePerMin <= 0 {
		opts.AdminRatePerMin = 60
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()
	s := &HTTPServer{
		deps:         deps,
		opts:         opts,
		router:       mux.NewRouter(),
		loginLimiter: newClientLimiter(opts.LoginRatePerMin),
		adminLimiter: newClientLimiter(opts.AdminRatePerMin),
		logger:       &l,
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *HTTPServer) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	r.Handle("/check_email", s.rateLimited(s.loginLimiter)(http.HandlerFunc(s.handleCheckEmail))).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)

	timeslots := http.Handler(http.HandlerFunc(s.handleTimeslots))
	if !s.opts.PublicTimeslots {
		timeslots = s.requireSession(timeslots)
	}
	r.Handle("/api/timeslots", timeslots).Methods(http.MethodGet)

	user := r.PathPrefix("/api").Subrouter()
	user.Use(s.requireSession)
	user.HandleFunc("/book", s.handleBook).Methods(http.MethodPost)
	user.HandleFunc("/my_reservations", s.handleMyReservations).Methods(http.MethodGet)
	user.HandleFunc("/delete_reservation", s.handleDeleteReservation).Methods(http.MethodPost)
	user.HandleFunc("/cancel_reservation", s.handleDeleteReservation).Methods(http.MethodPost)

	adm := r.PathPrefix("/admin").Subrouter()
	adm.Use(s.rateLimited(s.adminLimiter))
	adm.HandleFunc("/list", s.handleAdminList).Methods(http.MethodPost)
	adm.HandleFunc("/delete_one", s.handleAdminDeleteOne).Methods(http.MethodPost)
	adm.HandleFunc("/delete_all", s.handleAdminDeleteAll).Methods(http.MethodPost)
	adm.HandleFunc("/export", s.handleAdminExport).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler returns the router wrapped in recovery, CORS and access logging,
// plus proxy header handling when enabled.
func (s *HTTPServer) Handler() http.Handler {
	var h http.Handler = s.router
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
	if len(s.opts.CORSOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.opts.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
			handlers.AllowCredentials(),
		)(h)
	}
	access := s.logger.With().Str("component", "access").Logger()
	h = handlers.CombinedLoggingHandler(access, h)
	if s.opts.TrustProxyHeaders {
		h = handlers.ProxyHeaders(h)
	}
	return h
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
