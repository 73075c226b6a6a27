// Package api serves the HTTP surface of ContactPipe: transport webhooks,
// health and metrics endpoints, and a read-only view of the submission audit
// log.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/ContactPipe/internal/flow"
	"github.com/BTreeMap/ContactPipe/internal/store"
)

const (
	// DefaultAddr is used when no listen address is configured.
	DefaultAddr = "0.0.0.0:8000"

	// TelegramWebhookPath and TwilioWebhookPath are the delivery endpoints
	// registered with the providers.
	TelegramWebhookPath = "/telegram/webhook"
	TwilioWebhookPath   = "/twilio/webhook"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// StatsProvider exposes the conversation counters.
type StatsProvider interface {
	Stats() flow.Stats
}

// Opts holds the optional parts of the server.
type Opts struct {
	Addr            string
	TelegramWebhook http.HandlerFunc
	TwilioWebhook   http.HandlerFunc
	Audit           store.AuditRepo
	APIToken        string
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTelegramWebhook mounts h on TelegramWebhookPath.
func WithTelegramWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) {
		o.TelegramWebhook = h
	}
}

// WithTwilioWebhook mounts h on TwilioWebhookPath.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) {
		o.TwilioWebhook = h
	}
}

// WithSubmissions exposes the audit log on /api/submissions behind a bearer
// token. The route is not mounted when token is empty.
func WithSubmissions(repo store.AuditRepo, token string) Option {
	return func(o *Opts) {
		o.Audit = repo
		o.APIToken = token
	}
}

// Server is the HTTP server.
type Server struct {
	router  *chi.Mux
	httpSrv *http.Server
	stats   StatsProvider
	opts    Opts
	started time.Time
}

// NewServer builds the router. Webhook and audit routes are only mounted
// when configured.
func NewServer(stats StatsProvider, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&o)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)

	s := &Server{
		router:  router,
		stats:   stats,
		opts:    o,
		started: time.Now(),
	}

	router.Get("/healthz", s.healthHandler)
	router.Get("/metrics", s.metricsHandler)
	if o.TelegramWebhook != nil {
		router.Post(TelegramWebhookPath, o.TelegramWebhook)
	}
	if o.TwilioWebhook != nil {
		router.Post(TwilioWebhookPath, o.TwilioWebhook)
	}
	if o.Audit != nil && o.APIToken != "" {
		router.With(s.requireToken).Get("/api/submissions", s.submissionsHandler)
	}

	s.httpSrv = &http.Server{
		Addr:              o.Addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Server starting", "addr", s.opts.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for the in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	slog.Info("Server shutting down")
	return s.httpSrv.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("Server request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
