package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"leadmailer/internal/adapters/email"
	"leadmailer/internal/adapters/events"
	"leadmailer/internal/adapters/http/middleware"
	"leadmailer/internal/adapters/http/perf"
	auditStore "leadmailer/internal/adapters/storage/audit"
	"leadmailer/internal/application/orchestrators"
	"leadmailer/internal/application/projections"
	"leadmailer/internal/domain/audit"
)

// drainTimeout bounds how long shutdown waits for cancelled runs to stop.
const drainTimeout = 30 * time.Second

// HistoryStore persists finished runs and reads them back.
type HistoryStore interface {
	orchestrators.RunStore
	projections.DispatchHistoryStore
}

// AuditLister reads the audit trail.
type AuditLister interface {
	List(ctx context.Context, filter auditStore.Filter, limit int) ([]audit.Event, error)
}

// Pinger reports database reachability for /healthz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps holds everything the HTTP layer calls into.
type Deps struct {
	Recipients  orchestrators.RecipientSource
	Transport   email.Sender
	Audit       orchestrators.AuditRecorder   // per-send interactions; optional
	AuditEvents orchestrators.AuditEventSaver // operator actions; optional
	AuditLog    AuditLister                   // optional
	History     HistoryStore                  // optional
	Registry    *orchestrators.RunRegistry
	Hub         *events.Hub
	Collector   *perf.Collector // optional
	DB          Pinger          // optional
	Options     orchestrators.DispatchOptions
}

// Config controls listener and middleware settings.
type Config struct {
	Addr               string
	CSRFKey            string // hex, 32 bytes; random when empty outside production
	Production         bool
	TrustedOrigins     []string
	RateLimitPerSecond int
}

// Server is the leadmailer HTTP API.
type Server struct {
	config    Config
	deps      Deps
	csrfKey   []byte
	limiter   *middleware.RateLimiter
	startedAt time.Time
	server    *http.Server
}

// NewServer validates config and builds a server.
// PRE: deps.Registry and deps.Hub are non-nil
func NewServer(config Config, deps Deps) (*Server, error) {
	if deps.Registry == nil || deps.Hub == nil {
		return nil, errors.New("web: registry and hub are required")
	}
	key, err := loadCSRFKey(config.CSRFKey, config.Production)
	if err != nil {
		return nil, err
	}
	if config.RateLimitPerSecond <= 0 {
		config.RateLimitPerSecond = 10
	}
	return &Server{
		config:    config,
		deps:      deps,
		csrfKey:   key,
		limiter:   middleware.NewRateLimiter(config.RateLimitPerSecond, time.Second),
		startedAt: time.Now(),
	}, nil
}

// loadCSRFKey decodes the hex secret. In production the key must be set;
// in development a random key is generated per startup.
func loadCSRFKey(keyHex string, production bool) ([]byte, error) {
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 32 {
			return nil, errors.New("csrf key must be 64 hex characters (32 bytes)")
		}
		return key, nil
	}
	if production {
		return nil, errors.New("csrf key is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate csrf key: %w", err)
	}
	slog.Warn("csrf_key_random", "hint", "set LEADMAILER_CSRF_KEY so form tokens survive restarts")
	return key, nil
}

// Handler wires routes and middleware.
// Order, outer to inner: RequestID, Recoverer, SecurityHeaders, CSRF, RateLimit, Timing.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CSRF(s.csrfKey, s.config.Production, s.config.TrustedOrigins))
	r.Use(middleware.RateLimit(s.limiter))
	r.Use(middleware.Timing(s.deps.Collector))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/debug/vars", s.handleVars)
	r.Get("/debug/perf", s.handlePerf)

	r.Get("/api/audit", s.handleAuditTrail)

	r.Route("/api/dispatch", func(r chi.Router) {
		r.Post("/", s.handleStartDispatch)
		r.Get("/history", s.handleDispatchHistory)
		r.Get("/events", s.handleDispatchEvents)
		r.Get("/{runID}", s.handleDispatchStatus)
		r.Get("/{runID}/report", s.handleDispatchReport)
		r.Post("/{runID}/{action}", s.handleControlDispatch)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down and cancels live runs.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	defer s.limiter.Stop()

	slog.Info("http_server_starting", "addr", s.config.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("http_server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	for _, run := range s.deps.Registry.CancelAll() {
		if _, err := run.Wait(shutdownCtx); err != nil {
			slog.Warn("dispatch_run_drain_timeout", "run_id", run.ID())
		}
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response_encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// internalError logs err and hides it from the client.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// maxBodyBytes caps request bodies; templates are the largest payload.
const maxBodyBytes = 1 << 20

// actorID identifies the operator for audit records.
func actorID(r *http.Request) string {
	return r.Header.Get("X-Actor-ID")
}
