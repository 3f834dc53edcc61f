// Package control implements the HTTP API of the turn service.
//
// Endpoints:
//
//	GET  /health                        → HealthResponse (no auth)
//	GET  /status                        → StatusResponse
//	POST /v1/turns                      → turnapi.TurnRequest → turnapi.TurnResponse
//	POST /v1/personas/{id}/invalidate   → 200 {"invalidated": bool}
//
// When Handlers.Token is set, every endpoint except /health requires
// "Authorization: Bearer <token>". A caller-supplied X-Trace-Id is carried
// through the turn and echoed on the response.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/Remrin/common/spec/turnapi"
	"github.com/bdobrica/Remrin/common/trace"
)

// maxTurnBodyBytes caps the inbound turn request body.
const maxTurnBodyBytes = 64 * 1024 // 64 KiB

// DefaultTurnTimeout bounds a single turn when Handlers.TurnTimeout is zero.
const DefaultTurnTimeout = 60 * time.Second

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Version          string    `json:"version"`
	Uptime           float64   `json:"uptime_seconds"`
	StartedAt        time.Time `json:"started_at"`
	PersonaCacheSize int       `json:"persona_cache_size"`
	Transports       []string  `json:"transports,omitempty"`
}

// Handlers bundles the callbacks the server delegates to.
type Handlers struct {
	Version   string
	StartedAt time.Time

	// Token, when non-empty, is the expected bearer token.
	Token string

	// TurnTimeout bounds each POST /v1/turns call.
	TurnTimeout time.Duration

	// HandleTurn runs one turn. Errors of type *turnapi.Error select the
	// status and body; any other error is reported as 500.
	HandleTurn func(ctx context.Context, req turnapi.TurnRequest) (*turnapi.TurnResponse, error)
	// InvalidatePersona evicts a cached persona and reports whether it was
	// cached.
	InvalidatePersona func(id string) bool
	// PersonaCacheSize returns the number of cached personas.
	PersonaCacheSize func() int
	// Transports names the inbound transports that are running.
	Transports func() []string

	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	addr     string
	handlers Handlers
	server   *http.Server
	logger   *slog.Logger
}

// New creates a Server listening on addr.
func New(addr string, h Handlers) *Server {
	if h.TurnTimeout <= 0 {
		h.TurnTimeout = DefaultTurnTimeout
	}
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{addr: addr, handlers: h, logger: logger}

	inner := http.NewServeMux()
	inner.HandleFunc("/status", s.handleStatus)
	inner.HandleFunc("/v1/turns", s.handleTurn)
	inner.HandleFunc("/v1/personas/{id}/invalidate", s.handleInvalidate)

	outer := http.NewServeMux()
	outer.HandleFunc("/health", s.handleHealth)
	outer.Handle("/", s.authMiddleware(inner))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.traceMiddleware(outer),
		ReadHeaderTimeout: 10 * time.Second,
		// Turns may run for TurnTimeout; leave room to write the reply.
		WriteTimeout: h.TurnTimeout + 10*time.Second,
	}
	return s
}

// authMiddleware rejects requests that do not carry the correct bearer token.
// When Handlers.Token is empty, all requests are allowed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.handlers.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if auth[len("Bearer "):] != s.handlers.Token {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// traceMiddleware attaches the caller's trace ID, or a fresh one, to the
// request context and the response headers.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := strings.TrimSpace(r.Header.Get(trace.Header)); id != "" {
			ctx = trace.WithTraceID(ctx, id)
		}
		ctx, id := trace.Ensure(ctx)
		w.Header().Set(trace.Header, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start begins listening. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control listen %s: %w", s.addr, err)
	}
	s.logger.Info("HTTP API listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP API error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

// Handler exposes the server's HTTP handler for httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{
		Version:   s.handlers.Version,
		Uptime:    time.Since(s.handlers.StartedAt).Seconds(),
		StartedAt: s.handlers.StartedAt,
	}
	if s.handlers.PersonaCacheSize != nil {
		resp.PersonaCacheSize = s.handlers.PersonaCacheSize()
	}
	if s.handlers.Transports != nil {
		resp.Transports = s.handlers.Transports()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.handlers.HandleTurn == nil {
		writeError(w, http.StatusServiceUnavailable, "turns not available")
		return
	}

	var req turnapi.TurnRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, turnapi.CodeBadRequest)
		return
	}

	// The request context is cancelled when the client disconnects, which
	// cancels the turn before anything is persisted.
	ctx, cancel := context.WithTimeout(r.Context(), s.handlers.TurnTimeout)
	defer cancel()

	resp, err := s.handlers.HandleTurn(ctx, req)
	if err != nil {
		var te *turnapi.Error
		if errors.As(err, &te) {
			writeJSON(w, te.Status, te.Body)
			return
		}
		s.logger.Error("turn failed", "trace_id", trace.FromContext(ctx), "err", err)
		writeJSON(w, http.StatusInternalServerError, turnapi.ErrorResponse{Code: turnapi.CodeInternal})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.handlers.InvalidatePersona == nil {
		writeError(w, http.StatusServiceUnavailable, "persona cache not available")
		return
	}
	id := r.PathValue("id")
	evicted := s.handlers.InvalidatePersona(id)
	s.logger.Info("persona cache invalidated", "persona", id, "evicted", evicted)
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": evicted})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
