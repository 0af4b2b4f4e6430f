// Package httpapi exposes the relay over HTTP: the chat webhook, the drive
// change webhook, the signed internal trigger and the status endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/mirrorrelay/internal/config"
	"github.com/agentworkforce/mirrorrelay/internal/dispatch"
	"github.com/agentworkforce/mirrorrelay/internal/observability"
	"github.com/agentworkforce/mirrorrelay/internal/relay"
	"github.com/agentworkforce/mirrorrelay/internal/statedoc"
)

// Relay is the part of *relay.Relay the HTTP surface drives.
type Relay interface {
	Ingest(ctx context.Context, u relay.Update) (relay.Update, error)
	Sync(ctx context.Context, cfg *config.Config, path, branch string) dispatch.Outcome
	Status(ctx context.Context, cfg *config.Config) statedoc.AggregatedState
	QueueDepth() int
}

type ServerConfig struct {
	// Config returns the current snapshot; secrets are read per request.
	Config          func() *config.Config
	InternalMaxSkew time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	StreamInterval  time.Duration
	Now             func() time.Time
	Logger          zerolog.Logger
	Metrics         *observability.Metrics
}

type Server struct {
	relay       Relay
	cfg         ServerConfig
	router      chi.Router
	rateLimiter *rateLimiter
	replay      *replayGuard
}

func NewServer(r Relay, cfg ServerConfig) *Server {
	if cfg.Config == nil {
		defaults := config.Default()
		cfg.Config = func() *config.Config { return defaults }
	}
	if cfg.InternalMaxSkew <= 0 {
		cfg.InternalMaxSkew = 5 * time.Minute
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		relay:       r,
		cfg:         cfg,
		rateLimiter: newRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		replay:      newReplayGuard(cfg.InternalMaxSkew),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/", s.handleBanner)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queueDepth": s.relay.QueueDepth()})
	})
	r.Get("/dashboard", s.handleDashboard)
	r.Handle("/metrics", s.cfg.Metrics.Handler())

	r.Post("/", s.handleChatWebhook)
	r.Post("/telegram", s.handleChatWebhook)
	r.Post("/drive-webhook", s.handleDriveWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync", s.handleInternalSync)
		r.Get("/status", s.handleStatus)
		r.Get("/status/stream", s.handleStatusStream)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID(r))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", correlationID(r))
	})
	return r
}

// observe logs each request and records it under its route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(start)
		s.cfg.Metrics.RecordHTTPRequest(r.Method, route, status, elapsed)
		s.cfg.Logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "mirrorrelay is running\n")
}

func (s *Server) handleChatWebhook(w http.ResponseWriter, r *http.Request) {
	corrID := correlationID(r)
	cfg := s.cfg.Config()
	if authErr := verifyWebhookSecret(cfg.Telegram.WebhookSecret, r.Header.Get("X-Telegram-Bot-Api-Secret-Token")); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, corrID)
		return
	}
	body, ok := s.readRequestBody(w, r, corrID)
	if !ok {
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", corrID)
		return
	}
	update, ok := parseChatUpdate(body)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	queued, err := s.relay.Ingest(r.Context(), update)
	if err != nil {
		s.writeIngestError(w, err, corrID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "update": queued.ID})
}

func (s *Server) handleDriveWebhook(w http.ResponseWriter, r *http.Request) {
	state := r.Header.Get("X-Goog-Resource-State")
	if isDriveChange(state) {
		if _, err := s.relay.Ingest(r.Context(), relay.Update{Kind: relay.KindDriveChange}); err != nil {
			s.cfg.Logger.Warn().Err(err).Str("resource_state", state).Msg("drive change dropped")
		}
	}
	// The notifier retries anything but 200, so the answer is always OK.
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

type syncRequest struct {
	Branch string `json:"branch,omitempty"`
}

func (s *Server) handleInternalSync(w http.ResponseWriter, r *http.Request) {
	corrID := correlationID(r)
	body, ok := s.readRequestBody(w, r, corrID)
	if !ok {
		return
	}
	cfg := s.cfg.Config()
	now := s.cfg.Now().UTC()
	timestamp := r.Header.Get("X-Relay-Timestamp")
	signature := r.Header.Get("X-Relay-Signature")
	if authErr := verifyInternalHMAC(cfg.Server.InternalHMACSecret, timestamp, signature, body, now, s.cfg.InternalMaxSkew); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, corrID)
		return
	}
	if !s.replay.mark(timestamp, signature, now) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "internal request replay detected", corrID)
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r), now) {
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", corrID)
		return
	}

	var req syncRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", corrID)
			return
		}
	}
	out := s.relay.Sync(r.Context(), cfg, dispatch.PathInternal, strings.TrimSpace(req.Branch))
	status := http.StatusOK
	if !out.OK {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Status(r.Context(), s.cfg.Config()))
}

func (s *Server) writeIngestError(w http.ResponseWriter, err error, corrID string) {
	switch {
	case errors.Is(err, relay.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), corrID)
	case errors.Is(err, relay.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "queue_full", err.Error(), corrID)
	case errors.Is(err, relay.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error(), corrID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), corrID)
	}
}

func correlationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return middleware.GetReqID(r.Context())
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, corrID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", corrID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", corrID)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, corrID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": corrID,
	})
}
