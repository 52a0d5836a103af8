package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/config"
	"github.com/JakeFAU/linkcapture/internal/metrics"
	"github.com/JakeFAU/linkcapture/internal/policy/ratelimit"
	"github.com/JakeFAU/linkcapture/internal/service"
	"github.com/JakeFAU/linkcapture/internal/telemetry"
)

// LinkService runs the capture operations behind the handlers.
type LinkService interface {
	Preview(ctx context.Context, rawURL string) (capture.PreviewResult, error)
	Save(ctx context.Context, sub capture.Submission) (service.SaveResult, error)
	Screenshot(ctx context.Context, rawURL string) (string, error)
	Tags(ctx context.Context, title, url, description string) ([]string, []string, error)
	Link(ctx context.Context, slug string) (capture.LedgerEntry, error)
	HeadlessEnabled() bool
	TagsEnabled() bool
}

// Limiter admits or denies a request for an identity under a quota class.
type Limiter interface {
	Check(class ratelimit.Class, identity string) ratelimit.Decision
}

// Quota class names.
const (
	ClassAuth   = "auth"
	ClassFetch  = "fetch"
	ClassCreate = "create"
)

const (
	maxJSONBody   = 64 << 10
	maxCreateBody = 8 << 20
)

// Server wires HTTP handlers to the capture service.
type Server struct {
	router  chi.Router
	svc     LinkService
	limiter Limiter
	authz   Authorizer
	cfg     config.Config
	logger  *zap.Logger
	classes map[string]ratelimit.Class
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	svc LinkService,
	limiter Limiter,
	authz Authorizer,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if authz == nil {
		authz = NewKeyAuthorizer(cfg.Auth.APIKey, cfg.Auth.CookieName)
	}
	s := &Server{
		svc:     svc,
		limiter: limiter,
		authz:   authz,
		cfg:     cfg,
		logger:  logger,
		classes: map[string]ratelimit.Class{
			ClassAuth:   quota(ClassAuth, cfg.RateLimit.Auth),
			ClassFetch:  quota(ClassFetch, cfg.RateLimit.Fetch),
			ClassCreate: quota(ClassCreate, cfg.RateLimit.Create),
		},
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout()))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/links", func(r chi.Router) {
		r.Post("/auth", s.login)
		r.Delete("/auth", s.logout)
		r.Get("/{slug}", s.getLink)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/", s.createLink)
			r.Post("/preview", s.preview)
			r.Get("/screenshot", s.screenshot)
			r.Post("/suggest-tags", s.suggestTags)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func quota(name string, c config.RateClassConfig) ratelimit.Class {
	return ratelimit.Class{Name: name, Window: c.Window(), Max: c.Max}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"headless": s.svc.HeadlessEnabled(),
		"tags":     s.svc.TagsEnabled(),
	})
}

// allow applies the named quota class, writing a 429 when it is exhausted.
func (s *Server) allow(w http.ResponseWriter, class, identity, msg string) bool {
	d := s.limiter.Check(s.classes[class], identity)
	if d.Allowed {
		return true
	}
	s.writeFailure(w, capture.Limited(msg, d.RetryAfter))
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", capture.KindValidation)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON", capture.KindValidation)
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Step  string `json:"step,omitempty"`
}

// writeFailure maps a service error onto the response. Causes of internal
// failures stay in the log.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "feature not configured", "")
		return
	case errors.Is(err, capture.ErrLinkNotFound):
		writeError(w, http.StatusNotFound, "link not found", "")
		return
	}
	ce, ok := capture.AsError(err)
	if !ok {
		s.logger.Error("unclassified failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}
	status := ce.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("kind", string(ce.Kind)), zap.String("step", ce.Step), zap.Error(err))
	}
	if ce.Kind == capture.KindRateLimited && ce.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ce.RetryAfter))
	}
	msg := ce.Message
	if msg == "" {
		msg = string(ce.Kind)
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: string(ce.Kind), Step: ce.Step})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, kind capture.Kind) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: string(kind)})
}

type requestIDKey struct{}

// RequestID returns the ID assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("request_id", RequestID(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, "internal server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
