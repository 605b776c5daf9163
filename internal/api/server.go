package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/schedule"
	"github.com/JakeFAU/jobharvest/internal/telemetry"
)

const (
	defaultJobLimit       = 100
	maxJobLimit           = 1000
	defaultRequestTimeout = 30 * time.Second
)

// JobLister reads stored jobs.
type JobLister interface {
	ListByRelevance(ctx context.Context, relevance crawler.Relevance) ([]crawler.StoredJob, error)
}

// RunController starts pipeline runs and reports on them.
type RunController interface {
	Trigger(ctx context.Context, trigger string) error
	Latest() (schedule.Report, bool)
	Running() bool
}

// Deps are the collaborators behind the routes. Ready may be nil.
type Deps struct {
	Jobs JobLister
	Runs RunController
	// Ready checks downstream dependencies for /readyz.
	Ready func(ctx context.Context) error
	// RunContext outlives individual requests and bounds triggered runs.
	RunContext context.Context
}

// Config tunes the server.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the job store and run controller.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.RunContext == nil {
		deps.RunContext = context.Background()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/jobs", s.listJobs)
		r.Post("/runs", s.triggerRun)
		r.Get("/runs/latest", s.latestRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type jobDTO struct {
	ID            string    `json:"id"`
	Company       string    `json:"company"`
	Title         string    `json:"title"`
	Location      string    `json:"location,omitempty"`
	URL           string    `json:"url"`
	PostedOn      string    `json:"posted_on,omitempty"`
	Source        string    `json:"source,omitempty"`
	Relevance     string    `json:"relevance"`
	Reason        string    `json:"reason,omitempty"`
	TechStack     []string  `json:"tech_stack,omitempty"`
	YearsRequired int       `json:"years_required,omitempty"`
	Notified      bool      `json:"notified"`
	DiscoveredAt  time.Time `json:"discovered_at"`
}

func toJobDTO(j crawler.StoredJob) jobDTO {
	return jobDTO{
		ID:            j.ID,
		Company:       j.Company,
		Title:         j.Title,
		Location:      j.Location,
		URL:           j.URL,
		PostedOn:      j.PostedOn,
		Source:        j.SourceTag,
		Relevance:     relevanceName(j.Relevance),
		Reason:        j.Reason,
		TechStack:     j.TechStack,
		YearsRequired: j.YearsRequired,
		Notified:      j.Notified,
		DiscoveredAt:  j.DiscoveredAt,
	}
}

// listJobs handles GET /v1/jobs?relevance=&limit=. relevance defaults to
// relevant and accepts the names or their numeric values.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	relevance, err := parseRelevance(r.URL.Query().Get("relevance"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.deps.Jobs.ListByRelevance(r.Context(), relevance)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	// Newest first.
	out := make([]jobDTO, 0, min(len(jobs), limit))
	for i := len(jobs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, toJobDTO(jobs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "total": len(jobs)})
}

func (s *Server) triggerRun(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "runs unavailable")
		return
	}
	if err := s.deps.Runs.Trigger(s.deps.RunContext, "api"); err != nil {
		if errors.Is(err, schedule.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("trigger run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) latestRun(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "runs unavailable")
		return
	}
	report, ok := s.deps.Runs.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "no run has finished yet",
			"running": s.deps.Runs.Running(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":     report,
		"running": s.deps.Runs.Running(),
	})
}

func parseRelevance(raw string) (crawler.Relevance, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "relevant", "1":
		return crawler.RelevanceRelevant, nil
	case "pending", "0":
		return crawler.RelevancePending, nil
	case "rejected", "-1":
		return crawler.RelevanceRejected, nil
	default:
		return 0, fmt.Errorf("invalid relevance %q", raw)
	}
}

func relevanceName(r crawler.Relevance) string {
	switch r {
	case crawler.RelevanceRelevant:
		return "relevant"
	case crawler.RelevanceRejected:
		return "rejected"
	default:
		return "pending"
	}
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultJobLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, maxJobLimit), nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.String("request_id", reqID),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
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

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
