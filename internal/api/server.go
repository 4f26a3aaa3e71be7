// Package api exposes the HTTP interface for the monetization service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pagelift/monetizer/internal/intel"
	"github.com/pagelift/monetizer/internal/monetize"
	"github.com/pagelift/monetizer/internal/pipeline"
	"github.com/pagelift/monetizer/internal/publish"
	"github.com/pagelift/monetizer/internal/sitemap"
	"github.com/pagelift/monetizer/internal/storage/postgres"
)

// SitemapLoader resolves a sitemap URL into page entries.
type SitemapLoader interface {
	Load(ctx context.Context, url string) ([]sitemap.Entry, error)
}

// Prober checks CMS connectivity and credentials.
type Prober interface {
	Probe(ctx context.Context, cms monetize.CMSConfig) publish.ProbeResult
}

// RunReader serves persisted run history; nil disables the endpoint.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (postgres.RunRow, []postgres.PageRow, error)
}

// Config controls server behavior.
type Config struct {
	CMS            monetize.CMSConfig
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router   chi.Router
	orch     *pipeline.Orchestrator
	sitemaps SitemapLoader
	prober   Prober
	runs     RunReader
	gatherer prometheus.Gatherer
	cfg      Config
	baseCtx  context.Context
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. baseCtx outlives
// individual requests and bounds background runs.
func NewServer(
	baseCtx context.Context,
	cfg Config,
	orch *pipeline.Orchestrator,
	sitemaps SitemapLoader,
	prober Prober,
	runs RunReader,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:     orch,
		sitemaps: sitemaps,
		prober:   prober,
		runs:     runs,
		gatherer: gatherer,
		cfg:      cfg,
		baseCtx:  baseCtx,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/triage", s.triage)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Post("/stop", s.stopRun)
			r.Get("/{run_id}", s.getRun)
		})
		r.Get("/state", s.state)
		r.Route("/pages", func(r chi.Router) {
			r.Post("/analyze", s.analyzePage)
			r.Post("/publish", s.publishPage)
		})
		r.Get("/probe", s.probe)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type triageRequest struct {
	SitemapURL string `json:"sitemap_url"`
}

func (s *Server) triage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SitemapURL == "" {
		writeError(w, http.StatusBadRequest, "sitemap_url is required")
		return
	}
	entries, err := s.sitemaps.Load(r.Context(), req.SitemapURL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	added := s.orch.Ingest(entries)
	scanned, err := s.orch.Triage(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"entries":      len(entries),
		"added":        added,
		"deep_scanned": scanned,
	})
}

type startRunRequest struct {
	SitemapURL string `json:"sitemap_url"`
	// SkipTriage starts the run over the current state without refreshing
	// it from the sitemap.
	SkipTriage bool `json:"skip_triage"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !req.SkipTriage {
		if req.SitemapURL == "" {
			writeError(w, http.StatusBadRequest, "sitemap_url is required")
			return
		}
		entries, err := s.sitemaps.Load(r.Context(), req.SitemapURL)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.orch.Ingest(entries)
		if _, err := s.orch.Triage(r.Context()); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	}

	runID, err := s.orch.StartRun(s.baseCtx, req.SitemapURL)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) stopRun(w http.ResponseWriter, _ *http.Request) {
	s.orch.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotImplemented, "run history is not configured")
		return
	}
	runID := chi.URLParam(r, "run_id")
	run, pages, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, postgres.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "pages": pages})
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	pages := s.orch.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.orch.Running(),
		"total":   len(pages),
		"pages":   pages,
	})
}

type analyzeRequest struct {
	URL         string `json:"url"`
	ManualASIN  string `json:"manual_asin"`
	ManualImage string `json:"manual_image"`
	DeepScan    bool   `json:"deep_scan"`
}

func (s *Server) analyzePage(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	res, err := s.orch.AnalyzePage(r.Context(), req.URL, intel.AnalyzeOptions{
		ManualASIN:  req.ManualASIN,
		ManualImage: req.ManualImage,
		DeepScan:    req.DeepScan,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrUnknownPage) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type publishRequest struct {
	URL string `json:"url"`
}

func (s *Server) publishPage(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	link, err := s.orch.PublishPage(r.Context(), req.URL)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrUnknownPage):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, publish.ErrAuth):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"published_url": link})
}

func (s *Server) probe(w http.ResponseWriter, r *http.Request) {
	result := s.prober.Probe(r.Context(), s.cfg.CMS)
	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

type requestIDKey struct{}

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
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
