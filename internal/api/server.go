package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxy-harvester/internal/export"
	"github.com/JakeFAU/proxy-harvester/internal/metrics"
	"github.com/JakeFAU/proxy-harvester/internal/pipeline"
	"github.com/JakeFAU/proxy-harvester/internal/progress"
	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

const exportTimeout = 30 * time.Second

// Controller is the pipeline surface the server drives.
type Controller interface {
	Start(ctx context.Context, s pipeline.Settings) error
	Pause() error
	Resume() error
	Stop() error
	Reset() error
	State() proxy.RunState
	Progress() progress.PhaseProgress
	Results() []proxy.Record
	Filtered() []proxy.Record
	Filter() proxy.FilterConfig
	Stats() pipeline.Stats
	ApplyFilter(cfg proxy.FilterConfig) ([]proxy.Record, error)
}

// Exporter uploads an encoded export and returns its location.
type Exporter interface {
	Export(ctx context.Context, recs []proxy.Record, format export.Format) (string, error)
}

// Options carries the optional collaborators of a Server.
type Options struct {
	// Exporter backs POST /v1/export; nil disables the route.
	Exporter Exporter
	// Events serves GET /v1/events; nil disables the route.
	Events http.Handler
	// Defaults seed every run started over HTTP.
	Defaults pipeline.Settings
	// ExportFormat is used when a request names no format.
	ExportFormat export.Format
	Logger       *zap.Logger
}

// Server wires HTTP handlers to the pipeline controller.
type Server struct {
	router   chi.Router
	ctrl     Controller
	exporter Exporter
	defaults pipeline.Settings
	format   export.Format
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(ctrl Controller, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	format := opts.ExportFormat
	if format == "" {
		format = export.FormatTXT
	}
	s := &Server{
		ctrl:     ctrl,
		exporter: opts.Exporter,
		defaults: opts.Defaults,
		format:   format,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/run", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Post("/", s.startRun)
			r.Post("/pause", s.command(ctrl.Pause))
			r.Post("/resume", s.command(ctrl.Resume))
			r.Post("/stop", s.command(ctrl.Stop))
			r.Post("/reset", s.command(ctrl.Reset))
		})
		r.Get("/proxies", s.listProxies)
		r.Get("/filter", s.getFilter)
		r.Put("/filter", s.putFilter)
		r.Get("/stats", s.getStats)
		r.Get("/export", s.streamExport)
		if s.exporter != nil {
			r.Post("/export", s.uploadExport)
		}
		if opts.Events != nil {
			r.Handle("/events", opts.Events)
		}
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runResponse struct {
	State    proxy.RunState         `json:"state"`
	Progress progress.PhaseProgress `json:"progress"`
}

func (s *Server) getRun(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, runResponse{State: s.ctrl.State(), Progress: s.ctrl.Progress()})
}

type runRequest struct {
	Sources        []string            `json:"sources"`
	ProxyType      *string             `json:"proxy_type"`
	TimeoutSeconds *int                `json:"timeout_seconds"`
	Concurrency    *int                `json:"concurrency"`
	BatchSize      *int                `json:"batch_size"`
	RatePerSecond  *int                `json:"rate_per_second"`
	Filter         *proxy.FilterConfig `json:"filter"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	settings, err := s.toSettings(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ctrl.Start(r.Context(), settings); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{State: s.ctrl.State(), Progress: s.ctrl.Progress()})
}

func (s *Server) toSettings(req runRequest) (pipeline.Settings, error) {
	settings := s.defaults
	settings.Sources = append([]string(nil), s.defaults.Sources...)
	if len(req.Sources) > 0 {
		settings.Sources = req.Sources
	}
	if req.ProxyType != nil {
		typ, err := proxy.ParseType(*req.ProxyType)
		if err != nil {
			return pipeline.Settings{}, err
		}
		settings.ProxyType = typ
	}
	if req.TimeoutSeconds != nil {
		settings.Timeout = time.Duration(*req.TimeoutSeconds) * time.Second
	}
	settings.Concurrency = valueOrDefault(req.Concurrency, settings.Concurrency)
	settings.BatchSize = valueOrDefault(req.BatchSize, settings.BatchSize)
	settings.RatePerSecond = valueOrDefault(req.RatePerSecond, settings.RatePerSecond)
	settings.Filter = valueOrDefault(req.Filter, settings.Filter)
	return settings, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func (s *Server) command(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			s.writeControlError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runResponse{State: s.ctrl.State(), Progress: s.ctrl.Progress()})
	}
}

func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("pipeline command failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "pipeline command failed")
	}
}

// records resolves the ?view= query: "all", "filtered", or empty for the
// export default of filtered-if-any.
func (s *Server) records(r *http.Request) ([]proxy.Record, error) {
	switch view := r.URL.Query().Get("view"); view {
	case "all":
		return s.ctrl.Results(), nil
	case "filtered":
		return s.ctrl.Filtered(), nil
	case "":
		return export.Select(s.ctrl.Filtered(), s.ctrl.Results()), nil
	default:
		return nil, errors.New("view must be one of all, filtered")
	}
}

func (s *Server) listProxies(w http.ResponseWriter, r *http.Request) {
	recs, err := s.records(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if recs == nil {
		recs = []proxy.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"proxies": recs, "count": len(recs)})
}

func (s *Server) getFilter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Filter())
}

func (s *Server) putFilter(w http.ResponseWriter, r *http.Request) {
	var cfg proxy.FilterConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	view, err := s.ctrl.ApplyFilter(cfg)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	if view == nil {
		view = []proxy.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"filter": s.ctrl.Filter(), "proxies": view, "count": len(view)})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Stats())
}

func (s *Server) exportRequest(w http.ResponseWriter, r *http.Request) ([]proxy.Record, export.Format, bool) {
	format := s.format
	if raw := r.URL.Query().Get("format"); raw != "" {
		parsed, err := export.ParseFormat(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return nil, "", false
		}
		format = parsed
	}
	recs, err := s.records(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, "", false
	}
	if len(recs) == 0 {
		writeError(w, http.StatusNotFound, export.ErrNothingToExport.Error())
		return nil, "", false
	}
	return recs, format, true
}

func (s *Server) streamExport(w http.ResponseWriter, r *http.Request) {
	recs, format, ok := s.exportRequest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="proxies.`+string(format)+`"`)
	if err := export.Encode(w, recs, format); err != nil {
		s.logger.Error("stream export failed", zap.Error(err))
	}
}

func (s *Server) uploadExport(w http.ResponseWriter, r *http.Request) {
	recs, format, ok := s.exportRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), exportTimeout)
	defer cancel()
	uri, err := s.exporter.Export(ctx, recs, format)
	if err != nil {
		s.logger.Error("upload export failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "export upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"uri": uri, "count": len(recs), "format": format})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
