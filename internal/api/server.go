package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/history"
	"github.com/probegw/probegw/internal/metrics"
	"github.com/probegw/probegw/internal/model"
	"github.com/probegw/probegw/internal/probe"
)

// Constants for route prefixing. Versioning is explicit to allow
// non-breaking additions.
const (
	APIVersion     = "v1"
	DefaultAddress = "127.0.0.1:8099"
)

// defaultProbeTimeout bounds probes that did not specify timeout_ms.
const defaultProbeTimeout = 10 * time.Second

// maxProbeTimeout caps client-supplied timeouts so a single request cannot
// hold a handler goroutine for minutes.
const maxProbeTimeout = 60 * time.Second

// ServerOptions configures the HTTP server.
// Timeouts are conservative defaults suitable for a control-plane server
// whose handlers run bounded network probes.
type ServerOptions struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	Logger            *slog.Logger

	// Metrics records probe outcomes. Optional.
	Metrics *metrics.Recorder

	// Gatherer backs GET /metrics. Optional; the route is omitted when nil.
	Gatherer prometheus.Gatherer

	// History persists probe outcomes. Optional.
	History *history.Store
}

// Server hosts the HTTP API for the probe service.
type Server struct {
	http     *http.Server
	registry *probe.Registry
	logger   *slog.Logger
	metrics  *metrics.Recorder
	history  *history.Store
	opts     ServerOptions
}

// NewServer constructs an API server bound to the provided probe registry.
// The server does not start listening until Start is called.
func NewServer(registry *probe.Registry, opts ServerOptions) *Server {
	if registry == nil {
		panic("api.NewServer: registry is nil")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddress
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 2 * time.Second
	}
	if opts.WriteTimeout == 0 {
		// Handlers run probes with up to maxProbeTimeout budgets, so the
		// write timeout must comfortably exceed that.
		opts.WriteTimeout = maxProbeTimeout + 10*time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{
		registry: registry,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		history:  opts.History,
		opts:     opts,
		http: &http.Server{
			Addr:              opts.Addr,
			Handler:           withRequestLogging(mux, opts.Logger),
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       opts.IdleTimeout,
		},
	}

	// Routes
	mux.HandleFunc("/"+APIVersion+"/healthz", s.handleHealthz)
	mux.HandleFunc("/"+APIVersion+"/protocols", s.handleProtocols)
	mux.HandleFunc("/"+APIVersion+"/probe", s.handleProbe)
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins serving HTTP in a background goroutine.
// It returns immediately; use Stop for graceful shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("api: listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api: ListenAndServe", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server, waiting up to ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	timeout := s.opts.ShutdownTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

// handleHealthz is a simple readiness/liveness endpoint.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": TimeNow().UTC().Format(time.RFC3339),
	})
}

// handleProtocols lists the registered probe modules.
func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	names := s.registry.Protocols()
	resp := ProtocolsResponse{Protocols: make([]ProtocolInfo, 0, len(names))}
	for _, name := range names {
		p, ok := s.registry.Lookup(name)
		if !ok {
			continue
		}
		resp.Protocols = append(resp.Protocols, ProtocolInfo{
			Name:        p.Protocol(),
			DefaultPort: p.DefaultPort(),
			Network:     p.Network(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProbe runs one protocol probe against one target.
// Method: POST
// Request: ProbeRequest JSON
// Responses:
//   - 400 for invalid inputs (unknown protocol, missing host, bad timeout)
//   - 403 when the gateway refused the target before any I/O
//   - 200 otherwise; success=false carries error and error_kind when the
//     probe connected (or tried to) and failed
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	requestID := uuid.NewString()

	// Strict JSON decode with unknown-field rejection.
	var req ProbeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), requestID)
		return
	}

	if req.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required", requestID)
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		writeError(w, http.StatusBadRequest, "port must be between 0 and 65535", requestID)
		return
	}
	if req.TimeoutMS < 0 {
		writeError(w, http.StatusBadRequest, "timeout_ms must be >= 0", requestID)
		return
	}
	module, ok := s.registry.Lookup(req.Protocol)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown protocol: "+req.Protocol, requestID)
		return
	}

	timeout := defaultProbeTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	if timeout > maxProbeTimeout {
		timeout = maxProbeTimeout
	}

	target := probe.Target{
		Host:    req.Host,
		Port:    req.Port,
		Timeout: timeout,
	}

	result, err := module.Probe(r.Context(), target)
	kind := probe.ErrorKind(err)

	s.metrics.ObserveProbe(module.Protocol(), outcomeLabel(result, kind))
	s.recordHistory(r.Context(), result, kind, requestID)

	resp := ProbeResponse{
		Success:   err == nil,
		Protocol:  module.Protocol(),
		ErrorKind: kind,
		RequestID: requestID,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if result != nil {
		resp.Host = result.Host
		resp.Port = result.Port
		resp.Detected = result.Detected
		resp.ConnectTimeMS = result.ConnectTimeMs
		resp.Banner = result.Banner
		resp.Fields = result.Fields
		resp.Findings = result.Findings
	}

	switch {
	case errors.Is(err, gateway.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
	case errors.Is(err, gateway.ErrHostBlocked), errors.Is(err, gateway.ErrEdgeNetworkBlocked):
		// Refused before any I/O. The 403 makes security blocks
		// distinguishable from probes that ran and failed.
		writeJSON(w, http.StatusForbidden, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// recordHistory persists one outcome when a store is configured.
func (s *Server) recordHistory(ctx context.Context, result *model.ProbeResult, kind, requestID string) {
	if s.history == nil || result == nil {
		return
	}
	if _, err := s.history.Insert(ctx, result, kind); err != nil {
		s.logger.Warn("api: history insert failed", "error", err, "request_id", requestID)
	}
}

// outcomeLabel derives the metrics outcome label for one probe.
func outcomeLabel(result *model.ProbeResult, kind string) string {
	if kind != "" {
		return kind
	}
	if result != nil && result.Detected {
		return "detected"
	}
	return "no-service"
}

// withRequestLogging wraps the mux with lightweight request logging.
// No CORS or auth because this is a local control-plane service.
func withRequestLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := TimeNow()
		next.ServeHTTP(w, r)
		logger.Debug("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
}

func writeError(w http.ResponseWriter, status int, msg, requestID string) {
	writeJSON(w, status, APIError{
		Error:     msg,
		RequestID: requestID,
		Timestamp: TimeNow().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
