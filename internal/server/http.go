package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/skypro1111/proximity-audio/internal/config"
	"github.com/skypro1111/proximity-audio/internal/device"
	"github.com/skypro1111/proximity-audio/internal/metrics"
	"github.com/skypro1111/proximity-audio/internal/modem"
	"github.com/skypro1111/proximity-audio/internal/protocol"
	"github.com/skypro1111/proximity-audio/internal/session"
)

const maxRequestBody = 4096

// Controller is the session API the HTTP server drives
type Controller interface {
	Emit(ctx context.Context, payload []byte) error
	ListenForResponse(ctx context.Context, timeout time.Duration) modem.DecodeResult
	Stop()
	Status() session.Status
}

// HTTPServer exposes the session controller as a local control API
type HTTPServer struct {
	server     *http.Server
	router     *mux.Router
	logger     *slog.Logger
	config     *config.Config
	controller Controller
	metrics    *metrics.Metrics
	limiter    *rate.Limiter // nil when session requests are not limited

	startTime time.Time
}

// EmitRequest is the body of POST /v1/emit. Payload is base64 in JSON; Text
// is a convenience for UTF-8 payloads. At most one may be set.
type EmitRequest struct {
	Payload []byte `json:"payload,omitempty"`
	Text    string `json:"text,omitempty"`
}

// ListenRequest is the body of POST /v1/listen
type ListenRequest struct {
	TimeoutMS int64 `json:"timeout_ms,omitempty"` // 0 uses the configured default
}

// ListenResponse reports the outcome of one listen session
type ListenResponse struct {
	Outcome   string              `json:"outcome"`
	Payload   []byte              `json:"payload,omitempty"`
	Text      string              `json:"text,omitempty"`
	Error     string              `json:"error,omitempty"`
	Stats     modem.ReceiverStats `json:"stats"`
	ElapsedMS int64               `json:"elapsed_ms"`
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, controller Controller, m *metrics.Metrics) *HTTPServer {

	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		router:     mux.NewRouter(),
		logger:     logger,
		config:     appConfig,
		controller: controller,
		metrics:    m,
		startTime:  time.Now(),
	}

	if cfg.RateLimit > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	h.setupRoutes()

	// A listen request holds the connection for up to the maximum listen window
	writeTimeout := appConfig.Session.GetMaxListenTimeout() + 10*time.Second

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() {
	// Routes stay on the root router so a method mismatch answers 405
	h.router.HandleFunc("/v1/emit", h.withMetrics("/v1/emit", h.withRateLimit(h.handleEmit))).Methods(http.MethodPost)
	h.router.HandleFunc("/v1/listen", h.withMetrics("/v1/listen", h.withRateLimit(h.handleListen))).Methods(http.MethodPost)
	h.router.HandleFunc("/v1/stop", h.withMetrics("/v1/stop", h.handleStop)).Methods(http.MethodPost)
	h.router.HandleFunc("/v1/status", h.withMetrics("/v1/status", h.handleStatus)).Methods(http.MethodGet)

	h.router.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	h.router.HandleFunc("/config", h.withMetrics("/config", h.handleConfig)).Methods(http.MethodGet)

	// Prometheus metrics endpoint (not instrumented itself)
	h.router.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	h.router.HandleFunc("/", h.withMetrics("/", h.handleRoot)).Methods(http.MethodGet)
}

// Handler returns the router, for embedding and tests
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// withRateLimit rejects session requests above the configured rate
func (h *HTTPServer) withRateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many session requests")
			return
		}
		handler(w, r)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listener and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server. In-flight listen requests are
// cancelled through their request contexts.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleEmit implements POST /v1/emit
func (h *HTTPServer) handleEmit(w http.ResponseWriter, r *http.Request) {
	var req EmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(req.Payload) > 0 && req.Text != "" {
		writeError(w, http.StatusBadRequest, "set either payload or text, not both")
		return
	}

	payload := req.Payload
	if req.Text != "" {
		payload = []byte(req.Text)
	}

	start := time.Now()
	err := h.controller.Emit(r.Context(), payload)
	if err != nil {
		status := emitStatus(err)
		if status >= 500 {
			h.logger.Error("Emit failed", slog.String("error", err.Error()))
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "emitted",
		"bytes":       len(payload),
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// emitStatus maps an Emit error to an HTTP status
func emitStatus(err error) int {
	switch {
	case errors.Is(err, protocol.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrSessionAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrControllerClosed):
		return http.StatusServiceUnavailable
	case device.IsHardware(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleListen implements POST /v1/listen. The request blocks until the
// session ends; every definite decode outcome is a 200.
func (h *HTTPServer) handleListen(w http.ResponseWriter, r *http.Request) {
	var req ListenRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.TimeoutMS < 0 {
		writeError(w, http.StatusBadRequest, "timeout_ms cannot be negative")
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout == 0 {
		timeout = h.config.Session.GetDefaultListenTimeout()
	}

	res := h.controller.ListenForResponse(r.Context(), timeout)

	resp := ListenResponse{
		Outcome:   res.Outcome.String(),
		Payload:   res.Payload,
		Error:     res.Error(),
		Stats:     res.Stats,
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	if res.OK() && utf8.Valid(res.Payload) {
		resp.Text = string(res.Payload)
	}

	status := http.StatusOK
	switch {
	case res.Outcome == modem.OutcomeSessionAlreadyActive:
		status = http.StatusConflict
	case res.Outcome == modem.OutcomeHardwareError:
		status = http.StatusBadGateway
		h.logger.Error("Listen failed", slog.String("error", res.Error()))
	case errors.Is(res.Err, session.ErrControllerClosed):
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

// handleStop implements POST /v1/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	h.controller.Stop()
	writeJSON(w, http.StatusOK, h.controller.Status())
}

// handleStatus implements GET /v1/status
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.controller.Status()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "proximity-audio",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session_controller": map[string]interface{}{
				"state":             status.State,
				"backend":           status.Backend,
				"sessions_started":  status.SessionsStarted,
				"sessions_rejected": status.SessionsRejected,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	// The wav input path is omitted since it names a local file
	sanitizedConfig := map[string]interface{}{
		"modem":    h.config.Modem,
		"receiver": h.config.Receiver,
		"session":  h.config.Session,
		"device": map[string]interface{}{
			"backend": h.config.Device.Backend,
			"name":    h.config.Device.Name,
			"air": map[string]interface{}{
				"noise_level": h.config.Device.Air.NoiseLevel,
				"drop_every":  h.config.Device.Air.DropEvery,
				"retention":   h.config.Device.Air.Retention,
			},
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Proximity Audio Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":           "API documentation",
			"GET /health":     "Service health check",
			"GET /config":     "Get service configuration",
			"GET /metrics":    "Prometheus metrics",
			"GET /v1/status":  "Session controller state and counters",
			"POST /v1/emit":   "Play a payload once ({\"text\": ...} or {\"payload\": base64})",
			"POST /v1/listen": "Listen for one frame ({\"timeout_ms\": ...})",
			"POST /v1/stop":   "Stop the active session",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

// decodeBody decodes an optional JSON body; an empty body leaves v unchanged
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
