package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/stream-transcriber/internal/config"
	"github.com/skypro1111/stream-transcriber/internal/errs"
	"github.com/skypro1111/stream-transcriber/internal/metrics"
	"github.com/skypro1111/stream-transcriber/internal/pipeline"
)

const (
	serviceName    = "stream-transcriber"
	serviceVersion = "1.0.0"

	startTimeout     = 45 * time.Second
	eventsBuffer     = 32
	eventsWriteWait  = 5 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = eventsPongWait * 9 / 10
)

// Controller is the session surface the API drives
type Controller interface {
	StartSession(ctx context.Context) error
	StopSession() error
	Clear() error
	Snapshot() pipeline.Snapshot
	Subscribe(obs pipeline.Observer) func()
}

// HTTPServer provides the control and observer API for the transcriber
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	controller Controller
	start      func(ctx context.Context) error
	gatherer   prometheus.Gatherer
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader

	// Server state
	startTime time.Time
	clients   atomic.Int64
	wg        sync.WaitGroup
	done      chan struct{}
	stopOnce  sync.Once
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int
	Address string
	Enabled bool
}

// Options customises the server. Start defaults to Controller.StartSession.
type Options struct {
	Start    func(ctx context.Context) error
	Gatherer prometheus.Gatherer
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, appConfig *config.Config,
	controller Controller, m *metrics.Metrics, opts Options) *HTTPServer {

	h := &HTTPServer{
		logger:     logger.With(slog.String("component", "http")),
		config:     appConfig,
		controller: controller,
		start:      opts.Start,
		gatherer:   opts.Gatherer,
		metrics:    m,
		startTime:  time.Now(),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if h.start == nil {
		h.start = controller.StartSession
	}
	if h.gatherer == nil {
		h.gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// session start waits for device and backend handshake
		WriteTimeout: startTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler exposes the route table, mainly for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))

	mux.HandleFunc("/session/start", h.withMetrics("/session/start", h.handleStart))
	mux.HandleFunc("/session/stop", h.withMetrics("/session/stop", h.handleStop))
	mux.HandleFunc("/session/clear", h.withMetrics("/session/clear", h.handleClear))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// websocket push of snapshots; the upgrade needs the raw writer
	mux.HandleFunc("/events", h.handleEvents)

	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
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

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (h *HTTPServer) Run(ctx context.Context) error {
	h.logger.Info("Starting HTTP API server", slog.String("address", h.server.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.Stop(shutdownCtx)
}

// Stop gracefully stops the HTTP server and disconnects observers
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	// hijacked observer connections are not tracked by Shutdown
	h.stopOnce.Do(func() { close(h.done) })
	err := h.server.Shutdown(ctx)
	h.wg.Wait()
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes
func (h *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.Canceled):
		status = http.StatusConflict
	case errs.IsInvalidState(err):
		status = http.StatusConflict
	case errs.IsCapture(err):
		status = http.StatusServiceUnavailable
	case errs.IsConnect(err), errs.IsBackendProtocol(err):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	writeJSON(w, status, map[string]any{
		"error":    err.Error(),
		"kind":     errs.KindOf(err).String(),
		"snapshot": h.controller.Snapshot(),
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.controller.Snapshot()
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]any{
			"pipeline": map[string]any{
				"status":      snap.Status,
				"session_id":  snap.SessionID,
				"chunks_sent": snap.ChunksSent,
				"last_error":  snap.LastError,
			},
			"observers": map[string]any{
				"connected": h.clients.Load(),
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// handleStart implements POST /session/start. It returns once the session
// is streaming or has failed to start.
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// a dropped client must not abort a half-acquired session
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), startTimeout)
	defer cancel()

	if err := h.start(ctx); err != nil {
		h.logger.Warn("Session start rejected", slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// handleStop implements POST /session/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.controller.StopSession(); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// handleClear implements POST /session/clear
func (h *HTTPServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.controller.Clear(); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// secrets are masked
	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

// handleEvents upgrades to a websocket and pushes a snapshot on every
// state change. Slow clients lose intermediate snapshots, never the latest.
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Observer upgrade failed", slog.String("error", err.Error()))
		h.metrics.RecordHTTPError(r.Method, "/events", "client_error")
		return
	}
	h.metrics.RecordHTTPRequest(r.Method, "/events", "101", 0)

	h.wg.Add(1)
	defer h.wg.Done()
	defer conn.Close()

	h.metrics.SetObserverClients(int(h.clients.Add(1)))
	defer func() { h.metrics.SetObserverClients(int(h.clients.Add(-1))) }()

	updates := make(chan pipeline.Snapshot, eventsBuffer)
	unsubscribe := h.controller.Subscribe(pipeline.ObserverFunc(func(s pipeline.Snapshot) {
		select {
		case updates <- s:
		default:
			// drop the oldest to keep the newest
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- s:
			default:
			}
		}
	}))
	defer unsubscribe()

	h.logger.Info("Observer connected", slog.String("remote_addr", r.RemoteAddr))
	defer h.logger.Info("Observer disconnected", slog.String("remote_addr", r.RemoteAddr))

	// the read side only services control frames and notices the close
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()

	if err := h.writeSnapshot(conn, h.controller.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case snap := <-updates:
			if err := h.writeSnapshot(conn, snap); err != nil {
				h.logger.Debug("Observer write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-h.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(eventsWriteWait))
			return
		}
	}
}

func (h *HTTPServer) writeSnapshot(conn *websocket.Conn, snap pipeline.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
	return conn.WriteJSON(snap)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "Streaming Transcription Service",
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":               "API documentation",
			"GET /health":         "Service health check",
			"GET /status":         "Current session snapshot",
			"POST /session/start": "Start a transcription session",
			"POST /session/stop":  "Stop the current session",
			"POST /session/clear": "Clear the transcript",
			"GET /config":         "Get service configuration",
			"GET /events":         "Websocket stream of session snapshots",
			"GET /metrics":        "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
