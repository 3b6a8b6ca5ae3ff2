package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/stream-transcriber/internal/config"
	"github.com/skypro1111/stream-transcriber/internal/errs"
	"github.com/skypro1111/stream-transcriber/internal/metrics"
	"github.com/skypro1111/stream-transcriber/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeController struct {
	mu        sync.Mutex
	snap      pipeline.Snapshot
	startErr  error
	clearErr  error
	starts    int
	stops     int
	observers map[int]pipeline.Observer
	nextID    int
}

func newFakeController() *fakeController {
	return &fakeController{observers: make(map[int]pipeline.Observer)}
}

func (f *fakeController) StartSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.snap.Status = pipeline.StatusStreaming
	return nil
}

func (f *fakeController) StopSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.snap.Status = pipeline.StatusStopped
	return nil
}

func (f *fakeController) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	f.snap.FinalText = ""
	return nil
}

func (f *fakeController) Snapshot() pipeline.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Subscribe(obs pipeline.Observer) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.observers[id] = obs
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.observers, id)
	}
}

func (f *fakeController) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observers)
}

func (f *fakeController) publish(s pipeline.Snapshot) {
	f.mu.Lock()
	f.snap = s
	observers := make([]pipeline.Observer, 0, len(f.observers))
	for _, obs := range f.observers {
		observers = append(observers, obs)
	}
	f.mu.Unlock()

	for _, obs := range observers {
		obs.OnSnapshot(s)
	}
}

func newTestServer(t *testing.T, ctrl *fakeController) (*HTTPServer, *httptest.Server) {
	t.Helper()

	reg := prometheus.NewRegistry()
	cfg := config.Default()
	cfg.Transport.APIKey = "super-secret"

	h := NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1", Port: 0, Enabled: true},
		testLogger(), cfg, ctrl, metrics.New(reg), Options{Gatherer: reg})
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	return h, srv
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t, newFakeController())

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Unexpected health body %v", body)
	}
}

func TestStatus(t *testing.T) {
	ctrl := newFakeController()
	ctrl.snap = pipeline.Snapshot{Status: pipeline.StatusStreaming, PartialText: "他好"}
	_, srv := newTestServer(t, ctrl)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if body["status"] != "streaming" || body["partial_text"] != "他好" {
		t.Errorf("Unexpected status body %v", body)
	}
}

func TestSessionStart(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		startErr   error
		wantStatus int
		wantKind   string
	}{
		{"started", http.MethodPost, nil, http.StatusOK, ""},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed, ""},
		{"already active", http.MethodPost, errs.InvalidState("pipeline.StartSession", "session already streaming"), http.StatusConflict, "invalid_state"},
		{"no microphone", http.MethodPost, errs.Capture("capture.Start", errors.New("permission denied")), http.StatusServiceUnavailable, "capture_error"},
		{"backend down", http.MethodPost, errs.Connect("transport.Connect", errors.New("refused")), http.StatusBadGateway, "connect_error"},
		{"cancelled", http.MethodPost, context.Canceled, http.StatusConflict, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			ctrl.startErr = tt.startErr
			_, srv := newTestServer(t, ctrl)

			req, _ := http.NewRequest(tt.method, srv.URL+"/session/start", nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantKind == "" {
				return
			}
			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if body["kind"] != tt.wantKind {
				t.Errorf("Expected kind %s, got %v", tt.wantKind, body["kind"])
			}
		})
	}
}

func TestSessionStartUsesOption(t *testing.T) {
	ctrl := newFakeController()
	reg := prometheus.NewRegistry()

	var called bool
	h := NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1", Port: 0}, testLogger(), config.Default(),
		ctrl, metrics.New(reg), Options{
			Gatherer: reg,
			Start: func(ctx context.Context) error {
				called = true
				if _, ok := ctx.Deadline(); !ok {
					t.Error("Expected start deadline")
				}
				return nil
			},
		})
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/session/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()

	if !called {
		t.Error("Custom start not used")
	}
	if ctrl.starts != 0 {
		t.Error("Controller started directly")
	}
}

func TestSessionStopAndClear(t *testing.T) {
	ctrl := newFakeController()
	_, srv := newTestServer(t, ctrl)

	resp, err := http.Post(srv.URL+"/session/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /session/stop failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || ctrl.stops != 1 {
		t.Errorf("Stop not applied: status=%d stops=%d", resp.StatusCode, ctrl.stops)
	}

	ctrl.clearErr = errs.InvalidState("pipeline.Clear", "cannot clear while session is streaming")
	resp, err = http.Post(srv.URL+"/session/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /session/clear failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409, got %d", resp.StatusCode)
	}
}

func TestConfigMasksSecrets(t *testing.T) {
	_, srv := newTestServer(t, newFakeController())

	resp, err := http.Get(srv.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config failed: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(data), "super-secret") {
		t.Errorf("API key leaked: %s", data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t, newFakeController())

	// generate one instrumented request first
	if resp, err := http.Get(srv.URL + "/health"); err == nil {
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "transcriber_http_requests_total") {
		t.Errorf("Expected http request metric, got:\n%s", data)
	}
}

func TestRootNotFound(t *testing.T) {
	_, srv := newTestServer(t, newFakeController())

	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestEventsWebsocket(t *testing.T) {
	ctrl := newFakeController()
	ctrl.snap = pipeline.Snapshot{Status: pipeline.StatusIdle}
	h, srv := newTestServer(t, ctrl)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var initial map[string]any
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if initial["status"] != "idle" {
		t.Errorf("Expected initial idle snapshot, got %v", initial)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ctrl.subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.clients.Load() != 1 {
		t.Errorf("Expected one observer client, got %d", h.clients.Load())
	}

	ctrl.publish(pipeline.Snapshot{Status: pipeline.StatusStreaming, PartialText: "他"})

	var update map[string]any
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if update["status"] != "streaming" || update["partial_text"] != "他" {
		t.Errorf("Unexpected update %v", update)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for ctrl.subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ctrl.subscribers() != 0 {
		t.Error("Observer not unsubscribed after disconnect")
	}
}
