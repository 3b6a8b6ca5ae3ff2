package bootstrap

import (
	"context"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skypro1111/stream-transcriber/internal/audio"
	"github.com/skypro1111/stream-transcriber/internal/config"
	"github.com/skypro1111/stream-transcriber/internal/mockbackend"
	"github.com/skypro1111/stream-transcriber/internal/pipeline"
)

// writeTone writes a half-second 440 Hz tone at 16 kHz
func writeTone(t *testing.T) string {
	t.Helper()
	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	data, err := audio.EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func endToEndConfig(t *testing.T, backendURL string) *config.Config {
	cfg := config.Default()
	cfg.Audio.FrameSize = 1024
	cfg.Aggregator.MaxFrames = 1
	cfg.Aggregator.MaxIntervalMs = 0
	cfg.Capture.WAVPath = writeTone(t)
	cfg.Capture.Realtime = true
	cfg.Transport.Endpoint = "ws" + strings.TrimPrefix(backendURL, "http")
	cfg.Transport.APIKey = "test-key"
	return cfg
}

func TestEndToEndWAVToMockBackend(t *testing.T) {
	backend := mockbackend.New(mockbackend.Config{
		BytesPerWord:  2048,
		WordsPerFinal: 2,
		APIKey:        "test-key",
	}, testLogger())
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := endToEndConfig(t, srv.URL)
	cfg.Archive.Enabled = true
	cfg.Archive.Dir = t.TempDir()

	rt, err := New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctrl, err := rt.NewController()
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	if err := ctrl.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	ctrl.Wait()

	snap := ctrl.Snapshot()
	if snap.Status != pipeline.StatusStopped {
		t.Fatalf("Expected stopped after input ran out, got %s (%s)", snap.Status, snap.LastError)
	}
	if snap.FramesCaptured != 8 || snap.BytesSent != 8*1024*2 {
		t.Errorf("Unexpected counters: frames=%d bytes=%d", snap.FramesCaptured, snap.BytesSent)
	}
	if !strings.HasPrefix(snap.FinalText, "the quick ") {
		t.Errorf("Expected scripted transcript, got %q", snap.FinalText)
	}

	archived, err := os.ReadFile(filepath.Join(cfg.Archive.Dir, snap.SessionID+".wav"))
	if err != nil {
		t.Fatalf("Archive missing: %v", err)
	}
	if err := audio.ValidateWAV(archived); err != nil {
		t.Errorf("Archive is not a valid WAV: %v", err)
	}
}

func TestEndToEndBackendLimit(t *testing.T) {
	backend := mockbackend.New(mockbackend.Config{
		BytesPerWord:   2048,
		FailAfterBytes: 4096,
		APIKey:         "test-key",
	}, testLogger())
	srv := httptest.NewServer(backend)
	defer srv.Close()

	rt, err := New(context.Background(), endToEndConfig(t, srv.URL), testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctrl, err := rt.NewController()
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	if err := ctrl.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	ctrl.Wait()

	snap := ctrl.Snapshot()
	if snap.Status != pipeline.StatusError {
		t.Fatalf("Expected error, got %s", snap.Status)
	}
	if snap.ErrorKind != "backend_protocol_error" || !strings.Contains(snap.LastError, "LimitExceeded") {
		t.Errorf("Unexpected failure %s: %s", snap.ErrorKind, snap.LastError)
	}
}

func TestEndToEndBadAPIKey(t *testing.T) {
	backend := mockbackend.New(mockbackend.Config{APIKey: "other"}, testLogger())
	srv := httptest.NewServer(backend)
	defer srv.Close()

	rt, err := New(context.Background(), endToEndConfig(t, srv.URL), testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctrl, err := rt.NewController()
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	err = ctrl.StartSession(context.Background())
	if err == nil {
		t.Fatal("Expected handshake rejection")
	}
	if snap := ctrl.Snapshot(); snap.ErrorKind != "connect_error" {
		t.Errorf("Expected connect_error, got %s", snap.ErrorKind)
	}
}
