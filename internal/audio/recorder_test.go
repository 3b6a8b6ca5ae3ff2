package audio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecorderKeepsSendOrder(t *testing.T) {
	rec := NewRecorder(16000)

	chunks := [][]byte{{1, 0, 2, 0}, {3, 0}, {4, 0, 5, 0, 6, 0}}
	for _, c := range chunks {
		if err := rec.Write(c); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	wavData, err := rec.WAV()
	if err != nil {
		t.Fatalf("WAV failed: %v", err)
	}

	samples, rate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected rate 16000, got %d", rate)
	}
	for i, s := range samples {
		if s != int16(i+1) {
			t.Errorf("Sample %d: expected %d, got %d", i, i+1, s)
		}
	}

	stats := rec.GetStats()
	if stats.Chunks != 3 || stats.Samples != 6 {
		t.Errorf("Expected 3 chunks and 6 samples, got %d/%d", stats.Chunks, stats.Samples)
	}
}

func TestRecorderDuration(t *testing.T) {
	rec := NewRecorder(8000)
	rec.Write(make([]byte, 8000)) // 4000 samples

	if d := rec.Duration(); d != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", d)
	}
}

func TestRecorderRejectsOddChunk(t *testing.T) {
	rec := NewRecorder(8000)
	if err := rec.Write([]byte{1}); err == nil {
		t.Error("Expected error for odd chunk")
	}
	if rec.Size() != 0 {
		t.Error("Rejected chunk must not be recorded")
	}
}

func TestRecorderPersist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	rec := NewRecorder(16000)

	path, err := rec.Persist(dir, "empty")
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if path != "" {
		t.Errorf("Expected empty recording not to be written, got %s", path)
	}

	rec.Write([]byte{1, 0, 2, 0})
	path, err = rec.Persist(dir, "session-1")
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if filepath.Base(path) != "session-1.wav" {
		t.Errorf("Unexpected path %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(data[44:], []byte{1, 0, 2, 0}) {
		t.Errorf("Unexpected payload %v", data[44:])
	}
}

func TestRecorderReset(t *testing.T) {
	rec := NewRecorder(16000)
	rec.Write([]byte{1, 0})
	rec.Reset()

	if rec.Size() != 0 || rec.GetStats().Chunks != 0 {
		t.Error("Expected recorder to be empty after reset")
	}
}
