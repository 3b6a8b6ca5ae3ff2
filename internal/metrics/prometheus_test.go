package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegisterOnOwnRegistry(t *testing.T) {
	// two instances must not collide, each session test builds its own
	New(prometheus.NewRegistry())
	m := New(prometheus.NewRegistry())

	m.RecordSessionStarted(0.2)
	m.RecordChunkSent(1024)
	m.RecordChunkSent(2048)
	m.RecordTranscriptEvent("partial")
	m.RecordTranscriptEvent("error")
	m.RecordSessionEnded("connect_error", 3)

	if got := testutil.ToFloat64(m.ChunksSent); got != 2 {
		t.Errorf("Expected 2 chunks, got %v", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 3072 {
		t.Errorf("Expected 3072 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.BackendErrors); got != 1 {
		t.Errorf("Expected 1 backend error, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Errorf("Expected no active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsFailed.WithLabelValues("connect_error")); got != 1 {
		t.Errorf("Expected 1 failed session, got %v", got)
	}
}
