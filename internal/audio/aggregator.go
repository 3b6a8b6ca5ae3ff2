package audio

import (
	"sync"
	"time"

	"github.com/skypro1111/stream-transcriber/internal/errs"
)

// AggregatorState represents the current state of the aggregation process
type AggregatorState int

const (
	AggregatorIdle AggregatorState = iota
	AggregatorCollecting
)

func (s AggregatorState) String() string {
	if s == AggregatorCollecting {
		return "collecting"
	}
	return "idle"
}

// AggregatorConfig controls when pending chunks are flushed.
// A zero MaxFrames disables the count trigger and a zero MaxInterval disables
// the time trigger; with both zero the aggregator only flushes on request.
type AggregatorConfig struct {
	MaxFrames   int
	MaxInterval time.Duration
}

// Aggregator concatenates encoded chunks into larger outbound buffers.
// Order of arrival is preserved and every byte is emitted exactly once.
type Aggregator struct {
	config AggregatorConfig
	state  AggregatorState

	pending       []byte
	pendingFrames int
	firstAt       time.Time

	// Statistics
	chunksFlushed    uint64
	framesAggregated uint64
	bytesFlushed     uint64
	bytesDiscarded   uint64

	mu sync.Mutex
}

// AggregatorStats represents aggregator statistics
type AggregatorStats struct {
	State            string  `json:"state"`
	ChunksFlushed    uint64  `json:"chunks_flushed"`
	FramesAggregated uint64  `json:"frames_aggregated"`
	BytesFlushed     uint64  `json:"bytes_flushed"`
	BytesDiscarded   uint64  `json:"bytes_discarded"`
	PendingFrames    int     `json:"pending_frames"`
	PendingBytes     int     `json:"pending_bytes"`
	AvgChunkBytes    float64 `json:"avg_chunk_bytes"`
}

// NewAggregator creates a new chunk aggregator
func NewAggregator(config AggregatorConfig) *Aggregator {
	return &Aggregator{
		config: config,
		state:  AggregatorIdle,
	}
}

// Add appends an encoded chunk. When the count trigger fires the concatenated
// buffer is returned and the aggregator goes back to idle; otherwise nil.
func (a *Aggregator) Add(chunk []byte, now time.Time) ([]byte, error) {
	if len(chunk)%BytesPerSample != 0 {
		return nil, errs.Encoding("audio.Aggregator.Add", "chunk length must be even (got %d bytes)", len(chunk))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == AggregatorIdle {
		a.state = AggregatorCollecting
		a.firstAt = now
	}

	a.pending = append(a.pending, chunk...)
	a.pendingFrames++
	a.framesAggregated++

	if a.config.MaxFrames > 0 && a.pendingFrames >= a.config.MaxFrames {
		return a.flushLocked(), nil
	}
	return nil, nil
}

// Due reports whether the time trigger has fired
func (a *Aggregator) Due(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.dueLocked(now)
}

func (a *Aggregator) dueLocked(now time.Time) bool {
	return a.state == AggregatorCollecting &&
		a.config.MaxInterval > 0 &&
		now.Sub(a.firstAt) >= a.config.MaxInterval
}

// FlushIfDue flushes when the time trigger has fired, nil otherwise
func (a *Aggregator) FlushIfDue(now time.Time) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.dueLocked(now) {
		return nil
	}
	return a.flushLocked()
}

// Flush forces the pending buffer out (used on stop or mode switch).
// It returns nil when nothing is pending.
func (a *Aggregator) Flush() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.flushLocked()
}

// Reset discards pending audio and returns the number of bytes dropped
func (a *Aggregator) Reset() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	dropped := len(a.pending)
	a.bytesDiscarded += uint64(dropped)
	a.resetLocked()
	return dropped
}

// flushLocked hands the pending slice to the caller and starts a fresh one
func (a *Aggregator) flushLocked() []byte {
	if a.state == AggregatorIdle || len(a.pending) == 0 {
		a.resetLocked()
		return nil
	}

	out := a.pending
	a.chunksFlushed++
	a.bytesFlushed += uint64(len(out))
	a.pending = nil
	a.resetLocked()
	return out
}

func (a *Aggregator) resetLocked() {
	a.state = AggregatorIdle
	a.pending = nil
	a.pendingFrames = 0
	a.firstAt = time.Time{}
}

// Pending returns the number of frames waiting for a flush
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.pendingFrames
}

// GetStats returns current aggregator statistics
func (a *Aggregator) GetStats() AggregatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	avg := float64(0)
	if a.chunksFlushed > 0 {
		avg = float64(a.bytesFlushed) / float64(a.chunksFlushed)
	}

	return AggregatorStats{
		State:            a.state.String(),
		ChunksFlushed:    a.chunksFlushed,
		FramesAggregated: a.framesAggregated,
		BytesFlushed:     a.bytesFlushed,
		BytesDiscarded:   a.bytesDiscarded,
		PendingFrames:    a.pendingFrames,
		PendingBytes:     len(a.pending),
		AvgChunkBytes:    avg,
	}
}
