package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder keeps a copy of every chunk sent to the backend, in send order,
// so a session can be archived as a WAV file for offline verification.
type Recorder struct {
	sampleRate int

	data       []byte
	chunks     uint64
	firstWrite time.Time
	lastWrite  time.Time

	mu sync.RWMutex
}

// RecorderStats represents recorder statistics for monitoring
type RecorderStats struct {
	Chunks     uint64        `json:"chunks"`
	Bytes      int           `json:"bytes"`
	Samples    int           `json:"samples"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate"`
}

// NewRecorder creates a recorder for 16-bit mono PCM at sampleRate
func NewRecorder(sampleRate int) *Recorder {
	return &Recorder{
		sampleRate: sampleRate,
		// two seconds of audio before the first grow
		data: make([]byte, 0, sampleRate*BytesPerSample*2),
	}
}

// Write appends a sent chunk
func (r *Recorder) Write(chunk []byte) error {
	if len(chunk)%BytesPerSample != 0 {
		return fmt.Errorf("audio data length must be even (got %d bytes)", len(chunk))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.chunks == 0 {
		r.firstWrite = now
	}
	r.lastWrite = now
	r.chunks++
	r.data = append(r.data, chunk...)
	return nil
}

// Size returns the number of recorded bytes
func (r *Recorder) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.data)
}

// Duration returns the playback duration of the recorded audio
func (r *Recorder) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.durationLocked()
}

func (r *Recorder) durationLocked() time.Duration {
	if r.sampleRate <= 0 {
		return 0
	}
	samples := len(r.data) / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(r.sampleRate)
}

// WAV returns everything recorded so far as a WAV container
func (r *Recorder) WAV() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return EncodeWAVFromPCM(r.data, r.sampleRate)
}

// Persist writes the recording to dir/name.wav and returns the file path.
// An empty recording is not written and returns an empty path.
func (r *Recorder) Persist(dir, name string) (string, error) {
	if r.Size() == 0 {
		return "", nil
	}

	wavData, err := r.WAV()
	if err != nil {
		return "", fmt.Errorf("failed to encode recording: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, name+".wav")
	if err := os.WriteFile(path, wavData, 0o644); err != nil {
		return "", fmt.Errorf("failed to write recording %s: %w", path, err)
	}
	return path, nil
}

// Reset drops the recorded audio
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data = r.data[:0]
	r.chunks = 0
	r.firstWrite = time.Time{}
	r.lastWrite = time.Time{}
}

// GetStats returns current recorder statistics
func (r *Recorder) GetStats() RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RecorderStats{
		Chunks:     r.chunks,
		Bytes:      len(r.data),
		Samples:    len(r.data) / BytesPerSample,
		Duration:   r.durationLocked(),
		SampleRate: r.sampleRate,
	}
}
