package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zaf/resample"

	"github.com/skypro1111/stream-transcriber/internal/audio"
)

// WAVFileDevice plays a 16-bit mono WAV file as if it were a microphone.
// Files recorded at another rate are converted here, on the device side.
type WAVFileDevice struct {
	path     string
	realtime bool
	logger   *slog.Logger

	mu       sync.Mutex
	acquired bool
}

// NewWAVFileDevice creates a file-backed device. With realtime set, frames
// are paced at the sample rate instead of being read as fast as possible.
func NewWAVFileDevice(path string, realtime bool, logger *slog.Logger) *WAVFileDevice {
	return &WAVFileDevice{path: path, realtime: realtime, logger: logger}
}

func (d *WAVFileDevice) Acquire(ctx context.Context, format Format) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.acquired {
		return nil, fmt.Errorf("device %s is busy", d.path)
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file %s: %w", d.path, err)
	}

	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio file %s: %w", d.path, err)
	}

	if rate != format.SampleRate {
		converted, err := resamplePCM(samples, rate, format.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to resample %d Hz -> %d Hz: %w", rate, format.SampleRate, err)
		}
		d.logger.Info("Resampled audio file",
			slog.String("path", d.path),
			slog.Int("from_rate", rate),
			slog.Int("to_rate", format.SampleRate),
			slog.Int("samples", len(converted)),
		)
		samples = converted
		rate = format.SampleRate
	}

	d.acquired = true
	return &wavStream{
		samples:  audio.Int16ToFloat(samples),
		rate:     rate,
		realtime: d.realtime,
	}, nil
}

func (d *WAVFileDevice) Release(stream Stream) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.acquired {
		return fmt.Errorf("device %s is not acquired", d.path)
	}
	d.acquired = false
	return nil
}

// resamplePCM converts 16-bit mono PCM between rates with soxr
func resamplePCM(samples []int16, fromRate, toRate int) ([]int16, error) {
	var out bytes.Buffer
	r, err := resample.New(&out, float64(fromRate), float64(toRate), 1, resample.I16, resample.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	if _, err := r.Write(audio.Int16ToBytes(samples)); err != nil {
		r.Close()
		return nil, fmt.Errorf("resampler write: %w", err)
	}
	// Close flushes the tail of the filter into out
	if err := r.Close(); err != nil {
		return nil, fmt.Errorf("resampler close: %w", err)
	}

	pcm := out.Bytes()
	return audio.BytesToInt16(pcm[:len(pcm)-len(pcm)%audio.BytesPerSample])
}

type wavStream struct {
	samples  []float32
	pos      int
	rate     int
	realtime bool
	next     time.Time
}

func (s *wavStream) SampleRate() int {
	return s.rate
}

// ReadFrame copies the next block; the last block is zero padded
func (s *wavStream) ReadFrame(ctx context.Context, frame []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.pos >= len(s.samples) {
		return io.EOF
	}

	if s.realtime {
		if err := s.pace(ctx, len(frame)); err != nil {
			return err
		}
	}

	n := copy(frame, s.samples[s.pos:])
	for i := n; i < len(frame); i++ {
		frame[i] = 0
	}
	s.pos += n
	return nil
}

func (s *wavStream) pace(ctx context.Context, frameSize int) error {
	now := time.Now()
	if s.next.IsZero() {
		s.next = now
	}
	wait := s.next.Sub(now)
	s.next = s.next.Add(time.Duration(frameSize) * time.Second / time.Duration(s.rate))
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
