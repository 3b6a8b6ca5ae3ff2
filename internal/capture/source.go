package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/skypro1111/stream-transcriber/internal/errs"
)

// Frame is one block of mono samples in [-1, 1]. Frames are never modified
// after they are emitted.
type Frame []float32

// Format is what the consumer asks a device for
type Format struct {
	SampleRate int
	FrameSize  int
}

// Stream is an acquired device
type Stream interface {
	// ReadFrame fills frame completely. io.EOF means the input is exhausted.
	ReadFrame(ctx context.Context, frame []float32) error
	SampleRate() int
}

// Device is the platform collaborator that grants access to a microphone
type Device interface {
	Acquire(ctx context.Context, format Format) (Stream, error)
	Release(stream Stream) error
}

type sourceState int

const (
	sourceIdle sourceState = iota
	sourceStarting
	sourceRunning
	sourceStopped
)

// Source drives one capture session on a device. It is single use:
// once stopped it cannot be started again.
type Source struct {
	device Device
	logger *slog.Logger

	mu       sync.Mutex
	state    sourceState
	stream   Stream
	released bool
	cancel   context.CancelFunc
	err      error

	done     chan struct{}
	doneOnce sync.Once

	framesEmitted atomic.Uint64
}

// NewSource creates a source for device
func NewSource(device Device, logger *slog.Logger) *Source {
	return &Source{
		device: device,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start acquires the device and begins emitting frames of frameSize samples.
// ctx bounds acquisition only; frames flow until Stop or a device failure.
// A device that cannot deliver sampleRate is a configuration error and is
// reported as a capture error, never resampled here.
func (s *Source) Start(ctx context.Context, sampleRate, frameSize int) (<-chan Frame, error) {
	s.mu.Lock()
	if s.state != sourceIdle {
		s.mu.Unlock()
		return nil, errs.InvalidState("capture.Start", "source already started")
	}
	s.state = sourceStarting
	s.mu.Unlock()

	if sampleRate <= 0 || frameSize <= 0 {
		s.abort()
		return nil, errs.Capture("capture.Start", fmt.Errorf("invalid format: rate=%d frame=%d", sampleRate, frameSize))
	}

	stream, err := s.device.Acquire(ctx, Format{SampleRate: sampleRate, FrameSize: frameSize})
	if err != nil {
		s.abort()
		return nil, errs.Capture("capture.Start", err)
	}

	s.mu.Lock()
	s.stream = stream
	stopped := s.state == sourceStopped
	s.mu.Unlock()

	if stopped {
		s.abort()
		return nil, errs.Capture("capture.Start", errors.New("stopped during acquisition"))
	}

	if stream.SampleRate() != sampleRate {
		s.abort()
		return nil, errs.Capture("capture.Start",
			fmt.Errorf("device delivers %d Hz, backend expects %d Hz", stream.SampleRate(), sampleRate))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	frames := make(chan Frame, 32)

	s.mu.Lock()
	if s.state == sourceStopped {
		s.mu.Unlock()
		cancel()
		s.abort()
		return nil, errs.Capture("capture.Start", errors.New("stopped during acquisition"))
	}
	s.cancel = cancel
	s.state = sourceRunning
	s.mu.Unlock()

	go s.run(runCtx, stream, frameSize, frames)

	s.logger.Info("Audio capture started",
		slog.Int("sample_rate", sampleRate),
		slog.Int("frame_size", frameSize),
	)
	return frames, nil
}

// abort ends a start attempt that never produced a frame stream
func (s *Source) abort() {
	s.mu.Lock()
	s.state = sourceStopped
	s.mu.Unlock()

	s.release()
	s.closeDone()
}

func (s *Source) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Source) run(ctx context.Context, stream Stream, frameSize int, frames chan<- Frame) {
	defer s.closeDone()
	defer close(frames)

	for {
		frame := make(Frame, frameSize)
		err := stream.ReadFrame(ctx, frame)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				// stopped
			case errors.Is(err, io.EOF):
				s.logger.Info("Audio input exhausted", slog.Uint64("frames", s.framesEmitted.Load()))
			default:
				s.mu.Lock()
				s.err = errs.Capture("capture.read", err)
				s.mu.Unlock()
				s.logger.Error("Audio device failed", slog.String("error", err.Error()))
			}
			return
		}

		select {
		case frames <- frame:
			s.framesEmitted.Add(1)
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts capture and releases the device exactly once. Frames already
// emitted stay readable until the channel is drained. Stop is idempotent.
// Stopping during acquisition makes the pending Start fail and release.
func (s *Source) Stop() error {
	s.mu.Lock()
	prev := s.state
	cancel := s.cancel
	s.state = sourceStopped
	s.mu.Unlock()

	switch prev {
	case sourceStarting:
		return nil
	case sourceIdle:
		s.closeDone()
		return nil
	}

	if cancel != nil {
		cancel()
	}
	<-s.done

	return s.release()
}

func (s *Source) release() error {
	s.mu.Lock()
	if s.released || s.stream == nil {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	stream := s.stream
	s.mu.Unlock()

	if err := s.device.Release(stream); err != nil {
		s.logger.Warn("Failed to release audio device", slog.String("error", err.Error()))
		return errs.Capture("capture.Release", err)
	}
	s.logger.Info("Audio device released", slog.Uint64("frames", s.framesEmitted.Load()))
	return nil
}

// Err reports a device failure that ended the frame stream, nil otherwise
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// FramesEmitted returns the number of frames delivered so far
func (s *Source) FramesEmitted() uint64 {
	return s.framesEmitted.Load()
}
