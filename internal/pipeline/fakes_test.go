package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/stream-transcriber/internal/audio"
	"github.com/skypro1111/stream-transcriber/internal/capture"
	"github.com/skypro1111/stream-transcriber/internal/errs"
	"github.com/skypro1111/stream-transcriber/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// callLog records the order of teardown-relevant calls across fakes
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *callLog) index(entry string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i] == entry {
			return i
		}
	}
	return -1
}

type fakeCapture struct {
	log *callLog

	blockStart bool
	startErr   error

	mu      sync.Mutex
	frames  chan capture.Frame
	closed  bool
	started bool
	stops   int
	err     error
}

func newFakeCapture(log *callLog) *fakeCapture {
	return &fakeCapture{log: log, frames: make(chan capture.Frame, 64)}
}

func (f *fakeCapture) Start(ctx context.Context, sampleRate, frameSize int) (<-chan capture.Frame, error) {
	if f.blockStart {
		<-ctx.Done()
		return nil, errs.Capture("fake.Start", ctx.Err())
	}
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	f.log.add("capture.start")
	return f.frames, nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	f.stops++
	first := f.stops == 1
	f.closeLocked()
	f.mu.Unlock()

	if first {
		f.log.add("capture.stop")
	}
	return nil
}

func (f *fakeCapture) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeCapture) closeLocked() {
	if !f.closed {
		f.closed = true
		close(f.frames)
	}
}

func (f *fakeCapture) push(frame capture.Frame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.frames <- frame
	return true
}

// fail ends the frame stream the way a device failure does
func (f *fakeCapture) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.closeLocked()
}

// exhaust ends the frame stream cleanly
func (f *fakeCapture) exhaust() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
}

func (f *fakeCapture) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeConnection struct {
	log *callLog

	blockConnect bool
	connectErr   error

	mu        sync.Mutex
	events    chan transcript.Event
	connected bool
	closed    bool
	chunks    [][]byte
	err       error
	sendErr   error
}

func newFakeConnection(log *callLog) *fakeConnection {
	return &fakeConnection{log: log, events: make(chan transcript.Event, 64)}
}

func (f *fakeConnection) Connect(ctx context.Context) error {
	if f.blockConnect {
		<-ctx.Done()
		return errs.Connect("fake.Connect", ctx.Err())
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.log.add("conn.connect")
	return nil
}

func (f *fakeConnection) Send(chunk []byte) error {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	f.chunks = append(f.chunks, append([]byte(nil), chunk...))
	f.mu.Unlock()

	f.log.add(fmt.Sprintf("send:%d", len(chunk)))
	return nil
}

func (f *fakeConnection) Events() <-chan transcript.Event {
	return f.events
}

func (f *fakeConnection) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeConnection) Close() error {
	f.mu.Lock()
	first := !f.closed
	if first {
		f.closed = true
		close(f.events)
	}
	f.mu.Unlock()

	if first {
		f.log.add("conn.close")
	}
	return nil
}

func (f *fakeConnection) emit(ev transcript.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.events <- ev
	}
}

// drop ends the event stream the way a lost connection does
func (f *fakeConnection) drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	if !f.closed {
		f.closed = true
		close(f.events)
	}
}

func (f *fakeConnection) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.chunks...)
}

func (f *fakeConnection) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// harness hands out a fresh fake pair per session
type harness struct {
	log *callLog

	onCapture    func(i int, f *fakeCapture)
	onConnection func(i int, f *fakeConnection)

	mu          sync.Mutex
	captures    []*fakeCapture
	connections []*fakeConnection
}

func newHarness() *harness {
	return &harness{log: &callLog{}}
}

func (h *harness) deps() Dependencies {
	return Dependencies{
		NewCapture: func() Capture {
			h.mu.Lock()
			defer h.mu.Unlock()
			f := newFakeCapture(h.log)
			if h.onCapture != nil {
				h.onCapture(len(h.captures), f)
			}
			h.captures = append(h.captures, f)
			return f
		},
		NewConnection: func() Connection {
			h.mu.Lock()
			defer h.mu.Unlock()
			f := newFakeConnection(h.log)
			if h.onConnection != nil {
				h.onConnection(len(h.connections), f)
			}
			h.connections = append(h.connections, f)
			return f
		},
		Logger: testLogger(),
	}
}

func (h *harness) capture() *fakeCapture {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.captures[len(h.captures)-1]
}

func (h *harness) connection() *fakeConnection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connections[len(h.connections)-1]
}

func (h *harness) sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

func testConfig() Config {
	return Config{
		SampleRate: 16000,
		FrameSize:  4,
		Aggregator: audio.AggregatorConfig{MaxFrames: 2},
		FlushTick:  5 * time.Millisecond,
	}
}

// testFrame encodes to 8 bytes of PCM
func testFrame() capture.Frame {
	return capture.Frame{0.5, -0.5, 0.25, 0}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func waitForStatus(t *testing.T, c *Controller, status Status) {
	t.Helper()
	waitFor(t, "status "+status.String(), func() bool {
		return c.Snapshot().Status == status
	})
}
