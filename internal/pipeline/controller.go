package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/stream-transcriber/internal/audio"
	"github.com/skypro1111/stream-transcriber/internal/capture"
	"github.com/skypro1111/stream-transcriber/internal/errs"
	"github.com/skypro1111/stream-transcriber/internal/metrics"
	"github.com/skypro1111/stream-transcriber/internal/transcript"
)

// defaultFlushTick matches the flush_tick_ms default in internal/config
const defaultFlushTick = 50 * time.Millisecond

// Capture is the audio source half of a session
type Capture interface {
	Start(ctx context.Context, sampleRate, frameSize int) (<-chan capture.Frame, error)
	Stop() error
	Err() error
}

// Connection is the backend half of a session
type Connection interface {
	Connect(ctx context.Context) error
	Send(chunk []byte) error
	Events() <-chan transcript.Event
	Err() error
	Close() error
}

// Config holds the per-session audio and aggregation settings
type Config struct {
	SampleRate int
	FrameSize  int
	Aggregator audio.AggregatorConfig

	// FlushTick is how often the time trigger is checked
	FlushTick time.Duration

	// ArchiveDir enables session recording when set
	ArchiveDir string
}

// Dependencies are the collaborators a controller builds sessions from.
// A fresh capture and connection are created for every session.
type Dependencies struct {
	NewCapture    func() Capture
	NewConnection func() Connection
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

type session struct {
	id      string
	capture Capture
	conn    Connection
	agg     *audio.Aggregator
	rec     *audio.Recorder

	cancelStart   context.CancelFunc
	stopRequested bool // guarded by Controller.mu

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	streamingAt time.Time
}

func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Controller runs at most one transcription session at a time
type Controller struct {
	config        Config
	newCapture    func() Capture
	newConnection func() Connection
	metrics       *metrics.Metrics
	logger        *slog.Logger

	mu             sync.Mutex
	status         Status
	message        string
	sessionID      string
	startedAt      time.Time
	lastErr        error
	reconciler     transcript.Reconciler
	framesCaptured uint64
	chunksSent     uint64
	bytesSent      uint64
	session        *session

	// pubMu keeps snapshot delivery in state-change order
	pubMu        sync.Mutex
	obsMu        sync.Mutex
	observers    map[int]Observer
	nextObserver int
}

// New creates a controller in the Idle state
func New(config Config, deps Dependencies) *Controller {
	if config.FlushTick <= 0 {
		config.FlushTick = defaultFlushTick
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	return &Controller{
		config:        config,
		newCapture:    deps.NewCapture,
		newConnection: deps.NewConnection,
		metrics:       m,
		logger:        logger.With(slog.String("component", "pipeline")),
		status:        StatusIdle,
		observers:     make(map[int]Observer),
	}
}

// Subscribe registers an observer and returns a function that removes it
func (c *Controller) Subscribe(obs Observer) func() {
	c.obsMu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = obs
	c.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.obsMu.Lock()
			delete(c.observers, id)
			c.obsMu.Unlock()
		})
	}
}

// Snapshot returns the current observable state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	state := c.reconciler.State()
	snap := Snapshot{
		SessionID:      c.sessionID,
		Status:         c.status,
		Message:        c.message,
		PartialText:    state.Partial,
		FinalText:      state.FinalText(),
		StartedAt:      c.startedAt,
		FramesCaptured: c.framesCaptured,
		ChunksSent:     c.chunksSent,
		BytesSent:      c.bytesSent,
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
		snap.ErrorKind = errs.KindOf(c.lastErr).String()
	}
	return snap
}

func (c *Controller) publish() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	snap := c.Snapshot()

	c.obsMu.Lock()
	observers := make([]Observer, 0, len(c.observers))
	for _, obs := range c.observers {
		observers = append(observers, obs)
	}
	c.obsMu.Unlock()

	for _, obs := range observers {
		obs.OnSnapshot(snap)
	}
}

// StartSession acquires the capture source, connects to the backend and
// starts streaming. It returns once the session is Streaming or has failed.
func (c *Controller) StartSession(ctx context.Context) error {
	c.mu.Lock()
	if c.status.Active() {
		status := c.status
		c.mu.Unlock()
		return errs.InvalidState("pipeline.StartSession", "session already %s", status)
	}

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &session{
		id:          uuid.NewString(),
		capture:     c.newCapture(),
		conn:        c.newConnection(),
		agg:         audio.NewAggregator(c.config.Aggregator),
		cancelStart: cancel,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if c.config.ArchiveDir != "" {
		sess.rec = audio.NewRecorder(c.config.SampleRate)
	}

	c.session = sess
	c.sessionID = sess.id
	c.startedAt = time.Now()
	c.lastErr = nil
	c.framesCaptured = 0
	c.chunksSent = 0
	c.bytesSent = 0
	c.reconciler.DropPartial()
	c.status = StatusRequestingAccess
	c.message = "Requesting microphone access..."
	c.mu.Unlock()
	c.publish()

	logger := c.logger.With(slog.String("session_id", sess.id))
	logger.Info("Starting session",
		slog.Int("sample_rate", c.config.SampleRate),
		slog.Int("frame_size", c.config.FrameSize))

	frames, err := sess.capture.Start(startCtx, c.config.SampleRate, c.config.FrameSize)
	if err != nil {
		return c.abortStart(sess, err)
	}

	if !c.advance(sess, StatusConnecting, "Connecting to transcription service...") {
		return c.abortStart(sess, nil)
	}

	connectStart := time.Now()
	if err := sess.conn.Connect(startCtx); err != nil {
		return c.abortStart(sess, err)
	}
	connectTime := time.Since(connectStart)

	sess.streamingAt = time.Now()
	if !c.advance(sess, StatusStreaming, "Connected! You can speak now.") {
		return c.abortStart(sess, nil)
	}

	c.metrics.RecordSessionStarted(connectTime.Seconds())
	logger.Info("Session streaming", slog.Duration("connect_time", connectTime))

	go c.run(sess, frames)
	return nil
}

// advance moves a starting session forward unless a stop was requested
func (c *Controller) advance(sess *session, status Status, message string) bool {
	c.mu.Lock()
	if sess.stopRequested {
		c.mu.Unlock()
		return false
	}
	c.status = status
	c.message = message
	c.mu.Unlock()
	c.publish()
	return true
}

// abortStart releases everything a failed or cancelled startup acquired
func (c *Controller) abortStart(sess *session, cause error) error {
	if err := sess.capture.Stop(); err != nil {
		c.logger.Warn("Failed to release capture", slog.String("error", err.Error()))
	}
	if err := sess.conn.Close(); err != nil {
		c.logger.Debug("Connection close after aborted start", slog.String("error", err.Error()))
	}

	c.mu.Lock()
	stopped := sess.stopRequested
	if stopped {
		c.status = StatusStopped
		c.message = "Transcription stopped"
	} else {
		c.status = StatusError
		c.lastErr = cause
		c.message = cause.Error()
	}
	c.mu.Unlock()

	close(sess.done)
	c.publish()

	if stopped {
		c.logger.Info("Session start cancelled", slog.String("session_id", sess.id))
		return fmt.Errorf("session start cancelled: %w", context.Canceled)
	}

	c.metrics.RecordStartFailed(errs.KindOf(cause).String())
	c.logger.Error("Session start failed",
		slog.String("session_id", sess.id),
		slog.String("kind", errs.KindOf(cause).String()),
		slog.String("error", cause.Error()))
	return cause
}

// run is the session event loop. Every handler runs to completion before
// the next input is taken.
func (c *Controller) run(sess *session, frames <-chan capture.Frame) {
	var tick <-chan time.Time
	if c.config.Aggregator.MaxInterval > 0 {
		ticker := time.NewTicker(c.config.FlushTick)
		defer ticker.Stop()
		tick = ticker.C
	}
	events := sess.conn.Events()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				if err := sess.capture.Err(); err != nil {
					if !errs.IsCapture(err) {
						err = errs.Capture("pipeline.capture", err)
					}
					c.fail(sess, err)
					return
				}
				c.logger.Info("Capture input exhausted, stopping session",
					slog.String("session_id", sess.id))
				c.finishStop(sess, nil)
				return
			}
			if err := c.handleFrame(sess, frame); err != nil {
				c.fail(sess, err)
				return
			}

		case now := <-tick:
			if chunk := sess.agg.FlushIfDue(now); chunk != nil {
				if err := c.sendChunk(sess, chunk); err != nil {
					c.fail(sess, err)
					return
				}
			}

		case ev, ok := <-events:
			if !ok {
				err := sess.conn.Err()
				if err == nil {
					err = errs.Connect("pipeline.transport", fmt.Errorf("connection closed by backend"))
				}
				c.fail(sess, err)
				return
			}
			if err := c.handleEvent(sess, ev); err != nil {
				c.fail(sess, err)
				return
			}

		case <-sess.stop:
			c.finishStop(sess, frames)
			return
		}
	}
}

func (c *Controller) handleFrame(sess *session, frame capture.Frame) error {
	c.metrics.RecordFrame()
	c.mu.Lock()
	c.framesCaptured++
	c.mu.Unlock()

	pcm, err := audio.EncodePCM(frame)
	if err != nil {
		c.logger.Warn("Dropping unencodable frame",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()))
		return nil
	}

	chunk, err := sess.agg.Add(pcm, time.Now())
	if err != nil {
		return err
	}
	if chunk == nil {
		return nil
	}
	return c.sendChunk(sess, chunk)
}

func (c *Controller) sendChunk(sess *session, chunk []byte) error {
	if err := sess.conn.Send(chunk); err != nil {
		return err
	}

	if sess.rec != nil {
		if err := sess.rec.Write(chunk); err != nil {
			c.logger.Warn("Failed to record chunk", slog.String("error", err.Error()))
		}
	}

	c.metrics.RecordChunkSent(len(chunk))
	c.mu.Lock()
	c.chunksSent++
	c.bytesSent += uint64(len(chunk))
	c.mu.Unlock()

	c.logger.Debug("Sent audio chunk",
		slog.String("session_id", sess.id),
		slog.Int("bytes", len(chunk)))
	return nil
}

func (c *Controller) handleEvent(sess *session, ev transcript.Event) error {
	c.metrics.RecordTranscriptEvent(ev.Kind.String())

	if ev.Kind == transcript.ErrorNotice {
		return errs.BackendProtocol("pipeline.event", ev.Message, nil)
	}

	c.mu.Lock()
	changed := c.reconciler.Apply(ev)
	c.mu.Unlock()

	if changed {
		c.logger.Debug("Transcript updated",
			slog.String("session_id", sess.id),
			slog.String("kind", ev.Kind.String()),
			slog.String("text", ev.Text))
		c.publish()
	}
	return nil
}

// finishStop performs the orderly teardown: capture first, then the frames
// already captured, then the residual chunk, then the connection.
func (c *Controller) finishStop(sess *session, frames <-chan capture.Frame) {
	if err := sess.capture.Stop(); err != nil {
		c.logger.Warn("Failed to release capture", slog.String("error", err.Error()))
	}

	if frames != nil {
		for frame := range frames {
			if err := c.handleFrame(sess, frame); err != nil {
				c.fail(sess, err)
				return
			}
		}
	}

	if residual := sess.agg.Flush(); residual != nil {
		if err := c.sendChunk(sess, residual); err != nil {
			c.fail(sess, err)
			return
		}
	}

	if err := sess.conn.Close(); err != nil {
		c.logger.Warn("Connection close failed",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()))
	}
	c.archive(sess)

	c.mu.Lock()
	c.status = StatusStopped
	c.message = "Transcription stopped"
	chunks, bytes := c.chunksSent, c.bytesSent
	c.mu.Unlock()

	duration := time.Since(sess.streamingAt)
	c.metrics.RecordSessionEnded("", duration.Seconds())
	c.logger.Info("Session stopped",
		slog.String("session_id", sess.id),
		slog.Duration("duration", duration),
		slog.Uint64("chunks_sent", chunks),
		slog.Uint64("bytes_sent", bytes))

	close(sess.done)
	c.publish()
}

// fail tears the session down in stop order, discarding pending audio
func (c *Controller) fail(sess *session, cause error) {
	if err := sess.capture.Stop(); err != nil {
		c.logger.Warn("Failed to release capture", slog.String("error", err.Error()))
	}
	if dropped := sess.agg.Reset(); dropped > 0 {
		c.metrics.RecordDiscarded(dropped)
	}
	if err := sess.conn.Close(); err != nil {
		c.logger.Debug("Connection close after failure", slog.String("error", err.Error()))
	}
	c.archive(sess)

	c.mu.Lock()
	c.status = StatusError
	c.lastErr = cause
	c.message = cause.Error()
	c.mu.Unlock()

	kind := errs.KindOf(cause).String()
	c.metrics.RecordSessionEnded(kind, time.Since(sess.streamingAt).Seconds())
	c.logger.Error("Session failed",
		slog.String("session_id", sess.id),
		slog.String("kind", kind),
		slog.String("error", cause.Error()))

	close(sess.done)
	c.publish()
}

func (c *Controller) archive(sess *session) {
	if sess.rec == nil {
		return
	}
	path, err := sess.rec.Persist(c.config.ArchiveDir, sess.id)
	if err != nil {
		c.logger.Error("Failed to archive session audio",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()))
		return
	}
	if path != "" {
		c.logger.Info("Archived session audio",
			slog.String("session_id", sess.id),
			slog.String("path", path),
			slog.Duration("duration", sess.rec.Duration()))
	}
}

// StopSession ends the current session and blocks until teardown is done.
// It is safe to call in any state and more than once.
func (c *Controller) StopSession() error {
	c.mu.Lock()
	sess := c.session

	switch c.status {
	case StatusRequestingAccess, StatusConnecting:
		sess.stopRequested = true
		c.status = StatusStopping
		c.message = "Stopping..."
		c.mu.Unlock()
		c.publish()
		sess.cancelStart()
		<-sess.done
		return nil

	case StatusStreaming:
		c.status = StatusStopping
		c.message = "Stopping..."
		c.mu.Unlock()
		c.publish()
		sess.requestStop()
		<-sess.done
		return nil

	case StatusStopping:
		c.mu.Unlock()
		<-sess.done
		return nil

	default:
		c.mu.Unlock()
		return nil
	}
}

// Clear wipes the transcript. It is rejected while a session is active.
func (c *Controller) Clear() error {
	c.mu.Lock()
	if c.status.Active() {
		status := c.status
		c.mu.Unlock()
		return errs.InvalidState("pipeline.Clear", "cannot clear while session is %s", status)
	}
	c.reconciler.Reset()
	c.message = ""
	c.mu.Unlock()

	c.publish()
	return nil
}

// Wait blocks until the current session, if any, has torn down
func (c *Controller) Wait() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		<-sess.done
	}
}

// Done returns a channel closed when the current session has torn down.
// With no session it returns a closed channel.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.session.done
}
