package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/stream-transcriber/internal/audio"
	"github.com/skypro1111/stream-transcriber/internal/capture"
	"github.com/skypro1111/stream-transcriber/internal/config"
	"github.com/skypro1111/stream-transcriber/internal/errs"
	"github.com/skypro1111/stream-transcriber/internal/metrics"
	"github.com/skypro1111/stream-transcriber/internal/pipeline"
	"github.com/skypro1111/stream-transcriber/internal/transport"
)

// Phase is the runtime lifecycle stage
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseReady
)

func (p Phase) String() string {
	if p == PhaseReady {
		return "ready"
	}
	return "init"
}

// Runtime holds the process-wide collaborators every session shares
type Runtime struct {
	Config    *config.Config
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Endpoints transport.EndpointProvider
	Device    capture.Device

	logger *slog.Logger
	phase  atomic.Int32
}

var (
	initOnce    sync.Once
	initRuntime *Runtime
	initErr     error
)

// Init builds the process runtime on first call. Later calls return the
// same runtime (or the same error) regardless of their arguments.
func Init(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	initOnce.Do(func() {
		initRuntime, initErr = New(ctx, cfg, logger)
	})
	return initRuntime, initErr
}

// New builds a runtime without the process-wide once guard
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	r := &Runtime{
		Config: cfg,
		logger: logger,
	}

	r.Registry = prometheus.NewRegistry()
	r.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.Metrics = metrics.New(r.Registry)
	logger.Info("Prometheus metrics initialized")

	endpoints, err := newEndpointProvider(ctx, cfg.Transport, cfg.Audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create endpoint provider: %w", err)
	}
	r.Endpoints = endpoints
	logger.Info("Endpoint provider initialized",
		slog.String("provider", cfg.Transport.Provider),
		slog.String("region", cfg.Transport.Region))

	device, err := newDevice(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture device: %w", err)
	}
	r.Device = device
	logger.Info("Capture device initialized", slog.String("device", cfg.Capture.Device))

	r.phase.Store(int32(PhaseReady))
	return r, nil
}

func newEndpointProvider(ctx context.Context, tc config.TransportConfig, sampleRate int) (transport.EndpointProvider, error) {
	switch tc.Provider {
	case "static":
		return transport.NewStaticEndpoint(tc.Endpoint, tc.APIKey), nil
	case "aws":
		return transport.NewAWSPresigner(ctx, transport.TranscribeParams{
			Region:       tc.Region,
			LanguageCode: tc.LanguageCode,
			SampleRate:   sampleRate,
			Expires:      5 * time.Minute,
		}, tc.AccessKeyID, tc.SecretAccessKey)
	default:
		return nil, fmt.Errorf("unknown transport provider %q", tc.Provider)
	}
}

func newDevice(cfg *config.Config, logger *slog.Logger) (capture.Device, error) {
	switch cfg.Capture.Device {
	case "wav":
		return capture.NewWAVFileDevice(cfg.Capture.WAVPath, cfg.Capture.Realtime, logger), nil
	case "udp":
		u := cfg.Capture.UDP
		return capture.NewUDPDevice(capture.UDPConfig{
			BindAddress:  u.BindAddress,
			Port:         u.Port,
			BufferSize:   u.BufferSize,
			QueueSize:    u.QueueSize,
			SampleFormat: u.SampleFormat,
			SampleRate:   cfg.Audio.SampleRate,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown capture device %q", cfg.Capture.Device)
	}
}

// Phase reports the lifecycle stage
func (r *Runtime) Phase() Phase {
	if r == nil {
		return PhaseInit
	}
	return Phase(r.phase.Load())
}

// PipelineConfig derives the per-session settings from the loaded config
func (r *Runtime) PipelineConfig() pipeline.Config {
	cfg := pipeline.Config{
		SampleRate: r.Config.Audio.SampleRate,
		FrameSize:  r.Config.Audio.FrameSize,
		Aggregator: audio.AggregatorConfig{
			MaxFrames:   r.Config.Aggregator.MaxFrames,
			MaxInterval: r.Config.Aggregator.GetMaxInterval(),
		},
		FlushTick: r.Config.Aggregator.GetFlushTick(),
	}
	if r.Config.Archive.Enabled {
		cfg.ArchiveDir = r.Config.Archive.Dir
	}
	return cfg
}

// TransportConfig derives the websocket settings from the loaded config
func (r *Runtime) TransportConfig() transport.Config {
	tc := r.Config.Transport
	return transport.Config{
		HandshakeTimeout: tc.GetHandshakeTimeoutDuration(),
		WriteTimeout:     tc.GetWriteTimeoutDuration(),
		ReadLimit:        tc.ReadLimit,
		Framing:          transport.Framing(tc.AudioFraming),
	}
}

// Backoff returns the start retry policy
func (r *Runtime) Backoff() pipeline.Backoff {
	b := pipeline.DefaultBackoff()
	b.MaxRetries = r.Config.Retry.MaxRetries
	if !r.Config.Retry.Enabled {
		b.MaxRetries = 0
	}
	return b
}

// NewController builds a pipeline controller wired to this runtime
func (r *Runtime) NewController() (*pipeline.Controller, error) {
	if r.Phase() != PhaseReady {
		return nil, errs.InvalidState("bootstrap.NewController", "runtime is %s, not ready", r.Phase())
	}

	transportConfig := r.TransportConfig()
	return pipeline.New(r.PipelineConfig(), pipeline.Dependencies{
		NewCapture: func() pipeline.Capture {
			return capture.NewSource(r.Device, r.logger)
		},
		NewConnection: func() pipeline.Connection {
			return transport.New(transportConfig, r.Endpoints, r.logger)
		},
		Metrics: r.Metrics,
		Logger:  r.logger,
	}), nil
}
