package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/stream-transcriber/internal/bootstrap"
	"github.com/skypro1111/stream-transcriber/internal/config"
	"github.com/skypro1111/stream-transcriber/internal/pipeline"
	"github.com/skypro1111/stream-transcriber/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "stream-transcriber"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", ".env", "Optional env file with TRANSCRIBER_* overrides")
	autostart := flag.Bool("autostart", false, "Start a session immediately")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_size", cfg.Audio.FrameSize),
		slog.Int("max_frames", cfg.Aggregator.MaxFrames),
		slog.Duration("max_interval", cfg.Aggregator.GetMaxInterval()),
		slog.String("capture_device", cfg.Capture.Device),
		slog.String("transport_provider", cfg.Transport.Provider),
		slog.String("audio_framing", cfg.Transport.AudioFraming),
		slog.Bool("retry_enabled", cfg.Retry.Enabled),
		slog.Bool("archive_enabled", cfg.Archive.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Init(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize runtime", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctrl, err := rt.NewController()
	if err != nil {
		logger.Error("Failed to create controller", slog.String("error", err.Error()))
		os.Exit(1)
	}

	unsubscribe := ctrl.Subscribe(transcriptLogger(logger))
	defer unsubscribe()

	start := ctrl.StartSession
	if cfg.Retry.Enabled {
		backoff := rt.Backoff()
		start = func(ctx context.Context) error {
			return pipeline.StartWithRetry(ctx, ctrl, backoff)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
			Enabled: cfg.HTTP.Enabled,
		}, logger, cfg, ctrl, rt.Metrics, server.Options{
			Start:    start,
			Gatherer: rt.Registry,
		})
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
		g.Go(func() error {
			return httpServer.Run(gctx)
		})
	}

	if *autostart {
		g.Go(func() error {
			if err := start(gctx); err != nil {
				return fmt.Errorf("autostart session: %w", err)
			}
			select {
			case <-ctrl.Done():
			case <-gctx.Done():
			}
			return nil
		})
	}

	if !cfg.HTTP.Enabled && !*autostart {
		logger.Warn("Nothing to do: HTTP API disabled and -autostart not set")
	}

	logger.Info("Service started successfully, waiting for signals...")

	runErr := g.Wait()

	logger.Info("Starting graceful shutdown...")
	if err := ctrl.StopSession(); err != nil {
		logger.Error("Error stopping session", slog.String("error", err.Error()))
	}

	snap := ctrl.Snapshot()
	logger.Info("Final session statistics",
		slog.String("status", snap.Status.String()),
		slog.Uint64("frames_captured", snap.FramesCaptured),
		slog.Uint64("chunks_sent", snap.ChunksSent),
		slog.Uint64("bytes_sent", snap.BytesSent),
		slog.String("transcript", snap.FinalText),
	)

	if runErr != nil {
		logger.Error("Service stopped with error", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Service stopped")
}

// transcriptLogger logs each newly finalized span and status change
func transcriptLogger(logger *slog.Logger) pipeline.Observer {
	var lastFinal string
	var lastStatus pipeline.Status
	return pipeline.ObserverFunc(func(s pipeline.Snapshot) {
		if s.Status != lastStatus {
			lastStatus = s.Status
			logger.Info("Session status", slog.String("status", s.Status.String()), slog.String("message", s.Message))
		}
		if s.FinalText != lastFinal && len(s.FinalText) > len(lastFinal) {
			logger.Info("Transcript", slog.String("text", s.FinalText[len(lastFinal):]))
		}
		lastFinal = s.FinalText
	})
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
