package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skypro1111/stream-transcriber/internal/mockbackend"
)

func main() {
	addr := flag.String("addr", ":8765", "Listen address")
	path := flag.String("path", "/transcribe", "Websocket path")
	script := flag.String("script", "", "Comma separated words to emit (default: a pangram)")
	bytesPerWord := flag.Int("bytes-per-word", 16000, "Audio bytes per emitted word")
	wordsPerFinal := flag.Int("words-per-final", 4, "Words per final result")
	failAfter := flag.Int("fail-after", 0, "Send LimitExceeded after this many audio bytes (0 disables)")
	apiKey := flag.String("api-key", "", "Require this bearer token")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	var words []string
	for _, w := range strings.Split(*script, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}

	backend := mockbackend.New(mockbackend.Config{
		Script:         words,
		BytesPerWord:   *bytesPerWord,
		WordsPerFinal:  *wordsPerFinal,
		FailAfterBytes: *failAfter,
		APIKey:         *apiKey,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle(*path, backend)

	srv := &http.Server{
		Addr:        *addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Mock transcription backend starting",
		slog.String("address", *addr),
		slog.String("endpoint", "ws://localhost"+*addr+*path),
		slog.Int("fail_after", *failAfter),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	stats := backend.GetStats()
	logger.Info("Mock backend stopped",
		slog.Int64("connections", stats.Connections),
		slog.Uint64("bytes_received", stats.BytesReceived),
	)
}
