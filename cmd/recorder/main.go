package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parsec-api/parsec-go/internal/config"
	"github.com/parsec-api/parsec-go/internal/database"
	"github.com/parsec-api/parsec-go/internal/recorder"
	"github.com/parsec-api/parsec-go/internal/version"
	"github.com/parsec-api/parsec-go/stream"
)

func main() {
	configPath := flag.String("config", "configs/recorder.example.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting recorder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"stream_url", cfg.Stream.URL,
		"feeds", len(cfg.Feeds),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Timescale.Host,
		"port", cfg.Database.Timescale.Port,
		"database", cfg.Database.Timescale.Name,
	)

	db, err := database.Connect(ctx, cfg.Database.Timescale)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("database connected")

	// Create writers and their input buffers
	writerCfg := recorder.WriterConfig{
		BatchSize:     cfg.Writers.BatchSize,
		FlushInterval: cfg.Writers.FlushInterval,
		BufferSize:    cfg.Writers.BufferSize,
	}

	bookBuf := recorder.NewBuffer[stream.Orderbook](writerCfg.BufferSize)
	activityBuf := recorder.NewBuffer[stream.Activity](writerCfg.BufferSize)

	bookWriter := recorder.NewBookWriter(writerCfg, bookBuf, db, logger)
	activityWriter := recorder.NewActivityWriter(writerCfg, activityBuf, db, logger)

	if err := bookWriter.Start(ctx); err != nil {
		logger.Error("failed to start book writer", "error", err)
		os.Exit(1)
	}
	if err := activityWriter.Start(ctx); err != nil {
		logger.Error("failed to start activity writer", "error", err)
		os.Exit(1)
	}

	// Create the stream client feeding the writers
	streamCfg := stream.Config{
		URL:                cfg.Stream.URL,
		APIKey:             cfg.Stream.APIKey,
		HandshakeTimeout:   cfg.Stream.HandshakeTimeout,
		AuthTimeout:        cfg.Stream.AuthTimeout,
		PingInterval:       cfg.Stream.PingInterval,
		PingTimeout:        cfg.Stream.PingTimeout,
		ReconnectBaseDelay: cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Stream.ReconnectMaxDelay,
		BufferSize:         cfg.Stream.BufferSize,
	}

	handlers := stream.Handlers{
		OnConnected: func() {
			logger.Info("stream connected")
		},
		OnOrderbook: func(book stream.Orderbook) {
			bookBuf.Send(book)
		},
		OnActivity: func(ev stream.Activity) {
			activityBuf.Send(ev)
		},
		OnError: func(err stream.ServerError) {
			logger.Warn("stream server error", "code", err.Code, "message", err.Message)
		},
		OnDisconnected: func(reason string) {
			logger.Warn("stream disconnected", "reason", reason)
		},
		OnReconnecting: func(attempt int, delay time.Duration) {
			logger.Info("stream reconnecting", "attempt", attempt, "delay", delay)
		},
		OnSlowReader: func(parsecID, outcome string) {
			logger.Warn("slow reader warning", "parsec_id", parsecID, "outcome", outcome)
		},
	}

	client := stream.New(streamCfg, handlers, logger)

	if err := client.Connect(ctx); err != nil {
		logger.Error("failed to connect stream", "error", err)
		os.Exit(1)
	}

	subs := make([]stream.Subscription, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		subs = append(subs, stream.Subscription{
			ParsecID: f.ParsecID,
			Outcome:  f.Outcome,
			Depth:    f.Depth,
		})
	}
	if err := client.Subscribe(subs...); err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}

	logger.Info("recorder running", "feeds", len(subs))

	// Run until a signal cancels the context or the stream ends.
	select {
	case <-ctx.Done():
	case <-client.Done():
		logger.Error("stream closed")
	}

	// Graceful shutdown: close the stream first, then drain the writers.
	client.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := bookWriter.Stop(shutdownCtx); err != nil {
		logger.Error("book writer stop failed", "error", err)
	}
	if err := activityWriter.Stop(shutdownCtx); err != nil {
		logger.Error("activity writer stop failed", "error", err)
	}

	bookStats := bookWriter.Stats()
	activityStats := activityWriter.Stats()
	logger.Info("recorder stopped",
		"book_inserts", bookStats.Inserts,
		"activity_inserts", activityStats.Inserts,
	)
}
