package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/chainwatch/internal/auth"
	"github.com/rickgao/chainwatch/internal/buffer"
	"github.com/rickgao/chainwatch/internal/config"
	"github.com/rickgao/chainwatch/internal/connection"
	"github.com/rickgao/chainwatch/internal/database"
	"github.com/rickgao/chainwatch/internal/focus"
	"github.com/rickgao/chainwatch/internal/heads"
	"github.com/rickgao/chainwatch/internal/metrics"
	"github.com/rickgao/chainwatch/internal/model"
	"github.com/rickgao/chainwatch/internal/supervisor"
	"github.com/rickgao/chainwatch/internal/version"
	"github.com/rickgao/chainwatch/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/chainwatch.example.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	// Set up structured logging
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting chainwatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
		"networks", len(cfg.Networks),
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

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Optional request signing
	var creds *auth.Credentials
	if cfg.Auth.KeyID != "" {
		creds, err = auth.LoadCredentials(cfg.Auth.KeyID, cfg.Auth.SecretPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		logger.Info("using RPC credentials", "key_id", creds.KeyID)
	}

	clientCfg := connection.DefaultClientConfig()
	clientCfg.HandshakeTimeout = cfg.Connections.HandshakeTimeout
	clientCfg.PingTimeout = cfg.Connections.PingTimeout
	clientCfg.WriteTimeout = cfg.Connections.WriteTimeout
	clientCfg.RequestTimeout = cfg.Connections.RequestTimeout

	factory := connection.NewNetworkFactory(cfg.ModelNetworks(), connection.FactoryConfig{
		Client:         clientCfg,
		RequestTimeout: cfg.Connections.RequestTimeout,
		PollRateLimit:  cfg.Connections.PollRateLimit,
		HTTPMaxRetries: cfg.Connections.HTTPMaxRetries,
		Credentials:    creds,
		UserAgent:      version.UserAgent(),
	}, logger)

	tracker := focus.NewTracker(cfg.Supervisor.LostFocusTimeout, focus.WithLogger(logger))

	writerCfg := writer.Config{
		BatchSize:     cfg.Writers.BatchSize,
		FlushInterval: cfg.Writers.FlushInterval,
		BufferSize:    cfg.Writers.BufferSize,
	}

	// Database and writers
	var (
		pool       *pgxpool.Pool
		headWriter *writer.HeadWriter
		lifecycle  *writer.LifecycleWriter
		sink       heads.Sink = logSink{logger: logger}
		journal    supervisor.Journal
	)
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected")

		headQueue := buffer.NewQueue[model.BlockHead](cfg.Writers.BufferSize, 0)
		headWriter = writer.NewHeadWriter(writerCfg, headQueue, pool, logger, m)
		lifecycle = writer.NewLifecycleWriter(writerCfg, pool, logger, m)
		sink = headQueue
		journal = lifecycle

		if err := headWriter.Start(ctx); err != nil {
			logger.Error("failed to start head writer", "error", err)
			os.Exit(1)
		}
		if err := lifecycle.Start(ctx); err != nil {
			logger.Error("failed to start lifecycle writer", "error", err)
			os.Exit(1)
		}
	}

	networkIDs := make([]model.NetworkID, 0, len(cfg.Networks))
	for _, n := range cfg.Networks {
		networkIDs = append(networkIDs, model.NetworkID(n.ID))
	}

	sup := supervisor.New(supervisor.Config{
		HealthCheckInterval: cfg.Supervisor.HealthCheckInterval,
		ReconnectThreshold:  cfg.Supervisor.ReconnectThreshold,
		RetryBaseWait:       cfg.Supervisor.RetryBaseDelay,
		RetryMaxWait:        cfg.Supervisor.RetryMaxDelay,
		Networks:            networkIDs,
	}, factory, tracker,
		supervisor.WithLogger(logger),
		supervisor.WithMetrics(m),
		supervisor.WithJournal(journal),
	)

	follower := heads.NewFollower(sup, sink, heads.Config{
		PollInterval:   cfg.Connections.PollInterval,
		RequestTimeout: cfg.Connections.RequestTimeout,
	}, logger, m)

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHandler(sup, tracker, pinger(pool), reg, cfg.Metrics.Path, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sup.Run(gctx)
	})

	g.Go(func() error {
		return follower.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	// Select the boot network once the loop is running
	if network := model.NetworkID(cfg.Supervisor.Network); network != "" {
		g.Go(func() error {
			startCtx, startCancel := context.WithTimeout(gctx, cfg.Connections.HandshakeTimeout+cfg.Connections.RequestTimeout)
			defer startCancel()
			if err := sup.Start(startCtx, network); err != nil {
				// Not fatal: POST /network can select a network later
				logger.Error("failed to start network", "network", network, "error", err)
			}
			return nil
		})
	}

	logger.Info("chainwatch running",
		"instance_id", cfg.Instance.ID,
		"network", cfg.Supervisor.Network,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
	}

	logger.Info("shutting down...")

	// Flush writers
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if headWriter != nil {
		if err := headWriter.Stop(stopCtx); err != nil {
			logger.Warn("head writer stop failed", "error", err)
		}
	}
	if lifecycle != nil {
		if err := lifecycle.Stop(stopCtx); err != nil {
			logger.Warn("lifecycle writer stop failed", "error", err)
		}
	}

	logger.Info("chainwatch stopped")
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// logSink logs heads when no database is configured.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) Push(h model.BlockHead) bool {
	s.logger.Info("new head",
		"network", h.Network,
		"number", h.Number,
		"hash", h.Hash,
		"source", h.Source,
	)
	return true
}

// pinger returns nil for a nil pool so the handler skips the database check.
func pinger(pool *pgxpool.Pool) Pinger {
	if pool == nil {
		return nil
	}
	return pool
}
