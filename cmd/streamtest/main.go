// streamtest opens one handle to a configured network and prints block heads
// to the console.
// Usage: go run ./cmd/streamtest --config configs/chainwatch.example.yaml --network mainnet
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rickgao/chainwatch/internal/auth"
	"github.com/rickgao/chainwatch/internal/config"
	"github.com/rickgao/chainwatch/internal/connection"
	"github.com/rickgao/chainwatch/internal/heads"
	"github.com/rickgao/chainwatch/internal/model"
	"github.com/rickgao/chainwatch/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/chainwatch.example.yaml", "path to config file")
	network := flag.String("network", "", "network id (default: supervisor.network)")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *network == "" {
		*network = cfg.Supervisor.Network
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var creds *auth.Credentials
	if cfg.Auth.KeyID != "" {
		creds, err = auth.LoadCredentials(cfg.Auth.KeyID, cfg.Auth.SecretPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
	}

	factory := connection.NewNetworkFactory(cfg.ModelNetworks(), connection.FactoryConfig{
		Client:         connection.DefaultClientConfig(),
		RequestTimeout: cfg.Connections.RequestTimeout,
		PollRateLimit:  cfg.Connections.PollRateLimit,
		HTTPMaxRetries: cfg.Connections.HTTPMaxRetries,
		Credentials:    creds,
		UserAgent:      version.UserAgent(),
	}, logger)

	handle, err := factory.Create(ctx, model.NetworkID(*network))
	if err != nil {
		logger.Error("failed to create handle", "network", *network, "error", err)
		os.Exit(1)
	}
	if handle == nil {
		logger.Error("no endpoint configured", "network", *network)
		os.Exit(1)
	}
	defer factory.Close(handle)

	logger.Info("handle created",
		"network", handle.Network(),
		"kind", handle.Kind(),
		"id", handle.ID(),
	)

	sink := &consoleSink{}
	follower := heads.NewFollower(staticSource{handle: handle}, sink, heads.Config{
		PollInterval:   cfg.Connections.PollInterval,
		RequestTimeout: cfg.Connections.RequestTimeout,
	}, logger, nil)

	// Print stats periodically
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats", "heads", sink.count.Load())
			}
		}
	}()

	if err := follower.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("follower failed", "error", err)
	}

	fmt.Printf("\nReceived %d heads\n", sink.count.Load())
}

// staticSource serves a single handle for the life of the process.
type staticSource struct {
	handle connection.Handle
}

func (s staticSource) Watch() (<-chan connection.Handle, func()) {
	ch := make(chan connection.Handle, 1)
	ch <- s.handle
	return ch, func() {}
}

type consoleSink struct {
	count atomic.Int64
}

func (s *consoleSink) Push(h model.BlockHead) bool {
	s.count.Add(1)
	fmt.Printf("[%s] #%d %s parent=%s ts=%s via %s\n",
		h.Network, h.Number, h.Hash, h.ParentHash,
		time.Unix(h.Timestamp, 0).UTC().Format(time.RFC3339), h.Source)
	return true
}
