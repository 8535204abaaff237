package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/barak1panker/server-monitoring/internal/agent"
	"github.com/barak1panker/server-monitoring/internal/logger"
	"github.com/barak1panker/server-monitoring/internal/retry"
)

const (
	defaultConsulAddr     = "127.0.0.1:8500"
	discoveryPollInterval = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := agent.LoadConfig(os.Getenv("AGENT_CONFIG"))
	if err != nil {
		return err
	}

	logger := logger.New(getEnv("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	if cfg.CollectorURL == "" && cfg.ConsulAddr == "" {
		return fmt.Errorf("either COLLECTOR_URL or CONSUL_HTTP_ADDR must be set")
	}

	collector, err := agent.NewMetricsCollector()
	if err != nil {
		return err
	}

	logger.Info("starting agent",
		"hostname", collector.Hostname(),
		"metrics_interval", cfg.MetricsInterval.String(),
		"hash_enabled", cfg.Hash.Enabled,
		"hash_dirs", cfg.Hash.Dirs,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.CollectorURL != "" {
		logger.Info("using direct collector URL", "url", cfg.CollectorURL)
		return runClient(ctx, cfg.CollectorURL, collector, cfg, logger)
	}

	consulAddr := cfg.ConsulAddr
	if consulAddr == "" {
		consulAddr = defaultConsulAddr
	}
	logger.Info("using Consul service discovery", "consul", consulAddr)

	var discovery *agent.ServiceDiscovery
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 0
	err = retry.Do(ctx, retryCfg, logger, "create service discovery", func() error {
		var err error
		discovery, err = agent.NewServiceDiscovery(consulAddr, logger)
		return err
	})
	if err != nil {
		return shutdown(logger, err)
	}

	clientCancel := context.CancelFunc(func() {})
	done := make(chan struct{})
	close(done)

	for url := range discovery.WatchCollector(ctx, discoveryPollInterval) {
		clientCancel()
		<-done

		var clientCtx context.Context
		clientCtx, clientCancel = context.WithCancel(ctx)
		done = make(chan struct{})
		go func(ctx context.Context, url string, done chan struct{}) {
			defer close(done)
			runClient(ctx, url, collector, cfg, logger)
		}(clientCtx, url, done)
	}

	clientCancel()
	<-done
	return shutdown(logger, ctx.Err())
}

func runClient(ctx context.Context, collectorURL string, collector agent.Collector, cfg agent.Config, logger *slog.Logger) error {
	client := agent.NewClient(collectorURL, collector, cfg, logger)
	logger.Info("reporting to collector", "url", collectorURL)
	return shutdown(logger, client.Start(ctx))
}

func shutdown(logger *slog.Logger, err error) error {
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
