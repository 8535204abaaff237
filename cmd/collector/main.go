package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	consul "github.com/hashicorp/consul/api"
	"golang.org/x/time/rate"

	"github.com/barak1panker/server-monitoring/internal/alerts"
	"github.com/barak1panker/server-monitoring/internal/collector"
	"github.com/barak1panker/server-monitoring/internal/config"
	"github.com/barak1panker/server-monitoring/internal/fleet"
	"github.com/barak1panker/server-monitoring/internal/ioc"
	"github.com/barak1panker/server-monitoring/internal/logger"
	"github.com/barak1panker/server-monitoring/internal/notify"
)

const (
	grpcServiceID = "fleet-collector"
	httpServiceID = "fleet-collector-http"

	healthCheckInterval = 10 * time.Second
	cleanupInterval     = 5 * time.Minute
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := collector.NewMetrics()

	source, err := iocSource(ctx, cfg, db, metrics, logger)
	if err != nil {
		return err
	}

	state := fleet.NewState(cfg.StaleAfter, fleet.DefaultHistorySize)
	if cfg.Sampling == config.SamplingInterval {
		go state.RunSampler(ctx, cfg.SampleInterval, logger)
	}

	var recorderOpts []alerts.RecorderOption
	if cfg.AMQPURL != "" {
		publisher := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err := publisher.Connect(ctx); err != nil {
			logger.Warn("alert publisher unavailable, will retry on first alert", "error", err)
		}
		defer publisher.Close()
		recorderOpts = append(recorderOpts, alerts.WithNotifier(publisher))
	}

	service := collector.NewService(collector.ServiceConfig{
		Repo:         db,
		State:        state,
		Recorder:     alerts.NewRecorder(db, logger, recorderOpts...),
		IOC:          source,
		Backup:       collector.NewBackup(cfg.UploadDir),
		Metrics:      metrics,
		Thresholds:   alerts.Thresholds{CPUHigh: cfg.CPUHigh, RAMRatioHigh: cfg.RAMRatioHigh},
		SampleOnRead: cfg.Sampling == config.SamplingRead,
		Logger:       logger,
	})

	var apiOpts []collector.APIOption
	var limiter *collector.RateLimiter
	if cfg.IngestRate > 0 {
		limiter = collector.NewRateLimiter(rate.Limit(cfg.IngestRate), cfg.IngestBurst)
		apiOpts = append(apiOpts, collector.WithRateLimiter(limiter))
	}
	api := collector.NewAPI(service, db, apiOpts...)

	grpcServer := collector.NewServer(db, logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go startMaintenanceTasks(ctx, cfg, db, grpcServer, limiter, logger)

	if err := registerConsul(cfg); err != nil {
		logger.Warn("failed to register with Consul", "error", err)
	}
	defer deregisterConsul(cfg, logger)

	errChan := make(chan error, 2)
	go func() {
		logger.Info("gRPC health server listening", "port", cfg.GRPCPort)
		errChan <- grpcServer.GRPC().Serve(lis)
	}()

	go func() {
		logger.Info("HTTP API server listening",
			"port", cfg.HTTPPort,
			"postgres", cfg.UsePostgres(),
			"sampling", cfg.Sampling,
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		grpcServer.Shutdown()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func openDB(cfg *config.Config) (*collector.DB, error) {
	opt := collector.WithLogsTable(cfg.LogsTableName)
	if cfg.UsePostgres() {
		return collector.NewPostgresDB(cfg.DatabaseURL, opt)
	}
	return collector.NewDB(cfg.DBPath, opt)
}

// iocSource picks the known-bad hash source: watched files first, then an
// external table, then the collector's own suspicious_hashes table, which is
// seeded from IOC_SEED_FILE when set.
func iocSource(ctx context.Context, cfg *config.Config, db *collector.DB, metrics *collector.Metrics, logger *slog.Logger) (ioc.Source, error) {
	switch {
	case len(cfg.IOCFiles) > 0:
		set := ioc.NewSet(nil)
		watcher, err := ioc.NewWatcher(set, cfg.IOCFiles, logger)
		if err != nil {
			return nil, fmt.Errorf("watch IOC files: %w", err)
		}
		watcher.OnReload(metrics.SetIOCHashes)
		if err := watcher.Reload(); err != nil {
			logger.Warn("initial IOC load incomplete", "error", err)
		}
		go watcher.Run(ctx)
		return set, nil

	case cfg.IOCTableName != "":
		ts, err := collector.NewTableSource(db, cfg.IOCSchema, cfg.IOCTableName, cfg.IOCColumnSHA)
		if err != nil {
			return nil, fmt.Errorf("configure IOC table: %w", err)
		}
		logger.Info("using IOC table", "table", ts.Table())
		return ts, nil

	default:
		if len(cfg.IOCSeedFiles) > 0 {
			n, err := db.SeedSuspiciousHashes(ctx, cfg.IOCSeedFiles...)
			if err != nil {
				logger.Warn("IOC seeding incomplete", "error", err)
			}
			logger.Info("seeded suspicious hashes", "count", n)
		}
		ts := db.SuspiciousHashes()
		logger.Info("using IOC table", "table", ts.Table())
		return ts, nil
	}
}

func startMaintenanceTasks(ctx context.Context, cfg *config.Config, db *collector.DB, server *collector.Server, limiter *collector.RateLimiter, logger *slog.Logger) {
	healthTicker := time.NewTicker(healthCheckInterval)
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer healthTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-healthTicker.C:
			server.CheckDatabase(ctx)
		case <-cleanupTicker.C:
			if cfg.HashRetention > 0 {
				n, err := db.CleanupOldFileHashes(ctx, cfg.HashRetention)
				if err != nil {
					logger.Error("failed to clean up old file hashes", "error", err)
				} else if n > 0 {
					logger.Info("cleaned up old file hashes", "rows", n)
				}
			}
			if limiter != nil {
				limiter.Sweep()
			}
		}
	}
}

func registerConsul(cfg *config.Config) error {
	if cfg.ConsulAddr == "" {
		return nil
	}

	client, err := consulClient(cfg.ConsulAddr)
	if err != nil {
		return err
	}

	nodeIP := cfg.NodeIP
	if nodeIP == "" {
		nodeIP = getLocalIP()
	}

	registration := &consul.AgentServiceRegistration{
		ID:      grpcServiceID,
		Name:    grpcServiceID,
		Port:    mustAtoi(cfg.GRPCPort),
		Address: nodeIP,
		Check: &consul.AgentServiceCheck{
			GRPC:                           fmt.Sprintf("%s:%s/%s", nodeIP, cfg.GRPCPort, collector.ServiceName),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Tags: []string{"fleet", "collector", "grpc"},
	}

	if err := client.Agent().ServiceRegister(registration); err != nil {
		return err
	}

	httpRegistration := &consul.AgentServiceRegistration{
		ID:      httpServiceID,
		Name:    httpServiceID,
		Port:    mustAtoi(cfg.HTTPPort),
		Address: nodeIP,
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%s/api/v1/health", nodeIP, cfg.HTTPPort),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Tags: []string{"fleet", "collector", "http", "api"},
	}

	return client.Agent().ServiceRegister(httpRegistration)
}

func deregisterConsul(cfg *config.Config, logger *slog.Logger) {
	if cfg.ConsulAddr == "" {
		return
	}

	client, err := consulClient(cfg.ConsulAddr)
	if err != nil {
		logger.Error("failed to create consul client for deregistration", "error", err)
		return
	}

	for _, id := range []string{grpcServiceID, httpServiceID} {
		if err := client.Agent().ServiceDeregister(id); err != nil {
			logger.Error("failed to deregister service", "service", id, "error", err)
		}
	}
}

func consulClient(addr string) (*consul.Client, error) {
	config := consul.DefaultConfig()
	config.Address = addr
	return consul.NewClient(config)
}

func mustAtoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
