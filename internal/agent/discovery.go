package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	consul "github.com/hashicorp/consul/api"
)

// CollectorHTTPService is the Consul service name the collector registers
// its HTTP API under.
const CollectorHTTPService = "fleet-collector-http"

type ServiceDiscovery struct {
	consulAddr string
	client     *consul.Client
	logger     *slog.Logger
}

func NewServiceDiscovery(consulAddr string, logger *slog.Logger) (*ServiceDiscovery, error) {
	config := consul.DefaultConfig()
	config.Address = consulAddr

	client, err := consul.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}

	return &ServiceDiscovery{
		consulAddr: consulAddr,
		client:     client,
		logger:     logger,
	}, nil
}

// DiscoverCollector returns the base URL of the first healthy collector.
func (sd *ServiceDiscovery) DiscoverCollector() (string, error) {
	services, _, err := sd.client.Health().Service(CollectorHTTPService, "", true, nil)
	if err != nil {
		return "", fmt.Errorf("query consul: %w", err)
	}

	if len(services) == 0 {
		return "", fmt.Errorf("no healthy collector services found")
	}

	service := services[0]
	addr := service.Service.Address
	if addr == "" {
		addr = service.Node.Address
	}

	return fmt.Sprintf("http://%s:%d", addr, service.Service.Port), nil
}

// WatchCollector polls Consul and emits the collector URL whenever it changes.
// The channel is closed when ctx is done.
func (sd *ServiceDiscovery) WatchCollector(ctx context.Context, interval time.Duration) <-chan string {
	urlChan := make(chan string, 1)

	go func() {
		defer close(urlChan)
		var lastURL string
		for {
			wait := interval
			url, err := sd.DiscoverCollector()
			if err != nil {
				sd.logger.Warn("collector discovery failed", "error", err)
				wait = interval / 2
			} else if url != lastURL {
				sd.logger.Info("discovered collector", "url", url)
				select {
				case urlChan <- url:
					lastURL = url
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()

	return urlChan
}
