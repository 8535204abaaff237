package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

const (
	runIDHeader    = "X-Agent-Run-ID"
	requestTimeout = 30 * time.Second
)

type hashBatch struct {
	Hostname string      `json:"hostname"`
	Hashes   []HashEntry `json:"hashes"`
}

// Collector gathers one metric report per tick.
type Collector interface {
	Hostname() string
	Collect() (*MetricReport, error)
}

// Client posts metric reports and hash batches to one collector. Sends are
// fire-and-forget: a failed tick is logged and the next tick starts fresh.
type Client struct {
	baseURL    string
	httpClient *http.Client
	collector  Collector
	scanner    *HashScanner
	cfg        Config
	runID      string
	logger     *slog.Logger
}

func NewClient(baseURL string, collector Collector, cfg Config, logger *slog.Logger) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		collector:  collector,
		cfg:        cfg,
		runID:      uuid.NewString(),
		logger:     logger.With("collector", baseURL),
	}
	if cfg.Hash.Enabled {
		c.scanner = NewHashScanner(cfg.Hash, logger)
	}
	return c
}

// Start runs the metrics loop and, when enabled, the hash loop until ctx is
// done. It returns only after the hash loop has stopped.
func (c *Client) Start(ctx context.Context) error {
	metricsTicker := time.NewTicker(c.cfg.MetricsInterval)
	defer metricsTicker.Stop()

	if c.scanner != nil {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runHashLoop(ctx)
		}()
		defer wg.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-metricsTicker.C:
			if err := c.SendMetrics(ctx); err != nil {
				c.logger.Warn("failed to send metrics", "error", err)
			}
		}
	}
}

// runHashLoop scans right away, then waits a full interval after each scan
// and upload finishes, so at most one scan is ever in progress.
func (c *Client) runHashLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := c.SendHashes(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("hash scan upload failed", "error", err)
			}
			timer.Reset(c.cfg.Hash.Interval)
		}
	}
}

func (c *Client) SendMetrics(ctx context.Context) error {
	report, err := c.collector.Collect()
	if err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}
	return c.post(ctx, "/collect-metrics", report)
}

// SendHashes scans the configured directories and uploads the entries in
// chunks. Every chunk is attempted; failures are aggregated.
func (c *Client) SendHashes(ctx context.Context) error {
	if c.scanner == nil {
		return nil
	}

	started := time.Now()
	entries, err := c.scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan files: %w", err)
	}
	c.logger.Info("hash scan finished", "files", len(entries), "duration", time.Since(started).String())

	return c.UploadHashes(ctx, entries)
}

func (c *Client) UploadHashes(ctx context.Context, entries []HashEntry) error {
	var result *multierror.Error
	size := c.cfg.Hash.ChunkSize

	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}

		batch := hashBatch{Hostname: c.collector.Hostname(), Hashes: entries[start:end]}
		if err := c.post(ctx, "/collect-hashes", batch); err != nil {
			result = multierror.Append(result, fmt.Errorf("chunk %d-%d: %w", start, end, err))
		}
	}

	return result.ErrorOrNil()
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(runIDHeader, c.runID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
