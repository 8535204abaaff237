package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/barak1panker/server-monitoring/internal/models"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Health() (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := c.get("/api/v1/health", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) Fleet() (*models.FleetView, error) {
	var view models.FleetView
	if err := c.get("/api/metrics", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) Alerts(limit int) ([]models.Alert, error) {
	var alerts []models.Alert
	if err := c.get("/api/alerts", limitQuery(limit), &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) Logs(limit int) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	if err := c.get("/api/logs", limitQuery(limit), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}

func (c *Client) get(path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	resp, err := c.httpClient.Get(u)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
