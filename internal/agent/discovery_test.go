package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func consulServer(t *testing.T, serviceAddr string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health/service/"+CollectorHTTPService {
			t.Errorf("Unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		response := []map[string]interface{}{
			{
				"Node": map[string]interface{}{
					"Address": "10.0.0.1",
				},
				"Service": map[string]interface{}{
					"Address": serviceAddr,
					"Port":    8000,
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDiscoverCollector(t *testing.T) {
	server := consulServer(t, "10.0.0.2")

	sd, err := NewServiceDiscovery(server.URL[7:], discardLogger)
	if err != nil {
		t.Fatalf("Failed to create service discovery: %v", err)
	}

	url, err := sd.DiscoverCollector()
	if err != nil {
		t.Fatalf("Failed to discover collector: %v", err)
	}

	expected := "http://10.0.0.2:8000"
	if url != expected {
		t.Errorf("Expected URL %s, got %s", expected, url)
	}
}

func TestDiscoverCollectorNoServices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]interface{}{})
	}))
	defer server.Close()

	sd, err := NewServiceDiscovery(server.URL[7:], discardLogger)
	if err != nil {
		t.Fatalf("Failed to create service discovery: %v", err)
	}

	if _, err := sd.DiscoverCollector(); err == nil {
		t.Error("Expected error when no services found")
	}
}

func TestDiscoverCollectorUsesNodeAddress(t *testing.T) {
	server := consulServer(t, "")

	sd, err := NewServiceDiscovery(server.URL[7:], discardLogger)
	if err != nil {
		t.Fatalf("Failed to create service discovery: %v", err)
	}

	url, err := sd.DiscoverCollector()
	if err != nil {
		t.Fatalf("Failed to discover collector: %v", err)
	}

	expected := "http://10.0.0.1:8000"
	if url != expected {
		t.Errorf("Expected URL %s (node address), got %s", expected, url)
	}
}

func TestWatchCollector(t *testing.T) {
	server := consulServer(t, "10.0.0.2")

	sd, err := NewServiceDiscovery(server.URL[7:], discardLogger)
	if err != nil {
		t.Fatalf("Failed to create service discovery: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	urlChan := sd.WatchCollector(ctx, 50*time.Millisecond)

	select {
	case url := <-urlChan:
		if url != "http://10.0.0.2:8000" {
			t.Errorf("Expected http://10.0.0.2:8000, got %s", url)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for collector URL")
	}

	cancel()
	select {
	case _, ok := <-urlChan:
		if ok {
			t.Error("Expected no second URL for an unchanged collector")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected channel to close after cancel")
	}
}
