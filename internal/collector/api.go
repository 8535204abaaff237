package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/barak1panker/server-monitoring/internal/ingest"
	"github.com/go-playground/validator/v10"
)

const (
	maxBodyBytes = 64 << 20

	defaultListLimit = 50
)

var validate = validator.New()

type listQuery struct {
	Limit int `validate:"min=1,max=500"`
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type API struct {
	service *Service
	db      Pinger
	metrics *Metrics
	limiter *RateLimiter
	logger  *slog.Logger
}

type APIOption func(*API)

// WithRateLimiter throttles the ingestion routes per client IP.
func WithRateLimiter(rl *RateLimiter) APIOption {
	return func(api *API) { api.limiter = rl }
}

func NewAPI(service *Service, db Pinger, opts ...APIOption) *API {
	api := &API{
		service: service,
		db:      db,
		metrics: service.metrics,
		logger:  service.logger,
	}
	for _, opt := range opts {
		opt(api)
	}
	if api.limiter != nil {
		api.limiter.onReject = api.metrics.throttled.Inc
	}
	return api
}

func (api *API) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/collect-metrics", api.ingestRoute(api.handleCollectMetrics))
	mux.Handle("/collect-data", api.ingestRoute(api.handleCollectMetrics))
	mux.Handle("/collect-hashes", api.ingestRoute(api.handleCollectHashes))
	mux.HandleFunc("/api/metrics", api.handleFleet)
	mux.HandleFunc("/api/alerts", api.handleAlerts)
	mux.HandleFunc("/api/logs", api.handleLogs)
	mux.HandleFunc("/health", api.handleLiveness)
	mux.HandleFunc("/api/v1/health", api.handleHealth)
	mux.Handle("/metrics", api.metrics.Handler())
}

// Handler returns the full route set wrapped with CORS.
func (api *API) Handler() http.Handler {
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	return cors(mux)
}

func (api *API) ingestRoute(h http.HandlerFunc) http.Handler {
	if api.limiter == nil {
		return h
	}
	return api.limiter.Middleware(h)
}

func (api *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (api *API) handleCollectMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, ok := api.readBody(w, r)
	if !ok {
		return
	}

	result, err := api.service.IngestMetrics(r.Context(), body)
	if err != nil {
		api.writeIngestError(w, "metrics", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":               true,
		"saved_file":       result.SavedFile,
		"resource_alerted": result.ResourceAlerted,
	})
}

func (api *API) handleCollectHashes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, ok := api.readBody(w, r)
	if !ok {
		return
	}

	result, err := api.service.IngestHashes(r.Context(), body)
	if err != nil {
		api.writeIngestError(w, "hashes", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":                 true,
		"inserted_hash_rows": result.InsertedRows,
		"alerts_created":     result.AlertsCreated,
		"json_saved":         result.JSONSaved,
	})
}

func (api *API) writeIngestError(w http.ResponseWriter, kind string, err error) {
	if errors.Is(err, ingest.ErrValidation) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	api.logger.Error("ingestion failed", "kind", kind, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (api *API) handleFleet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, api.service.FleetView())
}

func (api *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	alerts, err := api.service.ListAlerts(r.Context(), limit)
	if err != nil {
		api.logger.Error("failed to list alerts", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, alerts)
}

func (api *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := api.service.ListAudit(r.Context(), limit)
	if err != nil {
		api.logger.Error("failed to list audit log", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, entries)
}

func parseLimit(r *http.Request) (int, error) {
	q := listQuery{Limit: defaultListLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("limit must be an integer")
		}
		q.Limit = n
	}
	if err := validate.Struct(q); err != nil {
		return 0, fmt.Errorf("limit must be between 1 and 500")
	}
	return q.Limit, nil
}

func (api *API) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"time_utc": time.Now().UTC().Format(time.RFC3339),
	})
}

func (api *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := api.db.Ping(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("Database unhealthy: %v", err), http.StatusServiceUnavailable)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"database": "connected",
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}
