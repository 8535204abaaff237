package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/barak1panker/server-monitoring/internal/alerts"
	"github.com/barak1panker/server-monitoring/internal/fleet"
	"github.com/barak1panker/server-monitoring/internal/ingest"
	"github.com/barak1panker/server-monitoring/internal/ioc"
	"github.com/barak1panker/server-monitoring/internal/models"
)

// ErrStorage marks a failure to persist data the caller must know about.
var ErrStorage = errors.New("storage error")

// Repository is the persistence the ingestion pipeline depends on.
type Repository interface {
	alerts.Store
	InsertFileHashes(ctx context.Context, records []models.FileHashRecord) (int, error)
	InsertAudit(ctx context.Context, entry *models.AuditEntry) (int64, error)
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

type MetricsResult struct {
	SavedFile       string
	ResourceAlerted bool
}

type HashResult struct {
	InsertedRows  int
	AlertsCreated int
	JSONSaved     string
}

type ServiceConfig struct {
	Repo       Repository
	State      *fleet.State
	Recorder   *alerts.Recorder
	IOC        ioc.Source
	Backup     *Backup
	Metrics    *Metrics
	Thresholds alerts.Thresholds

	// SampleOnRead appends a history sample on every fleet view read.
	SampleOnRead bool

	Logger *slog.Logger
	Now    func() time.Time
}

type Service struct {
	repo         Repository
	state        *fleet.State
	recorder     *alerts.Recorder
	iocs         ioc.Source
	backup       *Backup
	metrics      *Metrics
	thresholds   alerts.Thresholds
	sampleOnRead bool
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:         cfg.Repo,
		state:        cfg.State,
		recorder:     cfg.Recorder,
		iocs:         cfg.IOC,
		backup:       cfg.Backup,
		metrics:      cfg.Metrics,
		thresholds:   cfg.Thresholds,
		sampleOnRead: cfg.SampleOnRead,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.recorder == nil {
		s.recorder = alerts.NewRecorder(cfg.Repo, s.logger)
	}
	return s
}

// IngestMetrics applies one metric report: the host's snapshot is replaced
// and a resource alert is raised when a threshold is breached. Only a body
// that is not a JSON object fails the call.
func (s *Service) IngestMetrics(ctx context.Context, body []byte) (MetricsResult, error) {
	rec, err := ingest.ParseMetricRecord(body)
	if err != nil {
		s.metrics.ingest("metrics", "invalid")
		return MetricsResult{}, err
	}

	now := s.now().UTC()
	path := s.archive(ctx, rec.Hostname, body, models.AuditMetrics, now)

	s.state.Update(rec.Snapshot(now))

	result := MetricsResult{SavedFile: path}
	if alert := alerts.EvaluateResource(rec.Hostname, rec.CPU, rec.RAMRatio(), s.thresholds); alert != nil {
		result.ResourceAlerted = true
		s.record(ctx, alert)
	}

	s.metrics.ingest("metrics", "ok")
	return result, nil
}

// IngestHashes stores a hash batch and raises HASH alerts for known-bad
// hashes. A storage failure on the records themselves is returned wrapped in
// ErrStorage; alert failures are only logged.
func (s *Service) IngestHashes(ctx context.Context, body []byte) (HashResult, error) {
	batch, err := ingest.ParseHashBatch(body)
	if err != nil {
		s.metrics.ingest("hashes", "invalid")
		return HashResult{}, err
	}

	if batch.Truncated > 0 {
		s.logger.Warn("hash batch truncated",
			"hostname", batch.Hostname, "received", batch.Received, "kept", ingest.MaxHashEntries)
		s.metrics.hashDropped.WithLabelValues("truncated").Add(float64(batch.Truncated))
	}
	if batch.Skipped > 0 {
		s.metrics.hashDropped.WithLabelValues("invalid_entry").Add(float64(batch.Skipped))
	}

	now := s.now().UTC()
	path := s.archive(ctx, batch.Hostname, body, models.AuditHash, now)

	records := batch.Records(now)
	inserted, err := s.repo.InsertFileHashes(ctx, records)
	if err != nil {
		s.metrics.ingest("hashes", "error")
		return HashResult{}, fmt.Errorf("%w: insert file hashes: %w", ErrStorage, err)
	}
	s.metrics.hashRecords.Add(float64(inserted))

	result := HashResult{InsertedRows: inserted, JSONSaved: path}

	candidates := make([]ioc.Candidate, len(records))
	for i, r := range records {
		candidates[i] = ioc.Candidate{FilePath: r.FilePath, SHA256: r.SHA256}
	}

	hits, err := ioc.Match(ctx, s.iocs, candidates)
	if err != nil {
		s.logger.Error("ioc match failed", "hostname", batch.Hostname, "error", err)
	}

	for _, hit := range hits {
		if s.record(ctx, alerts.HashAlert(batch.Hostname, hit.FilePath, hit.SHA256)) {
			result.AlertsCreated++
		}
	}

	s.metrics.ingest("hashes", "ok")
	return result, nil
}

// record stores alert and reports whether a new row was written.
func (s *Service) record(ctx context.Context, alert *models.Alert) bool {
	outcome, err := s.recorder.Record(ctx, alert)
	if err != nil {
		s.logger.Error("failed to record alert",
			"hostname", alert.Hostname, "category", alert.Category, "error", err)
		s.metrics.alert(alert.Category, "failed")
		return false
	}
	if outcome == alerts.OutcomeSuppressed {
		s.metrics.alert(alert.Category, "suppressed")
		return false
	}

	s.logger.Info("alert created",
		"id", alert.ID, "hostname", alert.Hostname, "category", alert.Category, "description", alert.Description)
	s.metrics.alert(alert.Category, "created")
	return true
}

// archive writes the raw payload and its audit row. Both are best-effort;
// the backup path is returned regardless.
func (s *Service) archive(ctx context.Context, hostname string, body []byte, kind string, now time.Time) string {
	if s.backup == nil {
		return ""
	}

	path, err := s.backup.Save(hostname, body)
	if err != nil {
		s.logger.Warn("raw payload backup failed", "hostname", hostname, "path", path, "error", err)
	}

	if _, err := s.repo.InsertAudit(ctx, &models.AuditEntry{
		DeviceName: hostname,
		LogPath:    path,
		Severity:   kind,
		CreatedAt:  now,
	}); err != nil {
		s.logger.Warn("audit write failed", "hostname", hostname, "error", err)
	}

	return path
}

func (s *Service) FleetView() models.FleetView {
	view := s.state.FleetView(s.now().UTC(), s.sampleOnRead)
	s.metrics.observeFleet(view.Servers)
	return view
}

func (s *Service) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	return s.repo.ListAlerts(ctx, limit)
}

func (s *Service) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	return s.repo.ListAudit(ctx, limit)
}
