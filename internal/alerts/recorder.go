package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/barak1panker/server-monitoring/internal/models"
)

const DefaultDedupWindow = 24 * time.Hour

const (
	maxDescriptionLen = 1024
	maxFilePathLen    = 1024
	maxSHA256Len      = 64
)

// Store persists alerts.
type Store interface {
	InsertAlert(ctx context.Context, alert *models.Alert) (int64, error)
	HasRecentHashAlert(ctx context.Context, hostname, sha256 string, since time.Time) (bool, error)
}

// Notifier is told about every alert after it has been stored.
type Notifier interface {
	Publish(ctx context.Context, alert *models.Alert) error
}

type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeSuppressed
)

type Recorder struct {
	store    Store
	window   time.Duration
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	// hashMu serializes the check-then-insert for HASH alerts.
	hashMu sync.Mutex
}

type RecorderOption func(*Recorder)

func WithNotifier(n Notifier) RecorderOption {
	return func(r *Recorder) { r.notifier = n }
}

func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(store Store, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		window: DefaultDedupWindow,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stores alert. A HASH alert is suppressed when the same host already
// has a HASH alert for the same sha256 inside the dedup window; RESOURCE
// alerts are always stored.
func (r *Recorder) Record(ctx context.Context, alert *models.Alert) (Outcome, error) {
	alert.CreatedAt = r.now().UTC()
	clip(alert)

	if alert.Category != models.CategoryHash || alert.SHA256 == nil {
		return OutcomeCreated, r.insert(ctx, alert)
	}

	r.hashMu.Lock()
	defer r.hashMu.Unlock()

	since := alert.CreatedAt.Add(-r.window)
	seen, err := r.store.HasRecentHashAlert(ctx, alert.Hostname, *alert.SHA256, since)
	if err != nil {
		return OutcomeCreated, fmt.Errorf("check recent hash alert: %w", err)
	}
	if seen {
		r.logger.Info("hash alert suppressed",
			"hostname", alert.Hostname, "sha256", *alert.SHA256, "window", r.window.String())
		return OutcomeSuppressed, nil
	}

	return OutcomeCreated, r.insert(ctx, alert)
}

func (r *Recorder) insert(ctx context.Context, alert *models.Alert) error {
	id, err := r.store.InsertAlert(ctx, alert)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	alert.ID = id

	if r.notifier != nil {
		if err := r.notifier.Publish(ctx, alert); err != nil {
			r.logger.Warn("alert notification failed", "alert_id", id, "error", err)
		}
	}
	return nil
}

func clip(a *models.Alert) {
	if len(a.Description) > maxDescriptionLen {
		a.Description = strings.ToValidUTF8(a.Description[:maxDescriptionLen], "")
	}
	if a.FilePath != nil && len(*a.FilePath) > maxFilePathLen {
		p := strings.ToValidUTF8((*a.FilePath)[:maxFilePathLen], "")
		a.FilePath = &p
	}
	if a.SHA256 != nil && len(*a.SHA256) > maxSHA256Len {
		s := (*a.SHA256)[:maxSHA256Len]
		a.SHA256 = &s
	}
}
