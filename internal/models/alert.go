package models

import "time"

type AlertCategory string

const (
	CategoryResource AlertCategory = "RESOURCE"
	CategoryHash     AlertCategory = "HASH"
)

const (
	SeverityCritical = "CRITICAL"
	LabelCritical    = "Critical issue"
)

type Alert struct {
	ID          int64         `json:"id"`
	CreatedAt   time.Time     `json:"created_at"`
	Hostname    string        `json:"hostname"`
	Category    AlertCategory `json:"category"`
	Severity    string        `json:"severity"`
	Label       string        `json:"label"`
	Description string        `json:"description"`
	FilePath    *string       `json:"file_path"`
	SHA256      *string       `json:"sha256"`
	CPU         *float64      `json:"cpu"`
	RAMRatio    *float64      `json:"ram_ratio"`
}

type FileHashRecord struct {
	ID         int64      `json:"id"`
	ObservedAt time.Time  `json:"observed_at"`
	Hostname   string     `json:"hostname"`
	FilePath   string     `json:"file_path"`
	SHA256     *string    `json:"sha256"`
	Size       *int64     `json:"size"`
	MTime      *time.Time `json:"mtime"`
	Error      *string    `json:"error"`
}

const (
	AuditMetrics = "METRICS"
	AuditHash    = "HASH"
)

// AuditEntry is one row of the ingestion log, pointing at the raw payload on disk.
type AuditEntry struct {
	ID         int64     `json:"id"`
	DeviceID   *int64    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	LogPath    string    `json:"log_path"`
	Severity   string    `json:"severity"`
	CreatedAt  time.Time `json:"created_at"`
}
