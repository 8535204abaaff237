package ingest

import (
	"time"

	"github.com/barak1panker/server-monitoring/internal/models"
)

const defaultHostname = "unknown"

// MetricRecord is a validated metric report. Every numeric field has already
// been coerced; missing or malformed values are 0.
type MetricRecord struct {
	Hostname  string
	IP        string
	CPU       float64
	RAMTotal  int64
	RAMUsed   int64
	DiskTotal int64
	DiskUsed  int64
	NetIn     int64
	NetOut    int64

	ramRatio float64
}

// ParseMetricRecord validates a metric report body. It only fails when the
// body is not a JSON object.
func ParseMetricRecord(body []byte) (MetricRecord, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return MetricRecord{}, validationError("invalid JSON: %v", err)
	}

	hostname := toString(obj["hostname"])
	if hostname == "" {
		hostname = defaultHostname
	}

	ip := toString(obj["ip"])
	if ip == "" {
		ip = toString(obj["ip_address"])
	}

	ramTotal := toFloat(obj["ramTotal"])
	ramUsed := toFloat(obj["ramUsed"])

	rec := MetricRecord{
		Hostname:  hostname,
		IP:        ip,
		CPU:       toFloat(obj["cpu"]),
		RAMTotal:  clampInt(ramTotal),
		RAMUsed:   clampInt(ramUsed),
		DiskTotal: toInt(obj["diskTotal"]),
		DiskUsed:  toInt(obj["diskUsed"]),
		NetIn:     toInt(obj["netIn"]),
		NetOut:    toInt(obj["netOut"]),
	}
	if ramTotal > 0 {
		rec.ramRatio = ramUsed / ramTotal
	}

	return rec, nil
}

// RAMRatio is ramUsed/ramTotal, or exactly 0 when ramTotal is not positive.
func (m MetricRecord) RAMRatio() float64 {
	return m.ramRatio
}

func (m MetricRecord) Snapshot(observedAt time.Time) models.Snapshot {
	return models.Snapshot{
		Hostname:   m.Hostname,
		ObservedAt: observedAt,
		IP:         m.IP,
		CPUPercent: m.CPU,
		RAMTotal:   m.RAMTotal,
		RAMUsed:    m.RAMUsed,
		DiskTotal:  m.DiskTotal,
		DiskUsed:   m.DiskUsed,
		NetIn:      m.NetIn,
		NetOut:     m.NetOut,
	}
}
