package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/barak1panker/server-monitoring/internal/models"
)

func TestFormatFleetTable(t *testing.T) {
	view := &models.FleetView{
		Servers: []models.ServerStatus{
			{Name: "web-1", IP: "10.0.0.5", Status: "up", CPU: 12.5, RAMTotal: 2000000, RAMUsed: 1000000},
			{Name: "db-1", Status: "down"},
		},
		History: models.FleetHistory{Up: []int{2, 1}, Down: []int{0, 1}, CPU: []float64{10, 12.5}, RAM: []float64{50, 50}},
	}

	var buf bytes.Buffer
	if err := FormatFleetTable(&buf, view); err != nil {
		t.Fatalf("FormatFleetTable() error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"HOSTNAME", "web-1", "1.0 MB / 2.0 MB", "db-1", "down", "History (2 samples): up 1, down 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}
}

func TestFormatFleetTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := FormatFleetTable(&buf, &models.FleetView{}); err != nil {
		t.Fatalf("FormatFleetTable() error: %v", err)
	}
	if !strings.Contains(buf.String(), "No hosts have reported yet") {
		t.Errorf("Unexpected output: %s", buf.String())
	}
}

func TestFormatAlertsTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path := "/usr/bin/evil"
	sha := "44d88612fea8a8f36de82e1278abb02f00000000000000000000000000000000"
	cpu := 95.0
	ratio := 0.5

	alerts := []models.Alert{
		{ID: 2, CreatedAt: now.Add(-5 * time.Minute), Hostname: "db-1", Category: models.CategoryHash, Severity: "CRITICAL", FilePath: &path, SHA256: &sha},
		{ID: 1, CreatedAt: now.Add(-2 * time.Hour), Hostname: "web-1", Category: models.CategoryResource, Severity: "CRITICAL", CPU: &cpu, RAMRatio: &ratio},
	}

	var buf bytes.Buffer
	if err := FormatAlertsTable(&buf, alerts, now); err != nil {
		t.Fatalf("FormatAlertsTable() error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"5 minutes ago", "2 hours ago", "/usr/bin/evil 44d88612fea8", "cpu 95.0% ram 50%"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}
}

func TestFormatLogsTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []models.AuditEntry{
		{ID: 7, CreatedAt: now.Add(-30 * time.Second), DeviceName: "web-1", LogPath: "logs/web-1.json", Severity: models.AuditHash},
	}

	var buf bytes.Buffer
	if err := FormatLogsTable(&buf, entries, now); err != nil {
		t.Fatalf("FormatLogsTable() error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"30 seconds ago", "web-1", "HASH", "logs/web-1.json"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}

	buf.Reset()
	FormatLogsTable(&buf, nil, now)
	if !strings.Contains(buf.String(), "No log entries") {
		t.Errorf("Unexpected output: %s", buf.String())
	}
}
