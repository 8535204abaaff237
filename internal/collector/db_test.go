package collector

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/barak1panker/server-monitoring/internal/models"
)

func TestNewDB(t *testing.T) {
	dbPath := t.TempDir() + "/test.db"
	defer os.Remove(dbPath)

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if db.conn == nil {
		t.Fatal("Database connection is nil")
	}

	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewDBRejectsBadLogsTable(t *testing.T) {
	_, err := NewDB(t.TempDir()+"/test.db", WithLogsTable("logs; DROP TABLE alerts"))
	if err == nil {
		t.Fatal("Expected error for invalid table name")
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: dialectPostgres}
	got := pg.rebind("SELECT * FROM alerts WHERE hostname = ? AND sha256 = ? LIMIT ?")
	want := "SELECT * FROM alerts WHERE hostname = $1 AND sha256 = $2 LIMIT $3"
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}

	lite := &DB{dialect: dialectSQLite}
	if q := lite.rebind("a = ?"); q != "a = ?" {
		t.Errorf("Expected sqlite query unchanged, got %q", q)
	}
}

func TestInsertAndListAlerts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	cpu := 95.0
	ratio := 0.95
	path := "/usr/bin/evil"
	sha := testBadHash

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	first := &models.Alert{
		CreatedAt: base, Hostname: "h1", Category: models.CategoryResource,
		Severity: models.SeverityCritical, Label: models.LabelCritical, Description: "cpu",
		CPU: &cpu, RAMRatio: &ratio,
	}
	second := &models.Alert{
		CreatedAt: base.Add(time.Minute), Hostname: "h1", Category: models.CategoryHash,
		Severity: models.SeverityCritical, Label: models.LabelCritical, Description: "hash",
		FilePath: &path, SHA256: &sha,
	}

	id1, err := db.InsertAlert(ctx, first)
	if err != nil {
		t.Fatalf("Failed to insert alert: %v", err)
	}
	id2, err := db.InsertAlert(ctx, second)
	if err != nil {
		t.Fatalf("Failed to insert alert: %v", err)
	}
	if id1 == 0 || id2 <= id1 {
		t.Fatalf("Expected increasing IDs, got %d and %d", id1, id2)
	}

	alerts, err := db.ListAlerts(ctx, 50)
	if err != nil {
		t.Fatalf("Failed to list alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(alerts))
	}

	if alerts[0].ID != id2 {
		t.Errorf("Expected newest first, got id %d", alerts[0].ID)
	}
	if alerts[0].FilePath == nil || *alerts[0].FilePath != path {
		t.Errorf("Expected file path %s, got %v", path, alerts[0].FilePath)
	}
	if alerts[0].CPU != nil {
		t.Errorf("Expected nil cpu on hash alert, got %v", *alerts[0].CPU)
	}
	if alerts[1].CPU == nil || *alerts[1].CPU != cpu {
		t.Errorf("Expected cpu %v, got %v", cpu, alerts[1].CPU)
	}
	if alerts[1].Category != models.CategoryResource {
		t.Errorf("Expected RESOURCE, got %s", alerts[1].Category)
	}
	if !alerts[1].CreatedAt.Equal(base) {
		t.Errorf("Expected created_at %v, got %v", base, alerts[1].CreatedAt)
	}

	limited, err := db.ListAlerts(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to list alerts: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 alert with limit, got %d", len(limited))
	}
}

func TestListAlertsEmpty(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	alerts, err := db.ListAlerts(context.Background(), 50)
	if err != nil {
		t.Fatalf("Failed to list alerts: %v", err)
	}
	if alerts == nil || len(alerts) != 0 {
		t.Errorf("Expected empty non-nil list, got %v", alerts)
	}
}

func TestHasRecentHashAlert(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	sha := testBadHash
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if _, err := db.InsertAlert(ctx, &models.Alert{
		CreatedAt: created, Hostname: "h1", Category: models.CategoryHash,
		Severity: models.SeverityCritical, Label: models.LabelCritical, Description: "hash", SHA256: &sha,
	}); err != nil {
		t.Fatalf("Failed to insert alert: %v", err)
	}

	tests := []struct {
		name     string
		hostname string
		sha256   string
		since    time.Time
		want     bool
	}{
		{"inside window", "h1", sha, created.Add(-time.Hour), true},
		{"window starts at creation", "h1", sha, created, true},
		{"outside window", "h1", sha, created.Add(time.Second), false},
		{"other host", "h2", sha, created.Add(-time.Hour), false},
		{"other hash", "h1", "0000000000000000000000000000000000000000000000000000000000000000", created.Add(-time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.HasRecentHashAlert(ctx, tt.hostname, tt.sha256, tt.since)
			if err != nil {
				t.Fatalf("HasRecentHashAlert() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("HasRecentHashAlert() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasRecentHashAlertIgnoresResourceAlerts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	sha := testBadHash
	now := time.Now().UTC()
	if _, err := db.InsertAlert(ctx, &models.Alert{
		CreatedAt: now, Hostname: "h1", Category: models.CategoryResource,
		Severity: models.SeverityCritical, Label: models.LabelCritical, Description: "x", SHA256: &sha,
	}); err != nil {
		t.Fatalf("Failed to insert alert: %v", err)
	}

	got, err := db.HasRecentHashAlert(ctx, "h1", sha, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("HasRecentHashAlert() error: %v", err)
	}
	if got {
		t.Error("Expected RESOURCE alert not to count")
	}
}

func TestInsertFileHashes(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	sha := testBadHash
	size := int64(12)
	mtime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	errMsg := "permission denied"
	observed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	records := []models.FileHashRecord{
		{ObservedAt: observed, Hostname: "h1", FilePath: "/bin/a", SHA256: &sha, Size: &size, MTime: &mtime},
		{ObservedAt: observed, Hostname: "h1", FilePath: "/bin/b", Error: &errMsg},
		{ObservedAt: observed, Hostname: "h1", FilePath: "/bin/a", SHA256: &sha, Size: &size, MTime: &mtime},
	}

	n, err := db.InsertFileHashes(ctx, records)
	if err != nil {
		t.Fatalf("Failed to insert file hashes: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 rows, got %d", n)
	}

	stored, err := db.ListFileHashes(ctx, "h1", 10)
	if err != nil {
		t.Fatalf("Failed to list file hashes: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("Expected repeated scans to be kept, got %d rows", len(stored))
	}

	b := stored[1]
	if b.FilePath != "/bin/b" || b.SHA256 != nil || b.Size != nil || b.MTime != nil {
		t.Errorf("Expected nullable fields nil, got %+v", b)
	}
	if b.Error == nil || *b.Error != errMsg {
		t.Errorf("Expected error %q, got %v", errMsg, b.Error)
	}

	a := stored[2]
	if a.MTime == nil || !a.MTime.Equal(mtime) {
		t.Errorf("Expected mtime %v, got %v", mtime, a.MTime)
	}
	if a.Size == nil || *a.Size != size {
		t.Errorf("Expected size %d, got %v", size, a.Size)
	}
}

func TestInsertFileHashesEmpty(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	n, err := db.InsertFileHashes(context.Background(), nil)
	if err != nil || n != 0 {
		t.Errorf("Expected 0 rows and no error, got %d, %v", n, err)
	}
}

func TestCleanupOldFileHashes(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	records := []models.FileHashRecord{
		{ObservedAt: now.Add(-48 * time.Hour), Hostname: "h1", FilePath: "/old"},
		{ObservedAt: now, Hostname: "h1", FilePath: "/new"},
	}
	if _, err := db.InsertFileHashes(ctx, records); err != nil {
		t.Fatalf("Failed to insert file hashes: %v", err)
	}

	removed, err := db.CleanupOldFileHashes(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Failed to cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 row removed, got %d", removed)
	}

	stored, err := db.ListFileHashes(ctx, "h1", 10)
	if err != nil {
		t.Fatalf("Failed to list file hashes: %v", err)
	}
	if len(stored) != 1 || stored[0].FilePath != "/new" {
		t.Errorf("Expected only /new to remain, got %+v", stored)
	}
}

func TestAuditLog(t *testing.T) {
	db, err := NewDB(t.TempDir()+"/test.db", WithLogsTable("ingest_log"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	for i, kind := range []string{models.AuditMetrics, models.AuditHash} {
		_, err := db.InsertAudit(ctx, &models.AuditEntry{
			DeviceName: "h1",
			LogPath:    "logs/h1.json",
			Severity:   kind,
			CreatedAt:  time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("Failed to insert audit entry: %v", err)
		}
	}

	entries, err := db.ListAudit(ctx, 50)
	if err != nil {
		t.Fatalf("Failed to list audit log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Severity != models.AuditHash {
		t.Errorf("Expected newest first, got %s", entries[0].Severity)
	}
	if entries[0].DeviceID != nil {
		t.Errorf("Expected nil device id, got %v", *entries[0].DeviceID)
	}
}

func TestTableSource(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	added, err := db.AddSuspiciousHashes(ctx, "test-feed", []string{
		"E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855",
		"not-a-hash",
		strings.Repeat("zz", 32),
	})
	if err != nil {
		t.Fatalf("Failed to add hashes: %v", err)
	}
	if added != 1 {
		t.Errorf("Expected 1 hash added, got %d", added)
	}

	src := db.SuspiciousHashes()
	bad, err := src.Lookup(ctx, []string{testBadHash, testGoodHash})
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if _, ok := bad[testBadHash]; !ok || len(bad) != 1 {
		t.Errorf("Expected only the bad hash, got %v", bad)
	}
}

func TestSeedSuspiciousHashes(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "feed.txt")
	content := "# known bad\n" + strings.ToUpper(testBadHash) + " malware.bin\nnot-a-hash\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write feed: %v", err)
	}

	added, err := db.SeedSuspiciousHashes(ctx, path, filepath.Join(t.TempDir(), "missing.txt"))
	if err == nil {
		t.Error("Expected error for missing feed file")
	}
	if added != 1 {
		t.Errorf("Expected 1 hash seeded, got %d", added)
	}

	bad, err := db.SuspiciousHashes().Lookup(ctx, []string{testBadHash, testGoodHash})
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if _, ok := bad[testBadHash]; !ok || len(bad) != 1 {
		t.Errorf("Expected only the seeded hash to match, got %v", bad)
	}
}

func TestTableSourceChunks(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	if _, err := db.AddSuspiciousHashes(ctx, "feed", []string{testBadHash}); err != nil {
		t.Fatalf("Failed to add hashes: %v", err)
	}

	hashes := make([]string, 0, lookupChunkSize*2+1)
	for i := 0; i < lookupChunkSize*2; i++ {
		hashes = append(hashes, testGoodHash)
	}
	hashes = append(hashes, testBadHash)

	bad, err := db.SuspiciousHashes().Lookup(ctx, hashes)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if len(bad) != 1 {
		t.Errorf("Expected match in the last chunk, got %v", bad)
	}
}

func TestNewTableSourceValidatesIdentifiers(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	tests := []struct {
		schema, table, column string
		wantErr               bool
	}{
		{"", "iocs", "sha256", false},
		{"main", "suspicious_hashes", "sha256", false},
		{"", "iocs;--", "sha256", true},
		{"", "iocs", "sha256 OR 1=1", true},
		{"bad schema", "iocs", "sha256", true},
	}

	for _, tt := range tests {
		_, err := NewTableSource(db, tt.schema, tt.table, tt.column)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewTableSource(%q, %q, %q) error = %v, wantErr %v", tt.schema, tt.table, tt.column, err, tt.wantErr)
		}
	}
}

func TestTableSourceMissingTable(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	src, err := NewTableSource(db, "", "no_such_table", "sha256")
	if err != nil {
		t.Fatalf("NewTableSource() error: %v", err)
	}
	if _, err := src.Lookup(context.Background(), []string{testBadHash}); err == nil {
		t.Error("Expected error for missing table")
	}
}

const (
	testBadHash  = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	testGoodHash = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := t.TempDir() + "/test.db"
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	return db
}
