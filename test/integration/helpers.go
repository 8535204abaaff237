package integration

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/barak1panker/server-monitoring/internal/alerts"
	"github.com/barak1panker/server-monitoring/internal/collector"
	"github.com/barak1panker/server-monitoring/internal/fleet"
	"github.com/barak1panker/server-monitoring/internal/ioc"
)

// sha256 of "hello\n"
const helloSHA = "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stack struct {
	db        *collector.DB
	state     *fleet.State
	service   *collector.Service
	server    *httptest.Server
	uploadDir string
}

// newStack runs the collector HTTP API over a temp SQLite database, using
// iocHashes as the watched known-bad list.
func newStack(t *testing.T, iocHashes ...string) *stack {
	t.Helper()
	dir := t.TempDir()

	db, err := collector.NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	iocFile := filepath.Join(dir, "ioc.txt")
	content := "# known bad\n"
	for _, h := range iocHashes {
		content += h + "\n"
	}
	if err := os.WriteFile(iocFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write IOC file: %v", err)
	}
	hashes, err := ioc.LoadFiles(iocFile)
	if err != nil {
		t.Fatalf("Failed to load IOC file: %v", err)
	}

	st := &stack{
		db:        db,
		state:     fleet.NewState(fleet.DefaultStaleAfter, fleet.DefaultHistorySize),
		uploadDir: filepath.Join(dir, "logs"),
	}
	st.service = collector.NewService(collector.ServiceConfig{
		Repo:         db,
		State:        st.state,
		Recorder:     alerts.NewRecorder(db, quietLogger),
		IOC:          ioc.NewSet(hashes),
		Backup:       collector.NewBackup(st.uploadDir),
		Thresholds:   alerts.DefaultThresholds(),
		SampleOnRead: true,
		Logger:       quietLogger,
	})

	st.server = httptest.NewServer(collector.NewAPI(st.service, db).Handler())
	t.Cleanup(st.server.Close)
	return st
}
