package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const backupTimeLayout = "2006-01-02_15-04-05"

// Backup writes raw ingestion payloads to a directory for later inspection.
type Backup struct {
	dir string
	now func() time.Time
}

func NewBackup(dir string) *Backup {
	return &Backup{dir: dir, now: time.Now}
}

// Path returns the file name a payload from hostname would be written to.
func (b *Backup) Path(hostname string) string {
	name := fmt.Sprintf("%s_%s_%s.json",
		safeName(hostname),
		b.now().UTC().Format(backupTimeLayout),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return filepath.Join(b.dir, name)
}

// Save writes body (re-indented when it is valid JSON) and returns the path.
// The path is returned even when the write fails.
func (b *Backup) Save(hostname string, body []byte) (string, error) {
	path := b.Path(hostname)

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return path, fmt.Errorf("create backup dir: %w", err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		out.Reset()
		out.Write(body)
	}

	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return path, fmt.Errorf("write backup: %w", err)
	}
	return path, nil
}

func safeName(hostname string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':':
			return '_'
		}
		return r
	}, strings.TrimSpace(hostname))
	if name == "" || name == "." || name == ".." {
		return "unknown"
	}
	return name
}
