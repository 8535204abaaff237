package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	errSizeExceeded = "size_exceeds_limit"
	maxErrorLen     = 200
)

// HashEntry is one scanned file as posted to /collect-hashes. A failed file
// carries Error and no SHA256.
type HashEntry struct {
	FilePath string `json:"file_path"`
	SHA256   string `json:"sha256,omitempty"`
	Size     *int64 `json:"size,omitempty"`
	MTime    string `json:"mtime,omitempty"`
	Error    string `json:"error,omitempty"`
}

type HashScanner struct {
	dirs     []string
	maxSize  int64
	maxFiles int
	workers  int
	logger   *slog.Logger
}

func NewHashScanner(cfg HashConfig, logger *slog.Logger) *HashScanner {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &HashScanner{
		dirs:     cfg.Dirs,
		maxSize:  cfg.MaxSizeMB * 1024 * 1024,
		maxFiles: cfg.MaxFiles,
		workers:  workers,
		logger:   logger,
	}
}

// Scan walks the configured directories and hashes up to maxFiles regular
// files. Unreadable directories are skipped; per-file failures become
// entries with Error set.
func (s *HashScanner) Scan(ctx context.Context) ([]HashEntry, error) {
	paths, err := s.collectPaths(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make(chan string)
	results := make(chan HashEntry, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				results <- s.hashFile(path)
			}
		}()
	}

feed:
	for _, path := range paths {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- path:
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	entries := make([]HashEntry, 0, len(paths))
	for entry := range results {
		entries = append(entries, entry)
	}

	if err := ctx.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}

func (s *HashScanner) collectPaths(ctx context.Context) ([]string, error) {
	var paths []string

	for _, root := range s.dirs {
		if _, err := os.Stat(root); err != nil {
			s.logger.Warn("skipping hash dir", "dir", root, "error", err)
			continue
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			paths = append(paths, path)
			if s.maxFiles > 0 && len(paths) >= s.maxFiles {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
		if s.maxFiles > 0 && len(paths) >= s.maxFiles {
			break
		}
	}

	return paths, nil
}

func (s *HashScanner) hashFile(path string) HashEntry {
	entry := HashEntry{FilePath: path}

	info, err := os.Stat(path)
	if err != nil {
		entry.Error = clipError(err)
		return entry
	}

	size := info.Size()
	entry.Size = &size
	entry.MTime = info.ModTime().UTC().Format(time.RFC3339)

	if s.maxSize > 0 && size > s.maxSize {
		entry.Error = errSizeExceeded
		return entry
	}

	f, err := os.Open(path)
	if err != nil {
		entry.Error = clipError(err)
		return entry
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		entry.Error = clipError(err)
		return entry
	}
	entry.SHA256 = hex.EncodeToString(h.Sum(nil))
	return entry
}

func clipError(err error) string {
	msg := []rune(err.Error())
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return string(msg)
}
