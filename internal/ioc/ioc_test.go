package ioc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	bad1 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	bad2 = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	good = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func strp(s string) *string { return &s }

func TestNormalize(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{bad1, bad1, true},
		{strings.ToUpper(bad1), bad1, true},
		{"abc", "", false},
		{strings.Repeat("g", 64), "", false},
		{bad1 + "0", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := Normalize(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Normalize(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSetReplaceIsWholesale(t *testing.T) {
	s := NewSet([]string{bad1, "junk"})
	if s.Len() != 1 || !s.Contains(bad1) {
		t.Fatalf("Expected set with bad1 only, len=%d", s.Len())
	}

	s.Replace([]string{strings.ToUpper(bad2)})
	if s.Contains(bad1) {
		t.Error("Expected bad1 gone after replace")
	}
	if !s.Contains(bad2) {
		t.Error("Expected normalized bad2 after replace")
	}
}

func TestSetConcurrentReadsDuringReplace(t *testing.T) {
	s := NewSet([]string{bad1})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				s.Lookup(context.Background(), []string{bad1, bad2})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Replace([]string{bad1, bad2})
			}
		}()
	}
	wg.Wait()
}

func TestMatch(t *testing.T) {
	src := NewSet([]string{bad1, bad2})
	candidates := []Candidate{
		{FilePath: "/bin/a", SHA256: strp(strings.ToUpper(bad1))},
		{FilePath: "/bin/b", SHA256: strp(good)},
		{FilePath: "/bin/c", SHA256: nil},
		{FilePath: "/bin/d", SHA256: strp("short")},
		{FilePath: "/tmp/a-copy", SHA256: strp(bad1)},
	}

	hits, err := Match(context.Background(), src, candidates)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}

	if len(hits) != 2 {
		t.Fatalf("Expected 2 hits, got %d: %+v", len(hits), hits)
	}
	if hits[0].FilePath != "/bin/a" || hits[0].SHA256 != bad1 {
		t.Errorf("Unexpected first hit %+v", hits[0])
	}
	if hits[1].FilePath != "/tmp/a-copy" {
		t.Errorf("Expected each file with the bad hash to match, got %+v", hits[1])
	}
}

type countingSource struct {
	calls int
	got   []string
	err   error
}

func (c *countingSource) Lookup(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	c.calls++
	c.got = hashes
	return map[string]struct{}{}, c.err
}

func TestMatchQueriesDistinctHashesOnce(t *testing.T) {
	src := &countingSource{}
	candidates := []Candidate{
		{FilePath: "/a", SHA256: strp(bad1)},
		{FilePath: "/b", SHA256: strp(strings.ToUpper(bad1))},
		{FilePath: "/c", SHA256: strp(bad2)},
	}

	if _, err := Match(context.Background(), src, candidates); err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if src.calls != 1 || len(src.got) != 2 {
		t.Errorf("Expected one lookup of 2 hashes, got %d calls with %v", src.calls, src.got)
	}
}

func TestMatchSkipsLookupWithoutHashes(t *testing.T) {
	src := &countingSource{}
	hits, err := Match(context.Background(), src, []Candidate{{FilePath: "/a"}})
	if err != nil || hits != nil || src.calls != 0 {
		t.Errorf("Expected no lookup, got hits=%v err=%v calls=%d", hits, err, src.calls)
	}
}

func TestMatchLookupError(t *testing.T) {
	src := &countingSource{err: errors.New("table missing")}
	_, err := Match(context.Background(), src, []Candidate{{FilePath: "/a", SHA256: strp(bad1)}})
	if err == nil {
		t.Fatal("Expected lookup error")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.csv")
	writeFile(t, a, "# feed a\n"+bad1+"\n\nnot-a-hash\n")
	writeFile(t, b, strings.ToUpper(bad2)+",Trojan.Generic,high\n")

	hashes, err := LoadFiles(a, b)
	if err != nil {
		t.Fatalf("LoadFiles() error: %v", err)
	}
	if len(hashes) != 2 || hashes[0] != bad1 || hashes[1] != bad2 {
		t.Errorf("Unexpected hashes %v", hashes)
	}
}

func TestLoadFilesCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	writeFile(t, a, bad1+"\n")

	hashes, err := LoadFiles(filepath.Join(dir, "missing-1"), a, filepath.Join(dir, "missing-2"))
	if err == nil {
		t.Fatal("Expected error for missing files")
	}
	if !strings.Contains(err.Error(), "missing-1") || !strings.Contains(err.Error(), "missing-2") {
		t.Errorf("Expected both failures reported, got %v", err)
	}
	if len(hashes) != 1 {
		t.Errorf("Expected readable file to still load, got %v", hashes)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iocs.txt")
	writeFile(t, path, bad1+"\n")

	set := NewSet(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := NewWatcher(set, []string{path}, logger)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}

	reloaded := make(chan int, 4)
	w.OnReload(func(n int) { reloaded <- n })
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	<-reloaded

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFile(t, path, bad1+"\n"+bad2+"\n")

	select {
	case n := <-reloaded:
		if n != 2 {
			t.Errorf("Expected 2 hashes after reload, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	if !set.Contains(bad2) {
		t.Error("Expected bad2 after reload")
	}
}
