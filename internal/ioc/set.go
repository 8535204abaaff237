// Package ioc matches reported file hashes against known-bad sha256 values.
package ioc

import (
	"context"
	"strings"
	"sync/atomic"
)

// Source answers which of the given normalized hashes are known-bad.
type Source interface {
	Lookup(ctx context.Context, hashes []string) (map[string]struct{}, error)
}

// Normalize lowercases s and reports whether it is a well-formed sha256 hex digest.
func Normalize(s string) (string, bool) {
	if len(s) != 64 {
		return "", false
	}
	s = strings.ToLower(s)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	return s, true
}

// Set is an in-memory known-bad set. Readers never lock; Replace swaps the
// whole set at once and the previous one is never mutated.
type Set struct {
	hashes atomic.Pointer[map[string]struct{}]
}

func NewSet(hashes []string) *Set {
	s := &Set{}
	s.Replace(hashes)
	return s
}

// Replace installs a new set built from hashes. Malformed values are ignored.
func (s *Set) Replace(hashes []string) int {
	m := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		if n, ok := Normalize(strings.TrimSpace(h)); ok {
			m[n] = struct{}{}
		}
	}
	s.hashes.Store(&m)
	return len(m)
}

func (s *Set) Len() int {
	return len(*s.hashes.Load())
}

func (s *Set) Contains(hash string) bool {
	_, ok := (*s.hashes.Load())[hash]
	return ok
}

func (s *Set) Lookup(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	current := *s.hashes.Load()
	bad := make(map[string]struct{})
	for _, h := range hashes {
		if _, ok := current[h]; ok {
			bad[h] = struct{}{}
		}
	}
	return bad, nil
}
