package ioc

import (
	"context"
	"fmt"
)

// Candidate is one reported file hash to check.
type Candidate struct {
	FilePath string
	SHA256   *string
}

type Hit struct {
	FilePath string
	SHA256   string
}

// Match returns one Hit per candidate whose normalized hash the source knows
// as bad, in candidate order. Files sharing a bad hash each get their own Hit.
// The source is queried once with the distinct well-formed hashes.
func Match(ctx context.Context, src Source, candidates []Candidate) ([]Hit, error) {
	normalized := make([]string, len(candidates))
	seen := make(map[string]struct{})
	var distinct []string

	for i, c := range candidates {
		if c.SHA256 == nil {
			continue
		}
		h, ok := Normalize(*c.SHA256)
		if !ok {
			continue
		}
		normalized[i] = h
		if _, dup := seen[h]; !dup {
			seen[h] = struct{}{}
			distinct = append(distinct, h)
		}
	}

	if len(distinct) == 0 || src == nil {
		return nil, nil
	}

	bad, err := src.Lookup(ctx, distinct)
	if err != nil {
		return nil, fmt.Errorf("lookup known-bad hashes: %w", err)
	}
	if len(bad) == 0 {
		return nil, nil
	}

	var hits []Hit
	for i, c := range candidates {
		h := normalized[i]
		if h == "" {
			continue
		}
		if _, ok := bad[h]; ok {
			hits = append(hits, Hit{FilePath: c.FilePath, SHA256: h})
		}
	}
	return hits, nil
}
