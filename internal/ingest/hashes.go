package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/barak1panker/server-monitoring/internal/models"
	"github.com/go-playground/validator/v10"
)

const (
	// MaxHashEntries caps one hash batch; entries past it are dropped before any work.
	MaxHashEntries = 20000

	maxFilePathLen = 1024
	maxErrorLen    = 512
)

var validate = validator.New()

type hashBatchRequest struct {
	Hostname string            `json:"hostname" validate:"required"`
	Hashes   []json.RawMessage `json:"hashes" validate:"required"`
}

type HashEntry struct {
	FilePath string
	SHA256   *string
	Size     *int64
	MTime    *time.Time
	Error    *string
}

type HashBatch struct {
	Hostname string
	Entries  []HashEntry

	// Received is the number of entries in the request before truncation.
	Received  int
	Truncated int
	Skipped   int
}

// ParseHashBatch validates a hash batch body. hostname must be a non-empty
// string and hashes must be a JSON array; the array is cut to MaxHashEntries
// and entries without a file_path are dropped silently.
func ParseHashBatch(body []byte) (HashBatch, error) {
	req, err := decodeHashBatch(body)
	if err != nil {
		return HashBatch{}, validationError("invalid JSON structure: %v", err)
	}

	req.Hostname = strings.TrimSpace(req.Hostname)
	if err := validate.Struct(req); err != nil {
		return HashBatch{}, validationError("hostname and hashes are required")
	}

	batch := HashBatch{
		Hostname: req.Hostname,
		Received: len(req.Hashes),
	}

	raw := req.Hashes
	if len(raw) > MaxHashEntries {
		batch.Truncated = len(raw) - MaxHashEntries
		raw = raw[:MaxHashEntries]
	}

	batch.Entries = make([]HashEntry, 0, len(raw))
	for _, item := range raw {
		entry, ok := parseHashEntry(item)
		if !ok {
			batch.Skipped++
			continue
		}
		batch.Entries = append(batch.Entries, entry)
	}

	return batch, nil
}

// decodeHashBatch matches the top-level keys exactly; a wrongly typed
// hostname or hashes value is a structural error.
func decodeHashBatch(body []byte) (hashBatchRequest, error) {
	var req hashBatchRequest

	dec := json.NewDecoder(bytes.NewReader(body))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return req, err
	}
	if fields == nil {
		return req, errors.New("expected a JSON object")
	}
	if err := expectEOF(dec); err != nil {
		return req, err
	}

	if raw, ok := fields["hostname"]; ok {
		if err := json.Unmarshal(raw, &req.Hostname); err != nil {
			return req, fmt.Errorf("hostname: %w", err)
		}
	}
	if raw, ok := fields["hashes"]; ok {
		if err := json.Unmarshal(raw, &req.Hashes); err != nil {
			return req, fmt.Errorf("hashes: %w", err)
		}
	}
	return req, nil
}

func parseHashEntry(raw json.RawMessage) (HashEntry, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return HashEntry{}, false
	}

	path := toString(obj["file_path"])
	if path == "" {
		return HashEntry{}, false
	}

	entry := HashEntry{FilePath: truncate(path, maxFilePathLen)}

	if sha := toString(obj["sha256"]); sha != "" {
		entry.SHA256 = &sha
	}

	if n, ok := obj["size"].(json.Number); ok {
		if size, err := n.Int64(); err == nil {
			entry.Size = &size
		} else if f, err := n.Float64(); err == nil {
			size := clampInt(f)
			entry.Size = &size
		}
	}

	if s, ok := obj["mtime"].(string); ok {
		entry.MTime = ParseTimestamp(s)
	}

	if msg := toString(obj["error"]); msg != "" {
		msg = truncate(msg, maxErrorLen)
		entry.Error = &msg
	}

	return entry, true
}

// Records turns the batch into storage rows, all stamped with observedAt.
func (b HashBatch) Records(observedAt time.Time) []models.FileHashRecord {
	records := make([]models.FileHashRecord, 0, len(b.Entries))
	for _, e := range b.Entries {
		records = append(records, models.FileHashRecord{
			ObservedAt: observedAt,
			Hostname:   b.Hostname,
			FilePath:   e.FilePath,
			SHA256:     e.SHA256,
			Size:       e.Size,
			MTime:      e.MTime,
			Error:      e.Error,
		})
	}
	return records
}
