package collector

import (
	"context"
	"fmt"
	"strings"
)

const lookupChunkSize = 500

// TableSource looks hashes up in a database table holding known-bad sha256
// values. Matching is case-insensitive on the stored column.
type TableSource struct {
	db    *DB
	table string
	query string
}

// NewTableSource builds a lookup over schema.table(column). schema may be empty.
func NewTableSource(db *DB, schema, table, column string) (*TableSource, error) {
	for _, ident := range []string{table, column} {
		if !identRe.MatchString(ident) {
			return nil, fmt.Errorf("invalid identifier %q", ident)
		}
	}

	qualified := table
	if schema != "" {
		if !identRe.MatchString(schema) {
			return nil, fmt.Errorf("invalid identifier %q", schema)
		}
		qualified = schema + "." + table
	}

	return &TableSource{
		db:    db,
		table: qualified,
		query: fmt.Sprintf(`SELECT DISTINCT LOWER(%s) FROM %s WHERE LOWER(%s) IN `, column, qualified, column),
	}, nil
}

// SuspiciousHashes returns the lookup over the built-in suspicious_hashes table.
func (db *DB) SuspiciousHashes() *TableSource {
	ts, _ := NewTableSource(db, "", "suspicious_hashes", "sha256")
	return ts
}

func (ts *TableSource) Table() string {
	return ts.table
}

// Lookup expects normalized (lowercase) hashes.
func (ts *TableSource) Lookup(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	bad := make(map[string]struct{})

	for start := 0; start < len(hashes); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(hashes) {
			end = len(hashes)
		}
		chunk := hashes[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, len(chunk))
		for i, h := range chunk {
			args[i] = h
		}

		rows, err := ts.db.conn.QueryContext(ctx, ts.db.rebind(ts.query+"("+placeholders+")"), args...)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", ts.table, err)
		}

		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return nil, err
			}
			bad[h] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return bad, nil
}
