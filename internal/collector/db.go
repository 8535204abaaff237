package collector

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/barak1panker/server-monitoring/internal/ioc"
	"github.com/barak1panker/server-monitoring/internal/models"
	"github.com/hashicorp/go-multierror"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

const DefaultLogsTable = "logs"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type DB struct {
	conn      *sql.DB
	dialect   dialect
	logsTable string
}

type DBOption func(*DB)

// WithLogsTable stores audit rows in table instead of "logs".
func WithLogsTable(table string) DBOption {
	return func(db *DB) { db.logsTable = table }
}

// NewDB opens (or creates) a SQLite database at path.
func NewDB(path string, opts ...DBOption) (*DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	return initDB(conn, dialectSQLite, opts)
}

// NewPostgresDB connects to a postgres server using a lib/pq DSN.
func NewPostgresDB(dsn string, opts ...DBOption) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(20)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	return initDB(conn, dialectPostgres, opts)
}

func initDB(conn *sql.DB, d dialect, opts []DBOption) (*DB, error) {
	db := &DB{conn: conn, dialect: d, logsTable: DefaultLogsTable}
	for _, opt := range opts {
		opt(db)
	}

	if !identRe.MatchString(db.logsTable) {
		conn.Close()
		return nil, fmt.Errorf("invalid logs table name %q", db.logsTable)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP NOT NULL,
		hostname TEXT NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		label TEXT NOT NULL,
		description TEXT NOT NULL,
		file_path TEXT,
		sha256 TEXT,
		cpu REAL,
		ram_ratio REAL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(hostname, sha256, category, created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);

	CREATE TABLE IF NOT EXISTS file_hashes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		observed_at TIMESTAMP NOT NULL,
		hostname TEXT NOT NULL,
		file_path TEXT NOT NULL,
		sha256 TEXT,
		size INTEGER,
		mtime TIMESTAMP,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_file_hashes_hostname ON file_hashes(hostname);
	CREATE INDEX IF NOT EXISTS idx_file_hashes_sha256 ON file_hashes(sha256);
	CREATE INDEX IF NOT EXISTS idx_file_hashes_observed_at ON file_hashes(observed_at);

	CREATE TABLE IF NOT EXISTS {{logs}} (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER,
		device_name TEXT NOT NULL,
		log_path TEXT NOT NULL,
		severity TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_{{logs}}_created_at ON {{logs}}(created_at);

	CREATE TABLE IF NOT EXISTS suspicious_hashes (
		sha256 TEXT PRIMARY KEY,
		name TEXT,
		added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	schema = strings.ReplaceAll(schema, "{{logs}}", db.logsTable)
	if db.dialect == dialectPostgres {
		schema = strings.NewReplacer(
			" INTEGER PRIMARY KEY AUTOINCREMENT", " BIGSERIAL PRIMARY KEY",
			" TIMESTAMP", " TIMESTAMPTZ",
			" REAL", " DOUBLE PRECISION",
			" INTEGER", " BIGINT",
		).Replace(schema)
	}

	_, err := db.conn.Exec(schema)
	return err
}

// rebind rewrites '?' placeholders to $n for postgres.
func (db *DB) rebind(query string) string {
	if db.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) InsertAlert(ctx context.Context, a *models.Alert) (int64, error) {
	query := db.rebind(`INSERT INTO alerts (created_at, hostname, category, severity, label, description, file_path, sha256, cpu, ram_ratio)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          RETURNING id`)

	var id int64
	err := db.conn.QueryRowContext(ctx, query, a.CreatedAt.UTC(), a.Hostname, string(a.Category), a.Severity,
		a.Label, a.Description, a.FilePath, a.SHA256, a.CPU, a.RAMRatio).Scan(&id)
	return id, err
}

func (db *DB) HasRecentHashAlert(ctx context.Context, hostname, sha256 string, since time.Time) (bool, error) {
	query := db.rebind(`SELECT COUNT(*) FROM alerts
	          WHERE hostname = ? AND sha256 = ? AND category = ? AND created_at >= ?`)

	var count int
	err := db.conn.QueryRowContext(ctx, query, hostname, sha256, string(models.CategoryHash), since.UTC()).Scan(&count)
	return count > 0, err
}

// ListAlerts returns up to limit alerts, newest first.
func (db *DB) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	query := db.rebind(`SELECT id, created_at, hostname, category, severity, label, description, file_path, sha256, cpu, ram_ratio
	          FROM alerts ORDER BY id DESC LIMIT ?`)

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		var a models.Alert
		var category string
		if err := rows.Scan(&a.ID, &a.CreatedAt, &a.Hostname, &category, &a.Severity, &a.Label,
			&a.Description, &a.FilePath, &a.SHA256, &a.CPU, &a.RAMRatio); err != nil {
			return nil, err
		}
		a.Category = models.AlertCategory(category)
		a.CreatedAt = a.CreatedAt.UTC()
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// InsertFileHashes stores records in one transaction and returns how many were written.
func (db *DB) InsertFileHashes(ctx context.Context, records []models.FileHashRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, db.rebind(`INSERT INTO file_hashes (observed_at, hostname, file_path, sha256, size, mtime, error)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var mtime interface{}
		if r.MTime != nil {
			mtime = r.MTime.UTC()
		}
		if _, err := stmt.ExecContext(ctx, r.ObservedAt.UTC(), r.Hostname, r.FilePath, r.SHA256, r.Size, mtime, r.Error); err != nil {
			return 0, fmt.Errorf("insert %s: %w", r.FilePath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(records), nil
}

func (db *DB) ListFileHashes(ctx context.Context, hostname string, limit int) ([]models.FileHashRecord, error) {
	query := db.rebind(`SELECT id, observed_at, hostname, file_path, sha256, size, mtime, error
	          FROM file_hashes WHERE hostname = ? ORDER BY id DESC LIMIT ?`)

	rows, err := db.conn.QueryContext(ctx, query, hostname, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.FileHashRecord
	for rows.Next() {
		var r models.FileHashRecord
		if err := rows.Scan(&r.ID, &r.ObservedAt, &r.Hostname, &r.FilePath, &r.SHA256, &r.Size, &r.MTime, &r.Error); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (db *DB) CleanupOldFileHashes(ctx context.Context, retention time.Duration) (int64, error) {
	query := db.rebind(`DELETE FROM file_hashes WHERE observed_at < ?`)
	res, err := db.conn.ExecContext(ctx, query, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) InsertAudit(ctx context.Context, e *models.AuditEntry) (int64, error) {
	query := db.rebind(fmt.Sprintf(`INSERT INTO %s (device_id, device_name, log_path, severity, created_at)
	          VALUES (?, ?, ?, ?, ?) RETURNING id`, db.logsTable))

	var id int64
	err := db.conn.QueryRowContext(ctx, query, e.DeviceID, e.DeviceName, e.LogPath, e.Severity, e.CreatedAt.UTC()).Scan(&id)
	return id, err
}

// ListAudit returns up to limit audit rows, newest first.
func (db *DB) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	query := db.rebind(fmt.Sprintf(`SELECT id, device_id, device_name, log_path, severity, created_at
	          FROM %s ORDER BY id DESC LIMIT ?`, db.logsTable))

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.DeviceName, &e.LogPath, &e.Severity, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddSuspiciousHashes adds known-bad hashes to the built-in lookup table.
// Malformed values are skipped; the number stored is returned.
func (db *DB) AddSuspiciousHashes(ctx context.Context, name string, hashes []string) (int, error) {
	query := db.rebind(`INSERT INTO suspicious_hashes (sha256, name, added_at) VALUES (?, ?, ?)
	          ON CONFLICT(sha256) DO UPDATE SET name = excluded.name`)

	added := 0
	now := time.Now().UTC()
	for _, raw := range hashes {
		h, ok := ioc.Normalize(strings.TrimSpace(raw))
		if !ok {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, query, h, name, now); err != nil {
			return added, fmt.Errorf("add %s: %w", h, err)
		}
		added++
	}
	return added, nil
}

// SeedSuspiciousHashes loads hash files into the built-in lookup table under
// the file's base name. Files that fail to load are reported together after
// the readable ones are stored.
func (db *DB) SeedSuspiciousHashes(ctx context.Context, paths ...string) (int, error) {
	var result *multierror.Error
	total := 0
	for _, path := range paths {
		hashes, err := ioc.LoadFiles(path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		n, err := db.AddSuspiciousHashes(ctx, filepath.Base(path), hashes)
		total += n
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("seed %s: %w", path, err))
		}
	}
	return total, result.ErrorOrNil()
}
