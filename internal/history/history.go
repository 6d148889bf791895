package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/probegw/probegw/internal/model"
)

// Store provides SQLite-based storage for probe outcomes.
//
// Design decision: We use a single database file rather than one per target
// because the history subcommand queries across hosts, and a single file
// keeps backup and cleanup trivial.
type Store struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	// This is recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a Store at the specified directory.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, "probegw.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("history database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite connection string: mode=rw prevents creating new
	// files, mode=rwc allows creation.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; a single pooled connection avoids
	// SQLITE_BUSY under concurrent probe completions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (s *Store) createTables() error {
	schema := `
	-- Probe records store individual probe outcomes
	CREATE TABLE IF NOT EXISTS probes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		protocol TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		detected INTEGER NOT NULL DEFAULT 0,
		error_kind TEXT NOT NULL DEFAULT '',
		banner TEXT,
		connect_time_ms REAL,
		result_json TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_probes_host ON probes(host);
	CREATE INDEX IF NOT EXISTS idx_probes_protocol ON probes(protocol);
	CREATE INDEX IF NOT EXISTS idx_probes_timestamp ON probes(timestamp);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// Record is a stored probe outcome.
type Record struct {
	ID            int64
	Protocol      string
	Host          string
	Port          int
	Detected      bool
	ErrorKind     string
	Banner        string
	ConnectTimeMs float64
	Timestamp     time.Time
	Result        *model.ProbeResult
}

// Insert stores one probe outcome. errorKind is the stable failure token
// ("" for a clean probe) so history queries can separate security blocks
// from network failures without unpacking JSON.
func (s *Store) Insert(ctx context.Context, result *model.ProbeResult, errorKind string) (int64, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize result: %w", err)
	}

	query := `
	INSERT INTO probes (protocol, host, port, detected, error_kind, banner, connect_time_ms, result_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		result.Protocol,
		result.Host,
		result.Port,
		result.Detected,
		errorKind,
		result.Banner,
		result.ConnectTimeMs,
		string(resultJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert probe record: %w", err)
	}

	return res.LastInsertId()
}

// History retrieves stored outcomes for a host, newest first. An empty host
// returns outcomes across all hosts. limit <= 0 means no limit.
func (s *Store) History(ctx context.Context, host string, limit int) ([]Record, error) {
	query := `
	SELECT id, protocol, host, port, detected, error_kind, banner, connect_time_ms, result_json, timestamp
	FROM probes
	WHERE 1=1
	`
	args := make([]interface{}, 0)

	if host != "" {
		query += " AND host = ?"
		args = append(args, host)
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query probe history: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		var banner sql.NullString
		var resultJSON string
		var timestamp string

		err := rows.Scan(
			&rec.ID,
			&rec.Protocol,
			&rec.Host,
			&rec.Port,
			&rec.Detected,
			&rec.ErrorKind,
			&banner,
			&rec.ConnectTimeMs,
			&resultJSON,
			&timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan probe record: %w", err)
		}

		rec.Banner = banner.String
		rec.Timestamp = parseTimestamp(timestamp)

		var result model.ProbeResult
		if err := json.Unmarshal([]byte(resultJSON), &result); err == nil {
			rec.Result = &result
		}
		results = append(results, rec)
	}

	return results, rows.Err()
}

// Hosts returns the distinct probed hosts, sorted.
func (s *Store) Hosts(ctx context.Context) ([]string, error) {
	query := `
	SELECT DISTINCT host FROM probes
	ORDER BY host
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, host)
	}

	return hosts, rows.Err()
}

// CountByOutcome returns how many stored probes carry each error kind.
// Clean probes appear under the empty key.
func (s *Store) CountByOutcome(ctx context.Context) (map[string]int, error) {
	query := `
	SELECT error_kind, COUNT(*) FROM probes
	GROUP BY error_kind
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[kind] = count
	}

	return counts, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// SQLite may return timestamps in different formats depending on configuration.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
