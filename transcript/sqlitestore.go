package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS turns (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	query TEXT NOT NULL,
	model TEXT NOT NULL,
	created_at TEXT NOT NULL,
	elapsed INTEGER NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS turns_seq ON turns (seq);`

const (
	defaultStoreDir = ".petalmcp"
	defaultStoreDB  = "history.db"
)

// SQLiteStoreConfig configures the SQLite transcript store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionCount keeps at most this many records (0 = keep all).
	RetentionCount int
}

// SQLiteStore persists records to a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	cfg SQLiteStoreConfig
}

// DefaultSQLitePath returns ~/.petalmcp/history.db.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("transcript: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultStoreDir, defaultStoreDB), nil
}

// NewSQLiteStore opens (or creates) a SQLite transcript store. The parent
// directory of a file DSN is created if missing.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("transcript: sqlite store dsn is required")
	}
	if !strings.HasPrefix(cfg.DSN, "file:") && cfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o750); err != nil {
			return nil, fmt.Errorf("transcript: create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("transcript: open: %w", err)
	}

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("transcript: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("transcript: create schema: %w", err)
	}

	return &SQLiteStore{db: db, cfg: cfg}, nil
}

// Append stores a record and applies count retention.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("transcript: marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (id, seq, query, model, created_at, elapsed, payload)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM turns), ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Query,
		rec.Model,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		int64(rec.Duration),
		payload,
	)
	if err != nil {
		return fmt.Errorf("transcript: append: %w", err)
	}
	return s.Prune(ctx)
}

// List returns records newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT payload FROM turns ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript: list: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("transcript: scan record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("transcript: unmarshal record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns one record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM turns WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("transcript: get %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("transcript: unmarshal record: %w", err)
	}
	return rec, nil
}

// Prune drops records beyond RetentionCount, oldest first.
func (s *SQLiteStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionCount <= 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE id NOT IN (
			SELECT id FROM turns ORDER BY seq DESC LIMIT ?
		)`, s.cfg.RetentionCount,
	); err != nil {
		return fmt.Errorf("transcript: prune: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
