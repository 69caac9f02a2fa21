// Package catalog indexes saved chunk files in a SQLite database.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"chunkstream/internal/chunk"
	"chunkstream/internal/storage"
)

var ErrClosed = errors.New("catalog closed")

// DB is a storage.Catalog backed by SQLite. Writes arrive from save workers
// concurrently; the single connection serializes them.
type DB struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open creates or opens the catalog at path.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty catalog path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			size INTEGER NOT NULL,
			checksum INTEGER NOT NULL,
			saved_at TEXT NOT NULL,
			player_modified INTEGER NOT NULL,
			saves INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (x, y)
		);`,
		`CREATE INDEX IF NOT EXISTS chunks_saved_at ON chunks(saved_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Record upserts the entry for rec.Coord and counts the save.
func (d *DB) Record(ctx context.Context, rec storage.Record) error {
	if d.closed.Load() {
		return ErrClosed
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO chunks (x, y, size, checksum, saved_at, player_modified)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(x, y) DO UPDATE SET
			size = excluded.size,
			checksum = excluded.checksum,
			saved_at = excluded.saved_at,
			player_modified = excluded.player_modified,
			saves = chunks.saves + 1`,
		rec.Coord.X, rec.Coord.Y, rec.Size, int64(rec.Checksum),
		rec.SavedAt.UTC().Format(time.RFC3339Nano), boolToInt(rec.PlayerModified))
	if err != nil {
		return fmt.Errorf("record chunk %v: %w", rec.Coord, err)
	}
	return nil
}

// Lookup returns the entry for coord.
func (d *DB) Lookup(ctx context.Context, coord chunk.Coord) (storage.Record, bool, error) {
	if d.closed.Load() {
		return storage.Record{}, false, ErrClosed
	}
	row := d.db.QueryRowContext(ctx, `SELECT x, y, size, checksum, saved_at, player_modified, saves
		FROM chunks WHERE x = ? AND y = ?`, coord.X, coord.Y)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, false, nil
	}
	if err != nil {
		return storage.Record{}, false, fmt.Errorf("lookup chunk %v: %w", coord, err)
	}
	return entry.Record, true, nil
}

// Entry is a catalog row.
type Entry struct {
	storage.Record
	Saves int
}

// List returns up to limit entries, most recently saved first. limit <= 0
// returns everything.
func (d *DB) List(ctx context.Context, limit int) ([]Entry, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `SELECT x, y, size, checksum, saved_at, player_modified, saves
		FROM chunks ORDER BY saved_at DESC, x, y LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		entry    Entry
		checksum int64
		savedAt  string
		player   int
	)
	if err := s.Scan(&entry.Coord.X, &entry.Coord.Y, &entry.Size, &checksum, &savedAt, &player, &entry.Saves); err != nil {
		return Entry{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("saved_at %q: %w", savedAt, err)
	}
	entry.Checksum = uint64(checksum)
	entry.SavedAt = ts
	entry.PlayerModified = player != 0
	return entry, nil
}

// Count reports how many chunks are catalogued.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
