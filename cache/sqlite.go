package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLite stores entries in a SQLite database.
type SQLite struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLite creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLite(filename string) (SQLite, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLite{}, fmt.Errorf("open sqlite %s: %w", filename, err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			expires INTEGER,
			requested_at INTEGER,
			received_at INTEGER,
			bytes BLOB
		)`,
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLite{}, fmt.Errorf("init sqlite %s: %w", filename, err)
		}
	}
	return SQLite{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLite) All(ctx context.Context, prefix string) ([]Entry, error) {
	entries := make([]Entry, 0)
	rows, err := s.db.QueryContext(ctx, `SELECT
		key, expires, requested_at, received_at, bytes
		FROM cache WHERE key LIKE ? ESCAPE '\' AND expires > ?`, escapeLike(prefix)+"%", time.Now().Unix())
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s SQLite) Get(ctx context.Context, key string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		key, expires, requested_at, received_at, bytes
		FROM cache WHERE key = ?`, key)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	} else if err != nil {
		return Entry{}, err
	}
	if entry.Expired(time.Now()) {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (s SQLite) Put(ctx context.Context, e Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO cache
		(key, expires, requested_at, received_at, bytes) VALUES (?, ?, ?, ?, ?)`,
		e.Key, e.Expires.Unix(), e.RequestedAt.Unix(), e.ReceivedAt.Unix(), e.Bytes)
	return err
}

func (s SQLite) Purge(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key)
	return err
}

// Close closes the underlying database.
func (s SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var entry Entry
	var exp, req, rec int64
	if err := row.Scan(&entry.Key, &exp, &req, &rec, &entry.Bytes); err != nil {
		return entry, err
	}
	entry.Expires = time.Unix(exp, 0)
	entry.RequestedAt = time.Unix(req, 0)
	entry.ReceivedAt = time.Unix(rec, 0)
	return entry, nil
}

// keys contain URIs, so LIKE wildcards must be taken literally
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
