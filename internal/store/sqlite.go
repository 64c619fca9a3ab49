package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite implements KV over a single-file database. One engine instance per
// namespace; namespaces share the file.
type SQLite struct {
	db        *sql.DB
	namespace string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path, namespace string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(`
		PRAGMA synchronous = NORMAL;
		CREATE TABLE IF NOT EXISTS kv (
			ns         TEXT NOT NULL,
			k          TEXT NOT NULL,
			v          BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (ns, k)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store schema: %w", err)
	}
	return &SQLite{db: db, namespace: namespace}, nil
}

// OpenSQLiteReadOnly opens an existing database without taking write locks;
// used by the offline verification CLI.
func OpenSQLiteReadOnly(path, namespace string) (*SQLite, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &SQLite{db: db, namespace: namespace}, nil
}

func (s *SQLite) Get(key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT v FROM kv WHERE ns = ? AND k = ?`, s.namespace, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return v, nil
}

func (s *SQLite) Set(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (ns, k, v, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(ns, k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
		s.namespace, key, value, time.Now().UnixMilli())
	if err != nil {
		if isFullError(err) {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("store set %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE ns = ? AND k = ?`, s.namespace, key); err != nil {
		return fmt.Errorf("store delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// isFullError maps the driver's disk-full condition onto the port's quota
// variant.
func isFullError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database or disk is full") || strings.Contains(msg, "SQLITE_FULL")
}
