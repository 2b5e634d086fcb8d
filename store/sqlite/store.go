// Package sqlite provides a Store backed by a single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BranchIntl/couponqueue/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;
`

// SQLiteStore provides SQLite-backed key-value persistence
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at path and runs migrations
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewConnectionError(path, err)
	}

	// A single writer keeps SetNX/CompareAndSwap serialized
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.NewConnectionError(path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the value stored at key
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.NewStoreError("get", key, err)
	}
	return value, nil
}

// Set upserts value at key
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, nonNil(value))
	if err != nil {
		return errors.NewStoreError("set", key, err)
	}
	return nil
}

// SetNX inserts value only if key is absent
func (s *SQLiteStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, nonNil(value))
	if err != nil {
		return false, errors.NewStoreError("setnx", key, err)
	}
	return affected(res, "setnx", key)
}

// CompareAndSwap replaces value at key if it currently equals old
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE kv SET value = ? WHERE key = ? AND value = ?`, nonNil(next), key, nonNil(old))
	if err != nil {
		return false, errors.NewStoreError("cas", key, err)
	}
	return affected(res, "cas", key)
}

// CompareAndDelete removes key if it currently equals old
func (s *SQLiteStore) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? AND value = ?`, key, nonNil(old))
	if err != nil {
		return false, errors.NewStoreError("cad", key, err)
	}
	return affected(res, "cad", key)
}

// Delete removes keys
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key IN (`+placeholders+`)`, args...); err != nil {
		return errors.NewStoreError("delete", strings.Join(keys, ","), err)
	}
	return nil
}

// Keys lists keys with prefix in ascending order
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, errors.NewStoreError("keys", prefix, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.NewStoreError("keys", prefix, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError("keys", prefix, err)
	}
	return keys, nil
}

func affected(res sql.Result, op, key string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStoreError(op, key, err)
	}
	return n == 1, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
