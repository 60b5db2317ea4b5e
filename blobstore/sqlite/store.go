// Package sqlite keeps serialized indexes as rows of a SQLite database,
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"unicode/utf8"

	_ "modernc.org/sqlite" // register the pure-Go SQLite driver

	"github.com/hupe1980/vecgraph/blobstore"
)

const schema = `CREATE TABLE IF NOT EXISTS blobs (
	name TEXT PRIMARY KEY,
	data BLOB NOT NULL
)`

// Store implements blobstore.BlobStore on a SQLite table.
type Store struct {
	db *sql.DB
}

var _ blobstore.BlobStore = (*Store)(nil)

// Open opens (or creates) the database at dsn and prepares the blob table.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Every connection to ":memory:" is a distinct database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// New uses an already opened database.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Open loads the blob into memory.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	var data []byte

	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	return blobstore.NewBytesBlob(data), nil
}

// Create buffers writes and stores the row on Close.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return &writableBlob{ctx: ctx, store: s, name: name}, nil
}

// Put inserts or replaces the row for name.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (name, data) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data`, name, data)
	return err
}

// Delete removes the row for name.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE name = ?`, name)
	return err
}

// List returns the sorted names that start with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM blobs WHERE substr(name, 1, ?) = ? ORDER BY name`,
		utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

type writableBlob struct {
	ctx    context.Context
	store  *Store
	name   string
	buf    bytes.Buffer
	closed atomic.Bool
}

func (w *writableBlob) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, blobstore.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *writableBlob) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return blobstore.ErrClosed
	}
	return w.store.Put(w.ctx, w.name, w.buf.Bytes())
}

func (w *writableBlob) Sync() error { return nil }

func (w *writableBlob) Abort() error {
	w.closed.Store(true)
	w.buf.Reset()
	return nil
}
