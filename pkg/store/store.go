// Package store is the versioned local database holding saved searches,
// facility memos and facility colors. Each collection maps a primary key to a
// JSON document; SQLite provides durability and transaction serialization.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

var (
	// ErrNotFound is returned by Get when no record has the key.
	ErrNotFound = errors.New("record not found")
	// ErrVersion is returned by Open when the file was written by a newer schema.
	ErrVersion = errors.New("database version is newer than requested")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store is closed")
	// ErrUnknownCollection is returned for collections the open schema version lacks.
	ErrUnknownCollection = errors.New("collection not available in this schema version")
)

// Record is a raw row of a collection.
type Record struct {
	Key     any
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Payload, v)
}

// DB is a handle to an open store. It is safe for concurrent use; SQLite
// serializes the writes.
type DB struct {
	db      *sql.DB
	path    string
	version int
	logger  *slog.Logger
	metrics *Metrics
	closed  atomic.Bool
}

type options struct {
	version    int
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// Option configures Open.
type Option func(*options)

// WithVersion requests a schema version other than CurrentVersion.
func WithVersion(v int) Option {
	return func(o *options) { o.version = v }
}

// WithLogger sets the logger used for upgrade and failure events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the store metrics with reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Open opens or creates the database at path and upgrades it to the requested
// version. Collections are created only when missing, so a partially upgraded
// file is completed rather than rejected.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	o := options{
		version:    CurrentVersion,
		logger:     slog.Default(),
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.version < 1 || o.version > CurrentVersion {
		return nil, fmt.Errorf("unsupported schema version %d", o.version)
	}
	if path == "" {
		path = "facilities.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}

	metrics, err := NewMetrics(o.registerer)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps transactions strictly serialized
	sqlDB.SetMaxOpenConns(1)

	s := &DB{db: sqlDB, path: path, version: o.version, logger: o.logger, metrics: metrics}
	if err := s.init(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	stored, err := s.storedVersion(ctx)
	if err != nil {
		return err
	}
	if stored > s.version {
		return fmt.Errorf("%w: stored %d, requested %d", ErrVersion, stored, s.version)
	}
	if stored < s.version {
		if err := s.upgrade(ctx, stored, s.version); err != nil {
			return fmt.Errorf("upgrade %d -> %d: %w", stored, s.version, err)
		}
		s.logger.Info("store upgraded", "path", s.path, "from", stored, "to", s.version)
	}
	return nil
}

// Path returns the database file path.
func (s *DB) Path() string { return s.path }

// Version returns the schema version the store was opened with.
func (s *DB) Version() int { return s.version }

// Close releases the database. Further operations return ErrClosed.
func (s *DB) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *DB) check(c Collection) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if c.Since > s.version {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, c.Name)
	}
	return nil
}

func (s *DB) observe(c Collection, op string, start time.Time, err error) {
	s.metrics.observe(c.Name, op, time.Since(start), err)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error("store operation failed", "collection", c.Name, "op", op, "error", err)
	}
}

// Put upserts record under key. It returns once the write is committed.
func (s *DB) Put(ctx context.Context, c Collection, key any, record any) (err error) {
	defer func(start time.Time) { s.observe(c, "put", start, err) }(time.Now())
	if err = s.check(c); err != nil {
		return err
	}
	return put(ctx, s.db, c, key, record)
}

// Add inserts record into an auto-increment collection and returns the assigned key.
func (s *DB) Add(ctx context.Context, c Collection, record any) (id int64, err error) {
	defer func(start time.Time) { s.observe(c, "add", start, err) }(time.Now())
	if err = s.check(c); err != nil {
		return 0, err
	}
	return add(ctx, s.db, c, record)
}

// Get decodes the record stored under key into dst. A missing key yields
// ErrNotFound. When dst has a SetID(int64) method and the collection is
// auto-increment, the key is assigned to it.
func (s *DB) Get(ctx context.Context, c Collection, key any, dst any) (err error) {
	defer func(start time.Time) { s.observe(c, "get", start, err) }(time.Now())
	if err = s.check(c); err != nil {
		return err
	}
	var payload []byte
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT payload FROM %s WHERE key = ?", c.Name), key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", c.Name, key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("select %s: %w", c.Name, err)
	}
	if err = json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("decode %s %v: %w", c.Name, key, err)
	}
	if c.AutoIncrement {
		if id, ok := key.(int64); ok {
			setID(dst, id)
		}
	}
	return nil
}

// GetAll returns every record of the collection in key order.
func (s *DB) GetAll(ctx context.Context, c Collection) (records []Record, err error) {
	defer func(start time.Time) { s.observe(c, "get_all", start, err) }(time.Now())
	if err = s.check(c); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT key, payload FROM %s ORDER BY key", c.Name))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", c.Name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var payload []byte
		var rec Record
		if c.AutoIncrement {
			var id int64
			if err = rows.Scan(&id, &payload); err != nil {
				return nil, fmt.Errorf("scan %s: %w", c.Name, err)
			}
			rec.Key = id
		} else {
			var key string
			if err = rows.Scan(&key, &payload); err != nil {
				return nil, fmt.Errorf("scan %s: %w", c.Name, err)
			}
			rec.Key = key
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", c.Name, err)
	}
	return records, nil
}

// Delete removes the record under key. A missing key is not an error.
func (s *DB) Delete(ctx context.Context, c Collection, key any) (err error) {
	defer func(start time.Time) { s.observe(c, "delete", start, err) }(time.Now())
	if err = s.check(c); err != nil {
		return err
	}
	return del(ctx, s.db, c, key)
}

// Clear removes every record of the collection.
func (s *DB) Clear(ctx context.Context, c Collection) (err error) {
	defer func(start time.Time) { s.observe(c, "clear", start, err) }(time.Now())
	if err = s.check(c); err != nil {
		return err
	}
	if _, err = s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", c.Name)); err != nil {
		return fmt.Errorf("clear %s: %w", c.Name, err)
	}
	return nil
}

// Count returns the number of records in the collection.
func (s *DB) Count(ctx context.Context, c Collection) (n int, err error) {
	defer func(start time.Time) { s.observe(c, "count", start, err) }(time.Now())
	if err = s.check(c); err != nil {
		return 0, err
	}
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", c.Name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.Name, err)
	}
	return n, nil
}

// Tx groups writes into one transaction. Individual writes may fail without
// aborting the others; the caller decides what to do with each error.
type Tx struct {
	s  *DB
	tx *sql.Tx
}

// Put upserts record under key inside the transaction.
func (t *Tx) Put(ctx context.Context, c Collection, key any, record any) error {
	if err := t.s.check(c); err != nil {
		return err
	}
	return put(ctx, t.tx, c, key, record)
}

// Add inserts record into an auto-increment collection inside the transaction.
func (t *Tx) Add(ctx context.Context, c Collection, record any) (int64, error) {
	if err := t.s.check(c); err != nil {
		return 0, err
	}
	return add(ctx, t.tx, c, record)
}

// Delete removes key inside the transaction.
func (t *Tx) Delete(ctx context.Context, c Collection, key any) error {
	if err := t.s.check(c); err != nil {
		return err
	}
	return del(ctx, t.tx, c, key)
}

// Batch runs fn in a transaction. The transaction commits when fn returns nil
// and rolls back otherwise.
func (s *DB) Batch(ctx context.Context, fn func(*Tx) error) (retErr error) {
	start := time.Now()
	defer func() { s.observe(Collection{Name: "batch"}, "batch", start, retErr) }()
	if s.closed.Load() {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&Tx{s: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func put(ctx context.Context, db execer, c Collection, key any, record any) error {
	if c.AutoIncrement {
		record = withoutID(record)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.Name, err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (key, payload) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload`, c.Name)
	if _, err := db.ExecContext(ctx, q, key, payload); err != nil {
		return fmt.Errorf("put %s %v: %w", c.Name, key, err)
	}
	return nil
}

func add(ctx context.Context, db execer, c Collection, record any) (int64, error) {
	if !c.AutoIncrement {
		return 0, fmt.Errorf("add %s: collection has explicit keys", c.Name)
	}
	payload, err := json.Marshal(withoutID(record))
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", c.Name, err)
	}
	res, err := db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (payload) VALUES (?)", c.Name), payload)
	if err != nil {
		return 0, fmt.Errorf("add %s: %w", c.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add %s: %w", c.Name, err)
	}
	setID(record, id)
	return id, nil
}

func del(ctx context.Context, db execer, c Collection, key any) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", c.Name), key); err != nil {
		return fmt.Errorf("delete %s %v: %w", c.Name, key, err)
	}
	return nil
}

type identified interface {
	SetID(int64)
}

func setID(v any, id int64) {
	if r, ok := v.(identified); ok {
		r.SetID(id)
	}
}

// withoutID strips a previously assigned key so the store owns key assignment.
func withoutID(record any) any {
	if _, ok := record.(identified); !ok {
		return record
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return record
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return record
	}
	delete(m, "id")
	return m
}
