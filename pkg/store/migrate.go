package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CurrentVersion is the newest schema version.
const CurrentVersion = 3

// Collection describes one keyed collection.
type Collection struct {
	Name string
	// AutoIncrement collections assign numeric keys on Add.
	AutoIncrement bool
	// Since is the first schema version containing the collection.
	Since int
}

var (
	Searches = Collection{Name: "searches", AutoIncrement: true, Since: 1}
	Memos    = Collection{Name: "memos", Since: 2}
	Colors   = Collection{Name: "colors", Since: 3}
)

// Collections lists every collection in creation order.
var Collections = []Collection{Searches, Memos, Colors}

func (c Collection) schema() string {
	if c.AutoIncrement {
		return fmt.Sprintf(`CREATE TABLE %s (
			key INTEGER PRIMARY KEY AUTOINCREMENT,
			payload BLOB NOT NULL
		)`, c.Name)
	}
	return fmt.Sprintf(`CREATE TABLE %s (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`, c.Name)
}

func (s *DB) storedVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// upgrade creates every collection the target version needs and records the
// version, all in one transaction.
func (s *DB) upgrade(ctx context.Context, from, to int) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, c := range Collections {
		if c.Since > to {
			continue
		}
		exists, err := tableExists(ctx, tx, c.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := tx.ExecContext(ctx, c.schema()); err != nil {
			return fmt.Errorf("create %s: %w", c.Name, err)
		}
		s.logger.Debug("collection created", "collection", c.Name, "from", from, "to", to)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", to)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func tableExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}
