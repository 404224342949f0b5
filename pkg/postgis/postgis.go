// Package postgis mirrors the facility catalog into a PostGIS table so radius
// queries can run server side.
package postgis

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/geo"
	"github.com/kass/go-facility-map/pkg/models"
)

const batchSize = 10000

// Mirror is a PostGIS copy of the facility catalog.
type Mirror struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to PostGIS using a lib/pq connection string.
func Open(ctx context.Context, dsn string, maxConns int, logger *slog.Logger) (*Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Mirror{db: db, logger: logger}, nil
}

// InitSchema creates the facilities table, dropping any previous copy.
func (m *Mirror) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis;`,
		`DROP TABLE IF EXISTS facilities;`,
		// position keeps catalog order; facility_id is the lossy identity and may repeat
		`CREATE TABLE facilities (
			position    INTEGER PRIMARY KEY,
			facility_id TEXT NOT NULL,
			name        TEXT NOT NULL,
			category    TEXT NOT NULL,
			address     TEXT NOT NULL,
			link        TEXT NOT NULL,
			location    GEOGRAPHY(POINT, 4326) NOT NULL
		);`,
		`CREATE INDEX idx_facilities_facility_id ON facilities (facility_id);`,
	}

	for _, query := range queries {
		if _, err := m.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// CreateSpatialIndex creates a GIST index on the location column.
func (m *Mirror) CreateSpatialIndex(ctx context.Context) error {
	start := time.Now()
	if _, err := m.db.ExecContext(ctx, `CREATE INDEX idx_facilities_location ON facilities USING GIST(location);`); err != nil {
		return fmt.Errorf("failed to create spatial index: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, "ANALYZE facilities;"); err != nil {
		return fmt.Errorf("failed to analyze table: %w", err)
	}
	m.logger.Info("spatial index created", "elapsed", time.Since(start))
	return nil
}

// BulkInsert appends facilities in batched transactions. Positions continue
// from the current row count. progress, when set, is called after each
// committed batch.
func (m *Mirror) BulkInsert(ctx context.Context, facilities []models.Facility, progress func(done, total int)) error {
	offset, err := m.Count(ctx)
	if err != nil {
		return err
	}

	for start := 0; start < len(facilities); start += batchSize {
		end := min(start+batchSize, len(facilities))
		if err := m.insertBatch(ctx, int(offset)+start, facilities[start:end]); err != nil {
			return err
		}
		if progress != nil {
			progress(end, len(facilities))
		}
	}
	return nil
}

func (m *Mirror) insertBatch(ctx context.Context, offset int, batch []models.Facility) (retErr error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO facilities (position, facility_id, name, category, address, link, location)
		VALUES ($1, $2, $3, $4, $5, $6, ST_SetSRID(ST_MakePoint($7, $8), 4326)::geography)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, f := range batch {
		_, err := stmt.ExecContext(ctx, offset+i, facility.ID(f), f.Name, string(f.Category), f.Address, f.Link, f.Longitude, f.Latitude)
		if err != nil {
			return fmt.Errorf("failed to insert facility %q: %w", f.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// QueryRadius returns the facilities within radiusKm of center, nearest first,
// with the same distances and tie order as geo.SearchWithinRadius. PostGIS
// measures on the spheroid, so it only narrows the candidates.
func (m *Mirror) QueryRadius(ctx context.Context, center models.Location, radiusKm float64) ([]geo.Match, error) {
	// spheroid and sphere distances differ by well under one percent
	meters := radiusKm*1000*1.01 + 100
	candidates, err := m.query(ctx, `
		SELECT name, category, address, link, ST_Y(location::geometry), ST_X(location::geometry)
		FROM facilities
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY position
	`, center.Lon, center.Lat, meters)
	if err != nil {
		return nil, err
	}
	return geo.SearchWithinRadius(center, radiusKm, candidates), nil
}

// QueryBox performs a bounding box query, in catalog order.
func (m *Mirror) QueryBox(ctx context.Context, box models.BoundingBox) ([]models.Facility, error) {
	return m.query(ctx, `
		SELECT name, category, address, link, ST_Y(location::geometry), ST_X(location::geometry)
		FROM facilities
		WHERE location::geometry && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		ORDER BY position
	`, box.BottomLeft.Lon, box.BottomLeft.Lat, box.TopRight.Lon, box.TopRight.Lat)
}

func (m *Mirror) query(ctx context.Context, query string, args ...any) ([]models.Facility, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var results []models.Facility
	for rows.Next() {
		var f models.Facility
		var category string
		if err := rows.Scan(&f.Name, &category, &f.Address, &f.Link, &f.Latitude, &f.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		f.Category = models.Category(category)
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return results, nil
}

// Count returns the number of mirrored facilities.
func (m *Mirror) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM facilities").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count facilities: %w", err)
	}
	return count, nil
}

// Stats describes the size of the mirror.
type Stats struct {
	DatabaseSize string
	TableSize    string
	IndexSize    string
	Rows         int64
}

// Stats returns database size and table statistics.
func (m *Mirror) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := m.db.QueryRowContext(ctx, `SELECT pg_size_pretty(pg_database_size(current_database()))`).Scan(&s.DatabaseSize); err != nil {
		return s, fmt.Errorf("failed to get database size: %w", err)
	}

	err := m.db.QueryRowContext(ctx, `
		SELECT
			pg_size_pretty(pg_total_relation_size('facilities')),
			pg_size_pretty(pg_indexes_size('facilities'))
	`).Scan(&s.TableSize, &s.IndexSize)
	if err != nil {
		// table might not exist yet
		s.TableSize, s.IndexSize = "0 bytes", "0 bytes"
		return s, nil
	}

	s.Rows, _ = m.Count(ctx)
	return s, nil
}

// Close closes the database connection.
func (m *Mirror) Close() error {
	return m.db.Close()
}
