package store

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-facility-map/pkg/models"
)

func openTest(t *testing.T, path string, opts ...Option) *DB {
	t.Helper()
	opts = append([]Option{
		WithRegisterer(prometheus.NewRegistry()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	db, err := Open(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tables(t *testing.T, path string) []string {
	t.Helper()
	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer raw.Close()

	rows, err := raw.Query("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestOpenCreatesCollections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "facilities.db")
	db := openTest(t, path)

	assert.Equal(t, CurrentVersion, db.Version())
	assert.Equal(t, path, db.Path())
	require.NoError(t, db.Close())
	assert.Equal(t, []string{"colors", "memos", "searches"}, tables(t, path))
}

func TestUpgradeIsAdditive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facilities.db")
	ctx := context.Background()

	v1 := openTest(t, path, WithVersion(1))
	id, err := v1.Add(ctx, Searches, &models.SavedSearch{Name: "old"})
	require.NoError(t, err)
	err = v1.Put(ctx, Memos, "x", models.MemoRecord{FacilityID: "x"})
	assert.ErrorIs(t, err, ErrUnknownCollection)
	require.NoError(t, v1.Close())
	assert.Equal(t, []string{"searches"}, tables(t, path))

	v3 := openTest(t, path)
	assert.Equal(t, []string{"colors", "memos", "searches"}, tables(t, path))

	var got models.SavedSearch
	require.NoError(t, v3.Get(ctx, Searches, id, &got))
	assert.Equal(t, "old", got.Name)
	assert.Equal(t, id, got.ID)
}

func TestUpgradeSkipsExistingCollections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facilities.db")

	v1 := openTest(t, path, WithVersion(1))
	_, err := v1.db.Exec(Memos.schema())
	require.NoError(t, err)
	require.NoError(t, v1.Close())

	db := openTest(t, path)
	assert.Equal(t, CurrentVersion, db.Version())
	assert.Equal(t, []string{"colors", "memos", "searches"}, tables(t, path))
}

func TestOpenRejectsOlderVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facilities.db")
	db := openTest(t, path)
	require.NoError(t, db.Close())

	_, err := Open(context.Background(), path,
		WithVersion(2), WithRegisterer(prometheus.NewRegistry()))
	assert.ErrorIs(t, err, ErrVersion)

	_, err = Open(context.Background(), path,
		WithVersion(CurrentVersion+1), WithRegisterer(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	db := openTest(t, filepath.Join(t.TempDir(), "facilities.db"))

	memo := models.MemoRecord{FacilityID: "k1", Memo: "要確認", Timestamp: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, db.Put(ctx, Memos, "k1", memo))

	var got models.MemoRecord
	require.NoError(t, db.Get(ctx, Memos, "k1", &got))
	assert.Equal(t, memo, got)

	memo.Memo = "updated"
	require.NoError(t, db.Put(ctx, Memos, "k1", memo))
	require.NoError(t, db.Get(ctx, Memos, "k1", &got))
	assert.Equal(t, "updated", got.Memo)

	n, err := db.Count(ctx, Memos)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, db.Delete(ctx, Memos, "k1"))
	err = db.Get(ctx, Memos, "k1", &got)
	assert.ErrorIs(t, err, ErrNotFound)

	// absent keys delete cleanly
	assert.NoError(t, db.Delete(ctx, Memos, "k1"))
}

func TestMemoKeepsZeroCoordinates(t *testing.T) {
	ctx := context.Background()
	db := openTest(t, filepath.Join(t.TempDir(), "facilities.db"))

	memo := models.MemoRecord{FacilityID: "origin", FacilityLat: 0, FacilityLng: 0, Memo: "赤道"}
	require.NoError(t, db.Put(ctx, Memos, "origin", memo))

	records, err := db.GetAll(ctx, Memos)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, string(records[0].Payload), `"facilityLat":0`)
	assert.Contains(t, string(records[0].Payload), `"facilityLng":0`)
}

func TestAddAssignsKeys(t *testing.T) {
	ctx := context.Background()
	db := openTest(t, filepath.Join(t.TempDir(), "facilities.db"))

	first := &models.SavedSearch{ID: 99, Name: "a"}
	id1, err := db.Add(ctx, Searches, first)
	require.NoError(t, err)
	assert.Equal(t, id1, first.ID)
	assert.NotEqual(t, int64(99), id1)

	id2, err := db.Add(ctx, Searches, &models.SavedSearch{Name: "b"})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	_, err = db.Add(ctx, Memos, &models.MemoRecord{})
	assert.Error(t, err)

	records, err := db.GetAll(ctx, Searches)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, id1, records[0].Key)
	assert.NotContains(t, string(records[0].Payload), `"id"`)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	db := openTest(t, filepath.Join(t.TempDir(), "facilities.db"))

	for i := 0; i < 3; i++ {
		_, err := db.Add(ctx, Searches, &models.SavedSearch{})
		require.NoError(t, err)
	}
	require.NoError(t, db.Put(ctx, Colors, "c", models.ColorRecord{FacilityID: "c", Color: "#000000"}))
	require.NoError(t, db.Clear(ctx, Searches))

	n, err := db.Count(ctx, Searches)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = db.Count(ctx, Colors)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatch(t *testing.T) {
	ctx := context.Background()
	db := openTest(t, filepath.Join(t.TempDir(), "facilities.db"))

	t.Run("commit", func(t *testing.T) {
		err := db.Batch(ctx, func(tx *Tx) error {
			for i := 0; i < 3; i++ {
				if _, err := tx.Add(ctx, Searches, &models.SavedSearch{Count: i}); err != nil {
					return err
				}
			}
			return tx.Put(ctx, Memos, "m", models.MemoRecord{FacilityID: "m", Memo: "x"})
		})
		require.NoError(t, err)
		n, err := db.Count(ctx, Searches)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.Batch(ctx, func(tx *Tx) error {
			if _, err := tx.Add(ctx, Searches, &models.SavedSearch{}); err != nil {
				return err
			}
			if err := tx.Delete(ctx, Memos, "m"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		n, err := db.Count(ctx, Searches)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		n, err = db.Count(ctx, Memos)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("individual failures do not abort", func(t *testing.T) {
		var failures []error
		err := db.Batch(ctx, func(tx *Tx) error {
			if _, err := tx.Add(ctx, Memos, &models.MemoRecord{}); err != nil {
				failures = append(failures, err)
			}
			_, err := tx.Add(ctx, Searches, &models.SavedSearch{})
			return err
		})
		require.NoError(t, err)
		assert.Len(t, failures, 1)
		n, err := db.Count(ctx, Searches)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	db := openTest(t, filepath.Join(t.TempDir(), "facilities.db"))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Put(ctx, Memos, "k", models.MemoRecord{}), ErrClosed)
	_, err := db.GetAll(ctx, Memos)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Batch(ctx, func(*Tx) error { return nil }), ErrClosed)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	db := openTest(t, filepath.Join(t.TempDir(), "facilities.db"), WithRegisterer(reg))

	require.NoError(t, db.Put(ctx, Colors, "k", models.ColorRecord{FacilityID: "k", Color: "#fff"}))
	var rec models.ColorRecord
	_ = db.Get(ctx, Colors, "missing", &rec)

	assert.Equal(t, 1.0, testutil.ToFloat64(db.metrics.Operations.WithLabelValues("colors", "put", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(db.metrics.Operations.WithLabelValues("colors", "get", "not_found")))

	// a second store on the same registry shares the collectors
	other := openTest(t, filepath.Join(t.TempDir(), "other.db"), WithRegisterer(reg))
	require.NoError(t, other.Put(ctx, Colors, "k", models.ColorRecord{FacilityID: "k"}))
	assert.Equal(t, 2.0, testutil.ToFloat64(db.metrics.Operations.WithLabelValues("colors", "put", "ok")))
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	db := openTest(t, filepath.Join(t.TempDir(), "facilities.db"))
	searches := NewRepository[models.SavedSearch](db, Searches)
	memos := NewRepository[models.MemoRecord](db, Memos)

	s := models.SavedSearch{Name: "one", Pin: models.Pin{36.5, 140.5}, Radius: "3", Count: 2}
	id, err := searches.Add(ctx, &s)
	require.NoError(t, err)
	assert.Equal(t, id, s.ID)

	got, err := searches.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, models.RadiusText("3"), got.Radius)

	got.Name = "renamed"
	require.NoError(t, searches.Put(ctx, id, got))
	all, err := searches.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "renamed", all[0].Name)
	assert.Equal(t, id, all[0].ID)

	require.NoError(t, memos.Put(ctx, "f1", models.MemoRecord{FacilityID: "f1", Memo: "a"}))
	require.NoError(t, memos.Put(ctx, "f2", models.MemoRecord{FacilityID: "f2", Memo: "b"}))
	n, err := memos.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, memos.Delete(ctx, "f1"))
	_, err = memos.Get(ctx, "f1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, memos.Clear(ctx))
	left, err := memos.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Equal(t, Memos, memos.Collection())
}
