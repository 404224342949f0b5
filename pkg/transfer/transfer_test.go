package transfer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/locator"
	"github.com/kass/go-facility-map/pkg/models"
	"github.com/kass/go-facility-map/pkg/store"
)

var fixedNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "facilities.db"),
		store.WithRegisterer(prometheus.NewRegistry()),
		store.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := New(db,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
		WithLocation(time.UTC))
	return svc, db
}

type tuple struct {
	Name   string
	Pin    models.Pin
	Radius models.RadiusText
	Count  int
	Memo   string
}

func tuples(t *testing.T, db *store.DB) []tuple {
	t.Helper()
	all, err := store.NewRepository[models.SavedSearch](db, store.Searches).All(context.Background())
	require.NoError(t, err)
	out := make([]tuple, 0, len(all))
	for _, s := range all {
		out = append(out, tuple{s.Name, s.Pin, s.Radius, s.Count, s.Memo})
	}
	return out
}

const legacyFile = `{
  "exportDate": "2023-01-01T00:00:00.000Z",
  "version": 2,
  "data": [
    {"id": 7, "timestamp": "2023-03-04T05:06:07.000Z", "pin": [36.5, 140.5], "radius": 3, "count": 1,
     "results": [{"name": "Aテスト", "category": "保育園", "address": "茨城県...", "latitude": 36.5, "longitude": 140.5, "link": ""}]},
    {"id": 8, "timestamp": "2023-03-05T10:30:00.000Z", "pin": [36.6, 140.6], "radius": "2.5", "count": 0, "results": []},
    {"timestamp": "2023-03-06T00:00:00.000Z", "name": "named", "pin": [36.7, 140.7], "radius": "1", "count": 0, "results": []}
  ]
}`

func TestImportLegacyData(t *testing.T) {
	svc, db := newService(t)

	doc, err := Decode(strings.NewReader(legacyFile))
	require.NoError(t, err)
	assert.True(t, doc.Legacy)
	assert.Nil(t, doc.Memos)
	require.Len(t, doc.Searches, 3)

	res, err := svc.Import(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, Result{Searches: 3}, res)
	assert.Equal(t, "imported 3 searches", res.String())

	got := tuples(t, db)
	require.Len(t, got, 3)
	assert.Equal(t, "2023/3/4 05:06", got[0].Name)
	assert.Equal(t, models.RadiusText("3"), got[0].Radius)
	assert.Equal(t, "2023/3/5 10:30", got[1].Name)
	assert.Equal(t, models.RadiusText("2.5"), got[1].Radius)
	assert.Equal(t, "named", got[2].Name)

	// keys are reassigned by the store
	all, err := store.NewRepository[models.SavedSearch](db, store.Searches).All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), all[0].ID)
	assert.Len(t, all[0].Results, 1)
}

func TestDataKeyTakesPrecedence(t *testing.T) {
	doc, err := Decode(strings.NewReader(`{"data": [{"name": "old"}], "searches": [{"name": "a"}, {"name": "b"}]}`))
	require.NoError(t, err)
	assert.True(t, doc.Legacy)
	require.Len(t, doc.Searches, 1)
	assert.Equal(t, "old", doc.Searches[0].Name)
}

func TestDecodeRejectsInvalidFiles(t *testing.T) {
	for _, input := range []string{
		`not json`,
		`{"foo": []}`,
		`{"searches": {}}`,
		`{"data": "x"}`,
		`[]`,
	} {
		t.Run(input, func(t *testing.T) {
			_, err := Decode(strings.NewReader(input))
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, srcDB := newService(t)
	searches := store.NewRepository[models.SavedSearch](srcDB, store.Searches)
	for i, s := range []models.SavedSearch{
		{Timestamp: time.Date(2024, 5, 1, 9, 5, 0, 0, time.UTC), Name: "駅前", Pin: models.Pin{36.5, 140.5}, Radius: "3", Count: 0, Memo: "候補"},
		{Timestamp: time.Date(2024, 5, 2, 9, 5, 0, 0, time.UTC), Name: "学校周辺", Pin: models.Pin{36.123456789, 139.987654321}, Radius: "1.5", Count: 1,
			Results: []models.Facility{{Name: "B", Category: models.CategorySchool, Latitude: 36.12, Longitude: 139.98}}},
	} {
		_, err := searches.Add(ctx, &s)
		require.NoError(t, err, "seed %d", i)
	}
	require.NoError(t, srcDB.Put(ctx, store.Memos, "id-1", models.MemoRecord{FacilityID: "id-1", Memo: "要確認"}))
	require.NoError(t, srcDB.Put(ctx, store.Colors, "id-2", models.ColorRecord{FacilityID: "id-2", Color: "#123456"}))

	doc, err := src.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, doc.Version)
	assert.Equal(t, "2024-06-10T12:00:00.000Z", doc.ExportDate)
	assert.Equal(t, "2024-05-01T09:05:00.000Z", doc.Searches[0].Timestamp)
	assert.Equal(t, []Memo{{FacilityID: "id-1", Memo: "要確認"}}, doc.Memos)
	assert.Equal(t, []Color{{FacilityID: "id-2", Color: "#123456"}}, doc.Colors)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, doc))
	assert.Contains(t, buf.String(), `"searches": [`)
	assert.Contains(t, buf.String(), "駅前")
	assert.NotContains(t, buf.String(), `"id"`)

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.False(t, decoded.Legacy)

	dst, dstDB := newService(t)
	res, err := dst.Import(ctx, decoded)
	require.NoError(t, err)
	assert.Equal(t, Result{Searches: 2, Memos: 1, Colors: 1}, res)
	assert.ElementsMatch(t, tuples(t, srcDB), tuples(t, dstDB))

	var memo models.MemoRecord
	require.NoError(t, dstDB.Get(ctx, store.Memos, "id-1", &memo))
	assert.Equal(t, "要確認", memo.Memo)
	assert.Equal(t, fixedNow, memo.Timestamp)
}

func TestExportEmpty(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Export(context.Background())
	assert.ErrorIs(t, err, ErrNothingToExport)
}

func TestImportIsBestEffort(t *testing.T) {
	svc, db := newService(t)
	doc, err := Decode(strings.NewReader(`{
		"searches": [
			{"timestamp": "2024-01-01T00:00:00Z", "name": "ok", "pin": [1, 2], "radius": "3", "count": 0},
			{"timestamp": "2024-01-01T00:00:00Z", "name": "bad", "pin": "nowhere"},
			{"timestamp": "garbage", "pin": [3, 4], "radius": 2}
		],
		"memos": [{"facilityId": "a", "memo": "x"}, {"memo": "orphan"}],
		"colors": []
	}`))
	require.NoError(t, err)
	require.Error(t, doc.Rejected())

	res, err := svc.Import(context.Background(), doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search 1")
	assert.Contains(t, err.Error(), "missing facilityId")
	assert.Equal(t, Result{Searches: 2, Memos: 1}, res)

	got := tuples(t, db)
	require.Len(t, got, 2)
	assert.Equal(t, "ok", got[0].Name)
	assert.Equal(t, "2024/6/10 12:00", got[1].Name, "unreadable timestamp falls back to the import time")
	assert.Equal(t, models.RadiusText("2"), got[1].Radius)
}

func TestImportSkipsBlankMemosAndColors(t *testing.T) {
	ctx := context.Background()
	svc, db := newService(t)
	f := models.Facility{Name: "Aテスト", Category: models.CategoryNursery, Address: "茨城県水戸市", Latitude: 36.1234, Longitude: 140.5678}
	id := facility.ID(f)

	doc := &Document{
		Memos:  []Memo{{FacilityID: id, Memo: ""}, {FacilityID: "other", Memo: "  "}},
		Colors: []Color{{FacilityID: id, Color: " "}},
	}
	res, err := svc.Import(ctx, doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty memo for "+id)
	assert.Contains(t, err.Error(), "empty color for "+id)
	assert.Equal(t, Result{}, res)

	n, err := db.Count(ctx, store.Memos)
	require.NoError(t, err)
	assert.Zero(t, n)

	ctrl := locator.New(locator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctrl.SetFacilities([]models.Facility{f})
	_, err = ctrl.Attach(ctx, db).Wait(ctx)
	require.NoError(t, err)
	state := ctrl.Snapshot()
	assert.False(t, state.HasMemo(id))
	assert.Equal(t, facility.CategoryColor(models.CategoryNursery), state.ColorOf(f))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "facilities-map-2024-06-10.json", FileName(fixedNow))
}
