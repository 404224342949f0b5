package locator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-facility-map/pkg/models"
)

func savedFixture() []models.SavedSearch {
	day := func(d, h int) time.Time { return time.Date(2024, 5, d, h, 0, 0, 0, time.UTC) }
	return []models.SavedSearch{
		{ID: 1, Name: "a", Timestamp: day(1, 9), Radius: "3", Count: 5, Pin: models.Pin{36.5, 140.5}},
		{ID: 2, Name: "b", Timestamp: day(3, 9), Radius: "10", Count: 2, Pin: models.Pin{36.1, 139.9}},
		{ID: 3, Name: "c", Timestamp: day(2, 9), Radius: "3.5", Count: 5, Pin: models.Pin{37.9, 139.0}},
		{ID: 4, Name: "d", Timestamp: day(2, 9), Radius: "abc", Count: 0, Pin: models.Pin{36.5, 138.2}},
	}
}

func ids(searches []models.SavedSearch) []int64 {
	out := make([]int64, len(searches))
	for i, s := range searches {
		out[i] = s.ID
	}
	return out
}

func TestDefaultName(t *testing.T) {
	ts := time.Date(2024, 1, 2, 23, 4, 0, 0, time.UTC)
	assert.Equal(t, "2024/1/2 23:04", DefaultName(ts, time.UTC))

	tokyo := time.FixedZone("JST", 9*60*60)
	assert.Equal(t, "2024/1/3 08:04", DefaultName(ts, tokyo))
}

func TestSortSaved(t *testing.T) {
	tests := []struct {
		mode SortMode
		want []int64
	}{
		{SortNewest, []int64{2, 3, 4, 1}},
		{"", []int64{2, 3, 4, 1}},
		{SortOldest, []int64{1, 3, 4, 2}},
		{SortRadiusAsc, []int64{4, 1, 3, 2}},
		{SortRadiusDesc, []int64{2, 1, 3, 4}},
		{SortCountAsc, []int64{4, 2, 1, 3}},
		{SortCountDesc, []int64{1, 3, 2, 4}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			searches := savedFixture()
			SortSaved(searches, tt.mode)
			assert.Equal(t, tt.want, ids(searches))
		})
	}

	searches := savedFixture()
	SortSaved(searches, SortMode("bogus"))
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(searches))
}

func TestFilterSaved(t *testing.T) {
	searches := savedFixture()
	tests := []struct {
		query string
		want  []int64
	}{
		{"", []int64{1, 2, 3, 4}},
		{"2024/5/2", []int64{3, 4}},
		{"36.5, ", []int64{1, 4}},
		{"139.9", []int64{2}},
		{"ABC", []int64{4}},
		{"nothing", []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(FilterSaved(searches, tt.query, time.UTC)))
		})
	}
	assert.Len(t, searches, 4)
}

func TestParseSortMode(t *testing.T) {
	for _, m := range SortModes {
		got, err := ParseSortMode(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseSortMode("size")
	assert.Error(t, err)
}

func TestComputeStats(t *testing.T) {
	empty := ComputeStats(nil)
	assert.Equal(t, 0, empty.Count)
	assert.InDelta(t, 2.0/1024, empty.SizeKB, 1e-12)
	assert.Equal(t, "0 saved, 0.00 KB", empty.String())

	stats := ComputeStats(savedFixture())
	assert.Equal(t, 4, stats.Count)
	assert.Greater(t, stats.SizeKB, 0.1)
}
