package locator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kass/go-facility-map/pkg/models"
)

// SortMode orders the saved search list.
type SortMode string

const (
	SortNewest     SortMode = "newest"
	SortOldest     SortMode = "oldest"
	SortRadiusAsc  SortMode = "radius-asc"
	SortRadiusDesc SortMode = "radius-desc"
	SortCountAsc   SortMode = "count-asc"
	SortCountDesc  SortMode = "count-desc"
)

// SortModes lists every sort mode in menu order.
var SortModes = []SortMode{SortNewest, SortOldest, SortRadiusAsc, SortRadiusDesc, SortCountAsc, SortCountDesc}

// ParseSortMode validates a sort mode name.
func ParseSortMode(s string) (SortMode, error) {
	for _, m := range SortModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown sort mode %q", s)
}

const (
	dateLayout = "2006/1/2"
	timeLayout = "15:04"
)

// DefaultName is the name given to a saved search saved without one.
func DefaultName(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(dateLayout + " " + timeLayout)
}

// searchText is the text a saved search filter matches against.
func searchText(s models.SavedSearch, loc *time.Location) string {
	coords := strconv.FormatFloat(s.Pin[0], 'f', -1, 64) + ", " + strconv.FormatFloat(s.Pin[1], 'f', -1, 64)
	return strings.ToLower(DefaultName(s.Timestamp, loc) + " " + string(s.Radius) + " " + strconv.Itoa(s.Count) + " " + coords)
}

// FilterSaved returns the searches whose date, radius, count or coordinates
// contain query, ignoring case. The input is not modified.
func FilterSaved(searches []models.SavedSearch, query string, loc *time.Location) []models.SavedSearch {
	query = strings.ToLower(query)
	out := make([]models.SavedSearch, 0, len(searches))
	for _, s := range searches {
		if strings.Contains(searchText(s, loc), query) {
			out = append(out, s)
		}
	}
	return out
}

// SortSaved orders searches in place. Equal keys keep their order.
func SortSaved(searches []models.SavedSearch, mode SortMode) {
	var less func(a, b models.SavedSearch) bool
	switch mode {
	case SortOldest:
		less = func(a, b models.SavedSearch) bool { return a.Timestamp.Before(b.Timestamp) }
	case SortRadiusAsc:
		less = func(a, b models.SavedSearch) bool { return a.Radius.IntPrefix() < b.Radius.IntPrefix() }
	case SortRadiusDesc:
		less = func(a, b models.SavedSearch) bool { return a.Radius.IntPrefix() > b.Radius.IntPrefix() }
	case SortCountAsc:
		less = func(a, b models.SavedSearch) bool { return a.Count < b.Count }
	case SortCountDesc:
		less = func(a, b models.SavedSearch) bool { return a.Count > b.Count }
	case SortNewest, "":
		less = func(a, b models.SavedSearch) bool { return a.Timestamp.After(b.Timestamp) }
	default:
		return
	}
	sort.SliceStable(searches, func(i, j int) bool { return less(searches[i], searches[j]) })
}

// Stats summarizes the stored saved searches.
type Stats struct {
	Count  int
	SizeKB float64
}

// String renders the size the way the list header shows it.
func (s Stats) String() string {
	return fmt.Sprintf("%d saved, %.2f KB", s.Count, s.SizeKB)
}

// ComputeStats counts searches and measures their encoded size.
func ComputeStats(searches []models.SavedSearch) Stats {
	if searches == nil {
		searches = []models.SavedSearch{}
	}
	payload, err := json.Marshal(searches)
	if err != nil {
		return Stats{Count: len(searches)}
	}
	return Stats{Count: len(searches), SizeKB: float64(len(payload)) / 1024}
}
