package geo

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dhconnelly/rtreego"

	"github.com/kass/go-facility-map/pkg/models"
)

const (
	tolerance   = 1e-7
	minChildren = 25
	maxChildren = 50
	dimensions  = 2

	// half the circumference; any radius beyond this covers the globe
	maxSearchKm = math.Pi * earthRadius
)

// indexedFacility wraps a facility for R-Tree indexing. pos is the facility's
// position in the indexed slice and breaks ties between equal distances.
type indexedFacility struct {
	pos  int
	rect *rtreego.Rect
}

func (f *indexedFacility) Bounds() *rtreego.Rect {
	return f.rect
}

// FacilityIndex is a thread-safe R-Tree over a facility catalog. Radius queries
// return exactly what SearchWithinRadius would return for the same slice; the
// tree only narrows the candidates that need a haversine check.
type FacilityIndex struct {
	tree       *rtreego.Rtree
	facilities []models.Facility
	mu         sync.RWMutex
	itemCount  atomic.Int64
}

// NewFacilityIndex creates an empty index.
func NewFacilityIndex() *FacilityIndex {
	return &FacilityIndex{
		tree: rtreego.NewTree(dimensions, minChildren, maxChildren),
	}
}

// IndexFacilities replaces the indexed catalog.
func (g *FacilityIndex) IndexFacilities(facilities []models.Facility) {
	items := make([]*indexedFacility, len(facilities))
	for i, f := range facilities {
		p := rtreego.Point{f.Latitude, f.Longitude}
		items[i] = &indexedFacility{pos: i, rect: p.ToRect(tolerance)}
	}

	tree := rtreego.NewTree(dimensions, minChildren, maxChildren)
	for _, item := range items {
		tree.Insert(item)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.tree = tree
	g.facilities = append([]models.Facility(nil), facilities...)
	g.itemCount.Store(int64(len(items)))
}

// Count returns the number of indexed facilities
func (g *FacilityIndex) Count() int64 {
	return g.itemCount.Load()
}

// Facilities returns a copy of the indexed catalog in input order.
func (g *FacilityIndex) Facilities() []models.Facility {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]models.Facility(nil), g.facilities...)
}

// QueryBox returns all facilities within the box, in input order.
func (g *FacilityIndex) QueryBox(box models.BoundingBox) ([]models.Facility, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	positions, err := g.searchBox(box.BottomLeft.Lat, box.BottomLeft.Lon, box.TopRight.Lat, box.TopRight.Lon)
	if err != nil {
		return nil, err
	}

	out := make([]models.Facility, 0, len(positions))
	for _, pos := range positions {
		f := g.facilities[pos]
		if f.Latitude >= box.BottomLeft.Lat && f.Latitude <= box.TopRight.Lat &&
			f.Longitude >= box.BottomLeft.Lon && f.Longitude <= box.TopRight.Lon {
			out = append(out, f)
		}
	}
	return out, nil
}

// QueryRadius returns the facilities within radiusKm of center, nearest first.
func (g *FacilityIndex) QueryRadius(center models.Location, radiusKm float64) ([]Match, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.queryRadius(center, radiusKm)
}

func (g *FacilityIndex) queryRadius(center models.Location, radiusKm float64) ([]Match, error) {
	if radiusKm < 0 || math.IsNaN(radiusKm) {
		return []Match{}, nil
	}

	box := BoxAround(center, radiusKm)
	positions, err := g.searchBox(box.BottomLeft.Lat, box.BottomLeft.Lon, box.TopRight.Lat, box.TopRight.Lon)
	if err != nil {
		return nil, fmt.Errorf("invalid radius search: %w", err)
	}

	matches := make([]Match, 0, len(positions))
	for _, pos := range positions {
		f := g.facilities[pos]
		dist := Distance(center.Lat, center.Lon, f.Latitude, f.Longitude)
		if dist <= radiusKm {
			matches = append(matches, Match{Facility: f, DistanceKm: dist})
		}
	}
	sortMatches(matches)
	return matches, nil
}

// NearestNeighbors returns the n facilities closest to center, nearest first.
// The search radius doubles until enough facilities are inside it.
func (g *FacilityIndex) NearestNeighbors(center models.Location, n int) []Match {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if n <= 0 || len(g.facilities) == 0 {
		return []Match{}
	}
	if n > len(g.facilities) {
		n = len(g.facilities)
	}

	for radius := 1.0; ; radius *= 2 {
		if radius > maxSearchKm {
			radius = maxSearchKm + 1
		}
		matches, err := g.queryRadius(center, radius)
		if err == nil && (len(matches) >= n || radius > maxSearchKm) {
			if len(matches) > n {
				matches = matches[:n]
			}
			return matches
		}
		if err != nil && radius > maxSearchKm {
			return []Match{}
		}
	}
}

// searchBox returns candidate positions in ascending order. Callers hold g.mu.
func (g *FacilityIndex) searchBox(latBL, lonBL, latTR, lonTR float64) ([]int, error) {
	lengths := []float64{latTR - latBL, lonTR - lonBL}
	if lengths[0] <= 0 {
		lengths[0] = tolerance
	}
	if lengths[1] <= 0 {
		lengths[1] = tolerance
	}
	bounds, err := rtreego.NewRect(rtreego.Point{latBL, lonBL}, lengths)
	if err != nil {
		return nil, fmt.Errorf("invalid bounding box: %w", err)
	}

	results := g.tree.SearchIntersect(bounds)
	positions := make([]int, 0, len(results))
	for _, result := range results {
		item, ok := result.(*indexedFacility)
		if !ok {
			continue
		}
		positions = append(positions, item.pos)
	}
	sort.Ints(positions)
	return positions, nil
}
