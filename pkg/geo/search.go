package geo

import (
	"sort"

	"github.com/kass/go-facility-map/pkg/models"
)

// Match is a facility found by a radius search together with its distance
// from the pin.
type Match struct {
	Facility   models.Facility
	DistanceKm float64
}

// SearchWithinRadius returns the facilities whose distance from pin is at most
// radiusKm, nearest first. Facilities at equal distance keep their input order.
func SearchWithinRadius(pin models.Location, radiusKm float64, facilities []models.Facility) []Match {
	matches := make([]Match, 0)
	for _, f := range facilities {
		dist := Distance(pin.Lat, pin.Lon, f.Latitude, f.Longitude)
		if dist <= radiusKm {
			matches = append(matches, Match{Facility: f, DistanceKm: dist})
		}
	}
	sortMatches(matches)
	return matches
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
}

// Facilities strips the distances from a match list.
func Facilities(matches []Match) []models.Facility {
	out := make([]models.Facility, len(matches))
	for i, m := range matches {
		out[i] = m.Facility
	}
	return out
}
