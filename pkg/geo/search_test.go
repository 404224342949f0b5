package geo

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-facility-map/pkg/models"
)

// northOf returns a facility km kilometers due north of pin.
func northOf(pin models.Location, km float64, name string) models.Facility {
	return models.Facility{
		Name:      name,
		Category:  models.CategoryNursery,
		Latitude:  pin.Lat + km/earthRadius*180/math.Pi,
		Longitude: pin.Lon,
	}
}

func TestSearchWithinRadiusScenario(t *testing.T) {
	pin := models.Location{Lat: 36.5, Lon: 140.5}
	at12 := northOf(pin, 1.2, "1.2km")
	at29 := northOf(pin, 2.9, "2.9km")
	at30 := northOf(pin, 3.0, "3.0km")
	at31 := northOf(pin, 3.1, "3.1km")

	boundary := Distance(pin.Lat, pin.Lon, at30.Latitude, at30.Longitude)
	require.InDelta(t, 3.0, boundary, 1e-9)

	// input order deliberately scrambled
	matches := SearchWithinRadius(pin, boundary, []models.Facility{at31, at29, at30, at12})

	require.Len(t, matches, 3)
	assert.Equal(t, "1.2km", matches[0].Facility.Name)
	assert.Equal(t, "2.9km", matches[1].Facility.Name)
	assert.Equal(t, "3.0km", matches[2].Facility.Name)
	assert.Equal(t, boundary, matches[2].DistanceKm)
}

func TestSearchWithinRadiusStableOnTies(t *testing.T) {
	pin := models.Location{Lat: 36.5, Lon: 140.5}
	east := models.Facility{Name: "east", Latitude: 36.5, Longitude: 140.515625}
	west := models.Facility{Name: "west", Latitude: 36.5, Longitude: 140.484375}
	same1 := models.Facility{Name: "same-1", Latitude: 36.52, Longitude: 140.5}
	same2 := models.Facility{Name: "same-2", Latitude: 36.52, Longitude: 140.5}

	matches := SearchWithinRadius(pin, 10, []models.Facility{west, same2, east, same1})

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Facility.Name
	}
	assert.Equal(t, []string{"west", "east", "same-2", "same-1"}, names)
}

func TestSearchWithinRadiusInclusionLaw(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	pin := models.Location{Lat: 36.5, Lon: 140.5}
	facilities := randomFacilities(r, 500)

	for _, radius := range []float64{0, 1, 5, 20, 80} {
		t.Run(fmt.Sprintf("%.0fkm", radius), func(t *testing.T) {
			matches := SearchWithinRadius(pin, radius, facilities)
			included := make(map[string]bool, len(matches))
			for i, m := range matches {
				included[m.Facility.Name] = true
				if i > 0 {
					assert.LessOrEqual(t, matches[i-1].DistanceKm, m.DistanceKm)
				}
			}
			for _, f := range facilities {
				within := Distance(pin.Lat, pin.Lon, f.Latitude, f.Longitude) <= radius
				assert.Equal(t, within, included[f.Name], f.Name)
			}
		})
	}
}

func TestSearchWithinRadiusEmpty(t *testing.T) {
	matches := SearchWithinRadius(models.Location{}, 5, nil)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func randomFacilities(r *rand.Rand, n int) []models.Facility {
	facilities := make([]models.Facility, n)
	for i := range facilities {
		facilities[i] = models.Facility{
			Name:      fmt.Sprintf("facility_%d", i),
			Category:  models.KnownCategories[i%len(models.KnownCategories)],
			Latitude:  36.0 + r.Float64(),      // 36-37
			Longitude: 139.5 + r.Float64()*2.0, // 139.5-141.5
		}
	}
	return facilities
}
