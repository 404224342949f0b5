// Package geo provides great-circle distance helpers and radius search over
// facility records, with an R-Tree index for prefiltering larger catalogs.
package geo

import (
	"math"

	"github.com/kass/go-facility-map/pkg/models"
)

const earthRadius = 6371.0 // km

// Distance calculates the Haversine distance between two points in kilometers
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0

	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}

// degreesFor converts a ground distance to the latitude and longitude spans
// that enclose it around lat. The longitude span widens towards the poles.
func degreesFor(lat, radiusKm float64) (dLat, dLon float64) {
	delta := radiusKm / earthRadius
	dLat = delta * (180 / math.Pi)
	if dLat >= 90 {
		return dLat, 360
	}
	cosLat := math.Cos(lat * math.Pi / 180.0)
	ratio := math.Sin(delta) / cosLat
	if cosLat < 1e-12 || ratio >= 1 {
		return dLat, 360
	}
	return dLat, math.Asin(ratio) * (180 / math.Pi)
}

// BoxAround returns the lat/lon box enclosing the radiusKm circle at center,
// clamped to the poles. A box that would cross the antimeridian spans every
// longitude.
func BoxAround(center models.Location, radiusKm float64) models.BoundingBox {
	dLat, dLon := degreesFor(center.Lat, radiusKm)
	minLon, maxLon := center.Lon-dLon, center.Lon+dLon
	if minLon < -180 || maxLon > 180 {
		minLon, maxLon = -180, 180
	}
	return models.BoundingBox{
		BottomLeft: models.Location{Lat: math.Max(center.Lat-dLat, -90), Lon: minLon},
		TopRight:   models.Location{Lat: math.Min(center.Lat+dLat, 90), Lon: maxLon},
	}
}
