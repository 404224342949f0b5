package geo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kass/go-facility-map/pkg/models"
)

func TestDistance(t *testing.T) {
	testCases := []struct {
		name     string
		lat1     float64
		lon1     float64
		lat2     float64
		lon2     float64
		expected float64
		delta    float64
	}{
		{
			name: "Same point",
			lat1: 36.3418, lon1: 140.4468,
			lat2: 36.3418, lon2: 140.4468,
			expected: 0,
			delta:    0,
		},
		{
			name: "Mito to Utsunomiya",
			lat1: 36.3418, lon1: 140.4468,
			lat2: 36.5551, lon2: 139.8828,
			expected: 55.7,
			delta:    1.0,
		},
		{
			name: "Maebashi to Toyama",
			lat1: 36.3895, lon1: 139.0634,
			lat2: 36.6953, lon2: 137.2113,
			expected: 169.0,
			delta:    3.0,
		},
		{
			name: "Quarter meridian",
			lat1: 0, lon1: 0,
			lat2: 90, lon2: 0,
			expected: 10007.5,
			delta:    0.1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dist := Distance(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			assert.InDelta(t, tc.expected, dist, tc.delta)
		})
	}
}

func TestDistanceSymmetricAndZero(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		lat1, lon1 := r.Float64()*180-90, r.Float64()*360-180
		lat2, lon2 := r.Float64()*180-90, r.Float64()*360-180

		assert.Equal(t, Distance(lat1, lon1, lat2, lon2), Distance(lat2, lon2, lat1, lon1))
		assert.Equal(t, 0.0, Distance(lat1, lon1, lat1, lon1))
	}
}

func TestDegreesForWidensLongitude(t *testing.T) {
	dLatEq, dLonEq := degreesFor(0, 10)
	assert.InDelta(t, dLatEq, dLonEq, 1e-12)

	dLat, dLon := degreesFor(60, 10)
	assert.InDelta(t, dLatEq, dLat, 1e-12)
	assert.InDelta(t, 2*dLat, dLon, 1e-5)
	assert.Greater(t, dLon, 2*dLat)

	_, dLonPole := degreesFor(90, 10)
	assert.Equal(t, 360.0, dLonPole)
}

func TestBoxAround(t *testing.T) {
	center := models.Location{Lat: 36.5, Lon: 140.5}
	box := BoxAround(center, 3)
	dLat, dLon := degreesFor(center.Lat, 3)
	assert.InDelta(t, center.Lat-dLat, box.BottomLeft.Lat, 1e-12)
	assert.InDelta(t, center.Lon+dLon, box.TopRight.Lon, 1e-12)

	// points just inside the circle lie inside the box
	for deg := 0; deg < 360; deg += 15 {
		b := float64(deg) * math.Pi / 180
		lat := center.Lat + 2.999/earthRadius*180/math.Pi*math.Cos(b)
		lon := center.Lon + 2.999/earthRadius*180/math.Pi*math.Sin(b)/math.Cos(center.Lat*math.Pi/180)
		assert.True(t, lat >= box.BottomLeft.Lat && lat <= box.TopRight.Lat, "bearing %d", deg)
		assert.True(t, lon >= box.BottomLeft.Lon && lon <= box.TopRight.Lon, "bearing %d", deg)
	}

	wrap := BoxAround(models.Location{Lat: 0, Lon: 179.99}, 10)
	assert.Equal(t, -180.0, wrap.BottomLeft.Lon)
	assert.Equal(t, 180.0, wrap.TopRight.Lon)

	pole := BoxAround(models.Location{Lat: 89.99, Lon: 0}, 10)
	assert.Equal(t, 90.0, pole.TopRight.Lat)
}
