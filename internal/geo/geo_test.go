package geo

import (
	"math"
	"testing"

	"garagehub/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestDistanceIdentity(t *testing.T) {
	points := []models.GeoPoint{
		{Lat: 0, Lng: 0},
		{Lat: 14.55, Lng: 121.02},
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: 89.9, Lng: -179.9},
	}
	for _, p := range points {
		assert.Equal(t, 0.0, DistanceKm(p, p))
	}
}

func TestDistanceSymmetry(t *testing.T) {
	pairs := [][2]models.GeoPoint{
		{{Lat: 14.5500, Lng: 121.0200}, {Lat: 14.5510, Lng: 121.0210}},
		{{Lat: 51.5074, Lng: -0.1278}, {Lat: 40.7128, Lng: -74.0060}},
		{{Lat: -6.2, Lng: 106.816}, {Lat: -6.9175, Lng: 107.6191}},
	}
	for _, p := range pairs {
		ab := DistanceKm(p[0], p[1])
		ba := DistanceKm(p[1], p[0])
		assert.InDelta(t, ab, ba, 1e-9)
		assert.Greater(t, ab, 0.0)
	}
}

func TestDistanceShortHop(t *testing.T) {
	d := DistanceKm(models.GeoPoint{Lat: 14.5500, Lng: 121.0200}, models.GeoPoint{Lat: 14.5510, Lng: 121.0210})
	assert.InDelta(t, 0.153, d, 0.01)
}

func TestLerp(t *testing.T) {
	from := models.GeoPoint{Lat: 10, Lng: 20}
	to := models.GeoPoint{Lat: 20, Lng: 0}

	got := Lerp(from, to, 0.1)
	assert.InDelta(t, 11.0, got.Lat, 1e-12)
	assert.InDelta(t, 18.0, got.Lng, 1e-12)

	assert.Equal(t, from, Lerp(from, to, 0))
	end := Lerp(from, to, 1)
	assert.True(t, math.Abs(end.Lat-to.Lat) < 1e-12 && math.Abs(end.Lng-to.Lng) < 1e-12)
}
