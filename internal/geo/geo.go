// Package geo holds the great-circle helpers used by tracking and the API.
package geo

import (
	"math"

	"garagehub/internal/models"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometres between two
// coordinates given in degrees. Inputs are not range-checked: out-of-range
// latitudes or longitudes yield a defined but meaningless number.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	a := sinLat*sinLat + math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// DistanceKm is HaversineKm over two points.
func DistanceKm(a, b models.GeoPoint) float64 {
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Lerp moves from toward to by fraction along each axis independently.
func Lerp(from, to models.GeoPoint, fraction float64) models.GeoPoint {
	return models.GeoPoint{
		Lat: from.Lat + (to.Lat-from.Lat)*fraction,
		Lng: from.Lng + (to.Lng-from.Lng)*fraction,
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
