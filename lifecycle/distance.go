package lifecycle

import (
	"github.com/golang/geo/s2"

	"report-service/models"
)

const earthRadiusMeters = 6371000.0

// DistanceMeters is the great-circle distance between two points, used
// to record how far from the reported location a report was resolved.
func DistanceMeters(a, b models.GeoPoint) float64 {
	from := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	to := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return from.Distance(to).Radians() * earthRadiusMeters
}
