package geospatial

import (
	"github.com/golang/geo/s2"

	"github.com/sells-group/saferoute/internal/model"
)

const (
	// EarthRadiusMeters is the mean Earth radius used for great-circle lengths.
	EarthRadiusMeters = 6371000.0

	// MetersPerDegree converts buffer distances to degrees. Flat-earth, valid
	// at corridor scale.
	MetersPerDegree = 111000.0
)

// MetersToDegrees converts a buffer distance in meters to degrees.
func MetersToDegrees(m float64) float64 {
	return m / MetersPerDegree
}

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(a, b model.Point) float64 {
	return toLatLng(a).Distance(toLatLng(b)).Radians() * EarthRadiusMeters
}

// interpolate returns the point at fraction f along the great circle a→b.
func interpolate(a, b model.Point, f float64) model.Point {
	switch {
	case f <= 0:
		return a
	case f >= 1:
		return b
	}
	p := s2.Interpolate(f, s2.PointFromLatLng(toLatLng(a)), s2.PointFromLatLng(toLatLng(b)))
	ll := s2.LatLngFromPoint(p)
	return model.Point{Lng: ll.Lng.Degrees(), Lat: ll.Lat.Degrees()}
}

func toLatLng(p model.Point) s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lng)
}
