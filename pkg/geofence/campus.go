// Package geofence turns a noisy stream of position fixes into a
// debounced, persisted inside/outside state relative to a campus
// boundary.
package geofence

import (
	"errors"
	"math"
	"time"
)

// earthRadiusMeters is the mean Earth radius used by the great-circle
// distance computation.
const earthRadiusMeters = 6371000.0

// Campus is the configured circular boundary. It is loaded once and
// effectively immutable for the monitor's lifetime; a refresh replaces
// it wholesale.
type Campus struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// Fix is a single position report from the external location service.
type Fix struct {
	Latitude  float64
	Longitude float64
	// AccuracyMeters is the reported horizontal accuracy; zero when the
	// source does not provide one.
	AccuracyMeters float64
	At             time.Time
}

// ErrInvalidCampus is returned when the campus record is missing or
// partial. The monitor cannot run without a complete boundary.
var ErrInvalidCampus = errors.New("invalid campus configuration")

// Validate checks the campus record for completeness.
func (c Campus) Validate() error {
	if c.RadiusMeters <= 0 {
		return ErrInvalidCampus
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return ErrInvalidCampus
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return ErrInvalidCampus
	}
	return nil
}

// Contains reports whether the fix lies within the campus radius, along
// with the great-circle distance to the center in meters.
func (c Campus) Contains(fix Fix) (bool, float64) {
	d := Distance(c.Latitude, c.Longitude, fix.Latitude, fix.Longitude)
	return d <= c.RadiusMeters, d
}

// Distance returns the great-circle (haversine) distance in meters
// between two points given in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
