package geofence

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		expected               float64
		tolerance              float64
	}{
		{
			name:      "same point",
			lat1:      48.3069, lon1: 14.2858,
			lat2: 48.3069, lon2: 14.2858,
			expected:  0,
			tolerance: 0.001,
		},
		{
			name:      "one degree of latitude",
			lat1:      0, lon1: 0,
			lat2: 1, lon2: 0,
			expected:  111194.9,
			tolerance: 1,
		},
		{
			name:      "one degree of longitude at 60 north",
			lat1:      60, lon1: 0,
			lat2: 60, lon2: 1,
			expected:  55596.9,
			tolerance: 5,
		},
		{
			name:      "symmetric",
			lat1:      48.3069, lon1: 14.2858,
			lat2: 48.3100, lon2: 14.2900,
			expected:  Distance(48.3100, 14.2900, 48.3069, 14.2858),
			tolerance: 0.000001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(d-tt.expected) > tt.tolerance {
				t.Errorf("expected %f (+/- %f), got %f", tt.expected, tt.tolerance, d)
			}
		})
	}
}

func TestCampusContains(t *testing.T) {
	campus := Campus{Latitude: 48.3069, Longitude: 14.2858, RadiusMeters: 500}

	tests := []struct {
		name   string
		fix    Fix
		inside bool
	}{
		{"center", Fix{Latitude: 48.3069, Longitude: 14.2858}, true},
		{"near the center", Fix{Latitude: 48.3072, Longitude: 14.2860}, true},
		{"well outside", Fix{Latitude: 48.4000, Longitude: 14.2858}, false},
		{"opposite hemisphere", Fix{Latitude: -48.3069, Longitude: -165.7142}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inside, distance := campus.Contains(tt.fix)
			if inside != tt.inside {
				t.Errorf("inside = %v at distance %f, want %v", inside, distance, tt.inside)
			}
			if distance < 0 {
				t.Errorf("negative distance %f", distance)
			}
		})
	}
}

func TestCampusValidate(t *testing.T) {
	tests := []struct {
		name   string
		campus Campus
		valid  bool
	}{
		{"complete", Campus{Latitude: 48.3, Longitude: 14.3, RadiusMeters: 500}, true},
		{"zero value", Campus{}, false},
		{"zero radius", Campus{Latitude: 48.3, Longitude: 14.3}, false},
		{"negative radius", Campus{Latitude: 48.3, Longitude: 14.3, RadiusMeters: -1}, false},
		{"latitude out of range", Campus{Latitude: 91, Longitude: 14.3, RadiusMeters: 500}, false},
		{"longitude out of range", Campus{Latitude: 48.3, Longitude: 181, RadiusMeters: 500}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.campus.Validate()
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && err != ErrInvalidCampus {
				t.Errorf("expected ErrInvalidCampus, got %v", err)
			}
		})
	}
}
