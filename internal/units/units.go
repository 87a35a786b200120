// Package units provides shared constants, parsing and conversion for distance units
package units

import (
	"fmt"
	"strconv"
	"strings"
)

// Unit constants
const (
	M  = "m"
	KM = "km"
	NM = "nm" // nautical miles
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{M, KM, NM}

// Length is a distance in metres.
type Length float64

// Common lengths.
const (
	Meter        Length = 1
	Kilometer    Length = 1000
	NauticalMile Length = 1852
)

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// Meters returns the length in metres.
func (l Length) Meters() float64 { return float64(l) }

// Kilometers returns the length in kilometres.
func (l Length) Kilometers() float64 { return float64(l / Kilometer) }

// NauticalMiles returns the length in nautical miles.
func (l Length) NauticalMiles() float64 { return float64(l / NauticalMile) }

// String formats the length in kilometres, e.g. "0.5km".
func (l Length) String() string {
	return strconv.FormatFloat(l.Kilometers(), 'f', -1, 64) + KM
}

// ConvertLength converts a length to the target units.
// Unknown units fall back to metres.
func ConvertLength(l Length, targetUnits string) float64 {
	switch targetUnits {
	case KM:
		return l.Kilometers()
	case NM:
		return l.NauticalMiles()
	case M:
		return l.Meters()
	default:
		return l.Meters()
	}
}

// FromUnits builds a Length from a value expressed in the given units.
func FromUnits(v float64, unit string) (Length, error) {
	switch unit {
	case M:
		return Length(v) * Meter, nil
	case KM:
		return Length(v) * Kilometer, nil
	case NM:
		return Length(v) * NauticalMile, nil
	default:
		return 0, fmt.Errorf("invalid unit %q, must be one of: %s", unit, GetValidUnitsString())
	}
}

// ParseLength parses strings such as "20km", "500m", "0.25nm" or "1.5 km".
// A bare number is read as kilometres.
func ParseLength(s string) (Length, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty length")
	}

	unit := KM
	num := s
	// Longest suffix first so "km" is not read as "m".
	for _, u := range []string{KM, NM, M} {
		if strings.HasSuffix(s, u) {
			unit = u
			num = strings.TrimSpace(strings.TrimSuffix(s, u))
			break
		}
	}

	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid length %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("length must be non-negative, got %q", s)
	}
	return FromUnits(v, unit)
}
