// Package units provides shared constants and validation for the distance and
// velocity units accepted in configuration files. All internal computation is
// in SI units (metres, metres per second, seconds).
package units

import "fmt"

// Unit constants
const (
	Metres     = "m"
	Kilometres = "km"
	MPS        = "m/s"
	KMPS       = "km/s"
)

// ValidDistanceUnits contains the accepted distance units.
var ValidDistanceUnits = []string{Metres, Kilometres}

// ValidVelocityUnits contains the accepted velocity units.
var ValidVelocityUnits = []string{MPS, KMPS}

// IsValidDistance checks if the given unit is an accepted distance unit.
func IsValidDistance(unit string) bool {
	for _, u := range ValidDistanceUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// IsValidVelocity checks if the given unit is an accepted velocity unit.
func IsValidVelocity(unit string) bool {
	for _, u := range ValidVelocityUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// ToMetres converts a distance in the given unit to metres.
func ToMetres(v float64, unit string) (float64, error) {
	switch unit {
	case Metres, "":
		return v, nil
	case Kilometres:
		return v * 1000, nil
	default:
		return 0, fmt.Errorf("unknown distance unit %q (valid: m, km)", unit)
	}
}

// ToMetresPerSecond converts a velocity in the given unit to m/s.
func ToMetresPerSecond(v float64, unit string) (float64, error) {
	switch unit {
	case MPS, "":
		return v, nil
	case KMPS:
		return v * 1000, nil
	default:
		return 0, fmt.Errorf("unknown velocity unit %q (valid: m/s, km/s)", unit)
	}
}

// FormatKm renders a metre quantity in kilometres for reports.
func FormatKm(metres float64) string {
	return fmt.Sprintf("%.3f", metres/1000)
}
