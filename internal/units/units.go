// Package units converts the speed and acceleration limits in the checks
// configuration between user-facing units and the m/s used internally.
package units

import "fmt"

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

const (
	mpsPerMPH  = 0.44704
	mpsPerKMPH = 1 / 3.6
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

// ToMPS converts a speed expressed in unit to metres per second. An empty
// unit is taken as m/s.
func ToMPS(speed float64, unit string) (float64, error) {
	switch unit {
	case MPS, "":
		return speed, nil
	case MPH:
		return speed * mpsPerMPH, nil
	case KMPH, KPH:
		return speed * mpsPerKMPH, nil
	default:
		return 0, fmt.Errorf("unknown speed unit %q (valid: %v)", unit, ValidUnits)
	}
}

// FromMPS converts a speed in metres per second to unit. Unknown units
// fall back to m/s.
func FromMPS(speedMPS float64, unit string) float64 {
	switch unit {
	case MPH:
		return speedMPS / mpsPerMPH
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}
