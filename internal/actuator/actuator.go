// Package actuator defines the output capabilities the control core drives.
package actuator

// Binary is an on/off output such as the solenoid valve.
type Binary interface {
	SetState(on bool) error
	State() bool
}

// Proportional is a power output in percent, 0..100.
type Proportional interface {
	SetPowerLevel(level float64) error
	PowerLevel() float64
}

// Power level bounds.
const (
	MinLevel = 0.0
	MaxLevel = 100.0
)

// ClampLevel limits level to [MinLevel, MaxLevel]. NaN maps to MinLevel.
func ClampLevel(level float64) float64 {
	if !(level >= MinLevel) {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
