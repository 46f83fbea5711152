package control

import (
	"context"
	"time"
)

// Configuration is the operator-tunable brew profile.
type Configuration struct {
	BrewTemperature     float64       `yaml:"brew_temperature" json:"brew_temperature"`
	SteamTemperature    float64       `yaml:"steam_temperature" json:"steam_temperature"`
	BrewPressure        float64       `yaml:"brew_pressure" json:"brew_pressure"`
	PreinfusionPressure float64       `yaml:"preinfusion_pressure" json:"preinfusion_pressure"`
	PreinfusionTime     time.Duration `yaml:"preinfusion_time" json:"preinfusion_time"`
}

// DefaultConfiguration is used when the store holds nothing yet.
func DefaultConfiguration() Configuration {
	return Configuration{
		BrewTemperature:     93,
		SteamTemperature:    140,
		BrewPressure:        9,
		PreinfusionPressure: 2.5,
		PreinfusionTime:     5 * time.Second,
	}
}

// MinTempTarget is the lowest temperature setpoint accepted for an enabled
// heater.
const MinTempTarget = 20.0

// Limits bound every setpoint and configuration field.
type Limits struct {
	MaxTempTarget      float64       `yaml:"max_temp_target"`
	MaxPressureTarget  float64       `yaml:"max_pressure_target"`
	MaxPreinfusionTime time.Duration `yaml:"max_preinfusion_time"`
}

// DefaultLimits returns the limits for a single-boiler home machine.
func DefaultLimits() Limits {
	return Limits{
		MaxTempTarget:      150,
		MaxPressureTarget:  12,
		MaxPreinfusionTime: 30 * time.Second,
	}
}

// ClampTemperature limits t to [MinTempTarget, MaxTempTarget].
func (l Limits) ClampTemperature(t float64) float64 {
	return clampFloat(t, MinTempTarget, l.MaxTempTarget)
}

// ClampPressure limits p to [0, MaxPressureTarget].
func (l Limits) ClampPressure(p float64) float64 {
	return clampFloat(p, 0, l.MaxPressureTarget)
}

// ClampPreinfusionTime limits d to [0, MaxPreinfusionTime].
func (l Limits) ClampPreinfusionTime(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > l.MaxPreinfusionTime {
		return l.MaxPreinfusionTime
	}
	return d
}

// Clamp returns c with every field inside its range.
func (l Limits) Clamp(c Configuration) Configuration {
	return Configuration{
		BrewTemperature:     l.ClampTemperature(c.BrewTemperature),
		SteamTemperature:    l.ClampTemperature(c.SteamTemperature),
		BrewPressure:        l.ClampPressure(c.BrewPressure),
		PreinfusionPressure: l.ClampPressure(c.PreinfusionPressure),
		PreinfusionTime:     l.ClampPreinfusionTime(c.PreinfusionTime),
	}
}

// Store persists the configuration. Each Store* call is a synchronous write
// of one field.
type Store interface {
	LoadConfiguration(ctx context.Context) (Configuration, error)
	StoreBrewTemperature(ctx context.Context, v float64) error
	StoreSteamTemperature(ctx context.Context, v float64) error
	StoreBrewPressure(ctx context.Context, v float64) error
	StorePreinfusionPressure(ctx context.Context, v float64) error
	StorePreinfusionTime(ctx context.Context, d time.Duration) error
}

func clampFloat(v, lo, hi float64) float64 {
	if !(v >= lo) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
