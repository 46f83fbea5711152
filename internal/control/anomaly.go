package control

import (
	"fmt"
	"math"
	"time"
)

// SafetyConfig tunes the temperature anomaly detector.
type SafetyConfig struct {
	// Hysteresis is the band below target inside which no rise is demanded.
	Hysteresis float64 `yaml:"hysteresis"`
	// MaxError is the accumulated shortfall (°C·s) tolerated once the
	// temperature stops approaching the target.
	MaxError float64 `yaml:"max_error"`
	// HeatingGain is the rise (°C) expected within every CheckGainTime.
	HeatingGain   float64       `yaml:"heating_gain"`
	CheckGainTime time.Duration `yaml:"check_gain_time"`

	// Plausible raw temperature range.
	MinTemp float64 `yaml:"min_temp"`
	MaxTemp float64 `yaml:"max_temp"`

	// A raw reading that does not change at all for FrozenWindow while the
	// heater runs at FrozenMinPower or more is a stuck sensor.
	FrozenWindow   time.Duration `yaml:"frozen_window"`
	FrozenMinPower float64       `yaml:"frozen_min_power"`

	// MaxReadFailures is the number of consecutive failed reads tolerated.
	MaxReadFailures int `yaml:"max_read_failures"`
}

// DefaultSafetyConfig returns conservative defaults for a small boiler.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		Hysteresis:      5,
		MaxError:        120,
		HeatingGain:     2,
		CheckGainTime:   20 * time.Second,
		MinTemp:         0,
		MaxTemp:         200,
		FrozenWindow:    30 * time.Second,
		FrozenMinPower:  50,
		MaxReadFailures: 10,
	}
}

// reading is everything the detector looks at on one control tick.
type reading struct {
	now           time.Time
	raw           float64
	smoothed      float64
	samples       uint64
	failures      int
	target        float64
	heaterEnabled bool
	heaterPower   float64
}

// detector latches the first anomaly it sees. It is not safe for concurrent
// use; Module guards it.
type detector struct {
	cfg SafetyConfig

	tripped bool
	reason  string

	lastCheck time.Time

	// thermal approach tracking
	approaching bool
	starting    bool
	lastTarget  float64
	goalTemp    float64
	goalTime    time.Time
	shortfall   float64
	inBand      bool

	// frozen reading tracking
	lastRaw     float64
	frozenSince time.Time
}

func newDetector(cfg SafetyConfig) *detector {
	return &detector{cfg: cfg}
}

func (d *detector) trip(reason string) {
	d.tripped = true
	d.reason = reason
}

func (d *detector) check(r reading) {
	if d.tripped {
		return
	}

	var dt time.Duration
	if !d.lastCheck.IsZero() && r.now.After(d.lastCheck) {
		dt = r.now.Sub(d.lastCheck)
	}
	d.lastCheck = r.now

	if d.checkSensor(r) {
		return
	}
	d.checkHeating(r, dt)
}

// checkSensor reports whether it tripped.
func (d *detector) checkSensor(r reading) bool {
	if d.cfg.MaxReadFailures > 0 && r.failures >= d.cfg.MaxReadFailures {
		d.trip(fmt.Sprintf("temperature sensor: %d consecutive read failures", r.failures))
		return true
	}
	if r.samples == 0 || r.failures > 0 {
		return false
	}
	if math.IsNaN(r.raw) || math.IsInf(r.raw, 0) {
		d.trip("temperature sensor: non-finite reading")
		return true
	}
	if r.raw < d.cfg.MinTemp || r.raw > d.cfg.MaxTemp {
		d.trip(fmt.Sprintf("temperature sensor: reading %.1f outside [%.1f, %.1f]", r.raw, d.cfg.MinTemp, d.cfg.MaxTemp))
		return true
	}

	powered := r.heaterEnabled && r.heaterPower >= d.cfg.FrozenMinPower
	if d.frozenSince.IsZero() || !powered || r.raw != d.lastRaw {
		d.lastRaw = r.raw
		d.frozenSince = r.now
		return false
	}
	if d.cfg.FrozenWindow > 0 && r.now.Sub(d.frozenSince) >= d.cfg.FrozenWindow {
		d.trip(fmt.Sprintf("temperature sensor: reading frozen at %.2f for %v with heater at %.0f%%",
			r.raw, r.now.Sub(d.frozenSince).Truncate(time.Second), r.heaterPower))
		return true
	}
	return false
}

func (d *detector) checkHeating(r reading, dt time.Duration) {
	target := r.target
	if !r.heaterEnabled {
		target = 0
	}
	temp := r.smoothed

	if target <= 0 {
		d.approaching = false
		d.starting = false
		d.inBand = false
		d.shortfall = 0
		d.lastTarget = target
		return
	}

	if temp >= target-d.cfg.Hysteresis {
		d.approaching = false
		d.starting = false
		if temp <= target+d.cfg.Hysteresis {
			d.shortfall = 0
		}
		d.inBand = true
		d.lastTarget = target
		return
	}

	d.shortfall += ((target - d.cfg.Hysteresis) - temp) * dt.Seconds()

	switch {
	case !d.approaching:
		// A new target, or dropping out of the band (cold water drawn during
		// a shot), starts a fresh approach.
		if target != d.lastTarget || d.inBand {
			d.approaching = true
			d.starting = true
			d.goalTemp = temp + d.cfg.HeatingGain
			d.goalTime = r.now.Add(d.cfg.CheckGainTime)
		} else if d.shortfall >= d.cfg.MaxError {
			d.trip(fmt.Sprintf("heater: not heating at expected rate (%.1f°C, target %.1f°C)", temp, target))
		}
		d.inBand = false
	case temp >= d.goalTemp:
		d.inBand = false
		d.starting = false
		d.shortfall = 0
		d.goalTemp = temp + d.cfg.HeatingGain
		d.goalTime = r.now.Add(d.cfg.CheckGainTime)
	case r.now.After(d.goalTime):
		d.approaching = false
	case d.starting:
		if temp+d.cfg.HeatingGain < d.goalTemp {
			d.goalTemp = temp + d.cfg.HeatingGain
		}
	}
	d.lastTarget = target
}
