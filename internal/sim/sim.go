// Package sim simulates an espresso machine boiler and pump so the controller
// can run without hardware.
//
// The boiler is a first-order thermal model: heater power raises the water
// temperature, losses pull it towards ambient and water drawn through the
// group cools it. Pump pressure follows the pump level with a short lag and
// water flows only while the solenoid valve is open.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sweeney/espresso-controller/internal/actuator"
	"github.com/sweeney/espresso-controller/internal/sensor"
)

// Config describes the simulated machine.
type Config struct {
	Ambient     float64       `yaml:"ambient"`      // °C
	HeatRate    float64       `yaml:"heat_rate"`    // °C/s at full heater power
	LossTau     time.Duration `yaml:"loss_tau"`     // time constant of losses to ambient
	BrewCooling float64       `yaml:"brew_cooling"` // °C per ml drawn
	MaxPressure float64       `yaml:"max_pressure"` // bar at full pump level
	PressureTau time.Duration `yaml:"pressure_tau"` // pump pressure lag
	FlowPerBar  float64       `yaml:"flow_per_bar"` // ml/s per bar with the valve open
}

// DefaultConfig approximates a small single-boiler machine.
func DefaultConfig() Config {
	return Config{
		Ambient:     20,
		HeatRate:    1.5,
		LossTau:     10 * time.Minute,
		BrewCooling: 0.05,
		MaxPressure: 12,
		PressureTau: 500 * time.Millisecond,
		FlowPerBar:  0.25,
	}
}

const maxStep = 50 * time.Millisecond

// Machine is the simulated plant. It is safe for concurrent use.
type Machine struct {
	cfg Config

	mu          sync.Mutex
	last        time.Time
	temperature float64
	pressure    float64
	flow        float64
	drawn       float64 // ml through the group since start
	heater      float64
	pump        float64
	solenoid    bool
	tempFault   error
}

// New creates a machine at ambient temperature.
func New(cfg Config, now time.Time) *Machine {
	return &Machine{cfg: cfg, last: now, temperature: cfg.Ambient}
}

// Step advances the model to now. Calls with a time not after the previous
// step are ignored.
func (m *Machine) Step(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for now.After(m.last) {
		dt := now.Sub(m.last)
		if dt > maxStep {
			dt = maxStep
		}
		m.integrate(dt.Seconds())
		m.last = m.last.Add(dt)
	}
}

func (m *Machine) integrate(dt float64) {
	c := m.cfg

	targetP := c.MaxPressure * m.pump / actuator.MaxLevel
	if tau := c.PressureTau.Seconds(); tau > 0 {
		m.pressure += (targetP - m.pressure) * (1 - math.Exp(-dt/tau))
	} else {
		m.pressure = targetP
	}

	m.flow = 0
	if m.solenoid {
		m.flow = c.FlowPerBar * m.pressure
	}
	m.drawn += m.flow * dt

	dT := c.HeatRate * m.heater / actuator.MaxLevel
	if tau := c.LossTau.Seconds(); tau > 0 {
		dT -= (m.temperature - c.Ambient) / tau
	}
	dT -= c.BrewCooling * m.flow
	m.temperature += dT * dt
}

// Run steps the model every period until ctx is cancelled.
func (m *Machine) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Step(now)
		}
	}
}

// State is a copy of the model variables.
type State struct {
	Temperature float64
	Pressure    float64
	Flow        float64
	Drawn       float64
	Heater      float64
	Pump        float64
	Solenoid    bool
}

// State returns the current model variables.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Temperature: m.temperature,
		Pressure:    m.pressure,
		Flow:        m.flow,
		Drawn:       m.drawn,
		Heater:      m.heater,
		Pump:        m.pump,
		Solenoid:    m.solenoid,
	}
}

// SetTemperature forces the boiler temperature, e.g. to start a test hot.
func (m *Machine) SetTemperature(t float64) {
	m.mu.Lock()
	m.temperature = t
	m.mu.Unlock()
}

// FailTemperature makes the temperature source return err; nil restores it.
func (m *Machine) FailTemperature(err error) {
	m.mu.Lock()
	m.tempFault = err
	m.mu.Unlock()
}

// Temperature returns the boiler temperature source.
func (m *Machine) Temperature() sensor.Source {
	return sensor.FuncSource(func() (float64, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.tempFault != nil {
			return 0, m.tempFault
		}
		return m.temperature, nil
	})
}

// Pressure returns the pump pressure source.
func (m *Machine) Pressure() sensor.Source {
	return sensor.FuncSource(func() (float64, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.pressure, nil
	})
}

// Flow returns the group flow source.
func (m *Machine) Flow() sensor.Source {
	return sensor.FuncSource(func() (float64, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.flow, nil
	})
}

// Heater returns the simulated heater output.
func (m *Machine) Heater() actuator.Proportional { return &level{m: m, v: &m.heater} }

// Pump returns the simulated pump output.
func (m *Machine) Pump() actuator.Proportional { return &level{m: m, v: &m.pump} }

// Solenoid returns the simulated solenoid valve.
func (m *Machine) Solenoid() actuator.Binary { return valve{m} }

type level struct {
	m *Machine
	v *float64
}

func (l *level) SetPowerLevel(p float64) error {
	l.m.mu.Lock()
	*l.v = actuator.ClampLevel(p)
	l.m.mu.Unlock()
	return nil
}

func (l *level) PowerLevel() float64 {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return *l.v
}

type valve struct{ m *Machine }

func (v valve) SetState(on bool) error {
	v.m.mu.Lock()
	v.m.solenoid = on
	v.m.mu.Unlock()
	return nil
}

func (v valve) State() bool {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.solenoid
}
