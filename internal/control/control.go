// Package control is the closed-loop core of the machine: it owns the smoothed
// sensors, one PID controller per controlled variable, the active brew
// configuration and the temperature safety detector.
//
// Update is driven by the control task. Every setter and reader is safe to
// call from the state-machine task and from read-only reporters concurrently.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/espresso-controller/internal/actuator"
	"github.com/sweeney/espresso-controller/internal/pid"
	"github.com/sweeney/espresso-controller/internal/sensor"
)

// ErrFlowUnavailable is returned by SetFlowTarget when no flow loop is wired.
var ErrFlowUnavailable = errors.New("control: flow control not available")

// ControlMode selects the variable the pump tracks.
type ControlMode int

const (
	ModePressure ControlMode = iota
	ModeFlow
)

func (m ControlMode) String() string {
	switch m {
	case ModePressure:
		return "PRESSURE"
	case ModeFlow:
		return "FLOW"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m ControlMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Logger is the logging surface used by the module.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Hardware is the set of drivers the module is wired to.
type Hardware struct {
	Temperature sensor.Source
	Pressure    sensor.Source
	// Flow is optional; flow control is only available when it is set.
	Flow sensor.Source

	Heater   actuator.Proportional
	Pump     actuator.Proportional
	Solenoid actuator.Binary
}

// Options tunes the module.
type Options struct {
	// Smoothing is the EMA coefficient applied to every sensor.
	Smoothing float64

	TemperaturePID pid.Config
	PressurePID    pid.Config
	FlowPID        pid.Config

	Limits Limits
	Safety SafetyConfig

	Logger Logger
}

// DefaultOptions returns gains tuned on a 300 ml single boiler with a
// vibratory pump.
func DefaultOptions() Options {
	return Options{
		Smoothing:      0.2,
		TemperaturePID: pid.Config{Kp: 12, Ki: 0.15, Kd: 40, Min: 0, Max: 100},
		PressurePID:    pid.Config{Kp: 10, Ki: 4, Kd: 0.5, Min: 0, Max: 100},
		FlowPID:        pid.Config{Kp: 6, Ki: 2, Kd: 0, Min: 0, Max: 100},
		Limits:         DefaultLimits(),
		Safety:         DefaultSafetyConfig(),
	}
}

// Loop wires one sensor through one controller to one output.
type Loop struct {
	Name       string
	Sensor     *sensor.Smoothed
	Controller *pid.Controller
	Output     actuator.Proportional
}

func newLoop(name string, src sensor.Source, alpha float64, cfg pid.Config, out actuator.Proportional) (*Loop, error) {
	s, err := sensor.NewSmoothed(name, src, alpha)
	if err != nil {
		return nil, err
	}
	c, err := pid.New(name, cfg)
	if err != nil {
		return nil, err
	}
	return &Loop{Name: name, Sensor: s, Controller: c, Output: out}, nil
}

// Module is the control core.
type Module struct {
	temperature *Loop
	pressure    *Loop
	flow        *Loop // nil unless a flow sensor is wired

	heater   actuator.Proportional
	solenoid actuator.Binary

	store  Store
	limits Limits
	log    Logger

	// persistMu serialises setter+store round trips so the store sees writes
	// in the same order as memory.
	persistMu sync.Mutex
	cfgMu     sync.RWMutex
	cfg       Configuration

	mu            sync.Mutex
	mode          ControlMode
	heaterEnabled bool
	lastUpdate    time.Time
	safety        *detector
	failing       map[string]bool
}

// New builds the module and loads the configuration from store.
func New(ctx context.Context, hw Hardware, store Store, opts Options) (*Module, error) {
	if hw.Temperature == nil || hw.Pressure == nil {
		return nil, errors.New("control: temperature and pressure sources are required")
	}
	if hw.Heater == nil || hw.Pump == nil || hw.Solenoid == nil {
		return nil, errors.New("control: heater, pump and solenoid are required")
	}
	if store == nil {
		return nil, errors.New("control: store is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}

	temperature, err := newLoop("temperature", hw.Temperature, opts.Smoothing, opts.TemperaturePID, hw.Heater)
	if err != nil {
		return nil, fmt.Errorf("temperature loop: %w", err)
	}
	pressure, err := newLoop("pressure", hw.Pressure, opts.Smoothing, opts.PressurePID, hw.Pump)
	if err != nil {
		return nil, fmt.Errorf("pressure loop: %w", err)
	}
	var flow *Loop
	if hw.Flow != nil {
		flow, err = newLoop("flow", hw.Flow, opts.Smoothing, opts.FlowPID, hw.Pump)
		if err != nil {
			return nil, fmt.Errorf("flow loop: %w", err)
		}
	}

	cfg, err := store.LoadConfiguration(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	return &Module{
		temperature: temperature,
		pressure:    pressure,
		flow:        flow,
		heater:      hw.Heater,
		solenoid:    hw.Solenoid,
		store:       store,
		limits:      opts.Limits,
		log:         opts.Logger,
		cfg:         opts.Limits.Clamp(cfg),
		mode:        ModePressure,
		safety:      newDetector(opts.Safety),
		failing:     make(map[string]bool),
	}, nil
}

// Configuration returns a consistent copy of the active configuration.
func (m *Module) Configuration() Configuration {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// Limits returns the setpoint limits.
func (m *Module) Limits() Limits {
	return m.limits
}

// Accessors

// RawTemperature returns the latest raw temperature sample.
func (m *Module) RawTemperature() float64 { return m.temperature.Sensor.RawValue() }

// SmoothedTemperature returns the smoothed temperature.
func (m *Module) SmoothedTemperature() float64 { return m.temperature.Sensor.SmoothedValue() }

// RawPressure returns the latest raw pressure sample.
func (m *Module) RawPressure() float64 { return m.pressure.Sensor.RawValue() }

// SmoothedPressure returns the smoothed pressure.
func (m *Module) SmoothedPressure() float64 { return m.pressure.Sensor.SmoothedValue() }

// Mode returns the active pump control mode.
func (m *Module) Mode() ControlMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// FlowAvailable reports whether a flow loop is wired.
func (m *Module) FlowAvailable() bool {
	return m.flow != nil
}

// Targets

// SetTemperatureTarget sets the boiler setpoint. t <= 0 disables the
// temperature loop; anything else is clamped to [MinTempTarget, MaxTempTarget].
func (m *Module) SetTemperatureTarget(t float64) {
	if t > 0 {
		t = m.limits.ClampTemperature(t)
	} else {
		t = 0
	}
	m.temperature.Controller.SetControlTarget(t)
}

// SetPressureTarget switches the pump to pressure control and sets its
// setpoint, clamped to [0, MaxPressureTarget].
func (m *Module) SetPressureTarget(p float64) {
	m.mu.Lock()
	m.mode = ModePressure
	m.mu.Unlock()
	m.pressure.Controller.SetControlTarget(m.limits.ClampPressure(p))
}

// SetFlowTarget switches the pump to flow control. It fails with
// ErrFlowUnavailable, leaving the mode unchanged, when no flow loop is wired.
func (m *Module) SetFlowTarget(f float64) error {
	if m.flow == nil {
		return ErrFlowUnavailable
	}
	m.mu.Lock()
	m.mode = ModeFlow
	m.mu.Unlock()
	if f < 0 {
		f = 0
	}
	m.flow.Controller.SetControlTarget(f)
	return nil
}

// Configuration setters. Each clamps, updates memory and persists
// synchronously. A failed persist is logged; memory is kept.

// SetBrewTemperature sets the brew temperature.
func (m *Module) SetBrewTemperature(ctx context.Context, v float64) {
	v = m.limits.ClampTemperature(v)
	m.persist(ctx, "brew_temperature", func(c *Configuration) { c.BrewTemperature = v },
		func(ctx context.Context) error { return m.store.StoreBrewTemperature(ctx, v) })
}

// SetSteamTemperature sets the steam temperature.
func (m *Module) SetSteamTemperature(ctx context.Context, v float64) {
	v = m.limits.ClampTemperature(v)
	m.persist(ctx, "steam_temperature", func(c *Configuration) { c.SteamTemperature = v },
		func(ctx context.Context) error { return m.store.StoreSteamTemperature(ctx, v) })
}

// SetBrewPressure sets the brew pressure.
func (m *Module) SetBrewPressure(ctx context.Context, v float64) {
	v = m.limits.ClampPressure(v)
	m.persist(ctx, "brew_pressure", func(c *Configuration) { c.BrewPressure = v },
		func(ctx context.Context) error { return m.store.StoreBrewPressure(ctx, v) })
}

// SetPreinfusionPressure sets the pre-infusion pressure.
func (m *Module) SetPreinfusionPressure(ctx context.Context, v float64) {
	v = m.limits.ClampPressure(v)
	m.persist(ctx, "preinfusion_pressure", func(c *Configuration) { c.PreinfusionPressure = v },
		func(ctx context.Context) error { return m.store.StorePreinfusionPressure(ctx, v) })
}

// SetPreinfusionTime sets the pre-infusion duration.
func (m *Module) SetPreinfusionTime(ctx context.Context, d time.Duration) {
	d = m.limits.ClampPreinfusionTime(d)
	m.persist(ctx, "preinfusion_time", func(c *Configuration) { c.PreinfusionTime = d },
		func(ctx context.Context) error { return m.store.StorePreinfusionTime(ctx, d) })
}

func (m *Module) persist(ctx context.Context, field string, mutate func(*Configuration), write func(context.Context) error) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.cfgMu.Lock()
	mutate(&m.cfg)
	m.cfgMu.Unlock()

	if err := write(ctx); err != nil {
		m.log.Error("persisting configuration", "field", field, "error", err)
		return
	}
	m.log.Info("configuration updated", "field", field)
}

// Actuators

// OpenSolenoid opens the three-way valve.
func (m *Module) OpenSolenoid() {
	m.writeBinary("solenoid", m.solenoid, true)
}

// CloseSolenoid closes the three-way valve.
func (m *Module) CloseSolenoid() {
	m.writeBinary("solenoid", m.solenoid, false)
}

// TurnOnHeater lets the temperature loop drive the heater.
func (m *Module) TurnOnHeater() {
	m.mu.Lock()
	m.heaterEnabled = true
	m.mu.Unlock()
}

// ShutOffHeater forces the heater to 0 now and on every following tick, and
// disables the temperature loop.
func (m *Module) ShutOffHeater() {
	m.mu.Lock()
	m.heaterEnabled = false
	m.mu.Unlock()
	m.temperature.Controller.SetControlTarget(0)
	m.writeLevel(m.temperature.Name, m.heater, 0)
}

// HeaterEnabled reports whether the heater gate is open.
func (m *Module) HeaterEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heaterEnabled
}

// Update is the periodic control tick.
func (m *Module) Update(now time.Time) {
	m.temperature.Sensor.Update()
	m.pressure.Sensor.Update()
	if m.flow != nil {
		m.flow.Sensor.Update()
	}

	m.mu.Lock()
	var dt time.Duration
	if !m.lastUpdate.IsZero() {
		dt = now.Sub(m.lastUpdate)
	}
	m.lastUpdate = now
	mode := m.mode
	heaterOn := m.heaterEnabled
	m.mu.Unlock()

	if fired, out := m.temperature.Controller.Update(m.temperature.Sensor.SmoothedValue(), dt); fired || !heaterOn {
		if !heaterOn {
			out = 0
		}
		m.writeLevel(m.temperature.Name, m.temperature.Output, out)
	}

	pump := m.pressure
	if mode == ModeFlow && m.flow != nil {
		pump = m.flow
	}
	if fired, out := pump.Controller.Update(pump.Sensor.SmoothedValue(), dt); fired {
		m.writeLevel(pump.Name, pump.Output, out)
	}

	r := reading{
		now:           now,
		raw:           m.temperature.Sensor.RawValue(),
		smoothed:      m.temperature.Sensor.SmoothedValue(),
		samples:       m.temperature.Sensor.Samples(),
		failures:      m.temperature.Sensor.Failures(),
		target:        m.temperature.Controller.Target(),
		heaterEnabled: heaterOn,
		heaterPower:   m.heater.PowerLevel(),
	}

	m.mu.Lock()
	wasTripped := m.safety.tripped
	m.safety.check(r)
	tripped, reason := m.safety.tripped, m.safety.reason
	m.mu.Unlock()

	if tripped && !wasTripped {
		m.log.Error("temperature anomaly detected", "reason", reason)
	}
}

// TemperatureAnomalyDetected reports whether the safety detector has tripped.
// Once true it stays true for the life of the process.
func (m *Module) TemperatureAnomalyDetected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.safety.tripped
}

// AnomalyReason describes the anomaly, or is empty.
func (m *Module) AnomalyReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.safety.reason
}

func (m *Module) writeLevel(name string, out actuator.Proportional, level float64) {
	m.noteWrite(name, out.SetPowerLevel(actuator.ClampLevel(level)))
}

func (m *Module) writeBinary(name string, out actuator.Binary, on bool) {
	m.noteWrite(name, out.SetState(on))
}

// noteWrite logs the first failure of a run and the recovery, not every tick.
func (m *Module) noteWrite(name string, err error) {
	m.mu.Lock()
	was := m.failing[name]
	m.failing[name] = err != nil
	m.mu.Unlock()

	switch {
	case err != nil && !was:
		m.log.Warn("actuator write failed", "actuator", name, "error", err)
	case err == nil && was:
		m.log.Info("actuator write recovered", "actuator", name)
	}
}

// LoopSnapshot is the state of one control loop.
type LoopSnapshot struct {
	Raw         float64 `json:"raw"`
	Smoothed    float64 `json:"smoothed"`
	Target      float64 `json:"target"`
	Output      float64 `json:"output"`
	SensorError string  `json:"sensor_error,omitempty"`
}

// Snapshot is a structured, point-in-time view of the module.
type Snapshot struct {
	Mode          ControlMode   `json:"mode"`
	HeaterEnabled bool          `json:"heater_enabled"`
	HeaterPower   float64       `json:"heater_power"`
	PumpPower     float64       `json:"pump_power"`
	SolenoidOpen  bool          `json:"solenoid_open"`
	Temperature   LoopSnapshot  `json:"temperature"`
	Pressure      LoopSnapshot  `json:"pressure"`
	Flow          *LoopSnapshot `json:"flow,omitempty"`
	Anomaly       bool          `json:"anomaly"`
	AnomalyReason string        `json:"anomaly_reason,omitempty"`
	Configuration Configuration `json:"configuration"`
}

func loopSnapshot(l *Loop) LoopSnapshot {
	s := LoopSnapshot{
		Raw:      l.Sensor.RawValue(),
		Smoothed: l.Sensor.SmoothedValue(),
		Target:   l.Controller.Target(),
		Output:   l.Controller.Output(),
	}
	if err := l.Sensor.Err(); err != nil {
		s.SensorError = err.Error()
	}
	return s
}

// Snapshot returns the module state. It has no side effects.
func (m *Module) Snapshot() Snapshot {
	s := Snapshot{
		HeaterPower:   m.heater.PowerLevel(),
		PumpPower:     m.pressure.Output.PowerLevel(),
		SolenoidOpen:  m.solenoid.State(),
		Temperature:   loopSnapshot(m.temperature),
		Pressure:      loopSnapshot(m.pressure),
		Configuration: m.Configuration(),
	}
	if m.flow != nil {
		f := loopSnapshot(m.flow)
		s.Flow = &f
	}
	m.mu.Lock()
	s.Mode = m.mode
	s.HeaterEnabled = m.heaterEnabled
	s.Anomaly = m.safety.tripped
	s.AnomalyReason = m.safety.reason
	m.mu.Unlock()
	return s
}

// Status returns a human-readable report of sensors, controllers and
// actuators for diagnostics.
func (m *Module) Status() string {
	var b strings.Builder

	b.WriteString("Temperature sensor:\n")
	b.WriteString(m.temperature.Sensor.Status())
	b.WriteString("Temperature controller:\n")
	b.WriteString(m.temperature.Controller.Status())

	b.WriteString("\nPressure sensor:\n")
	b.WriteString(m.pressure.Sensor.Status())
	b.WriteString("Pressure controller:\n")
	b.WriteString(m.pressure.Controller.Status())

	if m.flow != nil {
		b.WriteString("\nFlow sensor:\n")
		b.WriteString(m.flow.Sensor.Status())
		b.WriteString("Flow controller:\n")
		b.WriteString(m.flow.Controller.Status())
	}

	s := m.Snapshot()
	heater := "disabled"
	if s.HeaterEnabled {
		heater = "enabled"
	}
	valve := "Closed"
	if s.SolenoidOpen {
		valve = "Open"
	}
	fmt.Fprintf(&b, "\nHeater: %.1f%% (%s)\n", s.HeaterPower, heater)
	fmt.Fprintf(&b, "Pump: %.1f%% (mode %s)\n", s.PumpPower, s.Mode)
	fmt.Fprintf(&b, "Solenoid valve: %s\n", valve)
	if s.Anomaly {
		fmt.Fprintf(&b, "Safety: ANOMALY (%s)\n", s.AnomalyReason)
	} else {
		b.WriteString("Safety: OK\n")
	}
	return b.String()
}
