// Package pid provides a bounded PID controller for one controlled variable.
//
// The control law itself comes from go.einride.tech/pid; this package adds
// output clamping, the "setpoint 0 disables" convention and anti-windup.
package pid

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.einride.tech/pid"
)

// DefaultPeriod is the sampling interval assumed when the caller has no
// elapsed time to offer (first tick, clock anomalies).
const DefaultPeriod = 100 * time.Millisecond

// Config holds gains and output bounds.
type Config struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`

	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`

	// Period is the nominal sampling interval.
	Period time.Duration `yaml:"period"`
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	Target     float64
	Output     float64
	Error      float64
	Integral   float64
	Derivative float64
}

// Controller is safe for concurrent use: setpoint changes come from the
// state-machine task while Update runs on the control task.
type Controller struct {
	name string
	cfg  Config

	mu     sync.Mutex
	target float64
	law    pid.Controller
	primed bool
	output float64
}

// New creates a controller. Its initial setpoint is 0 (disabled).
func New(name string, cfg Config) (*Controller, error) {
	if !(cfg.Max > cfg.Min) {
		return nil, fmt.Errorf("pid %s: max (%v) must be greater than min (%v)", name, cfg.Max, cfg.Min)
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	return &Controller{
		name: name,
		cfg:  cfg,
		law: pid.Controller{
			Config: pid.ControllerConfig{
				ProportionalGain: cfg.Kp,
				IntegralGain:     cfg.Ki,
				DerivativeGain:   cfg.Kd,
			},
		},
		output: cfg.Min,
	}, nil
}

// Name returns the controller name.
func (c *Controller) Name() string {
	return c.name
}

// SetControlTarget replaces the setpoint. A setpoint <= 0 disables the
// controller and discards the integral and derivative history.
func (c *Controller) SetControlTarget(target float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.target = target
	if target <= 0 {
		c.target = 0
		c.law.Reset()
		c.primed = false
	}
}

// Target returns the current setpoint.
func (c *Controller) Target() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Update runs one step against measurement. dt is the time since the previous
// step; non-positive values fall back to the nominal period.
//
// fired reports whether the caller should apply output. It is false only for a
// non-finite measurement, in which case the previous output is returned.
func (c *Controller) Update(measurement float64, dt time.Duration) (fired bool, output float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if math.IsNaN(measurement) || math.IsInf(measurement, 0) {
		return false, c.output
	}

	if c.target <= 0 {
		c.output = c.cfg.Min
		return true, c.output
	}

	if dt <= 0 {
		dt = c.cfg.Period
	}

	// Seed the previous error so the first step carries no derivative kick.
	if !c.primed {
		c.law.State.ControlError = c.target - measurement
		c.primed = true
	}

	prevIntegral := c.law.State.ControlErrorIntegral
	c.law.Update(pid.ControllerInput{
		ReferenceSignal:  c.target,
		ActualSignal:     measurement,
		SamplingInterval: dt,
	})

	signal := c.law.State.ControlSignal
	errNow := c.law.State.ControlError
	// Conditional integration: don't grow the integral while the output is
	// already pinned in the direction the error pushes it.
	if (signal > c.cfg.Max && errNow > 0) || (signal < c.cfg.Min && errNow < 0) {
		c.law.State.ControlErrorIntegral = prevIntegral
		signal = c.cfg.Kp*errNow + c.cfg.Ki*prevIntegral + c.cfg.Kd*c.law.State.ControlErrorDerivative
	}

	c.output = clamp(signal, c.cfg.Min, c.cfg.Max)
	return true, c.output
}

// Output returns the most recent output.
func (c *Controller) Output() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// Snapshot returns the controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Target:     c.target,
		Output:     c.output,
		Error:      c.law.State.ControlError,
		Integral:   c.law.State.ControlErrorIntegral,
		Derivative: c.law.State.ControlErrorDerivative,
	}
}

// Status returns a human-readable summary.
func (c *Controller) Status() string {
	s := c.Snapshot()
	return fmt.Sprintf("  target: %.2f\n  output: %.2f\n  error: %.3f\n  integral: %.3f\n  derivative: %.3f\n",
		s.Target, s.Output, s.Error, s.Integral, s.Derivative)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
