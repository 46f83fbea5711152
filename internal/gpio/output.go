package gpio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/espresso-controller/internal/actuator"
)

// Switch is an on/off output: lights and the solenoid valve.
type Switch struct {
	name string
	out  Output

	mu sync.Mutex
	on bool
}

var _ actuator.Binary = (*Switch)(nil)

// NewSwitch wraps out. The switch assumes the line starts inactive.
func NewSwitch(name string, out Output) *Switch {
	return &Switch{name: name, out: out}
}

// SetState drives the line. On error the recorded state is unchanged.
func (s *Switch) SetState(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.out.SetValue(boolToValue(on)); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	s.on = on
	return nil
}

// State returns the last state written successfully.
func (s *Switch) State() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// PWM is a time-proportioned output for loads switched by a solid state
// relay: within every window the line is active for level% of the window.
// Step must be called at a resolution much finer than the window; Run does
// that.
type PWM struct {
	name   string
	out    Output
	window time.Duration

	mu      sync.Mutex
	level   float64
	start   time.Time
	on      bool
	written bool
	err     error
}

var _ actuator.Proportional = (*PWM)(nil)

// NewPWM wraps out with the given window.
func NewPWM(name string, out Output, window time.Duration) *PWM {
	if window <= 0 {
		window = time.Second
	}
	return &PWM{name: name, out: out, window: window}
}

// SetPowerLevel sets the duty cycle (0..100). The line itself is switched
// by Step; the error of the most recent line write is returned so a dead
// output is visible to the caller.
func (p *PWM) SetPowerLevel(level float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = actuator.ClampLevel(level)
	return p.err
}

// PowerLevel returns the duty cycle.
func (p *PWM) PowerLevel() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Step switches the line for the position of now within the current window.
func (p *PWM) Step(now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.start.IsZero() || now.Before(p.start) {
		p.start = now
	}
	phase := now.Sub(p.start) % p.window
	on := p.level >= actuator.MaxLevel ||
		(p.level > 0 && float64(phase) < p.level/actuator.MaxLevel*float64(p.window))

	if p.written && on == p.on {
		return nil
	}
	if err := p.out.SetValue(boolToValue(on)); err != nil {
		p.err = fmt.Errorf("%s: %w", p.name, err)
		return p.err
	}
	p.err = nil
	p.on = on
	p.written = true
	return nil
}

// Run steps the output at 1% of the window until ctx is cancelled, then
// drives the line inactive.
func (p *PWM) Run(ctx context.Context) error {
	res := p.window / 100
	if res < time.Millisecond {
		res = time.Millisecond
	}
	ticker := time.NewTicker(res)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.level = 0
			p.mu.Unlock()
			return p.out.SetValue(0)
		case now := <-ticker.C:
			// Write errors surface through SetPowerLevel.
			_ = p.Step(now)
		}
	}
}

// Active reports whether the line is currently driven.
func (p *PWM) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

func boolToValue(b bool) int {
	if b {
		return 1
	}
	return 0
}
