package logic

import (
	"sync"

	"github.com/sweeney/espresso-controller/internal/control"
)

// FakePanel is a test double for the front panel.
type FakePanel struct {
	mu sync.Mutex

	// Pressed is the snapshot returned by Buttons.
	Pressed Buttons

	PowerLight bool
	PumpLight  bool
	SteamLight bool

	// LatchClears counts ClearPowerLatch calls.
	LatchClears int
}

// Press sets the button snapshot.
func (p *FakePanel) Press(b Buttons) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Pressed = b
}

// Buttons returns the scripted snapshot.
func (p *FakePanel) Buttons() Buttons {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Pressed
}

// ClearPowerLatch releases the latched power press.
func (p *FakePanel) ClearPowerLatch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Pressed.Power = false
	p.LatchClears++
}

func (p *FakePanel) SetPowerLight(on bool) { p.mu.Lock(); p.PowerLight = on; p.mu.Unlock() }
func (p *FakePanel) SetPumpLight(on bool)  { p.mu.Lock(); p.PumpLight = on; p.mu.Unlock() }
func (p *FakePanel) SetSteamLight(on bool) { p.mu.Lock(); p.SteamLight = on; p.mu.Unlock() }

// Lights returns the three light states.
func (p *FakePanel) Lights() (power, pump, steam bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PowerLight, p.PumpLight, p.SteamLight
}

// FakeControls records what the state machine commands.
type FakeControls struct {
	mu sync.Mutex

	Config control.Configuration

	TemperatureTarget float64
	PressureTarget    float64
	SolenoidOpen      bool
	HeaterEnabled     bool

	Anomaly bool
	Reason  string
}

// NewFakeControls returns controls loaded with cfg.
func NewFakeControls(cfg control.Configuration) *FakeControls {
	return &FakeControls{Config: cfg}
}

// TripAnomaly makes the anomaly predicate report true.
func (c *FakeControls) TripAnomaly(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Anomaly = true
	c.Reason = reason
}

func (c *FakeControls) Configuration() control.Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Config
}

func (c *FakeControls) SetTemperatureTarget(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TemperatureTarget = t
}

func (c *FakeControls) SetPressureTarget(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PressureTarget = p
}

func (c *FakeControls) OpenSolenoid()  { c.mu.Lock(); c.SolenoidOpen = true; c.mu.Unlock() }
func (c *FakeControls) CloseSolenoid() { c.mu.Lock(); c.SolenoidOpen = false; c.mu.Unlock() }
func (c *FakeControls) TurnOnHeater()  { c.mu.Lock(); c.HeaterEnabled = true; c.mu.Unlock() }

func (c *FakeControls) ShutOffHeater() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HeaterEnabled = false
	c.TemperatureTarget = 0
}

func (c *FakeControls) TemperatureAnomalyDetected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Anomaly
}

func (c *FakeControls) AnomalyReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Reason
}
