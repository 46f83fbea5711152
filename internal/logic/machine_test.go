package logic

import (
	"strings"
	"testing"
	"time"

	"github.com/sweeney/espresso-controller/internal/control"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const tick = 100 * time.Millisecond

func exampleConfig() control.Configuration {
	return control.Configuration{
		BrewTemperature:     93.0,
		SteamTemperature:    140.0,
		BrewPressure:        9.0,
		PreinfusionPressure: 2.5,
		PreinfusionTime:     5000 * time.Millisecond,
	}
}

func newTestMachine() (*Machine, *FakeControls, *FakePanel) {
	c := NewFakeControls(exampleConfig())
	p := &FakePanel{}
	return NewMachine(c, p, start), c, p
}

// driveTo ticks a fresh machine into target and returns the time of the last tick.
func driveTo(t *testing.T, m *Machine, p *FakePanel, target State) time.Time {
	t.Helper()
	now := start
	step := func(b Buttons) {
		p.Press(b)
		now = now.Add(tick)
		m.Tick(now)
	}

	m.Tick(now)
	switch target {
	case StateIdle:
	case StateHeating:
		step(Buttons{Power: true})
	case StatePreinfusion:
		step(Buttons{Power: true})
		step(Buttons{Pump: true})
	case StateBrewing:
		step(Buttons{Power: true})
		step(Buttons{Pump: true})
		now = now.Add(5 * time.Second)
		m.Tick(now)
	case StateSteaming:
		step(Buttons{Power: true})
		step(Buttons{Steam: true})
	default:
		t.Fatalf("driveTo: unsupported target %s", target)
	}

	if got := m.State(); got != target {
		t.Fatalf("driveTo: got state %s, want %s", got, target)
	}
	return now
}

func expectTransition(t *testing.T, events []Event, from, to State, trigger Trigger) Event {
	t.Helper()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.From != from || e.To != to || e.Trigger != trigger {
		t.Errorf("expected %s -(%s)-> %s, got %s -(%s)-> %s", from, trigger, to, e.From, e.Trigger, e.To)
	}
	return e
}

func expectAllOff(t *testing.T, c *FakeControls, p *FakePanel) {
	t.Helper()
	if c.HeaterEnabled {
		t.Error("heater should be off")
	}
	if c.SolenoidOpen {
		t.Error("solenoid should be closed")
	}
	if c.TemperatureTarget != 0 || c.PressureTarget != 0 {
		t.Errorf("targets should be zero, got temp=%v pressure=%v", c.TemperatureTarget, c.PressureTarget)
	}
	if power, pump, steam := p.Lights(); power || pump || steam {
		t.Errorf("lights should be off, got power=%v pump=%v steam=%v", power, pump, steam)
	}
}

func TestNewMachine(t *testing.T) {
	m, _, _ := newTestMachine()
	if m.State() != StateUninitialized {
		t.Errorf("expected UNINITIALIZED, got %s", m.State())
	}
}

func TestFirstTickGoesIdle(t *testing.T) {
	m, c, p := newTestMachine()
	p.Press(Buttons{Power: true, Pump: true})

	events := m.Tick(start)
	expectTransition(t, events, StateUninitialized, StateIdle, TriggerStartup)

	if c.HeaterEnabled || c.SolenoidOpen || c.TemperatureTarget != 0 || c.PressureTarget != 0 {
		t.Errorf("first tick should have no side effects: %+v", c)
	}
	if p.LatchClears != 0 {
		t.Error("first tick should not touch the power latch")
	}
}

func TestIdleIgnoresPumpAndSteam(t *testing.T) {
	m, c, p := newTestMachine()
	now := driveTo(t, m, p, StateIdle)

	p.Press(Buttons{Pump: true, Steam: true})
	for i := 0; i < 5; i++ {
		now = now.Add(tick)
		if events := m.Tick(now); len(events) != 0 {
			t.Fatalf("expected no events, got %+v", events)
		}
	}
	if m.State() != StateIdle {
		t.Errorf("expected IDLE, got %s", m.State())
	}
	if c.SolenoidOpen || c.PressureTarget != 0 {
		t.Error("idle must not drive the pump path")
	}
}

func TestIdlePowerToHeating(t *testing.T) {
	m, c, p := newTestMachine()
	now := driveTo(t, m, p, StateIdle)
	c.SolenoidOpen = true
	c.PressureTarget = 4

	p.Press(Buttons{Power: true})
	events := m.Tick(now.Add(tick))
	expectTransition(t, events, StateIdle, StateHeating, TriggerPower)

	if c.TemperatureTarget != 93.0 {
		t.Errorf("temperature target: got %v, want 93.0", c.TemperatureTarget)
	}
	if !c.HeaterEnabled {
		t.Error("heater should be on")
	}
	if c.SolenoidOpen {
		t.Error("solenoid should be closed")
	}
	if c.PressureTarget != 0 {
		t.Errorf("pressure target: got %v, want 0", c.PressureTarget)
	}
	power, pump, steam := p.Lights()
	if !power || pump || steam {
		t.Errorf("lights: got power=%v pump=%v steam=%v", power, pump, steam)
	}
	if p.LatchClears != 1 || p.Buttons().Power {
		t.Error("power latch should be cleared")
	}
}

func TestHeatingPowerToIdle(t *testing.T) {
	m, c, p := newTestMachine()
	now := driveTo(t, m, p, StateHeating)

	p.Press(Buttons{Power: true})
	events := m.Tick(now.Add(tick))
	expectTransition(t, events, StateHeating, StateIdle, TriggerPower)
	expectAllOff(t, c, p)
	if p.Buttons().Power {
		t.Error("power latch should be cleared")
	}
}

func TestHeatingPumpToPreinfusion(t *testing.T) {
	m, c, p := newTestMachine()
	now := driveTo(t, m, p, StateHeating)

	p.Press(Buttons{Pump: true})
	events := m.Tick(now.Add(tick))
	expectTransition(t, events, StateHeating, StatePreinfusion, TriggerPump)

	if c.PressureTarget != 2.5 {
		t.Errorf("pressure target: got %v, want 2.5", c.PressureTarget)
	}
	if !c.SolenoidOpen {
		t.Error("solenoid should be open")
	}
	if _, pump, _ := p.Lights(); !pump {
		t.Error("pump light should be on")
	}
	if c.TemperatureTarget != 93.0 {
		t.Errorf("temperature target should stay at brew, got %v", c.TemperatureTarget)
	}
}

func TestPreinfusionToBrewingAfterConfiguredTime(t *testing.T) {
	m, c, p := newTestMachine()
	entered := driveTo(t, m, p, StatePreinfusion)

	if events := m.Tick(entered.Add(4999 * time.Millisecond)); len(events) != 0 {
		t.Fatalf("expected no events before pre-infusion time, got %+v", events)
	}
	if m.State() != StatePreinfusion {
		t.Fatalf("expected PREINFUSION, got %s", m.State())
	}
	if c.PressureTarget != 2.5 {
		t.Errorf("pressure target: got %v, want 2.5", c.PressureTarget)
	}

	events := m.Tick(entered.Add(5000 * time.Millisecond))
	expectTransition(t, events, StatePreinfusion, StateBrewing, TriggerPreinfusionDone)
	if c.PressureTarget != 9.0 {
		t.Errorf("pressure target: got %v, want 9.0", c.PressureTarget)
	}
	if !c.SolenoidOpen {
		t.Error("solenoid should stay open while brewing")
	}
}

func TestPumpReleasedRevertsToHeating(t *testing.T) {
	for _, from := range []State{StatePreinfusion, StateBrewing} {
		from := from
		t.Run(string(from), func(t *testing.T) {
			m, c, p := newTestMachine()
			now := driveTo(t, m, p, from)

			p.Press(Buttons{})
			events := m.Tick(now.Add(tick))
			expectTransition(t, events, from, StateHeating, TriggerPumpReleased)

			if c.PressureTarget != 0 {
				t.Errorf("pressure target: got %v, want 0", c.PressureTarget)
			}
			if c.SolenoidOpen {
				t.Error("solenoid should be closed")
			}
			if c.TemperatureTarget != 93.0 {
				t.Errorf("temperature target: got %v, want 93.0", c.TemperatureTarget)
			}
			if !c.HeaterEnabled {
				t.Error("heater should stay on")
			}
			power, pump, steam := p.Lights()
			if !power || pump || steam {
				t.Errorf("lights: got power=%v pump=%v steam=%v", power, pump, steam)
			}
		})
	}
}

func TestShotDurationRecorded(t *testing.T) {
	m, _, p := newTestMachine()
	now := driveTo(t, m, p, StateBrewing)
	// Entered pre-infusion 5s before BREWING.
	now = now.Add(20 * time.Second)

	p.Press(Buttons{})
	e := expectTransition(t, m.Tick(now), StateBrewing, StateHeating, TriggerPumpReleased)
	if e.ShotDuration != 25*time.Second {
		t.Errorf("shot duration: got %v, want 25s", e.ShotDuration)
	}

	s := m.Snapshot()
	if s.LastShot != 25*time.Second {
		t.Errorf("last shot: got %v, want 25s", s.LastShot)
	}
	if s.Counts.Shots != 1 {
		t.Errorf("shots: got %d, want 1", s.Counts.Shots)
	}
}

func TestPowerFromActiveStatesGoesIdle(t *testing.T) {
	for _, from := range []State{StatePreinfusion, StateBrewing, StateSteaming} {
		from := from
		t.Run(string(from), func(t *testing.T) {
			m, c, p := newTestMachine()
			now := driveTo(t, m, p, from)

			p.Press(Buttons{Power: true, Pump: true, Steam: true})
			events := m.Tick(now.Add(tick))
			expectTransition(t, events, from, StateIdle, TriggerPower)
			expectAllOff(t, c, p)
		})
	}
}

func TestHeatingSteamToSteaming(t *testing.T) {
	m, c, p := newTestMachine()
	now := driveTo(t, m, p, StateHeating)

	p.Press(Buttons{Steam: true})
	events := m.Tick(now.Add(tick))
	expectTransition(t, events, StateHeating, StateSteaming, TriggerSteam)

	if c.TemperatureTarget != 140.0 {
		t.Errorf("temperature target: got %v, want 140.0", c.TemperatureTarget)
	}
	if c.PressureTarget != 0 {
		t.Errorf("pressure target: got %v, want 0", c.PressureTarget)
	}
	if c.SolenoidOpen {
		t.Error("solenoid should be closed")
	}
	if _, _, steam := p.Lights(); !steam {
		t.Error("steam light should be on")
	}
	if m.EventCountsSnapshot().SteamSessions != 1 {
		t.Error("steam session should be counted")
	}
}

func TestSteamingIgnoresPump(t *testing.T) {
	m, c, p := newTestMachine()
	now := driveTo(t, m, p, StateSteaming)

	p.Press(Buttons{Steam: true, Pump: true})
	for i := 0; i < 100; i++ {
		now = now.Add(tick)
		if events := m.Tick(now); len(events) != 0 {
			t.Fatalf("expected pump to be ignored while steaming, got %+v", events)
		}
	}
	if m.State() != StateSteaming {
		t.Errorf("expected STEAMING, got %s", m.State())
	}
	if c.PressureTarget != 0 || c.SolenoidOpen {
		t.Errorf("pump path must stay idle: pressure=%v solenoid=%v", c.PressureTarget, c.SolenoidOpen)
	}
	if _, pump, _ := p.Lights(); pump {
		t.Error("pump light should stay off")
	}
}

func TestSteamReleasedRevertsToHeating(t *testing.T) {
	m, c, p := newTestMachine()
	now := driveTo(t, m, p, StateSteaming)

	p.Press(Buttons{})
	events := m.Tick(now.Add(tick))
	expectTransition(t, events, StateSteaming, StateHeating, TriggerSteamReleased)

	if c.TemperatureTarget != 93.0 {
		t.Errorf("temperature target: got %v, want 93.0", c.TemperatureTarget)
	}
	if _, _, steam := p.Lights(); steam {
		t.Error("steam light should be off")
	}
}

func TestHeatingButtonPriority(t *testing.T) {
	tests := []struct {
		name    string
		buttons Buttons
		want    State
	}{
		{"power beats pump and steam", Buttons{Power: true, Pump: true, Steam: true}, StateIdle},
		{"pump beats steam", Buttons{Pump: true, Steam: true}, StatePreinfusion},
		{"steam alone", Buttons{Steam: true}, StateSteaming},
		{"nothing", Buttons{}, StateHeating},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m, _, p := newTestMachine()
			now := driveTo(t, m, p, StateHeating)
			p.Press(tt.buttons)
			m.Tick(now.Add(tick))
			if m.State() != tt.want {
				t.Errorf("got %s, want %s", m.State(), tt.want)
			}
		})
	}
}

func TestReenteringPreinfusionRestartsTimer(t *testing.T) {
	m, _, p := newTestMachine()
	now := driveTo(t, m, p, StatePreinfusion)

	now = now.Add(4 * time.Second)
	m.Tick(now)
	p.Press(Buttons{})
	now = now.Add(tick)
	m.Tick(now)
	p.Press(Buttons{Pump: true})
	now = now.Add(tick)
	m.Tick(now)
	if m.State() != StatePreinfusion {
		t.Fatalf("expected PREINFUSION, got %s", m.State())
	}

	m.Tick(now.Add(4 * time.Second))
	if m.State() != StatePreinfusion {
		t.Errorf("timer should restart on re-entry, got %s", m.State())
	}
}

func TestConfigurationChangeAppliesOnNextTransition(t *testing.T) {
	m, c, p := newTestMachine()
	now := driveTo(t, m, p, StateHeating)

	c.mu.Lock()
	c.Config.BrewTemperature = 95
	c.mu.Unlock()

	now = now.Add(tick)
	m.Tick(now)
	if c.TemperatureTarget != 93.0 {
		t.Errorf("live target should not change without a transition, got %v", c.TemperatureTarget)
	}

	p.Press(Buttons{Steam: true})
	now = now.Add(tick)
	m.Tick(now)
	p.Press(Buttons{})
	m.Tick(now.Add(tick))
	if c.TemperatureTarget != 95 {
		t.Errorf("temperature target: got %v, want 95", c.TemperatureTarget)
	}
}

func TestAnomalyFromEveryState(t *testing.T) {
	states := []State{StateUninitialized, StateIdle, StateHeating, StatePreinfusion, StateBrewing, StateSteaming}
	for _, from := range states {
		from := from
		t.Run(string(from), func(t *testing.T) {
			m, c, p := newTestMachine()
			now := start
			if from != StateUninitialized {
				now = driveTo(t, m, p, from)
			}

			c.TripAnomaly("heater: not heating at expected rate")
			p.Press(Buttons{Power: true, Pump: true, Steam: true})
			events := m.Tick(now.Add(tick))
			e := expectTransition(t, events, from, StateSafetyOff, TriggerAnomaly)

			if e.Reason != "heater: not heating at expected rate" {
				t.Errorf("reason: got %q", e.Reason)
			}
			if c.HeaterEnabled {
				t.Error("heater should be shut off")
			}
			if c.TemperatureTarget != 0 {
				t.Errorf("temperature target: got %v, want 0", c.TemperatureTarget)
			}
			if !c.SolenoidOpen {
				t.Error("solenoid should fail open")
			}
			if c.PressureTarget != 0 {
				t.Errorf("pressure target: got %v, want 0", c.PressureTarget)
			}
			if m.EventCountsSnapshot().SafetyTrips != 1 {
				t.Error("safety trip should be counted")
			}
		})
	}
}

func TestAnomalyPreemptsTimedTransition(t *testing.T) {
	m, c, p := newTestMachine()
	entered := driveTo(t, m, p, StatePreinfusion)

	c.TripAnomaly("temperature sensor: reading frozen")
	m.Tick(entered.Add(5 * time.Second))

	if m.State() != StateSafetyOff {
		t.Errorf("expected SAFETY_OFF, got %s", m.State())
	}
	if c.PressureTarget != 0 {
		t.Errorf("pressure target: got %v, want 0", c.PressureTarget)
	}
}

func TestSafetyOffIsSticky(t *testing.T) {
	m, c, p := newTestMachine()
	now := driveTo(t, m, p, StateBrewing)

	c.TripAnomaly("temperature sensor: reading 250.0 outside [0.0, 200.0]")
	now = now.Add(tick)
	m.Tick(now)

	// Even if the predicate were to clear, no input leaves SAFETY_OFF.
	c.mu.Lock()
	c.Anomaly = false
	c.mu.Unlock()

	inputs := []Buttons{
		{}, {Power: true}, {Pump: true}, {Steam: true},
		{Power: true, Pump: true}, {Pump: true, Steam: true}, {Power: true, Pump: true, Steam: true},
	}
	for i := 0; i < 10; i++ {
		for _, b := range inputs {
			p.Press(b)
			now = now.Add(tick)
			if events := m.Tick(now); len(events) != 0 {
				t.Fatalf("SAFETY_OFF must not emit events, got %+v", events)
			}
		}
	}

	if m.State() != StateSafetyOff {
		t.Errorf("expected SAFETY_OFF, got %s", m.State())
	}
	if c.HeaterEnabled || !c.SolenoidOpen {
		t.Errorf("outputs changed in SAFETY_OFF: heater=%v solenoid=%v", c.HeaterEnabled, c.SolenoidOpen)
	}
	if m.EventCountsSnapshot().SafetyTrips != 1 {
		t.Error("a latched trip is counted once")
	}
}

func TestStatus(t *testing.T) {
	m, c, p := newTestMachine()
	if m.Status() != "UNINITIALIZED" {
		t.Errorf("got %q", m.Status())
	}

	now := driveTo(t, m, p, StatePreinfusion)
	m.Tick(now.Add(3 * time.Second))
	if got := m.Status(); got != "PREINFUSION\nBrew timer: 3s" {
		t.Errorf("got %q", got)
	}

	c.TripAnomaly("temperature sensor: non-finite reading")
	m.Tick(now.Add(4 * time.Second))
	got := m.Status()
	if !strings.HasPrefix(got, "SAFETY OFF") || !strings.Contains(got, "non-finite") {
		t.Errorf("got %q", got)
	}
}

func TestSnapshotBrewTimer(t *testing.T) {
	m, _, p := newTestMachine()
	now := driveTo(t, m, p, StateHeating)
	if s := m.Snapshot(); s.BrewTimer != 0 || s.State != StateHeating {
		t.Errorf("unexpected snapshot: %+v", s)
	}

	p.Press(Buttons{Pump: true})
	entered := now.Add(tick)
	m.Tick(entered)
	m.Tick(entered.Add(1500 * time.Millisecond))

	s := m.Snapshot()
	if s.BrewTimer != 1500*time.Millisecond {
		t.Errorf("brew timer: got %v, want 1.5s", s.BrewTimer)
	}
	if !s.Since.Equal(entered) {
		t.Errorf("since: got %v, want %v", s.Since, entered)
	}
}

func TestCheckHeartbeat(t *testing.T) {
	m, _, p := newTestMachine()

	if hb := m.CheckHeartbeat(start.Add(time.Hour), time.Minute); hb != nil {
		t.Error("no heartbeat before the first tick")
	}

	driveTo(t, m, p, StateHeating)

	if hb := m.CheckHeartbeat(start.Add(time.Hour), 0); hb != nil {
		t.Error("interval 0 disables heartbeats")
	}
	if hb := m.CheckHeartbeat(start.Add(30*time.Second), time.Minute); hb != nil {
		t.Error("no heartbeat before the interval")
	}

	hb := m.CheckHeartbeat(start.Add(time.Minute), time.Minute)
	if hb == nil {
		t.Fatal("expected heartbeat")
	}
	if hb.Uptime != time.Minute {
		t.Errorf("uptime: got %v, want 1m", hb.Uptime)
	}
	if hb.State != StateHeating {
		t.Errorf("state: got %s", hb.State)
	}
	if hb.Counts.PowerOns != 1 {
		t.Errorf("power ons: got %d, want 1", hb.Counts.PowerOns)
	}

	if hb := m.CheckHeartbeat(start.Add(90*time.Second), time.Minute); hb != nil {
		t.Error("interval restarts after a heartbeat")
	}
	if hb := m.CheckHeartbeat(start.Add(2*time.Minute), time.Minute); hb == nil {
		t.Error("expected second heartbeat")
	}
}
