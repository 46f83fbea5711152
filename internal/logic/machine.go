package logic

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Machine sequences the brew lifecycle. Tick is called from a single task;
// State, Status, Snapshot and CheckHeartbeat may be called concurrently.
type Machine struct {
	controls Controls
	panel    Panel

	mu            sync.RWMutex
	state         State
	since         time.Time
	lastTick      time.Time
	brewStart     time.Time
	lastShot      time.Duration
	safetyReason  string
	counts        EventCounts
	startTime     time.Time
	lastHeartbeat time.Time
}

// NewMachine creates a machine in UNINITIALIZED. The startTime is used for
// calculating uptime in heartbeat events.
func NewMachine(controls Controls, panel Panel, startTime time.Time) *Machine {
	return &Machine{
		controls:      controls,
		panel:         panel,
		state:         StateUninitialized,
		since:         startTime,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Tick evaluates one step of the lifecycle and returns the transition taken,
// if any. The anomaly predicate is checked before any button input.
func (m *Machine) Tick(now time.Time) []Event {
	buttons := m.panel.Buttons()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTick = now

	if m.state != StateSafetyOff && m.controls.TemperatureAnomalyDetected() {
		return []Event{m.safetyOff(now)}
	}

	from := m.state
	var trigger Trigger

	switch m.state {
	case StateUninitialized:
		m.state = StateIdle
		trigger = TriggerStartup

	case StateIdle:
		if buttons.Power {
			m.panel.ClearPowerLatch()
			m.panel.SetPowerLight(true)
			m.controls.TurnOnHeater()
			m.enterHeating()
			m.counts.PowerOns++
			trigger = TriggerPower
		}

	case StateHeating:
		switch {
		case buttons.Power:
			m.goIdle()
			trigger = TriggerPower
		case buttons.Pump:
			m.panel.SetPumpLight(true)
			m.controls.SetPressureTarget(m.controls.Configuration().PreinfusionPressure)
			m.controls.OpenSolenoid()
			m.brewStart = now
			m.state = StatePreinfusion
			trigger = TriggerPump
		case buttons.Steam:
			m.panel.SetSteamLight(true)
			m.controls.SetPressureTarget(0)
			m.controls.CloseSolenoid()
			m.controls.SetTemperatureTarget(m.controls.Configuration().SteamTemperature)
			m.state = StateSteaming
			m.counts.SteamSessions++
			trigger = TriggerSteam
		}

	case StatePreinfusion:
		cfg := m.controls.Configuration()
		switch {
		case buttons.Power:
			m.goIdle()
			trigger = TriggerPower
		case !buttons.Pump:
			m.enterHeating()
			trigger = TriggerPumpReleased
		case now.Sub(m.brewStart) >= cfg.PreinfusionTime:
			m.controls.SetPressureTarget(cfg.BrewPressure)
			m.state = StateBrewing
			trigger = TriggerPreinfusionDone
		}

	case StateBrewing:
		switch {
		case buttons.Power:
			m.goIdle()
			trigger = TriggerPower
		case !buttons.Pump:
			m.enterHeating()
			trigger = TriggerPumpReleased
		}

	case StateSteaming:
		// The pump button is ignored while steaming.
		switch {
		case buttons.Power:
			m.goIdle()
			trigger = TriggerPower
		case !buttons.Steam:
			m.enterHeating()
			trigger = TriggerSteamReleased
		}

	case StateSafetyOff:
		// Sink state: only a restart leaves it.
	}

	if trigger == "" {
		return nil
	}

	ev := Event{Timestamp: now, From: from, To: m.state, Trigger: trigger}
	if from == StateBrewing {
		ev.ShotDuration = now.Sub(m.brewStart)
		m.lastShot = ev.ShotDuration
		m.counts.Shots++
	}
	m.since = now
	return []Event{ev}
}

func (m *Machine) goIdle() {
	m.panel.ClearPowerLatch()
	m.panel.SetPowerLight(false)
	m.panel.SetPumpLight(false)
	m.panel.SetSteamLight(false)
	m.controls.CloseSolenoid()
	m.controls.ShutOffHeater()
	m.controls.SetPressureTarget(0)
	m.controls.SetTemperatureTarget(0)
	m.state = StateIdle
}

func (m *Machine) enterHeating() {
	m.panel.SetPumpLight(false)
	m.panel.SetSteamLight(false)
	m.controls.SetPressureTarget(0)
	m.controls.CloseSolenoid()
	m.controls.SetTemperatureTarget(m.controls.Configuration().BrewTemperature)
	m.state = StateHeating
}

// safetyOff fails open: heater off, solenoid open, pump stopped.
func (m *Machine) safetyOff(now time.Time) Event {
	from := m.state
	m.controls.ShutOffHeater()
	m.controls.OpenSolenoid()
	m.controls.SetPressureTarget(0)

	m.state = StateSafetyOff
	m.since = now
	m.safetyReason = m.controls.AnomalyReason()
	m.counts.SafetyTrips++

	return Event{
		Timestamp: now,
		From:      from,
		To:        StateSafetyOff,
		Trigger:   TriggerAnomaly,
		Reason:    m.safetyReason,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the current state with timers and counters. Timers are
// measured against the most recent tick.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		State:        m.state,
		Since:        m.since,
		LastShot:     m.lastShot,
		SafetyReason: m.safetyReason,
		Counts:       m.counts,
	}
	if m.state == StatePreinfusion || m.state == StateBrewing {
		s.BrewTimer = m.lastTick.Sub(m.brewStart)
	}
	return s
}

// Status returns the state name, with the brew timer while a shot is running.
func (m *Machine) Status() string {
	s := m.Snapshot()
	switch s.State {
	case StatePreinfusion, StateBrewing:
		return fmt.Sprintf("%s\nBrew timer: %.0fs", s.State, math.Round(s.BrewTimer.Seconds()))
	case StateSafetyOff:
		if s.SafetyReason != "" {
			return "SAFETY OFF\nReason: " + s.SafetyReason
		}
		return "SAFETY OFF"
	default:
		return string(s.State)
	}
}

// EventCountsSnapshot returns a copy of the counters.
func (m *Machine) EventCountsSnapshot() EventCounts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the machine has not started, if
// the interval has not elapsed, or if interval is <= 0 (disabled).
func (m *Machine) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateUninitialized {
		return nil
	}
	if now.Sub(m.lastHeartbeat) < interval {
		return nil
	}

	m.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(m.startTime),
		State:     m.state,
		Counts:    m.counts,
	}
}
