// Package logic contains the brew lifecycle state machine.
// This package has NO hardware or network dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"time"

	"github.com/sweeney/espresso-controller/internal/control"
)

// State is the brew lifecycle state.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateIdle          State = "IDLE"
	StateHeating       State = "HEATING"
	StatePreinfusion   State = "PREINFUSION"
	StateBrewing       State = "BREWING"
	StateSteaming      State = "STEAMING"
	StateSafetyOff     State = "SAFETY_OFF"
)

// Trigger names what caused a transition.
type Trigger string

const (
	TriggerStartup         Trigger = "STARTUP"
	TriggerPower           Trigger = "POWER"
	TriggerPump            Trigger = "PUMP"
	TriggerPumpReleased    Trigger = "PUMP_RELEASED"
	TriggerSteam           Trigger = "STEAM"
	TriggerSteamReleased   Trigger = "STEAM_RELEASED"
	TriggerPreinfusionDone Trigger = "PREINFUSION_DONE"
	TriggerAnomaly         Trigger = "ANOMALY"
)

// Event represents a state transition to be published.
type Event struct {
	Timestamp time.Time
	From      State
	To        State
	Trigger   Trigger
	// ShotDuration is set when a shot ends (leaving BREWING).
	ShotDuration time.Duration
	// Reason is the anomaly description for transitions into SAFETY_OFF.
	Reason string
}

// Buttons is a snapshot of the front panel.
// Power is the latched press; Pump and Steam are held levels.
type Buttons struct {
	Power bool
	Pump  bool
	Steam bool
}

// Panel is the button/light collaborator.
type Panel interface {
	Buttons() Buttons
	ClearPowerLatch()
	SetPowerLight(on bool)
	SetPumpLight(on bool)
	SetSteamLight(on bool)
}

// Controls is the part of the control module the state machine drives.
type Controls interface {
	Configuration() control.Configuration
	SetTemperatureTarget(t float64)
	SetPressureTarget(p float64)
	OpenSolenoid()
	CloseSolenoid()
	TurnOnHeater()
	ShutOffHeater()
	TemperatureAnomalyDetected() bool
	AnomalyReason() string
}

// EventCounts tracks activity since startup.
type EventCounts struct {
	PowerOns      int `json:"power_ons"`
	Shots         int `json:"shots"`
	SteamSessions int `json:"steam_sessions"`
	SafetyTrips   int `json:"safety_trips"`
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	State     State
	Counts    EventCounts
}

// Snapshot is a point-in-time view of the machine.
type Snapshot struct {
	State        State         `json:"state"`
	Since        time.Time     `json:"since"`
	BrewTimer    time.Duration `json:"brew_timer_ns,omitempty"`
	LastShot     time.Duration `json:"last_shot_ns,omitempty"`
	SafetyReason string        `json:"safety_reason,omitempty"`
	Counts       EventCounts   `json:"counts"`
}
