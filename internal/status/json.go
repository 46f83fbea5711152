package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/espresso-controller/internal/control"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	State         string         `json:"state"`
	Ready         bool           `json:"ready"`
	BrewTimerMs   int64          `json:"brew_timer_ms,omitempty"`
	LastShotMs    int64          `json:"last_shot_ms,omitempty"`
	SafetyReason  string         `json:"safety_reason,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	Temperature   LoopJSON       `json:"temperature"`
	Pressure      LoopJSON       `json:"pressure"`
	Flow          *LoopJSON      `json:"flow,omitempty"`
	Outputs       OutputsJSON    `json:"outputs"`
	Brew          BrewConfigJSON `json:"brew_config"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        CountsJSON     `json:"event_counts"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// LoopJSON is the JSON representation of one sensor/controller pair.
type LoopJSON struct {
	Raw      float64 `json:"raw"`
	Smoothed float64 `json:"smoothed"`
	Target   float64 `json:"target"`
	Output   float64 `json:"output"`
	Error    string  `json:"error,omitempty"`
}

// OutputsJSON reports actuator state.
type OutputsJSON struct {
	HeaterEnabled bool    `json:"heater_enabled"`
	HeaterPower   float64 `json:"heater_power"`
	PumpPower     float64 `json:"pump_power"`
	PumpMode      string  `json:"pump_mode"`
	SolenoidOpen  bool    `json:"solenoid_open"`
}

// BrewConfigJSON is the persisted brew configuration.
type BrewConfigJSON struct {
	BrewTemperature     float64 `json:"brew_temperature"`
	SteamTemperature    float64 `json:"steam_temperature"`
	BrewPressure        float64 `json:"brew_pressure"`
	PreinfusionPressure float64 `json:"preinfusion_pressure"`
	PreinfusionTimeMs   int64   `json:"preinfusion_time_ms"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Dropped   uint64 `json:"dropped,omitempty"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	PowerOns      int `json:"power_ons"`
	Shots         int `json:"shots"`
	SteamSessions int `json:"steam_sessions"`
	SafetyTrips   int `json:"safety_trips"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Driver        string `json:"driver"`
	ControlTickMs int64  `json:"control_tick_ms"`
	MachineTickMs int64  `json:"machine_tick_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Store         string `json:"store"`
	Broker        string `json:"broker"`
	HTTPAddr      string `json:"http_addr"`
	WSBroker      string `json:"ws_broker,omitempty"`
	Telemetry     bool   `json:"telemetry"`
}

func loopJSON(l control.LoopSnapshot) LoopJSON {
	return LoopJSON{
		Raw:      l.Raw,
		Smoothed: l.Smoothed,
		Target:   l.Target,
		Output:   l.Output,
		Error:    l.SensorError,
	}
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.Machine.State)
	if state == "" {
		state = "UNKNOWN"
	}
	ctrl := snap.Control
	cfg := ctrl.Configuration

	inner := StatusInner{
		State:         state,
		Ready:         snap.Ready(),
		BrewTimerMs:   snap.Machine.BrewTimer.Milliseconds(),
		LastShotMs:    snap.Machine.LastShot.Milliseconds(),
		SafetyReason:  snap.Machine.SafetyReason,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Temperature:   loopJSON(ctrl.Temperature),
		Pressure:      loopJSON(ctrl.Pressure),
		Outputs: OutputsJSON{
			HeaterEnabled: ctrl.HeaterEnabled,
			HeaterPower:   ctrl.HeaterPower,
			PumpPower:     ctrl.PumpPower,
			PumpMode:      ctrl.Mode.String(),
			SolenoidOpen:  ctrl.SolenoidOpen,
		},
		Brew: BrewConfigJSON{
			BrewTemperature:     cfg.BrewTemperature,
			SteamTemperature:    cfg.SteamTemperature,
			BrewPressure:        cfg.BrewPressure,
			PreinfusionPressure: cfg.PreinfusionPressure,
			PreinfusionTimeMs:   cfg.PreinfusionTime.Milliseconds(),
		},
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Dropped:   snap.MQTTDropped,
		},
		Counts: CountsJSON{
			PowerOns:      snap.Machine.Counts.PowerOns,
			Shots:         snap.Machine.Counts.Shots,
			SteamSessions: snap.Machine.Counts.SteamSessions,
			SafetyTrips:   snap.Machine.Counts.SafetyTrips,
		},
		Config: ConfigJSON{
			Driver:        snap.Config.Driver,
			ControlTickMs: snap.Config.ControlTickMs,
			MachineTickMs: snap.Config.MachineTickMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Store:         snap.Config.Store,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
			WSBroker:      snap.Config.WSBroker,
			Telemetry:     snap.Config.Telemetry,
		},
	}
	if ctrl.Flow != nil {
		f := loopJSON(*ctrl.Flow)
		inner.Flow = &f
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
