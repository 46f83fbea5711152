// Package status provides a thread-safe status tracker for the espresso
// controller daemon. It is read by the HTTP handlers and by the MQTT system
// events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/espresso-controller/internal/control"
	"github.com/sweeney/espresso-controller/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Driver        string // hardware driver: gpio or sim
	ControlTickMs int64
	MachineTickMs int64
	HeartbeatMs   int64
	Store         string
	Broker        string
	HTTPAddr      string
	WSBroker      string // Websocket broker URL for browser MQTT (empty = disabled)
	Telemetry     bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a copy and safe to use after the lock is released.
type Snapshot struct {
	Machine       logic.Snapshot
	Control       control.Snapshot
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	MQTTDropped   uint64
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether the state machine has left UNINITIALIZED.
func (s Snapshot) Ready() bool {
	return s.Machine.State != "" && s.Machine.State != logic.StateUninitialized
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Machine:   logic.Snapshot{State: logic.StateUninitialized},
		},
	}
}

// Update records the latest machine and control snapshots.
// Called from the state-machine task on every tick.
func (t *Tracker) Update(machine logic.Snapshot, ctrl control.Snapshot) {
	t.mu.Lock()
	t.snap.Machine = machine
	t.snap.Control = ctrl
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetMQTTDropped records how many events the publish queue has discarded.
func (t *Tracker) SetMQTTDropped(n uint64) {
	t.mu.Lock()
	t.snap.MQTTDropped = n
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
