// Package mqtt provides MQTT publishing and config command intake with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/espresso-controller/internal/logic"
)

// Topic is the MQTT topic for brew lifecycle events.
const Topic = "espresso/machine/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "espresso/machine/system"

// TopicConfigSet is the MQTT topic the daemon accepts configuration changes on.
const TopicConfigSet = "espresso/machine/config/set"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a brew event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Logger is the logging surface used by the package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Brew BrewPayload `json:"brew"`
}

// BrewPayload contains the brew event details.
type BrewPayload struct {
	Timestamp      string `json:"timestamp"`
	Event          string `json:"event"`
	From           string `json:"from"`
	State          string `json:"state"`
	ShotDurationMs int64  `json:"shot_duration_ms,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// FormatPayload creates the JSON payload for a brew event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Brew: BrewPayload{
			Timestamp:      event.Timestamp.UTC().Format(time.RFC3339),
			Event:          string(event.Trigger),
			From:           string(event.From),
			State:          string(event.To),
			ShotDurationMs: event.ShotDuration.Milliseconds(),
			Reason:         event.Reason,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
