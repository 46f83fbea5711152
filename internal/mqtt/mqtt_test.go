package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/espresso-controller/internal/logic"
)

func TestFormatPayload(t *testing.T) {
	event := logic.Event{
		Timestamp:    time.Date(2026, 3, 1, 7, 12, 30, 0, time.UTC),
		From:         logic.StateBrewing,
		To:           logic.StateHeating,
		Trigger:      logic.TriggerPumpReleased,
		ShotDuration: 27500 * time.Millisecond,
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"brew":{"timestamp":"2026-03-01T07:12:30Z","event":"PUMP_RELEASED","from":"BREWING","state":"HEATING","shot_duration_ms":27500}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatPayloadTransitions(t *testing.T) {
	tests := []struct {
		trigger   logic.Trigger
		from, to  logic.State
		reason    string
		wantEvent string
		wantState string
	}{
		{logic.TriggerPower, logic.StateIdle, logic.StateHeating, "", "POWER", "HEATING"},
		{logic.TriggerPump, logic.StateHeating, logic.StatePreinfusion, "", "PUMP", "PREINFUSION"},
		{logic.TriggerPreinfusionDone, logic.StatePreinfusion, logic.StateBrewing, "", "PREINFUSION_DONE", "BREWING"},
		{logic.TriggerSteam, logic.StateHeating, logic.StateSteaming, "", "STEAM", "STEAMING"},
		{logic.TriggerAnomaly, logic.StateSteaming, logic.StateSafetyOff, "not heating", "ANOMALY", "SAFETY_OFF"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.wantEvent, func(t *testing.T) {
			payload, err := FormatPayload(logic.Event{
				Timestamp: time.Now(),
				From:      tt.from,
				To:        tt.to,
				Trigger:   tt.trigger,
				Reason:    tt.reason,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var parsed Payload
			if err := json.Unmarshal(payload, &parsed); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if parsed.Brew.Event != tt.wantEvent {
				t.Errorf("event: got %s, want %s", parsed.Brew.Event, tt.wantEvent)
			}
			if parsed.Brew.State != tt.wantState {
				t.Errorf("state: got %s, want %s", parsed.Brew.State, tt.wantState)
			}
			if parsed.Brew.From != string(tt.from) {
				t.Errorf("from: got %s, want %s", parsed.Brew.From, tt.from)
			}
			if parsed.Brew.Reason != tt.reason {
				t.Errorf("reason: got %q, want %q", parsed.Brew.Reason, tt.reason)
			}
		})
	}
}

func TestFormatPayloadOmitsEmptyFields(t *testing.T) {
	payload, err := FormatPayload(logic.Event{
		Timestamp: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC),
		From:      logic.StateUninitialized,
		To:        logic.StateIdle,
		Trigger:   logic.TriggerStartup,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, exists := parsed["brew"]["shot_duration_ms"]; exists {
		t.Error("shot_duration_ms should be omitted when zero")
	}
	if _, exists := parsed["brew"]["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	payload, err := FormatPayload(logic.Event{
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, loc),
		Trigger:   logic.TriggerPower,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	json.Unmarshal(payload, &parsed)
	if parsed.Brew.Timestamp != "2026-03-01T07:00:00Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.Brew.Timestamp)
	}
}

func TestTopics(t *testing.T) {
	if Topic != "espresso/machine/events" {
		t.Errorf("unexpected topic: %s", Topic)
	}
	if TopicSystem != "espresso/machine/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
	if TopicConfigSet != "espresso/machine/config/set" {
		t.Errorf("unexpected config topic: %s", TopicConfigSet)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 3, 1, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-03-01T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-03-01T08:30:00Z","event":"SHUTDOWN","reason":"MQTT_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadReconnectedOmitsReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-03-01T14:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"system":{"event":"HEARTBEAT","machine":{"state":"IDLE"}}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload should pass through unchanged, got %s", payload)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	event := logic.Event{Timestamp: time.Now(), From: logic.StateIdle, To: logic.StateHeating, Trigger: logic.TriggerPower}
	if err := f.Publish(event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Events) != 1 || len(f.Payloads) != 1 {
		t.Fatalf("expected 1 event and payload, got %d/%d", len(f.Events), len(f.Payloads))
	}
	if f.Events[0].Trigger != logic.TriggerPower {
		t.Errorf("unexpected trigger: %s", f.Events[0].Trigger)
	}

	f.PublishError = errors.New("broker down")
	if err := f.Publish(event); err == nil {
		t.Error("expected error")
	}
	if len(f.Events) != 1 {
		t.Error("failed publish should not be recorded")
	}

	f.Reset()
	if len(f.Events) != 0 || f.PublishError != nil {
		t.Error("Reset should clear events and errors")
	}
}

func TestFakePublisherRecordsRetainedFlag(t *testing.T) {
	f := NewFakePublisher()
	f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true})
	f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "HEARTBEAT"})

	got := f.PublishedSystemEvents()
	if len(got) != 2 {
		t.Fatalf("expected 2 system events, got %d", len(got))
	}
	if !got[0].Retained || got[1].Retained {
		t.Errorf("retained flags: got %v, %v", got[0].Retained, got[1].Retained)
	}
}

func TestFakePublisherDeliver(t *testing.T) {
	f := NewFakePublisher()
	if err := f.Deliver(TopicConfigSet, []byte(`{}`)); err != nil {
		t.Errorf("no subscriber: expected nil, got %v", err)
	}

	var got []byte
	f.Subscribe(TopicConfigSet, 1, func(_ string, payload []byte) error {
		got = payload
		return nil
	})
	f.Deliver(TopicConfigSet, []byte(`{"brew_temperature":94}`))
	if string(got) != `{"brew_temperature":94}` {
		t.Errorf("handler got %s", got)
	}
}
