package main

import (
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/espresso-controller/internal/control"
	"github.com/sweeney/espresso-controller/internal/logging"
	"github.com/sweeney/espresso-controller/internal/logic"
	"github.com/sweeney/espresso-controller/internal/mqtt"
	"github.com/sweeney/espresso-controller/internal/status"
	"github.com/sweeney/espresso-controller/internal/telemetry"
)

// daemon holds the wired components and implements the periodic tasks.
type daemon struct {
	log       *logging.Logger
	ctrl      *control.Module
	machine   *logic.Machine
	tracker   *status.Tracker
	pub       mqtt.Publisher        // nil when MQTT is disabled
	queue     *mqtt.Queue           // nil when MQTT is disabled
	conn      mqtt.ConnectionStatus // nil when MQTT is disabled
	telemetry *telemetry.Recorder   // nil when telemetry is disabled
	heartbeat time.Duration
}

func (d *daemon) controlTick(now time.Time) {
	d.ctrl.Update(now)
}

func (d *daemon) machineTick(now time.Time) {
	for _, event := range d.machine.Tick(now) {
		d.log.Info("transition",
			"from", event.From, "to", event.To, "trigger", event.Trigger,
			"shot_duration", event.ShotDuration, "reason", event.Reason)
		if d.queue != nil && !d.queue.Offer(event) {
			d.log.Warn("mqtt queue full, event dropped", "to", event.To)
		}
	}

	d.refresh()

	if hb := d.machine.CheckHeartbeat(now, d.heartbeat); hb != nil {
		d.log.Info("heartbeat",
			"uptime", hb.Uptime, "state", hb.State,
			"shots", hb.Counts.Shots, "safety_trips", hb.Counts.SafetyTrips)
		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			d.tracker.SetNetwork(net)
		}
		if d.queue != nil {
			d.queue.OfferSystem(d.systemEvent(hb.Timestamp, "HEARTBEAT", "", false))
		}
	}
}

func (d *daemon) recordTelemetry(now time.Time) {
	if d.telemetry == nil {
		return
	}
	d.telemetry.Record(now, d.machine.State(), d.ctrl.Snapshot())
}

// refresh copies the current state into the tracker for HTTP and MQTT.
func (d *daemon) refresh() {
	d.tracker.Update(d.machine.Snapshot(), d.ctrl.Snapshot())
	if d.conn != nil {
		d.tracker.SetMQTTConnected(d.conn.IsConnected())
	}
	if d.queue != nil {
		d.tracker.SetMQTTDropped(d.queue.Dropped())
	}
}

func (d *daemon) systemEvent(now time.Time, event, reason string, retained bool) mqtt.SystemEvent {
	d.refresh()
	snap := d.tracker.Snapshot()
	return mqtt.SystemEvent{
		Timestamp:  now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
}

// publishSystem sends a retained system event straight to the publisher.
// Only used outside the scheduled tasks, at startup and shutdown.
func (d *daemon) publishSystem(now time.Time, event, reason string) {
	if d.pub == nil {
		return
	}
	if err := d.pub.PublishSystem(d.systemEvent(now, event, reason, true)); err != nil {
		d.log.Warn("failed to publish system event", "event", event, "error", err)
		return
	}
	d.log.Info("published system event", "event", event, "reason", reason)
}

// shutdown leaves the machine safe and announces why it stopped.
func (d *daemon) shutdown(now time.Time, reason string) {
	d.safeOutputs(now)
	d.publishSystem(now, "SHUTDOWN", reason)
}

// panelPoller logs the first failure of a streak and the recovery.
func (d *daemon) panelPoller(poll func(time.Time) error) func(time.Time) {
	failing := false
	return func(now time.Time) {
		err := poll(now)
		switch {
		case err != nil && !failing:
			d.log.Warn("panel poll failed", "error", err)
		case err == nil && failing:
			d.log.Info("panel poll recovered")
		}
		failing = err != nil
	}
}

// safeOutputs de-energises the heater and pump and opens the solenoid.
func (d *daemon) safeOutputs(now time.Time) {
	d.ctrl.ShutOffHeater()
	d.ctrl.SetPressureTarget(0)
	d.ctrl.OpenSolenoid()
	d.ctrl.Update(now)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the http.ws_broker setting into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" or an
// empty broker disables it.
func resolveWSBroker(ws, broker string, log *logging.Logger) string {
	if ws == "off" || ws == "" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	if broker == "" {
		return ""
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Warn("ws-broker: cannot parse broker", "broker", broker, "error", err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
