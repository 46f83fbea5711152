package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/espresso-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"stateClass": func(s string) string {
		switch s {
		case "SAFETY_OFF":
			return "fault"
		case "IDLE":
			return "idle"
		case "UNKNOWN", "UNINITIALIZED":
			return "unknown"
		}
		return "active"
	},
	"seconds": func(d time.Duration) string {
		return fmt.Sprintf("%.1fs", d.Seconds())
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Espresso Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.active { color: green; font-weight: bold; }
.idle { color: #888; }
.fault { color: red; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Espresso Controller{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Machine</h2>
<table>
<tr><th>State</th><td id="machine-state" class="{{stateClass (stateOrUnknown (printf "%s" .Machine.State))}}">{{stateOrUnknown (printf "%s" .Machine.State)}}</td></tr>
{{if .Machine.BrewTimer}}<tr><th>Brew timer</th><td>{{seconds .Machine.BrewTimer}}</td></tr>{{end}}
{{if .Machine.LastShot}}<tr><th>Last shot</th><td>{{seconds .Machine.LastShot}}</td></tr>{{end}}
{{if .Machine.SafetyReason}}<tr><th>Safety</th><td class="fault">{{.Machine.SafetyReason}}</td></tr>{{end}}
</table>

<h2>Boiler</h2>
<table>
<tr><th>Temperature</th><td>{{printf "%.1f" .Control.Temperature.Smoothed}} &deg;C (raw {{printf "%.1f" .Control.Temperature.Raw}})</td></tr>
<tr><th>Target</th><td>{{printf "%.1f" .Control.Temperature.Target}} &deg;C</td></tr>
<tr><th>Heater</th><td>{{printf "%.0f" .Control.HeaterPower}}% {{if .Control.HeaterEnabled}}(enabled){{else}}(disabled){{end}}</td></tr>
{{if .Control.Temperature.SensorError}}<tr><th>Sensor</th><td class="fault">{{.Control.Temperature.SensorError}}</td></tr>{{end}}
</table>

<h2>Pump</h2>
<table>
<tr><th>Pressure</th><td>{{printf "%.2f" .Control.Pressure.Smoothed}} bar (raw {{printf "%.2f" .Control.Pressure.Raw}})</td></tr>
<tr><th>Target</th><td>{{printf "%.2f" .Control.Pressure.Target}} bar</td></tr>
<tr><th>Pump</th><td>{{printf "%.0f" .Control.PumpPower}}% ({{.Control.Mode}})</td></tr>
<tr><th>Solenoid</th><td>{{if .Control.SolenoidOpen}}open{{else}}closed{{end}}</td></tr>
</table>

<h2>Brew Configuration</h2>
<table>
<tr><th>Brew temperature</th><td>{{printf "%.1f" .Control.Configuration.BrewTemperature}} &deg;C</td></tr>
<tr><th>Steam temperature</th><td>{{printf "%.1f" .Control.Configuration.SteamTemperature}} &deg;C</td></tr>
<tr><th>Brew pressure</th><td>{{printf "%.1f" .Control.Configuration.BrewPressure}} bar</td></tr>
<tr><th>Pre-infusion</th><td>{{printf "%.1f" .Control.Configuration.PreinfusionPressure}} bar for {{seconds .Control.Configuration.PreinfusionTime}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Power on</th><td>{{.Machine.Counts.PowerOns}}</td></tr>
<tr><th>Shots</th><td>{{.Machine.Counts.Shots}}</td></tr>
<tr><th>Steam sessions</th><td>{{.Machine.Counts.SteamSessions}}</td></tr>
<tr><th>Safety trips</th><td>{{.Machine.Counts.SafetyTrips}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Driver</th><td>{{.Config.Driver}}</td></tr>
<tr><th>Control tick</th><td>{{.Config.ControlTickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Store</th><td>{{.Config.Store}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/status.txt">Text</a> | <a href="/info/sensors">Sensors</a></p>
{{if .Config.WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "espresso/machine/events";
  var dot = document.getElementById("live-dot");
  var stateEl = document.getElementById("machine-state");

  function setState(el, state) {
    el.textContent = state;
    el.className = state === "SAFETY_OFF" ? "fault" : state === "IDLE" ? "idle" : "active";
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.brew) {
        setState(stateEl, msg.brew.state);
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
