// Package config loads the controller configuration from YAML, applies
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/espresso-controller/internal/board"
	"github.com/sweeney/espresso-controller/internal/control"
	"github.com/sweeney/espresso-controller/internal/gpio"
	"github.com/sweeney/espresso-controller/internal/logging"
	"github.com/sweeney/espresso-controller/internal/mqtt"
	"github.com/sweeney/espresso-controller/internal/pid"
	"github.com/sweeney/espresso-controller/internal/sim"
	"github.com/sweeney/espresso-controller/internal/store"
	"github.com/sweeney/espresso-controller/internal/telemetry"
)

// Hardware drivers.
const (
	DriverGPIO = "gpio" // GPIO panel and outputs, serial sensor board
	DriverSim  = "sim"  // simulated plant, no panel
)

// Environment overrides.
const (
	EnvMQTTBroker     = "ESPRESSO_MQTT_BROKER"
	EnvMQTTPassword   = "ESPRESSO_MQTT_PASSWORD"
	EnvStorePath      = "ESPRESSO_STORE_PATH"
	EnvInfluxDBToken  = "ESPRESSO_INFLUXDB_TOKEN"
	EnvHardwareDriver = "ESPRESSO_HARDWARE_DRIVER"
	EnvHTTPAddr       = "ESPRESSO_HTTP_ADDR"
)

// Config is the root configuration.
type Config struct {
	Hardware HardwareConfig        `yaml:"hardware"`
	Control  ControlConfig         `yaml:"control"`
	Machine  MachineConfig         `yaml:"machine"`
	Safety   control.SafetyConfig  `yaml:"safety"`
	Limits   control.Limits        `yaml:"limits"`
	Defaults control.Configuration `yaml:"defaults"`
	Store    store.Config          `yaml:"store"`
	MQTT     MQTTConfig            `yaml:"mqtt"`
	HTTP     HTTPConfig            `yaml:"http"`
	InfluxDB telemetry.Config      `yaml:"influxdb"`
	Logging  logging.Config        `yaml:"logging"`
	Sim      sim.Config            `yaml:"sim"`
}

// HardwareConfig selects and wires the drivers.
type HardwareConfig struct {
	Driver    string        `yaml:"driver"`
	Chip      string        `yaml:"chip"`
	Pins      gpio.Pins     `yaml:"pins"`
	Serial    SerialConfig  `yaml:"serial"`
	FlowMeter bool          `yaml:"flow_meter"` // enables flow control
	PWMWindow time.Duration `yaml:"pwm_window"`
	Debounce  time.Duration `yaml:"debounce"`
	Poll      time.Duration `yaml:"poll"`
}

// SerialConfig describes the sensor board link.
type SerialConfig struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud_rate"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// ControlConfig tunes the control loops.
type ControlConfig struct {
	Tick           time.Duration `yaml:"tick"`
	Smoothing      float64       `yaml:"smoothing"`
	TemperaturePID pid.Config    `yaml:"temperature_pid"`
	PressurePID    pid.Config    `yaml:"pressure_pid"`
	FlowPID        pid.Config    `yaml:"flow_pid"`
}

// MachineConfig tunes the brew state machine task.
type MachineConfig struct {
	Tick      time.Duration `yaml:"tick"`
	Heartbeat time.Duration `yaml:"heartbeat"` // 0 disables
}

// MQTTConfig is the broker connection plus the outbound queue size.
// An empty broker disables MQTT.
type MQTTConfig struct {
	mqtt.Config `yaml:",inline"`
	QueueSize   int `yaml:"queue_size"`
	// Commands enables the config/set topic.
	Commands bool `yaml:"commands"`
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// WSBroker is the websocket URL the status page uses for live updates:
	// "=broker" derives it from the MQTT broker, "off" disables it.
	WSBroker string `yaml:"ws_broker"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	opts := control.DefaultOptions()
	return &Config{
		Hardware: HardwareConfig{
			Driver: DriverGPIO,
			Chip:   gpio.DefaultChip,
			Pins:   gpio.DefaultPins(),
			Serial: SerialConfig{
				Port:       "/dev/ttyACM0",
				BaudRate:   board.DefaultBaudRate,
				StaleAfter: board.DefaultStaleAfter,
			},
			PWMWindow: time.Second,
			Debounce:  50 * time.Millisecond,
			Poll:      10 * time.Millisecond,
		},
		Control: ControlConfig{
			Tick:           100 * time.Millisecond,
			Smoothing:      opts.Smoothing,
			TemperaturePID: opts.TemperaturePID,
			PressurePID:    opts.PressurePID,
			FlowPID:        opts.FlowPID,
		},
		Machine: MachineConfig{
			Tick:      100 * time.Millisecond,
			Heartbeat: 15 * time.Minute,
		},
		Safety:   control.DefaultSafetyConfig(),
		Limits:   control.DefaultLimits(),
		Defaults: control.DefaultConfiguration(),
		Store: store.Config{
			Driver:      "sqlite",
			Path:        "/var/lib/espresso/settings.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Config: mqtt.Config{
				Broker:         "tcp://localhost:1883",
				ClientID:       "espresso-controller",
				BufferSize:     256,
				ConnectTimeout: 10 * time.Second,
			},
			QueueSize: mqtt.DefaultQueueSize,
			Commands:  true,
		},
		HTTP: HTTPConfig{
			Addr:     ":80",
			WSBroker: "=broker",
		},
		InfluxDB: telemetry.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
		Sim:      sim.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. A missing file is not an error; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv(EnvMQTTBroker); ok {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv(EnvInfluxDBToken); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv(EnvHardwareDriver); v != "" {
		cfg.Hardware.Driver = v
	}
	if v, ok := os.LookupEnv(EnvHTTPAddr); ok {
		cfg.HTTP.Addr = v
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Hardware.Driver {
	case DriverGPIO, DriverSim:
	default:
		add("hardware.driver %q must be gpio or sim", c.Hardware.Driver)
	}
	if c.Hardware.Driver == DriverGPIO {
		if c.Hardware.Chip == "" {
			add("hardware.chip is required for the gpio driver")
		}
		seen := make(map[int]bool)
		for _, pin := range c.Hardware.Pins.Offsets() {
			if pin < 0 {
				add("hardware.pins: negative pin %d", pin)
			}
			if seen[pin] {
				add("hardware.pins: pin %d used twice", pin)
			}
			seen[pin] = true
		}
		if c.Hardware.Serial.Port == "" {
			add("hardware.serial.port is required for the gpio driver")
		}
		if c.Hardware.Serial.BaudRate <= 0 {
			add("hardware.serial.baud_rate must be positive")
		}
	}
	if c.Hardware.PWMWindow <= 0 {
		add("hardware.pwm_window must be positive")
	}
	if c.Hardware.Poll <= 0 {
		add("hardware.poll must be positive")
	}
	if c.Hardware.Debounce < 0 {
		add("hardware.debounce must not be negative")
	}

	if c.Control.Tick <= 0 {
		add("control.tick must be positive")
	}
	if c.Control.Smoothing <= 0 || c.Control.Smoothing > 1 {
		add("control.smoothing %v must be in (0, 1]", c.Control.Smoothing)
	}
	for name, p := range map[string]pid.Config{
		"temperature_pid": c.Control.TemperaturePID,
		"pressure_pid":    c.Control.PressurePID,
		"flow_pid":        c.Control.FlowPID,
	} {
		if p.Max <= p.Min {
			add("control.%s: max %v must exceed min %v", name, p.Max, p.Min)
		}
	}

	if c.Machine.Tick <= 0 {
		add("machine.tick must be positive")
	}
	if c.Machine.Heartbeat < 0 {
		add("machine.heartbeat must not be negative")
	}

	if c.Limits.MaxTempTarget < control.MinTempTarget {
		add("limits.max_temp_target must be at least %v", control.MinTempTarget)
	}
	if c.Limits.MaxPressureTarget <= 0 {
		add("limits.max_pressure_target must be positive")
	}

	switch c.Store.Driver {
	case "sqlite", "yaml", "":
		if c.Store.Path == "" {
			add("store.path is required for the %s driver", c.Store.Driver)
		}
	case "memory":
	default:
		add("store.driver %q must be sqlite, yaml or memory", c.Store.Driver)
	}

	if c.MQTT.Broker != "" && !strings.Contains(c.MQTT.Broker, "://") {
		add("mqtt.broker %q must include a scheme", c.MQTT.Broker)
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			add("influxdb.url is required when enabled")
		}
		if c.InfluxDB.Bucket == "" {
			add("influxdb.bucket is required when enabled")
		}
		if c.InfluxDB.Period <= 0 {
			add("influxdb.period must be positive")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "":
	default:
		add("logging.format %q must be json or text", c.Logging.Format)
	}

	return errors.Join(errs...)
}

// Options returns the control module options described by the config.
func (c *Config) Options() control.Options {
	opts := control.DefaultOptions()
	opts.Smoothing = c.Control.Smoothing
	opts.TemperaturePID = c.Control.TemperaturePID
	opts.PressurePID = c.Control.PressurePID
	opts.FlowPID = c.Control.FlowPID
	opts.Limits = c.Limits
	opts.Safety = c.Safety
	return opts
}
