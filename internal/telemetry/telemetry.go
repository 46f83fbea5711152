// Package telemetry writes periodic machine samples to InfluxDB v2.
//
// Writes go through the client's non-blocking batch API so a slow or absent
// server never stalls the control loop.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sweeney/espresso-controller/internal/control"
	"github.com/sweeney/espresso-controller/internal/logic"
)

// Measurement is the InfluxDB measurement every sample is written to.
const Measurement = "espresso"

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 5 * time.Second
	defaultPeriod        = time.Second
	pingTimeout          = 5 * time.Second
)

// ErrDisabled is returned by Connect when telemetry is not enabled.
var ErrDisabled = errors.New("telemetry: disabled")

// Config holds InfluxDB connection settings.
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     uint          `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// Period is how often a sample is recorded.
	Period time.Duration `yaml:"period"`
}

// DefaultConfig is disabled.
func DefaultConfig() Config {
	return Config{
		Org:           "home",
		Bucket:        "espresso",
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
		Period:        defaultPeriod,
	}
}

// PointWriter is the subset of the InfluxDB write API the recorder uses.
type PointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Recorder turns snapshots into points.
type Recorder struct {
	w      PointWriter
	client influxdb2.Client

	mu      sync.Mutex
	written uint64
	closed  bool
}

// NewRecorder wraps an existing writer.
func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{w: w}
}

// Connect opens a client, checks the server is reachable and returns a
// recorder on its write API. Asynchronous write failures are passed to
// onError, which may be nil.
func Connect(ctx context.Context, cfg Config, onError func(error)) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("telemetry: url and bucket are required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("telemetry: ping %s: %w", cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("telemetry: %s not healthy", cfg.URL)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	if onError != nil {
		errs := writeAPI.Errors()
		go func() {
			for err := range errs {
				onError(err)
			}
		}()
	}

	r := NewRecorder(writeAPI)
	r.client = client
	return r, nil
}

// Point builds the sample for one instant.
func Point(now time.Time, state logic.State, s control.Snapshot) *write.Point {
	fields := map[string]any{
		"temperature_raw":      s.Temperature.Raw,
		"temperature_smoothed": s.Temperature.Smoothed,
		"temperature_target":   s.Temperature.Target,
		"pressure_raw":         s.Pressure.Raw,
		"pressure_smoothed":    s.Pressure.Smoothed,
		"pressure_target":      s.Pressure.Target,
		"heater_power":         s.HeaterPower,
		"pump_power":           s.PumpPower,
		"heater_enabled":       s.HeaterEnabled,
		"solenoid_open":        s.SolenoidOpen,
		"anomaly":              s.Anomaly,
	}
	if s.Flow != nil {
		fields["flow_raw"] = s.Flow.Raw
		fields["flow_smoothed"] = s.Flow.Smoothed
		fields["flow_target"] = s.Flow.Target
	}
	tags := map[string]string{
		"state": string(state),
		"mode":  s.Mode.String(),
	}
	return write.NewPoint(Measurement, tags, fields, now)
}

// Record queues one sample. It never blocks on the network.
func (r *Recorder) Record(now time.Time, state logic.State, s control.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.w.WritePoint(Point(now, state, s))
	r.written++
}

// Written returns how many samples were queued.
func (r *Recorder) Written() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close flushes pending points and releases the client.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.w.Flush()
	if r.client != nil {
		r.client.Close()
	}
	return nil
}
