// Package store persists the brew configuration.
//
// Three backends implement control.Store: SQLite for the appliance, a YAML
// file for setups without cgo, and Memory for tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/espresso-controller/internal/control"
)

// ErrNotFound is returned when a setting has never been written.
var ErrNotFound = errors.New("store: setting not found")

// Setting keys.
const (
	KeyBrewTemperature     = "brew_temperature"
	KeySteamTemperature    = "steam_temperature"
	KeyBrewPressure        = "brew_pressure"
	KeyPreinfusionPressure = "preinfusion_pressure"
	KeyPreinfusionTime     = "preinfusion_time_ms"
)

// Keys lists every setting key.
var Keys = []string{
	KeyBrewTemperature,
	KeySteamTemperature,
	KeyBrewPressure,
	KeyPreinfusionPressure,
	KeyPreinfusionTime,
}

// Config selects and configures a backend.
type Config struct {
	Driver      string `yaml:"driver"` // sqlite, yaml or memory
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// Backend is a control.Store that holds resources.
type Backend interface {
	control.Store
	Close() error
}

// Open returns the backend named by cfg.Driver. Settings that were never
// written load as the matching field of defaults.
func Open(cfg Config, defaults control.Configuration) (Backend, error) {
	switch cfg.Driver {
	case "sqlite", "":
		s, err := OpenSQLite(cfg, defaults)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "yaml":
		y, err := OpenYAML(cfg.Path, defaults)
		if err != nil {
			return nil, err
		}
		return y, nil
	case "memory":
		return NewMemory(defaults), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// configuration builds a configuration from setting values; keys missing
// from v keep the value in defaults.
func configuration(v map[string]float64, defaults control.Configuration) control.Configuration {
	c := defaults
	if x, ok := v[KeyBrewTemperature]; ok {
		c.BrewTemperature = x
	}
	if x, ok := v[KeySteamTemperature]; ok {
		c.SteamTemperature = x
	}
	if x, ok := v[KeyBrewPressure]; ok {
		c.BrewPressure = x
	}
	if x, ok := v[KeyPreinfusionPressure]; ok {
		c.PreinfusionPressure = x
	}
	if x, ok := v[KeyPreinfusionTime]; ok {
		c.PreinfusionTime = time.Duration(x) * time.Millisecond
	}
	return c
}

// setter is the single-field write every backend implements.
type setter interface {
	set(ctx context.Context, key string, v float64) error
}

// fields implements the typed Store* methods on top of set.
type fields struct{ s setter }

func (f fields) StoreBrewTemperature(ctx context.Context, v float64) error {
	return f.s.set(ctx, KeyBrewTemperature, v)
}

func (f fields) StoreSteamTemperature(ctx context.Context, v float64) error {
	return f.s.set(ctx, KeySteamTemperature, v)
}

func (f fields) StoreBrewPressure(ctx context.Context, v float64) error {
	return f.s.set(ctx, KeyBrewPressure, v)
}

func (f fields) StorePreinfusionPressure(ctx context.Context, v float64) error {
	return f.s.set(ctx, KeyPreinfusionPressure, v)
}

func (f fields) StorePreinfusionTime(ctx context.Context, d time.Duration) error {
	return f.s.set(ctx, KeyPreinfusionTime, float64(d.Milliseconds()))
}
