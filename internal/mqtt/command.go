package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyCommand is returned for a config command that carries none of the
// known fields.
var ErrEmptyCommand = errors.New("config command has no recognised fields")

// ConfigCommand is the payload accepted on TopicConfigSet. Absent fields are
// left unchanged.
type ConfigCommand struct {
	BrewTemperature     *float64 `json:"brew_temperature,omitempty"`
	SteamTemperature    *float64 `json:"steam_temperature,omitempty"`
	BrewPressure        *float64 `json:"brew_pressure,omitempty"`
	PreinfusionPressure *float64 `json:"preinfusion_pressure,omitempty"`
	PreinfusionTimeMs   *int64   `json:"preinfusion_time_ms,omitempty"`
}

// Empty reports whether no field is set.
func (c ConfigCommand) Empty() bool {
	return c.BrewTemperature == nil && c.SteamTemperature == nil &&
		c.BrewPressure == nil && c.PreinfusionPressure == nil &&
		c.PreinfusionTimeMs == nil
}

// ParseConfigCommand decodes a config command payload.
func ParseConfigCommand(payload []byte) (ConfigCommand, error) {
	var cmd ConfigCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return ConfigCommand{}, fmt.Errorf("parse config command: %w", err)
	}
	if cmd.Empty() {
		return ConfigCommand{}, ErrEmptyCommand
	}
	return cmd, nil
}

// Configurer accepts configuration changes. The setters clamp and persist.
type Configurer interface {
	SetBrewTemperature(ctx context.Context, v float64)
	SetSteamTemperature(ctx context.Context, v float64)
	SetBrewPressure(ctx context.Context, v float64)
	SetPreinfusionPressure(ctx context.Context, v float64)
	SetPreinfusionTime(ctx context.Context, d time.Duration)
}

// Apply calls the setter for every field present in c.
func (c ConfigCommand) Apply(ctx context.Context, dst Configurer) {
	if c.BrewTemperature != nil {
		dst.SetBrewTemperature(ctx, *c.BrewTemperature)
	}
	if c.SteamTemperature != nil {
		dst.SetSteamTemperature(ctx, *c.SteamTemperature)
	}
	if c.BrewPressure != nil {
		dst.SetBrewPressure(ctx, *c.BrewPressure)
	}
	if c.PreinfusionPressure != nil {
		dst.SetPreinfusionPressure(ctx, *c.PreinfusionPressure)
	}
	if c.PreinfusionTimeMs != nil {
		dst.SetPreinfusionTime(ctx, time.Duration(*c.PreinfusionTimeMs)*time.Millisecond)
	}
}

// ConfigHandler returns a MessageHandler that applies config commands to dst.
func ConfigHandler(ctx context.Context, dst Configurer) MessageHandler {
	return func(_ string, payload []byte) error {
		cmd, err := ParseConfigCommand(payload)
		if err != nil {
			return err
		}
		cmd.Apply(ctx, dst)
		return nil
	}
}
