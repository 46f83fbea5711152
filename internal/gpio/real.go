//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the buttons from actual hardware using the Linux GPIO
// character device. Buttons pull the line to ground when pressed.
type RealReader struct {
	lines *gpiocdev.Lines
}

// NewRealReader requests the three button lines on chip.
func NewRealReader(chip string, pins Pins) (*RealReader, error) {
	offsets := []int{pins.PowerButton, pins.PumpButton, pins.SteamButton}
	lines, err := gpiocdev.RequestLines(chip, offsets,
		gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.AsActiveLow,
		gpiocdev.WithConsumer("espresso-buttons"))
	if err != nil {
		return nil, fmt.Errorf("request button pins %v: %w", offsets, err)
	}
	return &RealReader{lines: lines}, nil
}

// Read returns the logical button levels (active low on the wire).
func (r *RealReader) Read() (Sample, error) {
	values := make([]int, 3)
	if err := r.lines.Values(values); err != nil {
		return Sample{}, fmt.Errorf("read button pins: %w", err)
	}
	return Sample{
		Power: values[0] == 1,
		Pump:  values[1] == 1,
		Steam: values[2] == 1,
	}, nil
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) before
// closing to ensure clean state for system shutdown/reboot.
func (r *RealReader) Close() error {
	var errs []error
	if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure button pins: %w", err))
	}
	if err := r.lines.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close button pins: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealOutputs holds every requested output line.
type RealOutputs struct {
	Outputs
	lines []*gpiocdev.Line
}

// OpenOutputs requests every output line on chip, driven inactive.
func OpenOutputs(chip string, pins Pins) (*RealOutputs, error) {
	o := &RealOutputs{}
	request := func(name string, offset int) (Output, error) {
		line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer("espresso-"+name))
		if err != nil {
			return nil, fmt.Errorf("request %s pin %d: %w", name, offset, err)
		}
		o.lines = append(o.lines, line)
		return line, nil
	}

	targets := []struct {
		name   string
		offset int
		dst    *Output
	}{
		{"power-light", pins.PowerLight, &o.PowerLight},
		{"pump-light", pins.PumpLight, &o.PumpLight},
		{"steam-light", pins.SteamLight, &o.SteamLight},
		{"solenoid", pins.Solenoid, &o.Solenoid},
		{"heater", pins.Heater, &o.Heater},
		{"pump", pins.Pump, &o.Pump},
	}
	for _, t := range targets {
		out, err := request(t.name, t.offset)
		if err != nil {
			o.Close()
			return nil, err
		}
		*t.dst = out
	}
	return o, nil
}

// Close drives every line inactive, returns it to input with pull-down and
// releases it. The heater and pump must never be left energised.
func (o *RealOutputs) Close() error {
	var errs []error
	for _, line := range o.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive pin %d low: %w", line.Offset(), err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", line.Offset(), err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", line.Offset(), err))
		}
	}
	o.lines = nil
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
