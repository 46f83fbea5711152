// Package gpio provides the front panel (buttons and lights) and the power
// outputs (solenoid, heater, pump) with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Sample is one reading of the three buttons, already in logical form
// (true = pressed).
type Sample struct {
	Power bool
	Pump  bool
	Steam bool
}

// Reader reads button levels.
type Reader interface {
	Read() (Sample, error)

	// Close releases GPIO resources.
	Close() error
}

// Output drives one output line. Values are logical: 1 = active.
type Output interface {
	SetValue(v int) error
}

// Outputs is every line the machine drives.
type Outputs struct {
	PowerLight Output
	PumpLight  Output
	SteamLight Output
	Solenoid   Output
	Heater     Output
	Pump       Output
}

// Pins maps functions to BCM line offsets.
type Pins struct {
	PowerButton int `yaml:"power_button"`
	PumpButton  int `yaml:"pump_button"`
	SteamButton int `yaml:"steam_button"`

	PowerLight int `yaml:"power_light"`
	PumpLight  int `yaml:"pump_light"`
	SteamLight int `yaml:"steam_light"`

	Solenoid int `yaml:"solenoid"`
	Heater   int `yaml:"heater"`
	Pump     int `yaml:"pump"`
}

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// DefaultPins returns the wiring of the reference build (BCM numbering).
func DefaultPins() Pins {
	return Pins{
		PowerButton: 17,
		PumpButton:  27,
		SteamButton: 22,
		PowerLight:  5,
		PumpLight:   6,
		SteamLight:  13,
		Solenoid:    23,
		Heater:      24,
		Pump:        25,
	}
}

// Offsets returns every pin in a fixed order, for duplicate checks.
func (p Pins) Offsets() []int {
	return []int{
		p.PowerButton, p.PumpButton, p.SteamButton,
		p.PowerLight, p.PumpLight, p.SteamLight,
		p.Solenoid, p.Heater, p.Pump,
	}
}
