package sim

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sweeney/espresso-controller/internal/logic"
)

// Panel is a front panel operated by text commands, for bench runs without
// buttons. It implements logic.Panel.
//
// Commands, one per line:
//
//	power            press the power button once
//	pump on|off      hold or release the pump switch
//	steam on|off     hold or release the steam switch
type Panel struct {
	mu      sync.Mutex
	buttons logic.Buttons
	lights  [3]bool // power, pump, steam
}

// Buttons returns the current panel snapshot.
func (p *Panel) Buttons() logic.Buttons {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buttons
}

// ClearPowerLatch consumes a power press.
func (p *Panel) ClearPowerLatch() {
	p.mu.Lock()
	p.buttons.Power = false
	p.mu.Unlock()
}

func (p *Panel) SetPowerLight(on bool) { p.setLight(0, on) }
func (p *Panel) SetPumpLight(on bool)  { p.setLight(1, on) }
func (p *Panel) SetSteamLight(on bool) { p.setLight(2, on) }

func (p *Panel) setLight(i int, on bool) {
	p.mu.Lock()
	p.lights[i] = on
	p.mu.Unlock()
}

// Lights returns the power, pump and steam light states.
func (p *Panel) Lights() (power, pump, steam bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lights[0], p.lights[1], p.lights[2]
}

// Apply executes one command.
func (p *Panel) Apply(cmd string) error {
	fields := strings.Fields(strings.ToLower(cmd))
	if len(fields) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch fields[0] {
	case "power":
		if len(fields) != 1 {
			return fmt.Errorf("power takes no argument")
		}
		p.buttons.Power = true
		return nil
	case "pump", "steam":
		if len(fields) != 2 {
			return fmt.Errorf("%s needs on or off", fields[0])
		}
		var on bool
		switch fields[1] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("%s needs on or off, got %q", fields[0], fields[1])
		}
		if fields[0] == "pump" {
			p.buttons.Pump = on
		} else {
			p.buttons.Steam = on
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

// ReadCommands applies every line of r until EOF. Bad lines are reported to
// onError and skipped.
func (p *Panel) ReadCommands(r io.Reader, onError func(error)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := p.Apply(scanner.Text()); err != nil && onError != nil {
			onError(err)
		}
	}
	return scanner.Err()
}
