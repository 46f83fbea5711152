package gpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/espresso-controller/internal/actuator"
	"github.com/sweeney/espresso-controller/internal/logic"
)

// Lights are the three button lights.
type Lights struct {
	Power actuator.Binary
	Pump  actuator.Binary
	Steam actuator.Binary
}

// Panel is the front panel. Poll samples the buttons; the state machine reads
// the debounced snapshot through Buttons. The power button is a latch set on
// a press edge and cleared by the state machine; pump and steam are levels.
type Panel struct {
	reader Reader
	lights Lights

	mu       sync.Mutex
	power    debouncer
	pump     debouncer
	steam    debouncer
	latched  bool
	lightErr error
}

var _ logic.Panel = (*Panel)(nil)

// NewPanel creates a panel with the given debounce duration.
func NewPanel(reader Reader, debounce time.Duration, lights Lights) *Panel {
	return &Panel{
		reader: reader,
		lights: lights,
		power:  debouncer{duration: debounce},
		pump:   debouncer{duration: debounce},
		steam:  debouncer{duration: debounce},
	}
}

// Poll reads the buttons once. On a read error the previous levels are kept.
// Light write failures since the last poll are returned too.
func (p *Panel) Poll(now time.Time) error {
	s, readErr := p.reader.Read()

	p.mu.Lock()
	defer p.mu.Unlock()

	lightErr := p.lightErr
	p.lightErr = nil

	if readErr != nil {
		return errors.Join(fmt.Errorf("read buttons: %w", readErr), lightErr)
	}

	if p.power.update(s.Power, now) && p.power.stable {
		p.latched = true
	}
	p.pump.update(s.Pump, now)
	p.steam.update(s.Steam, now)
	return lightErr
}

// Buttons returns the debounced snapshot.
func (p *Panel) Buttons() logic.Buttons {
	p.mu.Lock()
	defer p.mu.Unlock()
	return logic.Buttons{
		Power: p.latched,
		Pump:  p.pump.baselined && p.pump.stable,
		Steam: p.steam.baselined && p.steam.stable,
	}
}

// ClearPowerLatch consumes the latched power press.
func (p *Panel) ClearPowerLatch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latched = false
}

func (p *Panel) SetPowerLight(on bool) { p.setLight("power", p.lights.Power, on) }
func (p *Panel) SetPumpLight(on bool)  { p.setLight("pump", p.lights.Pump, on) }
func (p *Panel) SetSteamLight(on bool) { p.setLight("steam", p.lights.Steam, on) }

func (p *Panel) setLight(name string, light actuator.Binary, on bool) {
	if light == nil {
		return
	}
	if err := light.SetState(on); err != nil {
		p.mu.Lock()
		p.lightErr = errors.Join(p.lightErr, fmt.Errorf("%s light: %w", name, err))
		p.mu.Unlock()
	}
}

// Close releases the button lines.
func (p *Panel) Close() error {
	return p.reader.Close()
}
