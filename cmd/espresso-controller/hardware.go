package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sweeney/espresso-controller/internal/board"
	"github.com/sweeney/espresso-controller/internal/config"
	"github.com/sweeney/espresso-controller/internal/control"
	"github.com/sweeney/espresso-controller/internal/gpio"
	"github.com/sweeney/espresso-controller/internal/logging"
	"github.com/sweeney/espresso-controller/internal/logic"
	"github.com/sweeney/espresso-controller/internal/sim"
)

const simStep = 20 * time.Millisecond

type service struct {
	name string
	run  func(ctx context.Context) error
}

// plant is the hardware the daemon drives, real or simulated.
type plant struct {
	drivers  control.Hardware
	panel    logic.Panel
	poll     func(now time.Time) error // nil when the panel needs no polling
	services []service
	closers  []func() error
}

func (p *plant) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	return errors.Join(errs...)
}

// openGPIO wires the sensor board, the GPIO outputs and the front panel.
func openGPIO(cfg config.HardwareConfig, log *logging.Logger) (*plant, error) {
	p := &plant{}
	fail := func(err error) (*plant, error) {
		p.Close()
		return nil, err
	}

	outs, err := gpio.OpenOutputs(cfg.Chip, cfg.Pins)
	if err != nil {
		return fail(fmt.Errorf("init gpio outputs: %w", err))
	}
	p.closers = append(p.closers, outs.Close)

	reader, err := gpio.NewRealReader(cfg.Chip, cfg.Pins)
	if err != nil {
		return fail(fmt.Errorf("init gpio buttons: %w", err))
	}
	p.closers = append(p.closers, reader.Close)

	// Opened last: the port is only released by Run.
	b, err := board.Open(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.StaleAfter, log.Component("board"))
	if err != nil {
		return fail(fmt.Errorf("init sensor board: %w", err))
	}
	p.services = append(p.services, service{"board", b.Run})

	heater := gpio.NewPWM("heater", outs.Heater, cfg.PWMWindow)
	pump := gpio.NewPWM("pump", outs.Pump, cfg.PWMWindow)
	p.services = append(p.services, service{"heater-pwm", heater.Run}, service{"pump-pwm", pump.Run})

	panel := gpio.NewPanel(reader, cfg.Debounce, gpio.Lights{
		Power: gpio.NewSwitch("power-light", outs.PowerLight),
		Pump:  gpio.NewSwitch("pump-light", outs.PumpLight),
		Steam: gpio.NewSwitch("steam-light", outs.SteamLight),
	})
	p.panel = panel
	p.poll = panel.Poll

	p.drivers = control.Hardware{
		Temperature: b.Temperature(),
		Pressure:    b.Pressure(),
		Heater:      heater,
		Pump:        pump,
		Solenoid:    gpio.NewSwitch("solenoid", outs.Solenoid),
	}
	if cfg.FlowMeter {
		p.drivers.Flow = b.Flow()
	}
	return p, nil
}

// openSim wires the simulated plant. Panel commands are read from commands
// until EOF.
func openSim(cfg config.HardwareConfig, model sim.Config, commands io.Reader, log *logging.Logger) *plant {
	m := sim.New(model, time.Now())
	panel := &sim.Panel{}

	if commands != nil {
		go func() {
			err := panel.ReadCommands(commands, func(err error) {
				log.Warn("bad panel command", "error", err)
			})
			if err != nil {
				log.Warn("panel commands stopped", "error", err)
			}
		}()
	}

	p := &plant{panel: panel}
	p.drivers = control.Hardware{
		Temperature: m.Temperature(),
		Pressure:    m.Pressure(),
		Heater:      m.Heater(),
		Pump:        m.Pump(),
		Solenoid:    m.Solenoid(),
	}
	p.services = append(p.services, service{"sim", func(ctx context.Context) error {
		return m.Run(ctx, simStep)
	}})
	if cfg.FlowMeter {
		p.drivers.Flow = m.Flow()
	}
	return p
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// printState reads the buttons once and writes them to w.
func printState(reader gpio.Reader, w io.Writer) error {
	s, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	_, err = fmt.Fprintf(w, "POWER: %s, PUMP: %s, STEAM: %s\n",
		stateString(s.Power), stateString(s.Pump), stateString(s.Steam))
	return err
}
