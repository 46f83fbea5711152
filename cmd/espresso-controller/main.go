// Command espresso-controller runs the brew lifecycle and the boiler and pump
// control loops of an espresso machine, and publishes its state to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/espresso-controller/internal/config"
	"github.com/sweeney/espresso-controller/internal/control"
	"github.com/sweeney/espresso-controller/internal/gpio"
	"github.com/sweeney/espresso-controller/internal/logging"
	"github.com/sweeney/espresso-controller/internal/logic"
	"github.com/sweeney/espresso-controller/internal/mqtt"
	"github.com/sweeney/espresso-controller/internal/schedule"
	"github.com/sweeney/espresso-controller/internal/status"
	"github.com/sweeney/espresso-controller/internal/store"
	"github.com/sweeney/espresso-controller/internal/telemetry"
	"github.com/sweeney/espresso-controller/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const httpShutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "/etc/espresso/config.yaml", "Configuration file (missing file uses defaults)")
	printState := flag.Bool("print-state", false, "Print the front panel buttons and exit")
	simulate := flag.Bool("simulate", false, "Drive the simulated machine; panel commands are read from stdin")

	flag.Parse()

	cfg, err := loadConfig(*configPath, *simulate)
	if err != nil {
		logging.New(logging.DefaultConfig(), version).Error("fatal", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging, version)
	if err := run(cfg, *printState, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string, simulate bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if simulate {
		cfg.Hardware.Driver = config.DriverSim
	}
	return cfg, nil
}

func run(cfg *config.Config, printOnly bool, log *logging.Logger) error {
	// Print state mode
	if printOnly {
		if cfg.Hardware.Driver != config.DriverGPIO {
			return fmt.Errorf("-print-state needs the gpio driver, not %q", cfg.Hardware.Driver)
		}
		reader, err := gpio.NewRealReader(cfg.Hardware.Chip, cfg.Hardware.Pins)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer reader.Close()
		return printState(reader, os.Stdout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hw *plant
	switch cfg.Hardware.Driver {
	case config.DriverSim:
		hw = openSim(cfg.Hardware, cfg.Sim, os.Stdin, log.Component("sim"))
	default:
		var err error
		if hw, err = openGPIO(cfg.Hardware, log); err != nil {
			return err
		}
	}
	defer func() {
		if err := hw.Close(); err != nil {
			log.Warn("closing hardware", "error", err)
		}
	}()

	st, err := store.Open(cfg.Store, cfg.Defaults)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	opts := cfg.Options()
	opts.Logger = log.Component("control")
	ctrl, err := control.New(ctx, hw.drivers, st, opts)
	if err != nil {
		return fmt.Errorf("init control: %w", err)
	}

	start := time.Now()
	machine := logic.NewMachine(ctrl, hw.panel, start)

	// Initialize status tracker (before STARTUP so snapshot is available)
	wsBroker := resolveWSBroker(cfg.HTTP.WSBroker, cfg.MQTT.Broker, log)
	tracker := status.NewTracker(start, status.Config{
		Driver:        cfg.Hardware.Driver,
		ControlTickMs: cfg.Control.Tick.Milliseconds(),
		MachineTickMs: cfg.Machine.Tick.Milliseconds(),
		HeartbeatMs:   cfg.Machine.Heartbeat.Milliseconds(),
		Store:         cfg.Store.Driver,
		Broker:        cfg.MQTT.Broker,
		HTTPAddr:      cfg.HTTP.Addr,
		WSBroker:      wsBroker,
		Telemetry:     cfg.InfluxDB.Enabled,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	d := &daemon{
		log:       log,
		ctrl:      ctrl,
		machine:   machine,
		tracker:   tracker,
		heartbeat: cfg.Machine.Heartbeat,
	}
	runner := schedule.NewRunner(log.Component("schedule"))

	if cfg.MQTT.Broker != "" {
		mlog := log.Component("mqtt")
		pub, err := mqtt.NewRealPublisher(cfg.MQTT.Config, mlog)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer pub.Close()

		if cfg.MQTT.Commands {
			if err := pub.Subscribe(mqtt.TopicConfigSet, 1, mqtt.ConfigHandler(ctx, ctrl)); err != nil {
				return fmt.Errorf("subscribe %s: %w", mqtt.TopicConfigSet, err)
			}
		}

		d.pub = pub
		d.conn = pub
		d.queue = mqtt.NewQueue(cfg.MQTT.QueueSize)
		runner.Go("mqtt-queue", func(ctx context.Context) error {
			return d.queue.Run(ctx, pub, mlog)
		})
	}

	if cfg.InfluxDB.Enabled {
		tlog := log.Component("telemetry")
		rec, err := telemetry.Connect(ctx, cfg.InfluxDB, func(err error) {
			tlog.Warn("influxdb write failed", "error", err)
		})
		if err != nil {
			tlog.Warn("telemetry disabled", "error", err)
		} else {
			defer rec.Close()
			d.telemetry = rec
			runner.Every("telemetry", cfg.InfluxDB.Period, d.recordTelemetry)
		}
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, ctrl, machine)
		hlog := log.Component("http")
		runner.Go("http", func(ctx context.Context) error {
			serveHTTP(ctx, srv, hlog)
			return nil
		})
		log.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	runner.Every("control", cfg.Control.Tick, d.controlTick)
	runner.Every("machine", cfg.Machine.Tick, d.machineTick)
	if hw.poll != nil {
		runner.Every("panel", cfg.Hardware.Poll, d.panelPoller(hw.poll))
	}
	for _, s := range hw.services {
		runner.Go(s.name, s.run)
	}

	// Publish startup event with full status snapshot
	d.publishSystem(time.Now(), "STARTUP", "")

	log.Info("started",
		"driver", cfg.Hardware.Driver,
		"broker", cfg.MQTT.Broker,
		"store", cfg.Store.Driver,
		"heartbeat", cfg.Machine.Heartbeat,
		"flow", ctrl.FlowAvailable())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	reason, err := runUntilSignal(ctx, runner, sigCh, log)
	d.shutdown(time.Now(), reason)
	return err
}

// runUntilSignal runs r until a signal arrives or a service fails, and
// returns the shutdown reason.
func runUntilSignal(ctx context.Context, r *schedule.Runner, sig <-chan os.Signal, log *logging.Logger) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reason := make(chan string, 1)
	go func() {
		select {
		case s := <-sig:
			log.Info("received signal, shutting down", "signal", s.String())
			reason <- signalName(s)
			cancel()
		case <-ctx.Done():
		}
	}()

	err := r.Run(ctx)
	cancel()
	select {
	case name := <-reason:
		return name, err
	default:
		return "ERROR", err
	}
}

// serveHTTP runs srv until ctx is cancelled. A server that fails to start is
// logged; the controller keeps running without it.
func serveHTTP(ctx context.Context, srv *web.Server, log *logging.Logger) {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
	}
}
