// Package board reads temperature and pressure from a microcontroller sensor
// board streaming text lines over a serial link.
//
// Line format: "T:<celsius> P:<bar>", optionally followed by " F:<ml/s>" on
// boards with a flow meter. Fields may appear in any order.
package board

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/sweeney/espresso-controller/internal/sensor"
)

const (
	// DefaultBaudRate matches the sensor board firmware.
	DefaultBaudRate = 115200
	// DefaultStaleAfter is how long a reading stays valid without a new line.
	DefaultStaleAfter = time.Second
)

var (
	// ErrNoSample is returned by the sources before the first line arrives.
	ErrNoSample = errors.New("board: no sample received yet")
	// ErrStale is returned when the latest sample is older than StaleAfter.
	ErrStale = errors.New("board: sample is stale")
	// ErrNoFlow is returned by the flow source when the board has no flow meter.
	ErrNoFlow = errors.New("board: no flow reading")
)

// Sample is one parsed line.
type Sample struct {
	Temperature float64
	Pressure    float64
	Flow        float64
	HasFlow     bool
}

// ParseLine parses a board line.
func ParseLine(line string) (Sample, error) {
	var s Sample
	var haveT, haveP bool
	for _, field := range strings.Fields(line) {
		key, value, ok := strings.Cut(field, ":")
		if !ok {
			return Sample{}, fmt.Errorf("invalid field %q", field)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("invalid %s value: %w", key, err)
		}
		switch key {
		case "T":
			s.Temperature, haveT = v, true
		case "P":
			s.Pressure, haveP = v, true
		case "F":
			s.Flow, s.HasFlow = v, true
		default:
			return Sample{}, fmt.Errorf("unknown field %q", key)
		}
	}
	if !haveT || !haveP {
		return Sample{}, fmt.Errorf("line %q: need both T and P", line)
	}
	return s, nil
}

// Logger is the logging surface used by the board reader.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Board keeps the latest sample read from the serial link.
type Board struct {
	r          io.ReadCloser
	staleAfter time.Duration
	log        Logger
	now        func() time.Time

	mu          sync.RWMutex
	latest      Sample
	at          time.Time
	have        bool
	parseErrors uint64
}

// New creates a Board reading from r. Run must be called to consume lines.
func New(r io.ReadCloser, staleAfter time.Duration, log Logger) *Board {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if log == nil {
		log = noopLogger{}
	}
	return &Board{r: r, staleAfter: staleAfter, log: log, now: time.Now}
}

// Open opens the serial port and returns a Board reading from it.
func Open(port string, baudRate int, staleAfter time.Duration, log Logger) (*Board, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	conn, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	return New(conn, staleAfter, log), nil
}

// Run reads lines until ctx is cancelled or the link fails. The port is
// closed on return.
func (b *Board) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks the scanner.
			b.r.Close()
		case <-done:
		}
	}()
	defer b.r.Close()

	scanner := bufio.NewScanner(b.r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s, err := ParseLine(line)
		if err != nil {
			b.mu.Lock()
			b.parseErrors++
			n := b.parseErrors
			b.mu.Unlock()
			if n == 1 || n%100 == 0 {
				b.log.Warn("board line rejected", "line", line, "error", err, "total", n)
			}
			continue
		}
		b.mu.Lock()
		b.latest = s
		b.at = b.now()
		b.have = true
		b.mu.Unlock()
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read board: %w", err)
	}
	return fmt.Errorf("read board: %w", io.EOF)
}

// Latest returns the most recent sample and when it arrived.
func (b *Board) Latest() (Sample, time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.at, b.have
}

// ParseErrors returns the number of rejected lines.
func (b *Board) ParseErrors() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.parseErrors
}

func (b *Board) read(pick func(Sample) (float64, error)) (float64, error) {
	s, at, ok := b.Latest()
	if !ok {
		return 0, ErrNoSample
	}
	if age := b.now().Sub(at); age > b.staleAfter {
		return 0, fmt.Errorf("%w: %v old", ErrStale, age.Truncate(time.Millisecond))
	}
	return pick(s)
}

// Temperature returns a source of boiler temperature in °C.
func (b *Board) Temperature() sensor.Source {
	return sensor.FuncSource(func() (float64, error) {
		return b.read(func(s Sample) (float64, error) { return s.Temperature, nil })
	})
}

// Pressure returns a source of brew pressure in bar.
func (b *Board) Pressure() sensor.Source {
	return sensor.FuncSource(func() (float64, error) {
		return b.read(func(s Sample) (float64, error) { return s.Pressure, nil })
	})
}

// Flow returns a source of flow rate. It fails with ErrNoFlow until the
// board reports a flow field.
func (b *Board) Flow() sensor.Source {
	return sensor.FuncSource(func() (float64, error) {
		return b.read(func(s Sample) (float64, error) {
			if !s.HasFlow {
				return 0, ErrNoFlow
			}
			return s.Flow, nil
		})
	})
}
