// Package sensor provides exponentially smoothed sensor readings on top of a
// raw sample source. Driver failures are recorded, never raised: detecting a
// stuck or disconnected sensor is the control layer's job.
package sensor

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Source produces one raw sample per call. Implementations must be
// non-blocking or bounded-latency; they are called from the control tick.
type Source interface {
	Read() (float64, error)
}

// FuncSource adapts a plain function to Source.
type FuncSource func() (float64, error)

// Read calls f.
func (f FuncSource) Read() (float64, error) {
	return f()
}

// ErrInvalidCoefficient is returned for a smoothing coefficient outside (0,1].
var ErrInvalidCoefficient = errors.New("sensor: smoothing coefficient must be in (0,1]")

// Smoothed folds raw samples into an exponential moving average.
type Smoothed struct {
	name  string
	src   Source
	alpha float64

	mu       sync.RWMutex
	raw      float64
	smoothed float64
	seeded   bool
	samples  uint64
	lastErr  error
	failures int // consecutive failed reads
}

// NewSmoothed creates a smoothed sensor. alpha is the weight of each new raw
// sample; 1 disables smoothing.
func NewSmoothed(name string, src Source, alpha float64) (*Smoothed, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, fmt.Errorf("%w: %s got %v", ErrInvalidCoefficient, name, alpha)
	}
	if src == nil {
		return nil, fmt.Errorf("sensor %s: nil source", name)
	}
	return &Smoothed{name: name, src: src, alpha: alpha}, nil
}

// Name returns the sensor name given at construction.
func (s *Smoothed) Name() string {
	return s.name
}

// Update reads one raw sample and folds it into the smoothed value.
// The first successful sample seeds the average.
func (s *Smoothed) Update() {
	v, err := s.src.Read()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lastErr = err
		s.failures++
		return
	}
	s.lastErr = nil
	s.failures = 0
	s.raw = v
	s.samples++

	// Non-finite samples are kept as raw for the anomaly check but must not
	// poison the average.
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if !s.seeded {
		s.smoothed = v
		s.seeded = true
		return
	}
	s.smoothed = s.alpha*v + (1-s.alpha)*s.smoothed
}

// RawValue returns the latest raw sample.
func (s *Smoothed) RawValue() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw
}

// SmoothedValue returns the current smoothed value.
func (s *Smoothed) SmoothedValue() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.smoothed
}

// Err returns the error of the most recent read, or nil if it succeeded.
func (s *Smoothed) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Failures returns the number of consecutive failed reads.
func (s *Smoothed) Failures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures
}

// Samples returns the number of successful reads since construction.
func (s *Smoothed) Samples() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samples
}

// Status returns a human-readable summary.
func (s *Smoothed) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := fmt.Sprintf("  raw: %.2f\n  smoothed: %.2f\n  samples: %d\n", s.raw, s.smoothed, s.samples)
	if s.lastErr != nil {
		out += fmt.Sprintf("  error: %v (%d consecutive)\n", s.lastErr, s.failures)
	}
	return out
}
