package gpio

import (
	"errors"
	"sync"
)

// FakeReader is a test double that returns scripted button samples.
type FakeReader struct {
	// Samples contains scripted values to return.
	// Each call to Read() consumes the next sample.
	Samples []Sample

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples []Sample) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() (Sample, error) {
	if f.ReadError != nil {
		return Sample{}, f.ReadError
	}

	if len(f.Samples) == 0 {
		return Sample{}, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = 0
	f.Closed = false
}

// FakeOutput records every value written.
type FakeOutput struct {
	mu sync.Mutex

	// Values contains every value written, in order.
	Values []int

	// SetError, if set, is returned by SetValue and nothing is recorded.
	SetError error
}

// SetValue records v.
func (f *FakeOutput) SetValue(v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Values = append(f.Values, v)
	return nil
}

// Value returns the last value written, or 0.
func (f *FakeOutput) Value() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Values) == 0 {
		return 0
	}
	return f.Values[len(f.Values)-1]
}

// Writes returns the number of recorded writes.
func (f *FakeOutput) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Values)
}

// NewFakeOutputs returns Outputs backed by fakes, with the fakes for assertions.
func NewFakeOutputs() (Outputs, map[string]*FakeOutput) {
	fakes := map[string]*FakeOutput{
		"power-light": {},
		"pump-light":  {},
		"steam-light": {},
		"solenoid":    {},
		"heater":      {},
		"pump":        {},
	}
	return Outputs{
		PowerLight: fakes["power-light"],
		PumpLight:  fakes["pump-light"],
		SteamLight: fakes["steam-light"],
		Solenoid:   fakes["solenoid"],
		Heater:     fakes["heater"],
		Pump:       fakes["pump"],
	}, fakes
}
