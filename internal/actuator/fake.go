package actuator

import "sync"

// FakeBinary records state changes for test assertions.
type FakeBinary struct {
	mu sync.Mutex

	// On is the current state.
	On bool

	// Writes counts SetState calls.
	Writes int

	// SetError, if set, is returned by SetState and the state is left unchanged.
	SetError error
}

// SetState records the new state.
func (f *FakeBinary) SetState(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes++
	if f.SetError != nil {
		return f.SetError
	}
	f.On = on
	return nil
}

// State returns the current state.
func (f *FakeBinary) State() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.On
}

// FakeProportional records power levels for test assertions.
type FakeProportional struct {
	mu sync.Mutex

	// Level is the current power level.
	Level float64

	// History contains every level written, in order.
	History []float64

	// SetError, if set, is returned by SetPowerLevel and the level is left unchanged.
	SetError error
}

// SetPowerLevel records the clamped level.
func (f *FakeProportional) SetPowerLevel(level float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Level = ClampLevel(level)
	f.History = append(f.History, f.Level)
	return nil
}

// PowerLevel returns the current level.
func (f *FakeProportional) PowerLevel() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Level
}

// Writes returns the number of successful writes.
func (f *FakeProportional) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.History)
}
