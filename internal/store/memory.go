package store

import (
	"context"
	"sync"

	"github.com/sweeney/espresso-controller/internal/control"
)

// Memory is an in-process store. It counts writes per key.
type Memory struct {
	fields
	defaults control.Configuration

	mu     sync.Mutex
	values map[string]float64
	writes map[string]int
	err    error
}

// NewMemory creates an empty store.
func NewMemory(defaults control.Configuration) *Memory {
	m := &Memory{
		defaults: defaults,
		values:   make(map[string]float64),
		writes:   make(map[string]int),
	}
	m.fields = fields{m}
	return m
}

// LoadConfiguration returns the stored values over defaults.
func (m *Memory) LoadConfiguration(context.Context) (control.Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return configuration(m.values, m.defaults), nil
}

func (m *Memory) set(_ context.Context, key string, v float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.values[key] = v
	m.writes[key]++
	return nil
}

// FailWrites makes subsequent writes return err; nil restores them.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Writes returns how many times key was written.
func (m *Memory) Writes(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[key]
}

// Value returns one stored setting, or ErrNotFound.
func (m *Memory) Value(key string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return 0, ErrNotFound
	}
	return v, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
