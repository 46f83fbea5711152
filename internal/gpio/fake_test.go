package gpio

import (
	"errors"
	"testing"
)

func TestFakeReaderRead(t *testing.T) {
	samples := []Sample{
		{Power: true},
		{Pump: true},
		{Pump: true, Steam: true},
	}

	f := NewFakeReader(samples)

	for i, want := range samples {
		got, err := f.Read()
		if err != nil {
			t.Fatalf("sample %d: unexpected error: %v", i, err)
		}
		if got != want {
			t.Errorf("sample %d: expected %+v, got %+v", i, want, got)
		}
	}

	// Fourth read should repeat last sample
	got, err := f.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != samples[2] {
		t.Errorf("repeat: expected %+v, got %+v", samples[2], got)
	}
}

func TestFakeReaderNoSamples(t *testing.T) {
	f := NewFakeReader(nil)

	if _, err := f.Read(); err == nil {
		t.Error("expected error with no samples")
	}
}

func TestFakeReaderError(t *testing.T) {
	f := NewFakeReader([]Sample{{Power: true}})
	f.ReadError = errors.New("simulated error")

	_, err := f.Read()
	if err == nil {
		t.Fatal("expected error to be returned")
	}
	if err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFakeReaderCloseAndReset(t *testing.T) {
	f := NewFakeReader([]Sample{{Power: true}, {Steam: true}})

	f.Read()
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}

	f.Reset()
	if f.Closed {
		t.Error("Reset should clear Closed")
	}
	got, _ := f.Read()
	if !got.Power || got.Steam {
		t.Errorf("after reset: expected first sample, got %+v", got)
	}
}

func TestFakeOutput(t *testing.T) {
	var f FakeOutput
	if f.Value() != 0 {
		t.Error("should start inactive")
	}
	f.SetValue(1)
	f.SetValue(0)
	f.SetValue(1)
	if f.Value() != 1 || f.Writes() != 3 {
		t.Errorf("got value=%d writes=%d", f.Value(), f.Writes())
	}

	f.SetError = errors.New("line busy")
	if err := f.SetValue(0); err == nil {
		t.Error("expected error")
	}
	if f.Writes() != 3 {
		t.Error("failed writes must not be recorded")
	}
}
