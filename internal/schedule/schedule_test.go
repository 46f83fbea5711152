package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, fmt.Sprint(append([]any{msg}, args...)...))
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

func TestRunnerTicksTasks(t *testing.T) {
	r := NewRunner(nil)
	var fast, slow atomic.Int32
	r.Every("fast", 5*time.Millisecond, func(time.Time) { fast.Add(1) })
	r.Every("slow", 50*time.Millisecond, func(time.Time) { slow.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if fast.Load() < 10 {
		t.Errorf("fast task ran %d times, expected at least 10", fast.Load())
	}
	if s := slow.Load(); s < 1 || s > 5 {
		t.Errorf("slow task ran %d times, expected 1..5", s)
	}
}

func TestRunnerStopsOnServiceError(t *testing.T) {
	r := NewRunner(nil)
	boom := errors.New("serial port gone")
	stopped := make(chan struct{})

	r.Go("board", func(ctx context.Context) error { return boom })
	r.Go("queue", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	})

	err := r.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped service error, got %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("other services should be cancelled")
	}
}

func TestRunnerRejectsBadTasks(t *testing.T) {
	r := NewRunner(nil)
	r.Every("broken", 0, func(time.Time) {})
	if err := r.Run(context.Background()); err == nil {
		t.Error("expected error for zero period")
	}

	r = NewRunner(nil)
	r.Every("nil", time.Millisecond, nil)
	if err := r.Run(context.Background()); err == nil {
		t.Error("expected error for nil run")
	}
}

func TestRunnerWarnsOnOverrun(t *testing.T) {
	log := &recordingLogger{}
	r := NewRunner(log)
	r.Every("sluggish", 5*time.Millisecond, func(time.Time) { time.Sleep(15 * time.Millisecond) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	// A streak of overruns is reported once until it reaches 100.
	if got := log.count(); got != 1 {
		t.Errorf("expected 1 overrun warning, got %d", got)
	}
}
