// Package schedule runs the periodic tasks of the controller on their own
// tickers and ties them, together with long-running services, to a single
// cancellable lifetime.
package schedule

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is a function invoked once per Period.
type Task struct {
	Name   string
	Period time.Duration
	Run    func(now time.Time)
}

// Service is a long-running function that returns when ctx is cancelled.
// A non-nil error cancels every other task and service.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

// Logger is the logging surface used by the Runner.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Runner owns a set of tasks and services.
type Runner struct {
	tasks    []Task
	services []Service
	log      Logger
	now      func() time.Time
}

// NewRunner creates an empty Runner. A nil logger discards overrun warnings.
func NewRunner(log Logger) *Runner {
	if log == nil {
		log = noopLogger{}
	}
	return &Runner{log: log, now: time.Now}
}

// Every adds a periodic task.
func (r *Runner) Every(name string, period time.Duration, run func(now time.Time)) {
	r.tasks = append(r.tasks, Task{Name: name, Period: period, Run: run})
}

// Go adds a long-running service.
func (r *Runner) Go(name string, run func(ctx context.Context) error) {
	r.services = append(r.services, Service{Name: name, Run: run})
}

// Run starts every task and service and blocks until ctx is cancelled or a
// service fails. The first service error is returned.
func (r *Runner) Run(ctx context.Context) error {
	for _, t := range r.tasks {
		if t.Period <= 0 {
			return fmt.Errorf("task %s: period must be positive, got %v", t.Name, t.Period)
		}
		if t.Run == nil {
			return fmt.Errorf("task %s: nil run function", t.Name)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range r.tasks {
		t := t
		g.Go(func() error {
			r.loop(ctx, t)
			return nil
		})
	}
	for _, s := range r.services {
		s := s
		g.Go(func() error {
			if err := s.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", s.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Period)
	defer ticker.Stop()

	overruns := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			start := r.now()
			t.Run(now)
			elapsed := r.now().Sub(start)
			if elapsed <= t.Period {
				overruns = 0
				continue
			}
			overruns++
			// Report the first overrun of a streak, then every 100th.
			if overruns == 1 || overruns%100 == 0 {
				r.log.Warn("task overran its period", "task", t.Name,
					"elapsed", elapsed, "period", t.Period, "consecutive", overruns)
			}
		}
	}
}
