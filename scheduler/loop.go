package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Settings are the values re-read before every cycle.
type Settings struct {
	// Enabled gates whether a cycle does any work
	Enabled bool
	// Interval is how long to wait after a cycle before the next one
	Interval time.Duration
	// BasePath is the root dir repository local paths are resolved under
	BasePath string
}

// SettingsFunc returns current settings. It is called once before every
// cycle and once more after a cycle which ran.
type SettingsFunc func() Settings

// Cycler runs a single fetch cycle.
type Cycler interface {
	Run(ctx context.Context, basePath string) (Summary, error)
}

// Loop runs fetch cycles until its context is cancelled.
type Loop struct {
	warmUp   time.Duration
	cycle    Cycler
	settings SettingsFunc
	log      *slog.Logger
	done     chan struct{}
}

// NewLoop creates a Loop which waits warmUp before the first cycle.
func NewLoop(warmUp time.Duration, cycle Cycler, settings SettingsFunc, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		warmUp:   warmUp,
		cycle:    cycle,
		settings: settings,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run blocks until ctx is cancelled. Errors of individual cycles are logged
// and never stop the loop.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	l.log.Info("auto fetch loop started", "warm-up", l.warmUp)
	defer l.log.Info("auto fetch loop stopped")

	// don't compete with everything else starting up
	if !sleep(ctx, l.warmUp) {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		interval := l.nextInterval(ctx)
		l.log.Log(ctx, -8, "waiting for next cycle", "interval", interval)
		if !sleep(ctx, interval) {
			return
		}
	}
}

// nextInterval runs a cycle if enabled and returns the interval to wait
// before the next one. Settings are read before the cycle and, if a cycle ran,
// again after it as the interval might have changed while it was running.
func (l *Loop) nextInterval(ctx context.Context) time.Duration {
	s := l.settings()
	if !s.Enabled {
		l.log.Debug("auto fetch is disabled, skipping cycle")
		return s.Interval
	}

	l.runCycle(ctx, s.BasePath)
	return l.settings().Interval
}

func (l *Loop) runCycle(ctx context.Context, basePath string) {
	start := time.Now()

	sum, err := l.safeRun(ctx, basePath)
	recordCycle(sum, err == nil, start)

	var persistErr *PersistenceError
	switch {
	case err != nil && ctx.Err() != nil:
		l.log.Info("auto fetch cycle interrupted", "succeeded", sum.Succeeded, "failed", sum.Failed)
	case errors.As(err, &persistErr):
		l.log.Error("auto fetch cycle aborted, unable to persist repository state",
			"repo", persistErr.Repository, "err", persistErr.Err)
	case err != nil:
		l.log.Error("error in auto fetch cycle", "err", err)
	default:
		l.log.Info("auto fetch cycle complete", "repos", sum.Selected,
			"succeeded", sum.Succeeded, "failed", sum.Failed, "time", time.Since(start).Round(time.Millisecond))
	}
}

// safeRun turns a panic in the cycle into an error.
func (l *Loop) safeRun(ctx context.Context, basePath string) (sum Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in auto fetch cycle: %v", r)
		}
	}()
	return l.cycle.Run(ctx, basePath)
}

// sleep waits for d and returns false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}
