package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JobProcessor runs one unit of background work.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker runs a JobProcessor on a fixed interval and whenever Trigger is
// called. Runs never overlap. An interval <= 0 disables the ticker so only
// triggered runs happen.
type Worker struct {
	processor JobProcessor
	interval  time.Duration
	logger    *slog.Logger

	trigger  chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewWorker(processor JobProcessor, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		processor: processor,
		interval:  interval,
		logger:    logger.With("component", "worker"),
		trigger:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	w.logger.Info("worker started", "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped", "reason", "context cancelled")
			return
		case <-w.stop:
			w.logger.Info("worker stopped", "reason", "stop requested")
			return
		case <-tick:
			w.run(ctx, "interval")
		case <-w.trigger:
			w.run(ctx, "trigger")
		}
	}
}

func (w *Worker) run(ctx context.Context, reason string) {
	started := time.Now()
	if err := w.processor.ProcessJobs(ctx); err != nil {
		w.logger.Error("job run failed", "reason", reason, "error", err)
		return
	}
	w.logger.Debug("job run complete", "reason", reason, "duration", time.Since(started))
}

// Trigger schedules a run as soon as the current one finishes. Triggers that
// arrive while one is already pending are coalesced.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Stop ends the loop and waits for an in-flight run. Safe to call repeatedly
// and after Start returned on its own.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}
