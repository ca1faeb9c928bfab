package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CycleRunner is the unit of work driven by the loop.
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// Orchestrator drives the monitor on a fixed interval. Only one cycle
// runs at a time; a tick that fires while a cycle is still in flight is
// skipped and logged.
type Orchestrator struct {
	runner   CycleRunner
	interval time.Duration
	log      *zap.Logger

	inProgress atomic.Bool
	wg         sync.WaitGroup
}

func New(runner CycleRunner, interval time.Duration, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		runner:   runner,
		interval: interval,
		log:      log,
	}
}

// Run executes the first cycle immediately, then on every interval tick
// until the context is cancelled. On shutdown it waits for the in-flight
// cycle to finish before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("orchestrator start", zap.Duration("interval", o.interval))

	o.runOnce(ctx)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator stopping, waiting for current cycle")
			o.wg.Wait()
			o.log.Info("orchestrator stopped")
			return ctx.Err()
		case <-ticker.C:
			o.runOnce(ctx)
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context) {
	if !o.inProgress.CompareAndSwap(false, true) {
		o.log.Warn("previous cycle still running, skipping tick")
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.inProgress.Store(false)

		start := time.Now()
		if err := o.runner.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.Error("cycle failed", zap.Error(err))
			return
		}
		o.log.Debug("cycle finished", zap.Duration("took", time.Since(start)))
	}()
}
