package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/runner"
	"go.uber.org/zap"
)

type Runner interface {
	Run(ctx context.Context) (runner.Report, error)
}

// Scheduler starts a watch cycle every Interval. A tick that lands while a
// cycle is still running is dropped by the runner's guard.
type Scheduler struct {
	Runner   Runner
	Interval time.Duration
	Log      *zap.Logger

	wg sync.WaitGroup
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.log().Info("scheduler started", zap.Duration("interval", s.Interval))

	// kick immediately
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		rep, err := s.Runner.Run(ctx)
		if rep.Skipped {
			s.log().Debug("tick skipped, previous run still active")
			return
		}
		if err != nil {
			// already reported by the runner
			s.log().Debug("scheduled run failed", zap.String("run_id", rep.RunID))
		}
	}()
}

func (s *Scheduler) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
