package scheduler

import (
	"context"
	"time"
)

// LoopConfig configures the polling loop of the scheduler process.
type LoopConfig struct {
	PollInterval time.Duration
	// MaxBackoff caps the poll delay after consecutive store failures (default: 10 * PollInterval).
	MaxBackoff time.Duration
	// Seed runs InitializeDefaultTasks once before the first poll.
	Seed bool
}

// Loop drives ProcessDueTasks on a timer.
type Loop struct {
	s    *Scheduler
	cfg  LoopConfig
	done chan struct{}
}

func NewLoop(s *Scheduler, cfg LoopConfig) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * cfg.PollInterval
	}
	return &Loop{s: s, cfg: cfg, done: make(chan struct{})}
}

// Run polls until ctx is cancelled. A task that is running when ctx is
// cancelled is finished before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	if l.cfg.Seed {
		n, err := l.s.InitializeDefaultTasks(ctx)
		if err != nil {
			l.s.logger.Error("failed to seed default tasks", "error", err)
		} else {
			l.s.logger.Info("default tasks initialized", "created", n)
		}
	}

	delay := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		report, err := l.s.ProcessDueTasks(ctx, l.s.now())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Store unavailable: back off exponentially, capped at MaxBackoff.
			delay = min(max(delay*2, l.cfg.PollInterval), l.cfg.MaxBackoff)
			l.s.logger.Error("process due tasks failed", "error", err, "retry_in", delay)
			continue
		}

		delay = l.cfg.PollInterval
		if report.Processed > 0 {
			l.s.logger.Info("processed due tasks", "processed", report.Processed, "stale", len(report.Stale))
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
