package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PassFunc is invoked once per evaluation interval.
type PassFunc func(ctx context.Context) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Scheduler drives the periodic evaluation passes. A pass failure is logged
// and the loop keeps going; only context cancellation stops it.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the pass function immediately and then on every
// interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, pass PassFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.runPass(ctx, pass)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runPass(ctx, pass)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, pass PassFunc) {
	started := time.Now().UTC()
	s.logger.Debug().Time("started_at", started).Msg("executing evaluation pass")

	if err := pass(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("evaluation pass failed")
		return
	}

	s.logger.Debug().Dur("elapsed", time.Since(started)).Msg("evaluation pass complete")
}
