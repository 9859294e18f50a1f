package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fare-alerts/internal/logging"
)

// Tick identifies one scheduled evaluation pass.
type Tick struct {
	Seq uint64
	At  time.Time
}

// TickFunc is invoked on every interval. Ticks never overlap.
type TickFunc func(ctx context.Context, tick Tick) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives fixed-interval execution of evaluation passes.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logging.Component(logger, "scheduler")}
}

// Interval returns the configured cadence.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Run blocks until ctx is cancelled. The first pass runs once the startup
// delay elapses; later passes follow every interval.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	var seq uint64
	next := time.Now().UTC()
	for {
		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		seq++
		current := Tick{Seq: seq, At: s.bucketStart(next)}
		started := time.Now()
		s.logger.Info().Uint64("tick", current.Seq).Time("at", current.At).Msg("executing scheduled tick")

		if err := tick(ctx, current); err != nil {
			s.logger.Error().Err(err).Uint64("tick", current.Seq).Msg("tick execution failed")
		}

		elapsed := time.Since(started)
		if elapsed > s.opts.Interval {
			s.logger.Warn().
				Uint64("tick", current.Seq).
				Dur("elapsed", elapsed).
				Dur("interval", s.opts.Interval).
				Msg("tick overran interval")
		}

		next = s.nextTick(next, time.Now().UTC())
	}
}

// nextTick advances from the previous slot, skipping slots already missed.
func (s *Scheduler) nextTick(prev, now time.Time) time.Time {
	if s.opts.AlignToStart {
		bucket := now.Truncate(s.opts.Interval)
		if !bucket.After(now) {
			bucket = bucket.Add(s.opts.Interval)
		}
		return bucket
	}
	next := prev.Add(s.opts.Interval)
	skipped := 0
	for next.Before(now) {
		next = next.Add(s.opts.Interval)
		skipped++
	}
	if skipped > 0 {
		s.logger.Warn().Int("skipped", skipped).Msg("skipped ticks after overrun")
	}
	return next
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
