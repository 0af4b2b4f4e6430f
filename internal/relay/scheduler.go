package relay

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/mirrorrelay/internal/config"
)

// UpdateHandler is satisfied by *Relay.
type UpdateHandler interface {
	Handle(ctx context.Context, u Update) error
}

type SchedulerOptions struct {
	// Config is read before every tick so interval and enablement follow
	// hot reloads.
	Config func() *config.Config
	Sample func() float64
	Logger zerolog.Logger
}

// Scheduler fires a scheduled update every interval ± jitter. Ticks call the
// handler directly and are never queued, so a slow run delays the next tick
// instead of piling up.
type Scheduler struct {
	handler UpdateHandler
	config  func() *config.Config
	sample  func() float64
	logger  zerolog.Logger
}

func NewScheduler(handler UpdateHandler, opts SchedulerOptions) *Scheduler {
	sample := opts.Sample
	if sample == nil {
		sample = rand.Float64
	}
	return &Scheduler{
		handler: handler,
		config:  opts.Config,
		sample:  sample,
		logger:  opts.Logger,
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Err(ctx.Err()).Msg("scheduler stopping")
			return
		case <-timer.C:
			s.Tick(ctx)
			timer.Reset(s.nextDelay())
		}
	}
}

// Tick runs one scheduled pass if scheduling is enabled in the current
// snapshot.
func (s *Scheduler) Tick(ctx context.Context) {
	cfg := s.config()
	if cfg == nil || !cfg.Schedule.Enabled {
		return
	}
	u := Update{ID: uuid.NewString(), Kind: KindScheduled, ReceivedAt: time.Now().UTC()}
	if err := s.handler.Handle(ctx, u); err != nil {
		s.logger.Error().Err(err).Str("update", u.ID).Msg("scheduled run failed")
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	interval := 2 * time.Minute
	jitter := 0.0
	if cfg := s.config(); cfg != nil {
		if cfg.Schedule.Interval.Duration > 0 {
			interval = cfg.Schedule.Interval.Duration
		}
		jitter = cfg.Schedule.Jitter
	}
	return jitteredIntervalWithSample(interval, jitter, s.sample())
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// jitteredIntervalWithSample maps sample in [0,1] onto
// [base*(1-ratio), base*(1+ratio)].
func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
