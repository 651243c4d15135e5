// Package reaper finalizes live broadcasts whose publisher disappeared
// without a publish-done callback.
package reaper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matchcast/backend/internal/cache"
	"github.com/matchcast/backend/internal/events"
	"github.com/matchcast/backend/internal/logging"
	"github.com/matchcast/backend/internal/models"
	"github.com/matchcast/backend/internal/repository"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval  = 5 * time.Minute
	DefaultThreshold = 15 * time.Minute
)

type Options struct {
	Interval  time.Duration
	Threshold time.Duration
	Events    events.Publisher
	Now       func() time.Time
}

// SweepReport counts what one sweep did with each live broadcast.
type SweepReport struct {
	Checked       int `json:"checked"`
	Finalized     int `json:"finalized"`
	SkippedRecent int `json:"skipped_recent"`
	SkippedActive int `json:"skipped_active"`
	Failed        int `json:"failed"`
}

type Reaper struct {
	broadcasts repository.BroadcastStore
	registry   cache.Registry
	events     events.Publisher
	interval   time.Duration
	threshold  time.Duration
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
	log  zerolog.Logger
}

func New(broadcasts repository.BroadcastStore, registry cache.Registry, opts Options) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reaper{
		broadcasts: broadcasts,
		registry:   registry,
		events:     opts.Events,
		interval:   opts.Interval,
		threshold:  opts.Threshold,
		now:        opts.Now,
	}
}

// Start schedules Sweep every interval until Stop is called. The logger in
// ctx is used for every scheduled run.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reaper already started")
	}

	r.log = zerolog.Ctx(ctx).With().Str("component", "reaper").Logger()
	cl := cronLogger{log: r.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	spec := fmt.Sprintf("@every %s", r.interval)
	if _, err := c.AddFunc(spec, func() {
		report := r.Sweep(r.log.WithContext(ctx))
		if report.Checked > 0 {
			r.log.Info().
				Int("checked", report.Checked).
				Int("finalized", report.Finalized).
				Int("skipped_recent", report.SkippedRecent).
				Int("skipped_active", report.SkippedActive).
				Int("failed", report.Failed).
				Msg("sweep complete")
		}
	}); err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	c.Start()
	r.cron = c

	r.log.Info().Dur("interval", r.interval).Dur("threshold", r.threshold).Msg("reaper started")
	return nil
}

// Stop halts scheduling and returns a context that is done once a running
// sweep has returned.
func (r *Reaper) Stop() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	done := r.cron.Stop()
	r.cron = nil
	return done
}

// Sweep checks every live broadcast once. A failure on one broadcast is
// logged and counted; the sweep moves on to the next.
func (r *Reaper) Sweep(ctx context.Context) SweepReport {
	log := zerolog.Ctx(ctx)
	var report SweepReport

	live, err := r.broadcasts.FindMany(ctx, models.BroadcastFilter{
		Statuses: []models.BroadcastStatus{models.StatusLive},
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to list live broadcasts")
		return report
	}

	now := r.now()
	for i := range live {
		if ctx.Err() != nil {
			break
		}
		report.Checked++
		switch r.reap(ctx, live[i], now) {
		case outcomeFinalized:
			report.Finalized++
		case outcomeRecent:
			report.SkippedRecent++
		case outcomeActive:
			report.SkippedActive++
		case outcomeFailed:
			report.Failed++
		}
	}
	return report
}

type outcome int

const (
	outcomeFinalized outcome = iota
	outcomeRecent
	outcomeActive
	outcomeFailed
)

func (r *Reaper) reap(ctx context.Context, b models.Broadcast, now time.Time) outcome {
	log := zerolog.Ctx(ctx).With().
		Str("broadcast_id", b.ID.String()).
		Str("stream_key", logging.MaskKey(b.StreamKey)).
		Logger()

	// a live row without started_at is only judged by its activity flag
	if b.StartedAt != nil && now.Sub(*b.StartedAt) <= r.threshold {
		return outcomeRecent
	}

	active, err := r.registry.IsActive(ctx, b.StreamKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to check activity")
		return outcomeFailed
	}
	if active {
		return outcomeActive
	}

	finished, err := b.Finish(now)
	if err != nil {
		log.Error().Err(err).Msg("failed to finish abandoned broadcast")
		return outcomeFailed
	}
	if err := r.broadcasts.Save(ctx, &finished); err != nil {
		log.Error().Err(err).Msg("failed to save abandoned broadcast")
		return outcomeFailed
	}
	if err := r.registry.MarkInactive(ctx, b.StreamKey); err != nil {
		log.Warn().Err(err).Msg("failed to clear activity flag")
	}

	log.Info().Msg("abandoned broadcast finalized")
	if err := r.events.Publish(ctx, events.FromBroadcast(events.BroadcastFinished, finished, "abandoned", now)); err != nil {
		log.Warn().Err(err).Msg("failed to publish lifecycle event")
	}
	return outcomeFinalized
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
