// Package housekeeping runs the low-frequency background jobs: metrics
// snapshots, balance refresh and risk-day rollover.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Tasks is what the scheduler drives. None of the jobs mutates decision
// state except the day rollover, which the risk firewall serializes itself.
type Tasks interface {
	PublishSnapshot(ctx context.Context) error
	RefreshBalance(ctx context.Context) error
	RolloverDay(ctx context.Context, now time.Time) bool
}

// Config holds job intervals.
type Config struct {
	SnapshotInterval time.Duration
	BalanceRefresh   time.Duration
	Location         *time.Location
}

// Scheduler manages all cron jobs.
type Scheduler struct {
	Cron  *cron.Cron
	tasks Tasks
	ctx   context.Context
	log   zerolog.Logger
}

// NewScheduler creates a scheduler; jobs run with ctx.
func NewScheduler(ctx context.Context, tasks Tasks, log zerolog.Logger) *Scheduler {
	return &Scheduler{tasks: tasks, ctx: ctx, log: log.With().Str("component", "housekeeping").Logger()}
}

// RegisterAll registers the snapshot, balance and rollover jobs.
func (s *Scheduler) RegisterAll(cfg Config) error {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	s.Cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.Cron.AddFunc(every(cfg.SnapshotInterval), s.SnapshotNow); err != nil {
		return fmt.Errorf("register snapshot job: %w", err)
	}
	if cfg.BalanceRefresh > 0 {
		if _, err := s.Cron.AddFunc(every(cfg.BalanceRefresh), s.refreshBalance); err != nil {
			return fmt.Errorf("register balance job: %w", err)
		}
	}
	// Top of every minute; the firewall decides whether the day changed.
	if _, err := s.Cron.AddFunc("0 * * * * *", s.rollover); err != nil {
		return fmt.Errorf("register rollover job: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop waits for running jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// SnapshotNow publishes a metrics snapshot immediately.
func (s *Scheduler) SnapshotNow() {
	if err := s.tasks.PublishSnapshot(s.ctx); err != nil {
		s.log.Error().Err(err).Msg("metrics snapshot failed")
	}
}

func (s *Scheduler) refreshBalance() {
	if err := s.tasks.RefreshBalance(s.ctx); err != nil {
		s.log.Warn().Err(err).Msg("balance refresh failed")
	}
}

func (s *Scheduler) rollover() {
	if s.tasks.RolloverDay(s.ctx, time.Now()) {
		s.log.Info().Msg("trading day rolled over")
	}
}

func every(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}
