// Package scheduler runs the periodic maintenance passes of directory sync.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/peteski22/dirsync/internal/config"
)

const (
	// DefaultInterval is the time between passes when running continuously.
	DefaultInterval = 15 * time.Minute

	// DefaultStuckThreshold is how long a target may stay pending before it is failed.
	DefaultStuckThreshold = time.Hour
)

// DirectorySource provides the directory configuration and records automatic sync runs.
type DirectorySource interface {
	// Directory returns the current configuration.
	Directory(ctx context.Context) (config.Directory, error)

	// RecordAutomaticSync stores the start time of an automatic full sync.
	RecordAutomaticSync(ctx context.Context, at time.Time) error
}

// Enqueuer submits bulk sync work.
type Enqueuer interface {
	// EnqueueAll submits a sync for every enabled target.
	EnqueueAll(ctx context.Context) ([]uuid.UUID, error)

	// EnqueueRetryFailed submits a sync for every failed target.
	EnqueueRetryFailed(ctx context.Context) ([]uuid.UUID, error)
}

// Sweeper fails targets stuck in pending.
type Sweeper interface {
	// SweepStuckPending fails pending targets unchanged for longer than threshold.
	SweepStuckPending(ctx context.Context, threshold time.Duration) (int, error)
}

// Config holds the configuration for creating a Scheduler.
type Config struct {
	// Directory provides the directory configuration.
	Directory DirectorySource

	// Interval is the time between passes in Run.
	Interval time.Duration

	// Logger is the structured logger for the scheduler.
	Logger *slog.Logger

	// Queue receives the sync work.
	Queue Enqueuer

	// StuckThreshold is how long a target may stay pending.
	StuckThreshold time.Duration

	// Sweeper fails stuck targets.
	Sweeper Sweeper
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Directory == nil {
		errs = append(errs, errors.New("directory source is required"))
	}
	if c.Queue == nil {
		errs = append(errs, errors.New("queue is required"))
	}
	if c.Sweeper == nil {
		errs = append(errs, errors.New("sweeper is required"))
	}
	if c.Interval < 0 {
		errs = append(errs, errors.New("interval cannot be negative"))
	}
	if c.StuckThreshold < 0 {
		errs = append(errs, errors.New("stuck threshold cannot be negative"))
	}
	return errors.Join(errs...)
}

// Report summarizes one pass.
type Report struct {
	// AutomaticSync is true when a full sync was started.
	AutomaticSync bool

	// Enqueued are the IDs of the jobs submitted.
	Enqueued []uuid.UUID

	// Swept is the number of stuck targets failed.
	Swept int
}

// Scheduler sweeps stuck targets, retries failed ones and starts automatic full syncs when due.
type Scheduler struct {
	directory DirectorySource
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
	queue     Enqueuer
	sweeper   Sweeper
	threshold time.Duration
}

// New creates a new Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	threshold := cfg.StuckThreshold
	if threshold == 0 {
		threshold = DefaultStuckThreshold
	}

	return &Scheduler{
		directory: cfg.Directory,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		queue:     cfg.Queue,
		sweeper:   cfg.Sweeper,
		threshold: threshold,
	}, nil
}

// Run executes a pass immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.ErrorContext(ctx, "scheduled pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single pass. Each step runs even if an earlier one failed; their errors are joined.
// When an automatic full sync is due it replaces the failed retry, since it covers failed targets too.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	var (
		errs   []error
		report Report
	)

	swept, err := s.sweeper.SweepStuckPending(ctx, s.threshold)
	report.Swept = swept
	if err != nil {
		errs = append(errs, fmt.Errorf("sweeping stuck targets: %w", err))
	}

	dir, err := s.directory.Directory(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("loading directory configuration: %w", err))
		return report, errors.Join(errs...)
	}
	if !dir.IsConfigured() || !dir.SyncActive() {
		s.logger.DebugContext(ctx, "directory sync inactive, skipping enqueue")
		return report, errors.Join(errs...)
	}

	now := s.now()
	if dir.EnableAutomaticSync && nextWaitInterval(now, dir) == 0 {
		if err := s.directory.RecordAutomaticSync(ctx, now); err != nil {
			errs = append(errs, fmt.Errorf("recording automatic sync: %w", err))
			return report, errors.Join(errs...)
		}
		ids, err := s.queue.EnqueueAll(ctx)
		report.AutomaticSync = true
		report.Enqueued = ids
		if err != nil {
			errs = append(errs, fmt.Errorf("enqueueing automatic sync: %w", err))
		}
	} else {
		ids, err := s.queue.EnqueueRetryFailed(ctx)
		report.Enqueued = ids
		if err != nil {
			errs = append(errs, fmt.Errorf("enqueueing failed targets: %w", err))
		}
	}

	s.logger.InfoContext(ctx, "scheduled pass complete",
		"swept", report.Swept,
		"automatic_sync", report.AutomaticSync,
		"enqueued", len(report.Enqueued))

	return report, errors.Join(errs...)
}

// nextWaitInterval returns how long until the next automatic sync is due.
// It is zero when no automatic sync has run yet or the interval has already elapsed.
func nextWaitInterval(now time.Time, dir config.Directory) time.Duration {
	if dir.LastAutomaticSync.IsZero() {
		return 0
	}

	interval := dir.SyncInterval
	if interval <= 0 {
		interval = config.DefaultSyncInterval
	}

	nextRunTime := dir.LastAutomaticSync.Add(interval)
	if !nextRunTime.After(now) {
		return 0
	}

	return nextRunTime.Sub(now)
}
