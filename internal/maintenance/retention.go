// Package maintenance runs out-of-band housekeeping on the seat ledger.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs compaction daily at 03:00.
const DefaultSchedule = "0 3 * * *"

// compactionTimeout bounds a single scheduled run.
const compactionTimeout = 5 * time.Minute

// CompactionStore deletes allocations that have been silent since before cutoff.
type CompactionStore interface {
	CompactAllocations(ctx context.Context, cutoff time.Time) (int64, error)
}

// CompactionRecorder receives the number of rows removed by each run.
type CompactionRecorder interface {
	RecordCompaction(n int64)
}

// RetentionScheduler periodically deletes seat allocations whose heartbeat is
// older than the retention window. Such rows are long past the heartbeat TTL,
// so removing them never changes which device holds a seat.
type RetentionScheduler struct {
	store     CompactionStore
	retention time.Duration
	schedule  string
	clock     quartz.Clock
	recorder  CompactionRecorder
	cron      *cron.Cron
	logger    zerolog.Logger
	mu        sync.Mutex
	running   bool
}

// NewRetentionScheduler creates a new compaction scheduler. An empty schedule
// uses DefaultSchedule.
func NewRetentionScheduler(store CompactionStore, retention time.Duration, schedule string, clock quartz.Clock, logger zerolog.Logger) *RetentionScheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &RetentionScheduler{
		store:     store,
		retention: retention,
		schedule:  schedule,
		clock:     clock,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		logger:    logger.With().Str("component", "retention").Logger(),
	}
}

// SetRecorder registers a recorder for compaction results.
func (s *RetentionScheduler) SetRecorder(r CompactionRecorder) {
	s.recorder = r
}

// Start registers the compaction job and starts the cron scheduler.
func (s *RetentionScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("retention scheduler already running")
	}
	if s.retention <= 0 {
		return errors.New("retention window must be positive")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runCleanup); err != nil {
		return fmt.Errorf("invalid compaction schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Dur("retention", s.retention).
		Str("schedule", s.schedule).
		Msg("allocation compaction scheduler started")

	return nil
}

// Stop stops the scheduler. The returned context is done once a running job
// has finished.
func (s *RetentionScheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping allocation compaction scheduler")
	return s.cron.Stop()
}

func (s *RetentionScheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), compactionTimeout)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error().Err(err).Msg("allocation compaction failed")
	}
}

// RunNow compacts immediately and returns the number of rows removed.
func (s *RetentionScheduler) RunNow(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now("retention", "compact").Add(-s.retention)

	deleted, err := s.store.CompactAllocations(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if s.recorder != nil {
		s.recorder.RecordCompaction(deleted)
	}

	s.logger.Info().
		Int64("deleted_rows", deleted).
		Time("cutoff", cutoff).
		Msg("allocation compaction completed")

	return deleted, nil
}
