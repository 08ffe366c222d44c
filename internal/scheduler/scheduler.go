// Package scheduler periodically requests enrichment for items whose metadata
// has not been refreshed for a while.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleLister finds items due for a refresh.
type StaleLister interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// OnRefreshDue is called for every item that is due.
type OnRefreshDue func(ctx context.Context, itemID uuid.UUID) error

type Options struct {
	// Schedule is a standard five-field cron expression.
	Schedule     string
	RefreshAfter time.Duration
	Batch        int
}

// Scheduler runs a refresh check on a cron schedule.
type Scheduler struct {
	items    StaleLister
	callback OnRefreshDue
	opts     Options
	cron     *cron.Cron
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates the schedule and builds a stopped scheduler.
func New(items StaleLister, cb OnRefreshDue, opts Options, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RefreshAfter <= 0 {
		return nil, fmt.Errorf("scheduler: refresh interval must be positive")
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	s := &Scheduler{
		items:    items,
		callback: cb,
		opts:     opts,
		cron:     cron.New(),
		logger:   logger.Named("scheduler"),
		now:      time.Now,
		ctx:      context.Background(),
	}
	if _, err := s.cron.AddFunc(opts.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("scheduler: schedule %q: %w", opts.Schedule, err)
	}
	return s, nil
}

// Start begins the cron loop. Checks it starts are canceled by Stop or ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("refresh scheduler started", zap.String("schedule", s.opts.Schedule))
}

// Stop halts the loop and waits for a running check to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info("refresh scheduler stopped")
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.Check(ctx)
}

// Check requests a refresh for one batch of stale items and returns how many
// requests succeeded.
func (s *Scheduler) Check(ctx context.Context) int {
	cutoff := s.now().Add(-s.opts.RefreshAfter)
	ids, err := s.items.ListStale(ctx, cutoff, s.opts.Batch)
	if err != nil {
		s.logger.Error("listing stale items", zap.Error(err))
		return 0
	}

	requested := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := s.callback(ctx, id); err != nil {
			s.logger.Warn("refresh request failed", zap.String("item_id", id.String()), zap.Error(err))
			continue
		}
		requested++
	}
	if len(ids) > 0 {
		s.logger.Info("refresh requested", zap.Int("due", len(ids)), zap.Int("requested", requested))
	}
	return requested
}
