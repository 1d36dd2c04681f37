// Package retention prunes aged webhook deliveries and tool dead
// letters on a cron schedule. Run rows, step attempts, and event logs
// are kept forever; only the operational queues are bounded.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tradewire/agentcore/internal/store"
)

// Sweeper deletes terminal deliveries and dead letters older than the
// retention window.
type Sweeper struct {
	store    store.Store
	schedule cron.Schedule
	window   time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewSweeper parses the cron expression (standard five-field syntax)
// and returns a sweeper pruning records older than window.
func NewSweeper(s store.Store, cronExpr string, window time.Duration, logger *slog.Logger) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", cronExpr, err)
	}
	if window <= 0 {
		return nil, fmt.Errorf("retention window must be positive, got %s", window)
	}
	return &Sweeper{store: s, schedule: schedule, window: window, logger: logger}, nil
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("retention sweeper already started")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(sweepCtx)
	s.logger.Info("retention sweeper started", slog.Duration("window", s.window))
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep prunes everything older than the retention window once.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.window)

	deliveries, err := s.store.PruneDeliveries(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to prune webhook deliveries", slog.String("error", err.Error()))
	}
	deadLetters, err := s.store.PruneDeadLetters(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to prune tool dead letters", slog.String("error", err.Error()))
	}

	if deliveries > 0 || deadLetters > 0 {
		s.logger.InfoContext(ctx, "retention sweep pruned records",
			slog.Int64("deliveries", deliveries),
			slog.Int64("dead_letters", deadLetters),
			slog.Time("cutoff", cutoff),
		)
	}
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("retention sweeper stopped")
	return nil
}
