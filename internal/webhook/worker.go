package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradewire/agentcore/internal/store"
	"github.com/tradewire/agentcore/pkg/schema"
)

const defaultSweepBatch = 50

// Worker sweeps the store for due deliveries and re-attempts them until
// they reach a terminal status. A Kick wakes the worker early, used when
// an operator requeues a delivery by hand.
type Worker struct {
	store      store.Store
	dispatcher *Dispatcher
	interval   time.Duration
	batch      int
	logger     *slog.Logger

	kick     chan struct{}
	sweeping atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewWorker creates a delivery retry worker sweeping at the given
// interval.
func NewWorker(s store.Store, dispatcher *Dispatcher, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		store:      s,
		dispatcher: dispatcher,
		interval:   interval,
		batch:      defaultSweepBatch,
		logger:     logger,
		kick:       make(chan struct{}, 1),
	}
}

// Start launches the background sweep loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.done != nil {
		w.mu.Unlock()
		return fmt.Errorf("webhook worker already started")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(workerCtx)
	w.logger.Info("webhook delivery worker started")
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		case <-w.kick:
			w.Sweep(ctx)
		}
	}
}

// Kick wakes the worker for an immediate sweep without blocking the
// caller. A kick while a sweep is already queued is a no-op.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Sweep attempts every due delivery once. Overlapping sweeps are
// no-ops. Deliveries whose subscription has been deleted are marked
// failed so they never come due again.
func (w *Worker) Sweep(ctx context.Context) {
	if !w.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer w.sweeping.Store(false)

	due, err := w.store.DueDeliveries(ctx, time.Now().UTC(), w.batch)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to list due deliveries", slog.String("error", err.Error()))
		return
	}

	for _, d := range due {
		sub, err := w.store.GetWebhook(ctx, d.TenantID, d.WebhookID)
		if err != nil {
			if schema.IsCode(err, schema.ErrCodeNotFound) {
				if mErr := w.store.MarkDeliveryFailed(ctx, d.ID, d.Attempt+1, "webhook subscription deleted"); mErr != nil {
					w.logger.ErrorContext(ctx, "failed to mark orphaned delivery failed",
						slog.String("delivery_id", d.ID),
						slog.String("error", mErr.Error()),
					)
				}
				continue
			}
			w.logger.ErrorContext(ctx, "failed to load webhook subscription",
				slog.String("delivery_id", d.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		w.dispatcher.Attempt(ctx, d, sub)
	}
}

// Stop gracefully shuts down the worker.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return nil
	}

	w.cancel()
	<-w.done
	w.cancel = nil
	w.done = nil

	w.logger.Info("webhook delivery worker stopped")
	return nil
}
