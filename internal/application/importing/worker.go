package importing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
)

// MaxConcurrentImports caps simultaneous import executions across every
// worker sharing one SlotLimiter.
const MaxConcurrentImports = 10

// Delivery is one at-least-once handout of an ImportRequested event.
// Attempt starts at 1 and grows with every redelivery.
type Delivery struct {
	ID      string
	Event   importjob.ImportRequested
	Attempt int64
}

// DeliveryQueue returns nil, nil from Receive when nothing arrived before its
// internal block timeout. Unacked deliveries are handed out again once they
// have been idle long enough; Extend resets that idle time for a delivery
// that is still being worked on.
type DeliveryQueue interface {
	Receive(ctx context.Context) (*Delivery, error)
	Extend(ctx context.Context, deliveryID string) error
	Ack(ctx context.Context, deliveryID string) error
}

// SlotLimiter bounds how many holders may run an import at once. Acquire
// reports false when every slot is taken. A slot not refreshed within the
// limiter's TTL is reclaimed.
type SlotLimiter interface {
	Acquire(ctx context.Context, holder string) (bool, error)
	Refresh(ctx context.Context, holder string) error
	Release(ctx context.Context, holder string) error
}

type eventHandler interface {
	Handle(ctx context.Context, evt importjob.ImportRequested) error
}

type WorkerConfig struct {
	Workers       int
	MaxDeliveries int64
	PollInterval  time.Duration
	// HeartbeatInterval must stay well below the queue's claim idle time and
	// the limiter's slot TTL.
	HeartbeatInterval time.Duration
}

type Worker struct {
	queue     DeliveryQueue
	handler   eventHandler
	slots     SlotLimiter
	logger    *slog.Logger
	cfg       WorkerConfig
	newHolder func() string
}

// NewWorker builds a worker. A nil slots limits concurrency within this
// process only.
func NewWorker(queue DeliveryQueue, handler eventHandler, slots SlotLimiter, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 || cfg.Workers > MaxConcurrentImports {
		cfg.Workers = MaxConcurrentImports
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if slots == nil {
		slots = NewLocalSlots(MaxConcurrentImports)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		queue:     queue,
		handler:   handler,
		slots:     slots,
		logger:    logger,
		cfg:       cfg,
		newHolder: uuid.NewString,
	}
}

// Run consumes deliveries with cfg.Workers goroutines until ctx is done. A
// goroutine only reads from the queue while it holds a slot, so deliveries
// beyond the limit stay pending in the queue.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			w.workerLoop(ctx)
			return nil
		})
	}
	w.logger.Info("import workers started", slog.Int("workers", w.cfg.Workers))
	return g.Wait()
}

func (w *Worker) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		holder := w.newHolder()
		acquired, err := w.slots.Acquire(ctx, holder)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("acquire import slot failed", slog.String("error", err.Error()))
		}
		if err != nil || !acquired {
			if !sleepWithContext(ctx, w.cfg.PollInterval) {
				return
			}
			continue
		}

		backoff := w.serve(ctx, holder)
		w.releaseSlot(ctx, holder)

		if backoff && !sleepWithContext(ctx, w.cfg.PollInterval) {
			return
		}
	}
}

// serve receives and handles at most one delivery while holding a slot. It
// reports whether the caller should back off before polling again.
func (w *Worker) serve(ctx context.Context, holder string) bool {
	delivery, err := w.queue.Receive(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("receive import delivery failed", slog.String("error", err.Error()))
		}
		return true
	}
	if delivery == nil {
		return false
	}

	w.processDelivery(ctx, *delivery, holder)
	return false
}

// ProcessDelivery hands one delivery to the orchestrator and acknowledges it
// unless it should be redelivered.
func (w *Worker) ProcessDelivery(ctx context.Context, d Delivery) {
	w.processDelivery(ctx, d, "")
}

func (w *Worker) processDelivery(ctx context.Context, d Delivery, holder string) {
	logger := w.logger.With(
		slog.String("delivery_id", d.ID),
		slog.String("job_id", d.Event.JobID),
		slog.Int64("attempt", d.Attempt),
	)

	stopHeartbeat := w.startHeartbeat(ctx, logger, d.ID, holder)
	err := w.handler.Handle(ctx, d.Event)
	stopHeartbeat()

	switch {
	case err == nil:
	case errors.Is(err, importjob.ErrJobNotFound), errors.Is(err, importjob.ErrInvalidEvent):
		logger.Warn("discarding import delivery", slog.String("error", err.Error()))
	case ctx.Err() != nil:
		logger.Info("import delivery interrupted by shutdown")
		return
	case errors.Is(err, importjob.ErrLeaseHeld), errors.Is(err, importjob.ErrLeaseLost):
		// The executor holding the job acknowledges the delivery when done.
		logger.Info("import job owned by another executor, leaving delivery pending", slog.String("error", err.Error()))
		return
	case d.Attempt >= w.cfg.MaxDeliveries:
		logger.Error("import delivery exhausted redeliveries, dropping", slog.String("error", err.Error()))
	default:
		logger.Warn("import delivery failed, awaiting redelivery", slog.String("error", err.Error()))
		return
	}

	if err := w.queue.Ack(ctx, d.ID); err != nil {
		logger.Error("ack import delivery failed", slog.String("error", err.Error()))
	}
}

// startHeartbeat keeps the delivery, and the slot when holder is set, from
// going idle while the handler runs. The returned func stops it and waits.
func (w *Worker) startHeartbeat(ctx context.Context, logger *slog.Logger, deliveryID, holder string) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
			}

			if err := w.queue.Extend(hbCtx, deliveryID); err != nil && hbCtx.Err() == nil {
				logger.Warn("extend import delivery failed", slog.String("error", err.Error()))
			}
			if holder == "" {
				continue
			}
			if err := w.slots.Refresh(hbCtx, holder); err != nil && hbCtx.Err() == nil {
				logger.Warn("refresh import slot failed", slog.String("error", err.Error()))
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) releaseSlot(ctx context.Context, holder string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := w.slots.Release(releaseCtx, holder); err != nil {
		w.logger.Warn("release import slot failed", slog.String("error", err.Error()))
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
