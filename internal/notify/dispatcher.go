package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"wzslicense/internal/infrastructure"
)

// Dispatch results recorded in metrics
const (
	resultSent    = "sent"
	resultRetried = "retried"
	resultDropped = "dropped"
	resultRefused = "enqueue_failed"
)

const drainPollInterval = 20 * time.Millisecond

// DispatcherConfig bounds the worker pool and retries
type DispatcherConfig struct {
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
}

// DispatcherStats is a snapshot of dispatcher counters
type DispatcherStats struct {
	Enqueued int64 `json:"enqueued"`
	Sent     int64 `json:"sent"`
	Retried  int64 `json:"retried"`
	Dropped  int64 `json:"dropped"`
	Refused  int64 `json:"refused"`
	Pending  int64 `json:"pending"`
}

// Dispatcher drains a Queue with a fixed pool of workers
type Dispatcher struct {
	queue   Queue
	mailer  Mailer
	cfg     DispatcherConfig
	metrics *infrastructure.BusinessMetrics
	logger  *slog.Logger

	enqueued atomic.Int64
	sent     atomic.Int64
	retried  atomic.Int64
	dropped  atomic.Int64
	refused  atomic.Int64
	pending  atomic.Int64
	running  atomic.Bool
}

// NewDispatcher creates a dispatcher. Run must be called to start delivery.
func NewDispatcher(queue Queue, mailer Mailer, cfg DispatcherConfig, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		queue:   queue,
		mailer:  mailer,
		cfg:     cfg,
		metrics: metrics,
		logger:  infrastructure.WithComponent(logger, "notify_dispatcher"),
	}
}

// Enqueue queues a license email. An error means the email will not be
// sent; callers log it and carry on.
func (d *Dispatcher) Enqueue(ctx context.Context, email LicenseEmail) error {
	if email.EnqueuedAt.IsZero() {
		email.EnqueuedAt = time.Now().UTC()
	}
	if err := d.queue.Push(ctx, email); err != nil {
		d.refused.Inc()
		infrastructure.RecordNotificationDispatch(ctx, d.metrics, resultRefused)
		d.logger.ErrorContext(ctx, "license email not queued",
			slog.String("order_no", email.OrderNo),
			slog.String("error", err.Error()))
		return err
	}
	d.enqueued.Inc()
	d.pending.Inc()
	return nil
}

// Run starts the workers and blocks until ctx is done or the queue is closed
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("dispatcher already running")
	}
	defer d.running.Store(false)

	d.logger.InfoContext(ctx, "notification dispatcher started",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("max_attempts", d.cfg.MaxAttempts))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return d.work(gctx, worker)
		})
	}
	err := g.Wait()

	d.logger.InfoContext(context.WithoutCancel(ctx), "notification dispatcher stopped",
		slog.Any("stats", d.Stats()))
	return err
}

func (d *Dispatcher) work(ctx context.Context, worker int) error {
	log := d.logger.With(slog.Int("worker", worker))
	for {
		email, err := d.queue.Pop(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, ErrQueueClosed):
			return nil
		default:
			log.ErrorContext(ctx, "queue pop failed", slog.String("error", err.Error()))
			if !sleep(ctx, d.cfg.RetryDelay) {
				return nil
			}
			continue
		}
		d.deliver(ctx, log, email)
	}
}

// deliver sends one email, retrying in place up to MaxAttempts
func (d *Dispatcher) deliver(ctx context.Context, log *slog.Logger, email LicenseEmail) {
	ctx = infrastructure.EnsureTraceID(ctx)
	log = log.With(
		slog.String("order_no", email.OrderNo),
		slog.String("license_key", maskedKey(email)))
	msg := RenderLicenseEmail(email)

	for email.Attempt < d.cfg.MaxAttempts {
		email.Attempt++
		err := d.mailer.Send(ctx, msg)
		if err == nil {
			d.sent.Inc()
			infrastructure.RecordNotificationDispatch(ctx, d.metrics, resultSent)
			d.pending.Dec()
			log.InfoContext(ctx, "license email sent", slog.Int("attempt", email.Attempt))
			return
		}

		infrastructure.WithError(log, err).WarnContext(ctx, "license email send failed",
			slog.Int("attempt", email.Attempt))
		if email.Attempt >= d.cfg.MaxAttempts {
			break
		}
		d.retried.Inc()
		infrastructure.RecordNotificationDispatch(ctx, d.metrics, resultRetried)
		if !sleep(ctx, d.cfg.RetryDelay) {
			// Shutting down: hand the email back so a durable queue keeps it.
			if perr := d.queue.Push(context.WithoutCancel(ctx), email); perr != nil {
				d.pending.Dec()
				log.WarnContext(ctx, "license email lost on shutdown", slog.String("error", perr.Error()))
			}
			return
		}
	}

	d.dropped.Inc()
	d.pending.Dec()
	infrastructure.RecordNotificationDispatch(ctx, d.metrics, resultDropped)
	log.ErrorContext(ctx, "license email dropped after retries",
		slog.Int("attempts", email.Attempt),
		slog.String("to", email.To))
}

// Drain blocks until every email enqueued through this dispatcher has been
// sent or dropped, Run has stopped, or ctx is done. Emails a durable queue
// held from an earlier process are not waited for; they stay queued.
func (d *Dispatcher) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for d.pending.Load() > 0 && d.running.Load() {
		select {
		case <-ctx.Done():
			d.logger.WarnContext(context.WithoutCancel(ctx), "notification drain incomplete",
				slog.Int64("pending", d.pending.Load()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stats returns the current counters
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Enqueued: d.enqueued.Load(),
		Sent:     d.sent.Load(),
		Retried:  d.retried.Load(),
		Dropped:  d.dropped.Load(),
		Refused:  d.refused.Load(),
		Pending:  d.pending.Load(),
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
