package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/careops/clinic-cache/internal/entity"
	"github.com/careops/clinic-cache/internal/metrics"
)

// Deliverer persists a notification to the backing store.
type Deliverer interface {
	PersistNotification(ctx context.Context, item *entity.NotificationItem) error
}

// Dispatcher drains the queue on a ticker and delivers each batch to the
// store. Queue locks are never held across the delivery call: DrainBatch
// removes items up front and failures go back through Requeue. Delivery
// errors stay inside the dispatcher; the producer that pushed the item is
// never told.
type Dispatcher struct {
	queue     *Queue
	store     Deliverer
	logger    *zap.Logger
	metrics   *metrics.Collector
	interval  time.Duration
	batchSize int
}

func NewDispatcher(queue *Queue, store Deliverer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:     queue,
		store:     store,
		logger:    logger,
		interval:  5 * time.Second,
		batchSize: 50,
	}
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.Collector) *Dispatcher {
	d.metrics = m
	return d
}

// Run drains until ctx is cancelled. One drain happens immediately so queued
// items do not wait a full interval after startup.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.drainOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *Dispatcher) drainOnce(ctx context.Context) {
	batch := d.queue.DrainBatch(d.batchSize)
	if len(batch) == 0 {
		return
	}

	var failed []*entity.NotificationItem
	for _, item := range batch {
		if err := d.store.PersistNotification(ctx, item); err != nil {
			d.logger.Warn("notification delivery failed",
				zap.String("notification_id", item.ID),
				zap.String("recipient_id", item.RecipientID),
				zap.Int("attempts", item.Attempts),
				zap.Error(err),
			)
			d.metrics.ObserveNotification("retried")
			failed = append(failed, item)
			continue
		}
		item.Delivered = true
		d.metrics.ObserveNotification("delivered")
	}

	if len(failed) > 0 {
		dropped := d.queue.Requeue(failed)
		for i := 0; i < dropped; i++ {
			d.metrics.ObserveNotification("dropped")
		}
	}
}
