package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/careops/clinic-cache/internal/entity"
)

// OutboxStore lists persisted notifications that have not been fanned out
// and marks them once they have.
type OutboxStore interface {
	ListUndeliveredNotifications(ctx context.Context, limit int) ([]entity.NotificationItem, error)
	MarkNotificationDelivered(ctx context.Context, id string) error
}

// Publisher fans a notification out to its recipient's live channel.
type Publisher interface {
	PublishNotification(ctx context.Context, item entity.NotificationItem) error
}

// Worker sweeps the store's notification outbox on an interval and publishes
// each undelivered item. Publish failures are logged and the row stays
// undelivered for the next sweep.
type Worker struct {
	store     OutboxStore
	pub       Publisher
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewWorker(store OutboxStore, pub Publisher, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:     store,
		pub:       pub,
		logger:    logger,
		interval:  time.Minute,
		batchSize: 100,
	}
}

func (w *Worker) WithInterval(d time.Duration) *Worker {
	if d > 0 {
		w.interval = d
	}
	return w
}

func (w *Worker) WithBatchSize(n int) *Worker {
	if n > 0 {
		w.batchSize = n
	}
	return w
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	items, err := w.store.ListUndeliveredNotifications(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("outbox sweep failed", zap.Error(err))
		return
	}

	for _, item := range items {
		if err := w.pub.PublishNotification(ctx, item); err != nil {
			w.logger.Warn("notification publish failed",
				zap.String("notification_id", item.ID),
				zap.String("recipient_id", item.RecipientID),
				zap.Error(err),
			)
			continue
		}
		if err := w.store.MarkNotificationDelivered(ctx, item.ID); err != nil {
			w.logger.Error("mark delivered failed",
				zap.String("notification_id", item.ID),
				zap.Error(err),
			)
		}
	}
}
