package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/careops/clinic-cache/internal/entity"
)

// Queue buffers outbound notifications so producing one never blocks the
// booking or cancellation path. It is unbounded: notifications are off the
// critical path and backpressure to the producer is deliberately absent.
type Queue struct {
	mu         sync.Mutex
	items      []*entity.NotificationItem
	maxRetries int
	logger     *zap.Logger
}

func NewQueue(maxRetries int, logger *zap.Logger) *Queue {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{maxRetries: maxRetries, logger: logger}
}

// Push appends an item. Always succeeds.
func (q *Queue) Push(item *entity.NotificationItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// DrainBatch removes and returns up to max items in FIFO order.
func (q *Queue) DrainBatch(max int) []*entity.NotificationItem {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := max
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}

	batch := make([]*entity.NotificationItem, n)
	copy(batch, q.items[:n])
	q.items = append([]*entity.NotificationItem(nil), q.items[n:]...)
	return batch
}

// Requeue re-appends failed items to the front of the queue in their
// original relative order, so retries run before newer items. Each requeue
// bumps the item's attempt counter; items past the retry cap are dropped
// and logged as failed deliveries. Returns how many items were dropped.
func (q *Queue) Requeue(items []*entity.NotificationItem) int {
	if len(items) == 0 {
		return 0
	}

	kept := make([]*entity.NotificationItem, 0, len(items))
	dropped := 0
	for _, item := range items {
		item.Attempts++
		if item.Attempts >= q.maxRetries {
			dropped++
			q.logger.Warn("notification dropped after retry cap",
				zap.String("notification_id", item.ID),
				zap.String("recipient_id", item.RecipientID),
				zap.String("kind", string(item.Kind)),
				zap.Int("attempts", item.Attempts),
			)
			continue
		}
		kept = append(kept, item)
	}

	if len(kept) > 0 {
		q.mu.Lock()
		q.items = append(kept, q.items...)
		q.mu.Unlock()
	}
	return dropped
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
