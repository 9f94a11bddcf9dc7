package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/careops/clinic-cache/internal/entity"
)

type fakeOutbox struct {
	rows      []entity.NotificationItem
	marked    []string
	listErr   error
	markCalls int
}

func (f *fakeOutbox) ListUndeliveredNotifications(ctx context.Context, limit int) ([]entity.NotificationItem, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.rows) > limit {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func (f *fakeOutbox) MarkNotificationDelivered(ctx context.Context, id string) error {
	f.markCalls++
	f.marked = append(f.marked, id)
	return nil
}

type fakePublisher struct {
	published []string
	failIDs   map[string]bool
}

func (f *fakePublisher) PublishNotification(ctx context.Context, item entity.NotificationItem) error {
	if f.failIDs[item.ID] {
		return errors.New("channel down")
	}
	f.published = append(f.published, item.ID)
	return nil
}

func TestWorkerSweepPublishesAndMarks(t *testing.T) {
	outbox := &fakeOutbox{rows: []entity.NotificationItem{{ID: "n1"}, {ID: "n2"}}}
	pub := &fakePublisher{}
	w := NewWorker(outbox, pub, nil).WithBatchSize(10)

	w.sweep(context.Background())

	assert.Equal(t, []string{"n1", "n2"}, pub.published)
	assert.Equal(t, []string{"n1", "n2"}, outbox.marked)
}

func TestWorkerLeavesFailedPublishUndelivered(t *testing.T) {
	outbox := &fakeOutbox{rows: []entity.NotificationItem{{ID: "n1"}, {ID: "n2"}}}
	pub := &fakePublisher{failIDs: map[string]bool{"n1": true}}
	w := NewWorker(outbox, pub, nil).WithBatchSize(10)

	w.sweep(context.Background())

	// n1 stays undelivered for the next sweep; n2 is unaffected.
	assert.Equal(t, []string{"n2"}, pub.published)
	assert.Equal(t, []string{"n2"}, outbox.marked)
}

func TestWorkerSweepToleratesListError(t *testing.T) {
	outbox := &fakeOutbox{listErr: errors.New("pg down")}
	w := NewWorker(outbox, &fakePublisher{}, nil)

	w.sweep(context.Background())

	assert.Zero(t, outbox.markCalls)
}
