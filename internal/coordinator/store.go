package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/careops/clinic-cache/internal/entity"
)

var (
	ErrEntityNotFound     = errors.New("referenced entity not found")
	ErrSlotConflict       = errors.New("slot already has a confirmed appointment")
	ErrPromotionExhausted = errors.New("all promotion attempts for the freed slot failed")
)

// EntityChangedFunc is invoked when the backing store reports an external
// write to an entity, e.g. a doctor record edited by an admin elsewhere.
type EntityChangedFunc func(kind entity.Kind, id string)

// Store is the backing document store the coordinator sits in front of.
// Implementations map their own not-found and conflict conditions onto
// ErrEntityNotFound and ErrSlotConflict.
type Store interface {
	GetEntity(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error)
	ReserveSlot(ctx context.Context, doctorID string, slot time.Time, patientID string) error
	ReleaseSlot(ctx context.Context, doctorID string, slot time.Time, patientID string) error
	PersistNotification(ctx context.Context, item *entity.NotificationItem) error
	OnEntityChanged(ctx context.Context, fn EntityChangedFunc) error
}
