package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/careops/clinic-cache/internal/coordinator"
	"github.com/careops/clinic-cache/internal/entity"
)

// Store is the production coordinator.Store: entities and notifications live
// in Postgres, slot contention is serialized through Redis, and external
// entity writes arrive over Redis pub/sub.
type Store struct {
	pg       *PgStore
	reserver *SlotReserver
	rdb      *redis.Client
	logger   *zap.Logger
}

var _ coordinator.Store = (*Store)(nil)

func New(pg *PgStore, rdb *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pg:       pg,
		reserver: NewSlotReserver(rdb),
		rdb:      rdb,
		logger:   logger,
	}
}

func (s *Store) GetEntity(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	return s.pg.GetEntity(ctx, kind, id)
}

// ReserveSlot claims the slot in Redis first, then records the confirmed
// appointment. A failed record releases the claim so the slot is not
// orphaned.
func (s *Store) ReserveSlot(ctx context.Context, doctorID string, slot time.Time, patientID string) error {
	if err := s.reserver.Reserve(ctx, doctorID, slot, patientID); err != nil {
		return err
	}

	if err := s.pg.RecordAppointment(ctx, doctorID, slot, patientID); err != nil {
		if relErr := s.reserver.Release(ctx, doctorID, slot, patientID); relErr != nil {
			s.logger.Error("failed to release slot after record failure",
				zap.String("doctor_id", doctorID),
				zap.Time("slot", slot),
				zap.Error(relErr),
			)
		}
		return fmt.Errorf("record appointment: %w", err)
	}
	return nil
}

func (s *Store) ReleaseSlot(ctx context.Context, doctorID string, slot time.Time, patientID string) error {
	if err := s.pg.CancelAppointment(ctx, doctorID, slot, patientID); err != nil {
		return err
	}
	return s.reserver.Release(ctx, doctorID, slot, patientID)
}

func (s *Store) PersistNotification(ctx context.Context, item *entity.NotificationItem) error {
	return s.pg.PersistNotification(ctx, item)
}

func (s *Store) OnEntityChanged(ctx context.Context, fn coordinator.EntityChangedFunc) error {
	subscribeEntityChanges(ctx, s.rdb, fn)
	return nil
}
