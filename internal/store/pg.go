package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careops/clinic-cache/internal/coordinator"
	"github.com/careops/clinic-cache/internal/entity"
)

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// PgStore holds the entity, appointment and notification collections.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (entity.Patient, error) {
	var p entity.Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Patient{}, coordinator.ErrEntityNotFound
		}
		return entity.Patient{}, err
	}
	return p, nil
}

func scanDoctor(row pgx.Row) (entity.Doctor, error) {
	var d entity.Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.HospitalIDs, &d.Available, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Doctor{}, coordinator.ErrEntityNotFound
		}
		return entity.Doctor{}, err
	}
	return d, nil
}

func scanHospital(row pgx.Row) (entity.Hospital, error) {
	var h entity.Hospital
	err := row.Scan(&h.ID, &h.Name, &h.Address, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Hospital{}, coordinator.ErrEntityNotFound
		}
		return entity.Hospital{}, err
	}
	return h, nil
}

func scanTherapist(row pgx.Row) (entity.Therapist, error) {
	var t entity.Therapist
	err := row.Scan(&t.ID, &t.Name, &t.Specialty, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Therapist{}, coordinator.ErrEntityNotFound
		}
		return entity.Therapist{}, err
	}
	return t, nil
}

// GetEntity loads one entity by kind and id.
func (s *PgStore) GetEntity(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	switch kind {
	case entity.KindPatient:
		row := s.pool.QueryRow(ctx, `
			SELECT id, name, email, phone, created_at, updated_at
			FROM patients
			WHERE id = $1`, id)
		return scanPatient(row)
	case entity.KindDoctor:
		row := s.pool.QueryRow(ctx, `
			SELECT id, name, specialty, hospital_ids, available, created_at, updated_at
			FROM doctors
			WHERE id = $1`, id)
		return scanDoctor(row)
	case entity.KindHospital:
		row := s.pool.QueryRow(ctx, `
			SELECT id, name, address, created_at, updated_at
			FROM hospitals
			WHERE id = $1`, id)
		return scanHospital(row)
	case entity.KindTherapist:
		row := s.pool.QueryRow(ctx, `
			SELECT id, name, specialty, created_at, updated_at
			FROM therapists
			WHERE id = $1`, id)
		return scanTherapist(row)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// RecordAppointment inserts a confirmed appointment row for a reserved slot.
func (s *PgStore) RecordAppointment(ctx context.Context, doctorID string, slot time.Time, patientID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO appointments (doctor_id, patient_id, slot_start, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'confirmed', now(), now())`,
		doctorID, patientID, slot.UTC())
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// CancelAppointment marks the confirmed appointment for the slot cancelled.
func (s *PgStore) CancelAppointment(ctx context.Context, doctorID string, slot time.Time, patientID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled', updated_at = now()
		WHERE doctor_id = $1 AND patient_id = $2 AND slot_start = $3 AND status = 'confirmed'`,
		doctorID, patientID, slot.UTC())
	if err != nil {
		return fmt.Errorf("cancel appointment: %w", err)
	}
	return nil
}

// PersistNotification writes a notification row. The dispatcher delivers
// at-least-once, so replays of the same item id are absorbed here.
func (s *PgStore) PersistNotification(ctx context.Context, item *entity.NotificationItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, recipient_role, kind, message, created_at, delivered)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		item.ID, item.RecipientID, string(item.RecipientRole), string(item.Kind),
		item.Message, item.CreatedAt, item.Delivered)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListUndeliveredNotifications returns persisted notifications the notify
// worker has not fanned out yet, oldest first.
func (s *PgStore) ListUndeliveredNotifications(ctx context.Context, limit int) ([]entity.NotificationItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, recipient_id, recipient_role, kind, message, created_at, delivered
		FROM notifications
		WHERE delivered = false
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list undelivered notifications: %w", err)
	}
	defer rows.Close()

	var out []entity.NotificationItem
	for rows.Next() {
		var n entity.NotificationItem
		var role, kind string
		if err := rows.Scan(&n.ID, &n.RecipientID, &role, &kind, &n.Message, &n.CreatedAt, &n.Delivered); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.RecipientRole = entity.Role(role)
		n.Kind = entity.NotificationKind(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationDelivered flags a notification as fanned out.
func (s *PgStore) MarkNotificationDelivered(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET delivered = true, delivered_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification delivered: %w", err)
	}
	return nil
}
