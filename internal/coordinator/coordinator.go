package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careops/clinic-cache/internal/cache"
	"github.com/careops/clinic-cache/internal/entity"
	"github.com/careops/clinic-cache/internal/metrics"
	"github.com/careops/clinic-cache/internal/notify"
	"github.com/careops/clinic-cache/internal/waitlist"
)

const (
	indexHospital  = "hospital"
	indexSpecialty = "specialty"

	setSpecialties = "specialties"
	setEmails      = "emails"
)

func visitedSet(patientID string) string {
	return "visited:" + patientID
}

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingQueued    BookingStatus = "queued"
	BookingFailed    BookingStatus = "failed"
)

type BookingResult struct {
	Status   BookingStatus
	Position int // 1-based waiting-list rank, set when Status is queued
}

type Config struct {
	Store               Store
	Logger              *zap.Logger
	Metrics             *metrics.Collector
	EntityTTL           time.Duration
	MaxDeliveryRetries  int
	MaxPromotionRetries int
}

// Coordinator is the single entry point the UI layer talks to. It owns the
// entity indexes, the waiting list and the notification queue, and it is
// the only component that mutates them.
type Coordinator struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Collector

	patients   *cache.EntityIndex[entity.Patient]
	doctors    *cache.EntityIndex[entity.Doctor]
	hospitals  *cache.EntityIndex[entity.Hospital]
	therapists *cache.EntityIndex[entity.Therapist]

	registry      *cache.UniquenessRegistry
	waitlist      *waitlist.Queue
	notifications *notify.Queue

	maxPromotionRetries int
}

func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.EntityTTL <= 0 {
		cfg.EntityTTL = 5 * time.Minute
	}
	if cfg.MaxPromotionRetries <= 0 {
		cfg.MaxPromotionRetries = 3
	}

	c := &Coordinator{
		store:               cfg.Store,
		logger:              cfg.Logger,
		metrics:             cfg.Metrics,
		patients:            cache.NewEntityIndex[entity.Patient](cfg.EntityTTL),
		doctors:             cache.NewEntityIndex[entity.Doctor](cfg.EntityTTL),
		hospitals:           cache.NewEntityIndex[entity.Hospital](cfg.EntityTTL),
		therapists:          cache.NewEntityIndex[entity.Therapist](cfg.EntityTTL),
		registry:            cache.NewUniquenessRegistry(),
		waitlist:            waitlist.NewQueue(),
		notifications:       notify.NewQueue(cfg.MaxDeliveryRetries, cfg.Logger),
		maxPromotionRetries: cfg.MaxPromotionRetries,
	}

	c.doctors.AddSecondaryIndex(indexHospital, func(d entity.Doctor) []string {
		return d.HospitalIDs
	})
	c.doctors.AddSecondaryIndex(indexSpecialty, func(d entity.Doctor) []string {
		if d.Specialty == "" {
			return nil
		}
		return []string{d.Specialty}
	})
	c.therapists.AddSecondaryIndex(indexSpecialty, func(t entity.Therapist) []string {
		if t.Specialty == "" {
			return nil
		}
		return []string{t.Specialty}
	})

	c.patients.SetRefreshHook(c.refreshHook(entity.KindPatient))
	c.doctors.SetRefreshHook(c.refreshHook(entity.KindDoctor))
	c.hospitals.SetRefreshHook(c.refreshHook(entity.KindHospital))
	c.therapists.SetRefreshHook(c.refreshHook(entity.KindTherapist))

	return c
}

// Start registers the entity-change subscription with the store so external
// writes invalidate cached entries.
func (c *Coordinator) Start(ctx context.Context) error {
	return c.store.OnEntityChanged(ctx, func(kind entity.Kind, id string) {
		c.logger.Debug("entity changed upstream, invalidating",
			zap.String("kind", string(kind)),
			zap.String("id", id),
		)
		c.invalidate(kind, id)
	})
}

// NotificationQueue exposes the queue for the background dispatcher.
func (c *Coordinator) NotificationQueue() *notify.Queue {
	return c.notifications
}

// AttemptBooking runs the optimistic booking path: validate the referenced
// doctor and hospital, try a direct slot reservation, and fall back to the
// waiting list only on genuine contention.
func (c *Coordinator) AttemptBooking(ctx context.Context, req entity.AppointmentRequest) (BookingResult, error) {
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}

	doctor, err := c.ensureDoctor(ctx, req.DoctorID)
	if err != nil {
		return BookingResult{Status: BookingFailed}, err
	}
	if _, err := c.ensureHospital(ctx, req.HospitalID); err != nil {
		return BookingResult{Status: BookingFailed}, err
	}

	err = c.store.ReserveSlot(ctx, req.DoctorID, req.Slot, req.PatientID)
	switch {
	case err == nil:
		c.registry.Add(visitedSet(req.PatientID), req.DoctorID)
		c.pushNotification(req.PatientID, entity.RolePatient, entity.NotificationAppointment,
			fmt.Sprintf("appointment confirmed with %s at %s", doctor.Name, formatSlot(req.Slot)))
		c.pushNotification(req.DoctorID, entity.RoleDoctor, entity.NotificationInfo,
			fmt.Sprintf("new appointment at %s", formatSlot(req.Slot)))
		c.metrics.ObserveBooking(string(BookingConfirmed))
		return BookingResult{Status: BookingConfirmed}, nil

	case errors.Is(err, ErrSlotConflict):
		pos, qerr := c.waitlist.Enqueue(req)
		if errors.Is(qerr, waitlist.ErrDuplicateRequest) {
			// Idempotent retry: report the position of the request already queued.
			st, _ := c.waitlist.StatusFor(req.PatientID, req.DoctorID, req.Slot)
			return BookingResult{Status: BookingQueued, Position: st.Position}, nil
		}
		c.metrics.SetWaitlistDepth(c.waitlist.Depth())
		c.pushNotification(req.PatientID, entity.RolePatient, entity.NotificationInfo,
			fmt.Sprintf("slot at %s is taken, you are number %d on the waiting list", formatSlot(req.Slot), pos))
		c.metrics.ObserveBooking(string(BookingQueued))
		return BookingResult{Status: BookingQueued, Position: pos}, nil

	default:
		c.pushNotification(req.PatientID, entity.RolePatient, entity.NotificationAlert,
			fmt.Sprintf("booking for %s could not be completed, please try again", formatSlot(req.Slot)))
		c.metrics.ObserveBooking(string(BookingFailed))
		return BookingResult{Status: BookingFailed}, fmt.Errorf("reserve slot: %w", err)
	}
}

// OnSlotFreed eagerly promotes the next waiting request for the freed slot.
// Reservation failures park the popped request and move on to the next one,
// bounded by maxPromotionRetries; parked requests are reinstated with their
// original sequence so they stay pending for the next freed-slot event.
func (c *Coordinator) OnSlotFreed(ctx context.Context, doctorID string, slot time.Time) error {
	var parked []entity.AppointmentRequest
	defer func() {
		for _, r := range parked {
			c.waitlist.Reinstate(r)
		}
		c.metrics.SetWaitlistDepth(c.waitlist.Depth())
	}()

	for attempt := 0; attempt < c.maxPromotionRetries; attempt++ {
		req, ok := c.waitlist.TryConfirm(doctorID, slot)
		if !ok {
			if attempt == 0 {
				c.metrics.ObservePromotion("empty")
			}
			return nil
		}

		err := c.store.ReserveSlot(ctx, doctorID, slot, req.PatientID)
		if err == nil {
			c.registry.Add(visitedSet(req.PatientID), req.DoctorID)
			c.pushNotification(req.PatientID, entity.RolePatient, entity.NotificationAppointment,
				fmt.Sprintf("a slot opened up: your appointment at %s is confirmed", formatSlot(slot)))
			c.metrics.ObservePromotion("confirmed")
			return nil
		}

		c.logger.Warn("promotion reservation failed",
			zap.String("doctor_id", doctorID),
			zap.Time("slot", slot),
			zap.String("patient_id", req.PatientID),
			zap.Error(err),
		)
		c.metrics.ObservePromotion("retried")
		parked = append(parked, req)

		if errors.Is(err, ErrSlotConflict) {
			// A direct booking raced in; the slot is no longer free.
			return nil
		}
	}

	c.metrics.ObservePromotion("exhausted")
	c.logger.Error("promotion retries exhausted, entries remain pending",
		zap.String("doctor_id", doctorID),
		zap.Time("slot", slot),
	)
	return fmt.Errorf("slot %s: %w", entity.SlotKey(doctorID, slot), ErrPromotionExhausted)
}

// CancelBooking removes a pending waiting-list request, or releases a
// confirmed reservation and triggers promotion for the freed slot.
func (c *Coordinator) CancelBooking(ctx context.Context, patientID, doctorID string, slot time.Time) error {
	if c.waitlist.Cancel(patientID, doctorID, slot) {
		c.metrics.SetWaitlistDepth(c.waitlist.Depth())
		c.pushNotification(patientID, entity.RolePatient, entity.NotificationInfo,
			fmt.Sprintf("your waiting-list request for %s was cancelled", formatSlot(slot)))
		return nil
	}

	if err := c.store.ReleaseSlot(ctx, doctorID, slot, patientID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	c.pushNotification(patientID, entity.RolePatient, entity.NotificationInfo,
		fmt.Sprintf("your appointment at %s was cancelled", formatSlot(slot)))

	if err := c.OnSlotFreed(ctx, doctorID, slot); err != nil {
		// Promotion failures are background-path; the cancellation itself succeeded.
		c.logger.Warn("promotion after cancellation failed", zap.Error(err))
	}
	return nil
}

// StatusFor reports the waiting-list position of a pending request.
func (c *Coordinator) StatusFor(patientID, doctorID string, slot time.Time) (waitlist.Status, bool) {
	return c.waitlist.StatusFor(patientID, doctorID, slot)
}

func (c *Coordinator) GetPatient(id string) (entity.Patient, bool) {
	p, ok := c.patients.GetByID(id)
	c.observeLookup(entity.KindPatient, ok)
	return p, ok
}

func (c *Coordinator) GetDoctor(id string) (entity.Doctor, bool) {
	d, ok := c.doctors.GetByID(id)
	c.observeLookup(entity.KindDoctor, ok)
	return d, ok
}

func (c *Coordinator) GetHospital(id string) (entity.Hospital, bool) {
	h, ok := c.hospitals.GetByID(id)
	c.observeLookup(entity.KindHospital, ok)
	return h, ok
}

func (c *Coordinator) GetTherapist(id string) (entity.Therapist, bool) {
	t, ok := c.therapists.GetByID(id)
	c.observeLookup(entity.KindTherapist, ok)
	return t, ok
}

// DoctorsByHospital resolves the hospital's secondary-index bucket to doctor
// snapshots, skipping ids whose entries have been invalidated since.
func (c *Coordinator) DoctorsByHospital(hospitalID string) []entity.Doctor {
	return c.resolveDoctors(c.doctors.GetBySecondaryKey(indexHospital, hospitalID))
}

func (c *Coordinator) DoctorsBySpecialty(specialty string) []entity.Doctor {
	return c.resolveDoctors(c.doctors.GetBySecondaryKey(indexSpecialty, specialty))
}

// Specialties returns the distinct specialties seen so far, sorted.
func (c *Coordinator) Specialties() []string {
	out := c.registry.Values(setSpecialties)
	sort.Strings(out)
	return out
}

// VisitedDoctors returns the ids of doctors the patient has booked before.
func (c *Coordinator) VisitedDoctors(patientID string) []string {
	return c.registry.Values(visitedSet(patientID))
}

// RegisterEmail records an email and reports whether it was newly added.
func (c *Coordinator) RegisterEmail(email string) bool {
	if c.registry.Contains(setEmails, email) {
		return false
	}
	c.registry.Add(setEmails, email)
	return true
}

func (c *Coordinator) EmailRegistered(email string) bool {
	return c.registry.Contains(setEmails, email)
}

// Prime inserts an entity snapshot into its index, used when the store
// returns updated snapshots alongside write results.
func (c *Coordinator) Prime(e entity.Entity) {
	c.cacheEntity(e)
}

// InvalidateAll flushes every index and registry set, called on logout or
// session teardown.
func (c *Coordinator) InvalidateAll() {
	c.patients.InvalidateAll()
	c.doctors.InvalidateAll()
	c.hospitals.InvalidateAll()
	c.therapists.InvalidateAll()
	c.registry.Clear()
}

func (c *Coordinator) resolveDoctors(ids []string) []entity.Doctor {
	out := make([]entity.Doctor, 0, len(ids))
	for _, id := range ids {
		if d, ok := c.doctors.GetByID(id); ok {
			out = append(out, d)
		}
	}
	return out
}

// ensureDoctor returns the cached doctor or falls through to the store on a
// miss. A miss that the store cannot resolve fails fast with
// ErrEntityNotFound.
func (c *Coordinator) ensureDoctor(ctx context.Context, id string) (entity.Doctor, error) {
	if d, ok := c.doctors.GetByID(id); ok {
		c.observeLookup(entity.KindDoctor, true)
		return d, nil
	}
	c.observeLookup(entity.KindDoctor, false)

	e, err := c.store.GetEntity(ctx, entity.KindDoctor, id)
	if err != nil {
		return entity.Doctor{}, fmt.Errorf("doctor %s: %w", id, ErrEntityNotFound)
	}
	d, ok := e.(entity.Doctor)
	if !ok {
		return entity.Doctor{}, fmt.Errorf("doctor %s: %w", id, ErrEntityNotFound)
	}
	c.cacheEntity(d)
	return d, nil
}

func (c *Coordinator) ensureHospital(ctx context.Context, id string) (entity.Hospital, error) {
	if h, ok := c.hospitals.GetByID(id); ok {
		c.observeLookup(entity.KindHospital, true)
		return h, nil
	}
	c.observeLookup(entity.KindHospital, false)

	e, err := c.store.GetEntity(ctx, entity.KindHospital, id)
	if err != nil {
		return entity.Hospital{}, fmt.Errorf("hospital %s: %w", id, ErrEntityNotFound)
	}
	h, ok := e.(entity.Hospital)
	if !ok {
		return entity.Hospital{}, fmt.Errorf("hospital %s: %w", id, ErrEntityNotFound)
	}
	c.cacheEntity(h)
	return h, nil
}

func (c *Coordinator) cacheEntity(e entity.Entity) {
	switch v := e.(type) {
	case entity.Patient:
		c.patients.Put(v)
		if v.Email != nil {
			c.registry.Add(setEmails, *v.Email)
		}
	case entity.Doctor:
		c.doctors.Put(v)
		if v.Specialty != "" {
			c.registry.Add(setSpecialties, v.Specialty)
		}
	case entity.Hospital:
		c.hospitals.Put(v)
	case entity.Therapist:
		c.therapists.Put(v)
		if v.Specialty != "" {
			c.registry.Add(setSpecialties, v.Specialty)
		}
	default:
		c.logger.Warn("unknown entity type, not cached", zap.String("id", e.EntityID()))
	}
}

func (c *Coordinator) invalidate(kind entity.Kind, id string) {
	switch kind {
	case entity.KindPatient:
		c.patients.Invalidate(id)
	case entity.KindDoctor:
		c.doctors.Invalidate(id)
	case entity.KindHospital:
		c.hospitals.Invalidate(id)
	case entity.KindTherapist:
		c.therapists.Invalidate(id)
	}
}

// refreshHook builds the per-kind stale-entry refresh callback. Fetch
// failures are retried with exponential backoff and never surface past the
// hook; an upstream delete invalidates the local entry instead.
func (c *Coordinator) refreshHook(kind entity.Kind) func(id string) {
	return func(id string) {
		backoff := 250 * time.Millisecond
		for attempt := 0; attempt < 3; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e, err := c.store.GetEntity(ctx, kind, id)
			cancel()

			if err == nil {
				c.cacheEntity(e)
				c.metrics.ObserveCacheRefresh(string(kind), "ok")
				return
			}
			if errors.Is(err, ErrEntityNotFound) {
				c.invalidate(kind, id)
				c.metrics.ObserveCacheRefresh(string(kind), "removed")
				return
			}

			c.logger.Warn("entity refresh failed",
				zap.String("kind", string(kind)),
				zap.String("id", id),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			time.Sleep(backoff)
			backoff *= 2
		}
		c.metrics.ObserveCacheRefresh(string(kind), "failed")
	}
}

func (c *Coordinator) pushNotification(recipientID string, role entity.Role, kind entity.NotificationKind, msg string) {
	c.notifications.Push(&entity.NotificationItem{
		ID:            uuid.NewString(),
		RecipientID:   recipientID,
		RecipientRole: role,
		Kind:          kind,
		Message:       msg,
		CreatedAt:     time.Now(),
	})
	c.metrics.ObserveNotification("queued")
}

func (c *Coordinator) observeLookup(kind entity.Kind, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.metrics.ObserveCacheLookup(string(kind), result)
}

func formatSlot(slot time.Time) string {
	return slot.UTC().Format(time.RFC3339)
}
