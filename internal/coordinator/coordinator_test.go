package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careops/clinic-cache/internal/entity"
	"github.com/careops/clinic-cache/internal/notify"
)

var slot = time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu         sync.Mutex
	entities   map[string]entity.Entity
	reserved   map[string]string // slot key -> patient id
	persisted  []*entity.NotificationItem
	reserveErr error
	callback   EntityChangedFunc
}

func newFakeStore() *fakeStore {
	f := &fakeStore{
		entities: make(map[string]entity.Entity),
		reserved: make(map[string]string),
	}
	f.putEntity(entity.Doctor{ID: "d1", Name: "Dr. Osei", Specialty: "Cardiology", HospitalIDs: []string{"h1"}, Available: true})
	f.putEntity(entity.Hospital{ID: "h1", Name: "Riverside General"})
	f.putEntity(entity.Patient{ID: "p1", Name: "Ana"})
	return f
}

func (f *fakeStore) putEntity(e entity.Entity) {
	f.entities[string(e.EntityKind())+":"+e.EntityID()] = e
}

func (f *fakeStore) GetEntity(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[string(kind)+":"+id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return e, nil
}

func (f *fakeStore) ReserveSlot(ctx context.Context, doctorID string, slot time.Time, patientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	k := entity.SlotKey(doctorID, slot)
	if holder, ok := f.reserved[k]; ok {
		if holder == patientID {
			return nil
		}
		return ErrSlotConflict
	}
	f.reserved[k] = patientID
	return nil
}

func (f *fakeStore) ReleaseSlot(ctx context.Context, doctorID string, slot time.Time, patientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := entity.SlotKey(doctorID, slot)
	if f.reserved[k] == patientID {
		delete(f.reserved, k)
	}
	return nil
}

func (f *fakeStore) PersistNotification(ctx context.Context, item *entity.NotificationItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted = append(f.persisted, item)
	return nil
}

func (f *fakeStore) OnEntityChanged(ctx context.Context, fn EntityChangedFunc) error {
	f.callback = fn
	return nil
}

func (f *fakeStore) holder(doctorID string, slot time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reserved[entity.SlotKey(doctorID, slot)]
}

func (f *fakeStore) persistedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.persisted))
	for i, n := range f.persisted {
		out[i] = n.RecipientID
	}
	return out
}

func newTestCoordinator(store Store) *Coordinator {
	return New(Config{Store: store, MaxPromotionRetries: 2})
}

func booking(patientID string, priority entity.Priority) entity.AppointmentRequest {
	return entity.AppointmentRequest{
		PatientID:  patientID,
		DoctorID:   "d1",
		HospitalID: "h1",
		Slot:       slot,
		Priority:   priority,
	}
}

func drainKinds(c *Coordinator) map[string][]entity.NotificationKind {
	out := make(map[string][]entity.NotificationKind)
	for _, n := range c.NotificationQueue().DrainBatch(100) {
		out[n.RecipientID] = append(out[n.RecipientID], n.Kind)
	}
	return out
}

func TestAttemptBookingConfirmed(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	res, err := c.AttemptBooking(context.Background(), booking("p1", entity.PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, BookingConfirmed, res.Status)
	assert.Equal(t, "p1", store.holder("d1", slot))

	// Confirmation for the patient, heads-up for the doctor.
	kinds := drainKinds(c)
	assert.Equal(t, []entity.NotificationKind{entity.NotificationAppointment}, kinds["p1"])
	assert.Equal(t, []entity.NotificationKind{entity.NotificationInfo}, kinds["d1"])

	assert.Contains(t, c.VisitedDoctors("p1"), "d1")
}

func TestAttemptBookingEntityNotFound(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	req := booking("p1", entity.PriorityNormal)
	req.DoctorID = "ghost"
	_, err := c.AttemptBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrEntityNotFound)

	req = booking("p1", entity.PriorityNormal)
	req.HospitalID = "ghost"
	_, err = c.AttemptBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrEntityNotFound)

	// Nothing was reserved or queued.
	assert.Empty(t, store.holder("d1", slot))
	assert.Zero(t, c.waitlist.Depth())
}

func TestAttemptBookingQueuedOnConflict(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	_, err := c.AttemptBooking(context.Background(), booking("p1", entity.PriorityNormal))
	require.NoError(t, err)

	res, err := c.AttemptBooking(context.Background(), booking("p2", entity.PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, BookingQueued, res.Status)
	assert.Equal(t, 1, res.Position)

	// The slot holder is unchanged.
	assert.Equal(t, "p1", store.holder("d1", slot))
}

func TestAttemptBookingDuplicateIsIdempotent(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	_, err := c.AttemptBooking(context.Background(), booking("p1", entity.PriorityNormal))
	require.NoError(t, err)

	first, err := c.AttemptBooking(context.Background(), booking("p2", entity.PriorityNormal))
	require.NoError(t, err)

	second, err := c.AttemptBooking(context.Background(), booking("p2", entity.PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.waitlist.Depth())
}

func TestAttemptBookingStoreError(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	// Prime the entity caches before the store goes down.
	_, ok := c.GetDoctor("d1")
	assert.False(t, ok)
	res, err := c.AttemptBooking(context.Background(), booking("p1", entity.PriorityNormal))
	require.NoError(t, err)
	require.Equal(t, BookingConfirmed, res.Status)
	c.NotificationQueue().DrainBatch(100)

	store.mu.Lock()
	store.reserveErr = errors.New("store timeout")
	store.mu.Unlock()

	res, err = c.AttemptBooking(context.Background(), booking("p3", entity.PriorityNormal))
	assert.Error(t, err)
	assert.Equal(t, BookingFailed, res.Status)

	// Failure is not queued, the caller gets an alert instead.
	assert.Zero(t, c.waitlist.Depth())
	kinds := drainKinds(c)
	assert.Equal(t, []entity.NotificationKind{entity.NotificationAlert}, kinds["p3"])
}

func TestConcurrentBookingSingleConfirm(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	var wg sync.WaitGroup
	results := make([]BookingResult, 2)
	patients := []string{"p1", "p2"}
	for i := range patients {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := c.AttemptBooking(context.Background(), booking(patients[n], entity.PriorityNormal))
			assert.NoError(t, err)
			results[n] = res
		}(i)
	}
	wg.Wait()

	confirmed, queued := 0, 0
	for _, res := range results {
		switch res.Status {
		case BookingConfirmed:
			confirmed++
		case BookingQueued:
			queued++
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, queued)
}

func TestOnSlotFreedPromotesByPriority(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	_, err := c.AttemptBooking(context.Background(), booking("p1", entity.PriorityNormal))
	require.NoError(t, err)
	for _, b := range []entity.AppointmentRequest{
		booking("pA", entity.PriorityNormal),
		booking("pB", entity.PriorityEmergency),
		booking("pC", entity.PriorityNormal),
	} {
		res, err := c.AttemptBooking(context.Background(), b)
		require.NoError(t, err)
		require.Equal(t, BookingQueued, res.Status)
	}
	c.NotificationQueue().DrainBatch(100)

	require.NoError(t, c.CancelBooking(context.Background(), "p1", "d1", slot))

	// The emergency request wins the freed slot.
	assert.Equal(t, "pB", store.holder("d1", slot))

	kinds := drainKinds(c)
	assert.Contains(t, kinds["pB"], entity.NotificationAppointment)

	st, ok := c.StatusFor("pA", "d1", slot)
	require.True(t, ok)
	assert.Equal(t, 1, st.Position)
	st, ok = c.StatusFor("pC", "d1", slot)
	require.True(t, ok)
	assert.Equal(t, 2, st.Position)
}

func TestOnSlotFreedEmptyQueueIsNoop(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	assert.NoError(t, c.OnSlotFreed(context.Background(), "d1", slot))
	assert.Empty(t, store.holder("d1", slot))
}

func TestOnSlotFreedExhaustedKeepsEntriesPending(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	_, err := c.waitlist.Enqueue(booking("pA", entity.PriorityNormal))
	require.NoError(t, err)
	_, err = c.waitlist.Enqueue(booking("pB", entity.PriorityNormal))
	require.NoError(t, err)

	store.mu.Lock()
	store.reserveErr = errors.New("store down")
	store.mu.Unlock()

	err = c.OnSlotFreed(context.Background(), "d1", slot)
	assert.ErrorIs(t, err, ErrPromotionExhausted)

	// Both requests survive, in their original order, for the next event.
	st, ok := c.StatusFor("pA", "d1", slot)
	require.True(t, ok)
	assert.Equal(t, 1, st.Position)
	_, ok = c.StatusFor("pB", "d1", slot)
	assert.True(t, ok)
}

func TestOnSlotFreedStopsOnConflict(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	// A direct booking races in before promotion runs.
	store.mu.Lock()
	store.reserved[entity.SlotKey("d1", slot)] = "p9"
	store.mu.Unlock()

	_, err := c.waitlist.Enqueue(booking("pA", entity.PriorityNormal))
	require.NoError(t, err)

	require.NoError(t, c.OnSlotFreed(context.Background(), "d1", slot))

	assert.Equal(t, "p9", store.holder("d1", slot))
	_, ok := c.StatusFor("pA", "d1", slot)
	assert.True(t, ok)
}

func TestCancelPendingRequest(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	_, err := c.AttemptBooking(context.Background(), booking("p1", entity.PriorityNormal))
	require.NoError(t, err)
	_, err = c.AttemptBooking(context.Background(), booking("p2", entity.PriorityNormal))
	require.NoError(t, err)

	require.NoError(t, c.CancelBooking(context.Background(), "p2", "d1", slot))

	_, ok := c.StatusFor("p2", "d1", slot)
	assert.False(t, ok)
	// The confirmed appointment is untouched.
	assert.Equal(t, "p1", store.holder("d1", slot))
}

func TestBookCancelPromoteDeliverScenario(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	res, err := c.AttemptBooking(context.Background(), booking("p1", entity.PriorityNormal))
	require.NoError(t, err)
	require.Equal(t, BookingConfirmed, res.Status)

	res, err = c.AttemptBooking(context.Background(), booking("p2", entity.PriorityNormal))
	require.NoError(t, err)
	require.Equal(t, BookingQueued, res.Status)
	require.Equal(t, 1, res.Position)

	require.NoError(t, c.CancelBooking(context.Background(), "p1", "d1", slot))
	require.Equal(t, "p2", store.holder("d1", slot))
	_, stillQueued := c.StatusFor("p2", "d1", slot)
	require.False(t, stillQueued)

	// Background dispatch pushes the queued notifications to the store.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := notify.NewDispatcher(c.NotificationQueue(), store, nil).
		WithInterval(5 * time.Millisecond).
		WithBatchSize(100)
	go d.Run(ctx)

	require.Eventually(t, func() bool {
		for _, id := range store.persistedIDs() {
			if id == "p2" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.NotificationQueue().Len())
}

func TestEntityChangeInvalidatesCache(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)
	require.NoError(t, c.Start(context.Background()))

	_, err := c.AttemptBooking(context.Background(), booking("p1", entity.PriorityNormal))
	require.NoError(t, err)

	_, ok := c.GetDoctor("d1")
	require.True(t, ok)
	assert.Contains(t, c.DoctorsByHospital("h1"), entity.Doctor{ID: "d1", Name: "Dr. Osei", Specialty: "Cardiology", HospitalIDs: []string{"h1"}, Available: true})

	store.callback(entity.KindDoctor, "d1")

	_, ok = c.GetDoctor("d1")
	assert.False(t, ok)
	assert.Empty(t, c.DoctorsByHospital("h1"))
}

func TestSpecialtiesCatalog(t *testing.T) {
	store := newFakeStore()
	store.putEntity(entity.Doctor{ID: "d2", Name: "Dr. Lin", Specialty: "Neurology", HospitalIDs: []string{"h1"}})
	c := newTestCoordinator(store)

	_, err := c.AttemptBooking(context.Background(), booking("p1", entity.PriorityNormal))
	require.NoError(t, err)
	req := booking("p1", entity.PriorityNormal)
	req.DoctorID = "d2"
	req.Slot = slot.Add(time.Hour)
	_, err = c.AttemptBooking(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"Cardiology", "Neurology"}, c.Specialties())
}

func TestRegisterEmail(t *testing.T) {
	c := newTestCoordinator(newFakeStore())

	assert.True(t, c.RegisterEmail("a@clinic.test"))
	assert.False(t, c.RegisterEmail("a@clinic.test"))
	assert.True(t, c.EmailRegistered("a@clinic.test"))
	assert.False(t, c.EmailRegistered("b@clinic.test"))
}

func TestInvalidateAll(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	_, err := c.AttemptBooking(context.Background(), booking("p1", entity.PriorityNormal))
	require.NoError(t, err)
	require.NotEmpty(t, c.Specialties())

	c.InvalidateAll()

	_, ok := c.GetDoctor("d1")
	assert.False(t, ok)
	assert.Empty(t, c.Specialties())
	assert.Empty(t, c.VisitedDoctors("p1"))
}
