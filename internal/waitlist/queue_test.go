package waitlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careops/clinic-cache/internal/entity"
)

var slot = time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

func req(patientID string, priority entity.Priority) entity.AppointmentRequest {
	return entity.AppointmentRequest{
		PatientID:  patientID,
		DoctorID:   "d1",
		HospitalID: "h1",
		Slot:       slot,
		Priority:   priority,
	}
}

func TestEnqueueAssignsPositions(t *testing.T) {
	q := NewQueue()

	pos, err := q.Enqueue(req("p1", entity.PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	pos, err = q.Enqueue(req("p2", entity.PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	assert.Equal(t, 2, q.Depth())
}

func TestEnqueueRejectsDuplicate(t *testing.T) {
	q := NewQueue()

	_, err := q.Enqueue(req("p1", entity.PriorityNormal))
	require.NoError(t, err)

	_, err = q.Enqueue(req("p1", entity.PriorityNormal))
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Equal(t, 1, q.Depth())

	// Same patient, different slot is a distinct request.
	other := req("p1", entity.PriorityNormal)
	other.Slot = slot.Add(time.Hour)
	_, err = q.Enqueue(other)
	assert.NoError(t, err)
}

func TestTryConfirmPriorityThenSequence(t *testing.T) {
	q := NewQueue()

	_, err := q.Enqueue(req("pA", entity.PriorityNormal))
	require.NoError(t, err)
	_, err = q.Enqueue(req("pB", entity.PriorityEmergency))
	require.NoError(t, err)
	_, err = q.Enqueue(req("pC", entity.PriorityNormal))
	require.NoError(t, err)

	// Emergency outranks earlier normals; among equals, first submitted wins.
	got, ok := q.TryConfirm("d1", slot)
	require.True(t, ok)
	assert.Equal(t, "pB", got.PatientID)

	got, ok = q.TryConfirm("d1", slot)
	require.True(t, ok)
	assert.Equal(t, "pA", got.PatientID)

	got, ok = q.TryConfirm("d1", slot)
	require.True(t, ok)
	assert.Equal(t, "pC", got.PatientID)

	_, ok = q.TryConfirm("d1", slot)
	assert.False(t, ok)
}

func TestTryConfirmEmptyBucket(t *testing.T) {
	q := NewQueue()
	_, ok := q.TryConfirm("d9", slot)
	assert.False(t, ok)
}

func TestCancelRemovesSpecificRequest(t *testing.T) {
	q := NewQueue()

	_, err := q.Enqueue(req("p1", entity.PriorityNormal))
	require.NoError(t, err)
	_, err = q.Enqueue(req("p2", entity.PriorityNormal))
	require.NoError(t, err)

	assert.True(t, q.Cancel("p1", "d1", slot))
	assert.False(t, q.Cancel("p1", "d1", slot))
	assert.Equal(t, 1, q.Depth())

	st, ok := q.StatusFor("p2", "d1", slot)
	require.True(t, ok)
	assert.Equal(t, 1, st.Position)
}

func TestStatusForHonorsPromotionOrder(t *testing.T) {
	q := NewQueue()

	_, err := q.Enqueue(req("pA", entity.PriorityNormal))
	require.NoError(t, err)
	_, err = q.Enqueue(req("pB", entity.PriorityEmergency))
	require.NoError(t, err)

	// The emergency request ranks first even though it arrived second.
	st, ok := q.StatusFor("pB", "d1", slot)
	require.True(t, ok)
	assert.Equal(t, 1, st.Position)
	assert.Zero(t, st.AheadCount)

	st, ok = q.StatusFor("pA", "d1", slot)
	require.True(t, ok)
	assert.Equal(t, 2, st.Position)
	assert.Equal(t, 1, st.AheadCount)

	_, ok = q.StatusFor("p9", "d1", slot)
	assert.False(t, ok)
}

func TestReinstateKeepsOriginalOrder(t *testing.T) {
	q := NewQueue()

	_, err := q.Enqueue(req("p1", entity.PriorityNormal))
	require.NoError(t, err)
	_, err = q.Enqueue(req("p2", entity.PriorityNormal))
	require.NoError(t, err)

	popped, ok := q.TryConfirm("d1", slot)
	require.True(t, ok)
	require.Equal(t, "p1", popped.PatientID)

	q.Reinstate(popped)

	// p1 keeps its original sequence and therefore its place in line.
	st, ok := q.StatusFor("p1", "d1", slot)
	require.True(t, ok)
	assert.Equal(t, 1, st.Position)
	assert.Equal(t, 2, q.Depth())
}
