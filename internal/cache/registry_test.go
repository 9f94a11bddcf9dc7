package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAddIsIdempotent(t *testing.T) {
	r := NewUniquenessRegistry()

	r.Add("emails", "a@clinic.test")
	r.Add("emails", "a@clinic.test")

	assert.True(t, r.Contains("emails", "a@clinic.test"))
	assert.Len(t, r.Values("emails"), 1)
}

func TestRegistryNamespacesDoNotCollide(t *testing.T) {
	r := NewUniquenessRegistry()

	r.Add("specialties", "Cardiology")
	r.Add("visited:p1", "d1")
	r.Add("visited:p2", "d2")

	assert.False(t, r.Contains("specialties", "d1"))
	assert.True(t, r.Contains("visited:p1", "d1"))
	assert.False(t, r.Contains("visited:p1", "d2"))
	assert.Equal(t, []string{"d2"}, r.Values("visited:p2"))
}

func TestRegistryRemove(t *testing.T) {
	r := NewUniquenessRegistry()

	r.Add("specialties", "Cardiology")
	r.Add("specialties", "Neurology")
	r.Remove("specialties", "Cardiology")

	assert.False(t, r.Contains("specialties", "Cardiology"))
	assert.Equal(t, []string{"Neurology"}, r.Values("specialties"))

	// Removing from an unknown set is a no-op.
	r.Remove("unknown", "x")
}

func TestRegistryClear(t *testing.T) {
	r := NewUniquenessRegistry()
	r.Add("emails", "a@clinic.test")
	r.Add("visited:p1", "d1")

	r.Clear()

	assert.False(t, r.Contains("emails", "a@clinic.test"))
	assert.Empty(t, r.Values("visited:p1"))
}
