package entity

import "time"

type Kind string

const (
	KindPatient   Kind = "patient"
	KindDoctor    Kind = "doctor"
	KindHospital  Kind = "hospital"
	KindTherapist Kind = "therapist"
)

// Entity is any cacheable record identified by a stable id.
type Entity interface {
	EntityID() string
	EntityKind() Kind
}

type Patient struct {
	ID        string
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Patient) EntityID() string { return p.ID }
func (p Patient) EntityKind() Kind { return KindPatient }

type Doctor struct {
	ID          string
	Name        string
	Specialty   string
	HospitalIDs []string
	Available   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (d Doctor) EntityID() string { return d.ID }
func (d Doctor) EntityKind() Kind { return KindDoctor }

type Hospital struct {
	ID        string
	Name      string
	Address   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (h Hospital) EntityID() string { return h.ID }
func (h Hospital) EntityKind() Kind { return KindHospital }

type Therapist struct {
	ID        string
	Name      string
	Specialty string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t Therapist) EntityID() string { return t.ID }
func (t Therapist) EntityKind() Kind { return KindTherapist }

// SlotKey formats a (doctor, slot start) pair into the canonical contention key.
func SlotKey(doctorID string, slot time.Time) string {
	return doctorID + "@" + slot.UTC().Format(time.RFC3339)
}
