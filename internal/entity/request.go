package entity

import "time"

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityEmergency
)

func (p Priority) String() string {
	if p == PriorityEmergency {
		return "emergency"
	}
	return "normal"
}

// AppointmentRequest is a booking attempt for a (doctor, slot) pair.
// Sequence is assigned when the request enters the waiting list and is used
// as the tie-break among equal-priority requests.
type AppointmentRequest struct {
	PatientID   string
	DoctorID    string
	HospitalID  string
	Slot        time.Time
	Priority    Priority
	Sequence    uint64
	SubmittedAt time.Time
}

func (r AppointmentRequest) SlotKey() string {
	return SlotKey(r.DoctorID, r.Slot)
}
