package api

import "time"

type BookingRequest struct {
	PatientID  string `json:"patient_id"`
	DoctorID   string `json:"doctor_id"`
	HospitalID string `json:"hospital_id"`
	Slot       string `json:"slot"`     // RFC3339
	Priority   string `json:"priority"` // normal (default) or emergency
}

type BookingResponse struct {
	Status   string `json:"status"`
	Position int    `json:"position,omitempty"`
}

type CancelRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	Slot      string `json:"slot"`
}

type QueueStatusResponse struct {
	Position   int `json:"position"`
	AheadCount int `json:"ahead_count"`
}

type PatientResponse struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

type DoctorResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Specialty   string   `json:"specialty"`
	HospitalIDs []string `json:"hospital_ids"`
	Available   bool     `json:"available"`
}

type HospitalResponse struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Address *string `json:"address,omitempty"`
}

type TherapistResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

type SpecialtiesResponse struct {
	Specialties []string `json:"specialties"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func parseSlot(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, raw)
}
