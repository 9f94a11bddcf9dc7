package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/careops/clinic-cache/internal/coordinator"
	"github.com/careops/clinic-cache/internal/entity"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func attemptBookingHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.PatientID == "" || req.DoctorID == "" || req.HospitalID == "" {
			writeError(w, http.StatusBadRequest, "missing_field", "patient_id, doctor_id and hospital_id are required")
			return
		}

		slot, err := parseSlot(req.Slot)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot", "slot must be an RFC3339 timestamp")
			return
		}

		priority := entity.PriorityNormal
		if req.Priority == "emergency" {
			priority = entity.PriorityEmergency
		}

		result, err := coord.AttemptBooking(r.Context(), entity.AppointmentRequest{
			PatientID:  req.PatientID,
			DoctorID:   req.DoctorID,
			HospitalID: req.HospitalID,
			Slot:       slot,
			Priority:   priority,
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		status := http.StatusCreated
		if result.Status == coordinator.BookingQueued {
			status = http.StatusAccepted
		}
		writeJSON(w, status, BookingResponse{
			Status:   string(result.Status),
			Position: result.Position,
		})
	}
}

func cancelBookingHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slot, err := parseSlot(req.Slot)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot", "slot must be an RFC3339 timestamp")
			return
		}

		if err := coord.CancelBooking(r.Context(), req.PatientID, req.DoctorID, slot); err != nil {
			writeError(w, http.StatusBadGateway, "store_error", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func queueStatusHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		patientID := q.Get("patient_id")
		doctorID := q.Get("doctor_id")

		slot, err := parseSlot(q.Get("slot"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot", "slot must be an RFC3339 timestamp")
			return
		}

		st, ok := coord.StatusFor(patientID, doctorID, slot)
		if !ok {
			writeError(w, http.StatusNotFound, "not_queued", "no pending request for this slot")
			return
		}
		writeJSON(w, http.StatusOK, QueueStatusResponse{Position: st.Position, AheadCount: st.AheadCount})
	}
}

func getPatientHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := coord.GetPatient(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "patient_not_found", "patient is not cached")
			return
		}
		writeJSON(w, http.StatusOK, PatientResponse{ID: p.ID, Name: p.Name, Email: p.Email, Phone: p.Phone})
	}
}

func getDoctorHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := coord.GetDoctor(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "doctor_not_found", "doctor is not cached")
			return
		}
		writeJSON(w, http.StatusOK, doctorResponse(d))
	}
}

func getHospitalHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := coord.GetHospital(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "hospital_not_found", "hospital is not cached")
			return
		}
		writeJSON(w, http.StatusOK, HospitalResponse{ID: h.ID, Name: h.Name, Address: h.Address})
	}
}

func getTherapistHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := coord.GetTherapist(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "therapist_not_found", "therapist is not cached")
			return
		}
		writeJSON(w, http.StatusOK, TherapistResponse{ID: t.ID, Name: t.Name, Specialty: t.Specialty})
	}
}

func doctorsByHospitalHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors := coord.DoctorsByHospital(chi.URLParam(r, "id"))
		writeJSON(w, http.StatusOK, doctorList(doctors))
	}
}

func doctorsBySpecialtyHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors := coord.DoctorsBySpecialty(chi.URLParam(r, "name"))
		writeJSON(w, http.StatusOK, doctorList(doctors))
	}
}

func specialtiesHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, SpecialtiesResponse{Specialties: coord.Specialties()})
	}
}

func invalidateSessionHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		coord.InvalidateAll()
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, "entity_not_found", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "store_error", err.Error())
	}
}

func doctorResponse(d entity.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:          d.ID,
		Name:        d.Name,
		Specialty:   d.Specialty,
		HospitalIDs: d.HospitalIDs,
		Available:   d.Available,
	}
}

func doctorList(doctors []entity.Doctor) []DoctorResponse {
	out := make([]DoctorResponse, 0, len(doctors))
	for _, d := range doctors {
		out = append(out, doctorResponse(d))
	}
	return out
}
