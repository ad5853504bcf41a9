package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-booking/internal/booking"
	"github.com/carebridge/telehealth-booking/internal/calltoken"
	"github.com/carebridge/telehealth-booking/internal/redisclient"
)

type AppointmentHandler struct {
	svc *booking.Service
	log zerolog.Logger
}

func NewAppointmentHandler(svc *booking.Service, log zerolog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, log: log}
}

func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.PatientID == "" || req.DoctorID == "" || req.Date == "" || req.Time == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "patientId, doctorId, date and time are required")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
		return
	}

	result, err := h.svc.Book(r.Context(), booking.BookRequest{
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      req.Date,
		Time:      req.Time,
	}, ActorFromContext(r.Context()))
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, BookAppointmentResponse{
		Message:       "Appointment booked successfully",
		AppointmentID: result.Appointment.ID,
		CallLink:      result.CallLink,
		Warning:       result.Warning,
	})
}

func (h *AppointmentHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
		return
	}

	views, err := h.svc.AppointmentsByPatient(r.Context(), patientID, ActorFromContext(r.Context()))
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, views)
}

func (h *AppointmentHandler) ListByDoctor(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
		return
	}

	views, err := h.svc.AppointmentsByDoctor(r.Context(), doctorID, ActorFromContext(r.Context()))
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, views)
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.NewDate == "" || req.NewTime == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "newDate and newTime are required")
		return
	}

	_, link, err := h.svc.Reschedule(r.Context(), id, req.NewDate, req.NewTime, ActorFromContext(r.Context()))
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RescheduleResponse{
		Message:  "Appointment rescheduled",
		CallLink: link,
	})
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	if err := h.svc.Cancel(r.Context(), id); err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Appointment cancelled"})
}

func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "status is required")
		return
	}

	if err := h.svc.UpdateStatus(r.Context(), id, booking.AppointmentStatus(req.Status)); err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Status updated"})
}

func (h *AppointmentHandler) GetCallLink(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	link, err := h.svc.CallLink(r.Context(), id, ActorFromContext(r.Context()))
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CallLinkResponse{CallLink: link})
}

func (h *AppointmentHandler) FreeSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "date query parameter is required")
		return
	}

	slots, err := h.svc.FreeSlots(r.Context(), doctorID, date)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, FreeSlotsResponse{DoctorID: doctorID, Date: date, Slots: slots})
}

// writeBookingError maps the service error taxonomy onto HTTP statuses.
// Unclassified errors surface as a generic 500; the detail goes to the log,
// not the caller.
func (h *AppointmentHandler) writeBookingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, booking.ErrMissingFields),
		errors.Is(err, booking.ErrInvalidDate),
		errors.Is(err, booking.ErrInvalidTime):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, booking.ErrOnlyPatients),
		errors.Is(err, booking.ErrNotOwnBooking),
		errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, booking.ErrAvailabilityMissing):
		writeError(w, http.StatusConflict, "no_availability", err.Error())
	case errors.Is(err, booking.ErrOutsideWindow):
		writeError(w, http.StatusConflict, "outside_window", err.Error())
	case errors.Is(err, booking.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrAppointmentNotFound),
		errors.Is(err, booking.ErrNoAppointments),
		errors.Is(err, booking.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, calltoken.ErrExpired):
		writeError(w, http.StatusGone, "call_link_expired", err.Error())
	default:
		h.log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("unclassified error")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
