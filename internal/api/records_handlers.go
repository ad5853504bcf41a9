package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-booking/internal/records"
)

type RecordHandler struct {
	svc *records.Service
	log zerolog.Logger
}

func NewRecordHandler(svc *records.Service, log zerolog.Logger) *RecordHandler {
	return &RecordHandler{svc: svc, log: log}
}

func (h *RecordHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
		return
	}

	recs, err := h.svc.ListByPatient(r.Context(), patientID)
	if err != nil {
		h.writeRecordError(w, r, err)
		return
	}
	if recs == nil {
		recs = []records.Record{}
	}

	writeJSON(w, http.StatusOK, recs)
}

func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	recordID, err := uuid.Parse(chi.URLParam(r, "recordId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_record_id", "recordId must be a valid UUID")
		return
	}

	rec, err := h.svc.Get(r.Context(), recordID)
	if err != nil {
		h.writeRecordError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
		return
	}

	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.Title == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "title and type are required")
		return
	}

	actor := ActorFromContext(r.Context())
	rec, err := h.svc.Create(r.Context(), records.CreateInput{
		PatientID: patientID,
		Title:     req.Title,
		Type:      req.Type,
		Notes:     req.Notes,
		FileURL:   req.FileURL,
	}, actor.ID)
	if err != nil {
		h.writeRecordError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	recordID, err := uuid.Parse(chi.URLParam(r, "recordId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_record_id", "recordId must be a valid UUID")
		return
	}

	var req UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	actor := ActorFromContext(r.Context())
	rec, err := h.svc.Update(r.Context(), recordID, records.UpdateInput{
		Title: req.Title,
		Type:  req.Type,
		Notes: req.Notes,
	}, actor.ID)
	if err != nil {
		h.writeRecordError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	recordID, err := uuid.Parse(chi.URLParam(r, "recordId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_record_id", "recordId must be a valid UUID")
		return
	}

	actor := ActorFromContext(r.Context())
	if _, err := h.svc.Delete(r.Context(), recordID, actor.ID); err != nil {
		h.writeRecordError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Record deleted"})
}

func (h *RecordHandler) FileURL(w http.ResponseWriter, r *http.Request) {
	recordID, err := uuid.Parse(chi.URLParam(r, "recordId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_record_id", "recordId must be a valid UUID")
		return
	}

	url, err := h.svc.FileURL(r.Context(), recordID)
	if err != nil {
		h.writeRecordError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]*string{"fileUrl": url})
}

func (h *RecordHandler) writeRecordError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, records.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "record_not_found", err.Error())
	default:
		h.log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("unclassified error")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
