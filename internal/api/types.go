package api

import "github.com/google/uuid"

type BookAppointmentRequest struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}

type BookAppointmentResponse struct {
	Message       string    `json:"message"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	CallLink      string    `json:"callLink,omitempty"`
	Warning       string    `json:"warning,omitempty"`
}

type RescheduleRequest struct {
	NewDate string `json:"newDate"`
	NewTime string `json:"newTime"`
}

type RescheduleResponse struct {
	Message  string `json:"message"`
	CallLink string `json:"callLink,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type CallLinkResponse struct {
	CallLink string `json:"callLink"`
}

type FreeSlotsResponse struct {
	DoctorID uuid.UUID `json:"doctorId"`
	Date     string    `json:"date"`
	Slots    []string  `json:"slots"`
}

type CreateRecordRequest struct {
	Title   string  `json:"title"`
	Type    string  `json:"type"`
	Notes   string  `json:"notes"`
	FileURL *string `json:"fileUrl,omitempty"`
}

type UpdateRecordRequest struct {
	Title *string `json:"title,omitempty"`
	Type  *string `json:"type,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
