package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Actor is the externally established identity attached to each request.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// User is the directory projection this service needs: enough to address the
// other party by name and show a doctor's specialty. Metadata is the bounded
// extension point for fields outside the explicit set.
type User struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Role      Role
	Specialty *string
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Availability is a doctor's declared working window for one date.
// At most one row per (doctor, date); read-only to this service.
type Availability struct {
	DoctorID  uuid.UUID
	Date      string // 2006-01-02
	StartTime string // HH:MM
	EndTime   string // HH:MM
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      string // 2006-01-02
	Time      string // HH:MM
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppointmentView is the enriched list payload. CallLink is filled at
// response time and never cached, so a cached view cannot carry a token
// whose validity window has lapsed.
type AppointmentView struct {
	AppointmentID   uuid.UUID `json:"appointmentId"`
	DoctorID        uuid.UUID `json:"doctorId"`
	DoctorName      string    `json:"doctorName"`
	DoctorSpecialty string    `json:"doctorSpecialty,omitempty"`
	PatientID       uuid.UUID `json:"patientId"`
	PatientName     string    `json:"patientName"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	Status          string    `json:"status"`
	CallLink        string    `json:"callLink"`
	Type            string    `json:"type"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
