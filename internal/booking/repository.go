package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrAvailabilityMissing = errors.New("no availability for this doctor on the selected date")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetUsersByIDs resolves a set of ids in one round trip. Unknown ids are
	// simply absent from the result map.
	GetUsersByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*User, error)

	GetAvailability(ctx context.Context, doctorID uuid.UUID, date string) (*Availability, error)

	// For conflict checks: any appointment holding (doctor, date, time) with a
	// status other than cancelled.
	FindActiveAppointment(ctx context.Context, doctorID uuid.UUID, date, timeOfDay string) (*Appointment, error)
	// ListBookedTimes returns the active times for a doctor's date, for the
	// free-slot listing.
	ListBookedTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, patientID, doctorID uuid.UUID, date, timeOfDay string) (*Appointment, error)
	UpdateAppointmentSchedule(ctx context.Context, id uuid.UUID, newDate, newTime string) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
