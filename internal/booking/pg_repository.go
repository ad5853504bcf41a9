package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var email, specialty *string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&email,
		&u.Role,
		&specialty,
		&u.Metadata,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Email = email
	u.Specialty = specialty
	return &u, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&a.Time,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Interface methods

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, role, specialty, metadata, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, email, role, specialty, metadata, created_at, updated_at
		FROM users
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[uuid.UUID]*User, len(ids))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result[u.ID] = u
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetAvailability(ctx context.Context, doctorID uuid.UUID, date string) (*Availability, error) {
	var a Availability

	err := r.db.QueryRow(ctx, `
		SELECT doctor_id, date, start_time, end_time
		FROM availability
		WHERE doctor_id = $1 AND date = $2
	`, doctorID, date).Scan(&a.DoctorID, &a.Date, &a.StartTime, &a.EndTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityMissing
		}
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) FindActiveAppointment(ctx context.Context, doctorID uuid.UUID, date, timeOfDay string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, date, time, status, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND time = $3 AND status <> 'cancelled'
	`, doctorID, date, timeOfDay)
	return scanAppointment(row)
}

func (r *PgRepository) ListBookedTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT time
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND status <> 'cancelled'
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return times, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, date, time, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return r.listAppointments(ctx, `
		SELECT id, patient_id, doctor_id, date, time, status, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date, time
	`, patientID)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	return r.listAppointments(ctx, `
		SELECT id, patient_id, doctor_id, date, time, status, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY date, time
	`, doctorID)
}

func (r *PgRepository) listAppointments(ctx context.Context, query string, subjectID uuid.UUID) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, query, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, patientID, doctorID uuid.UUID, date, timeOfDay string) (*Appointment, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, date, time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'confirmed', now(), now())
		RETURNING id, patient_id, doctor_id, date, time, status, created_at, updated_at
	`, id, patientID, doctorID, date, timeOfDay)

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			// The partial unique index on active slots lost us the race.
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	return appt, nil
}

func (r *PgRepository) UpdateAppointmentSchedule(ctx context.Context, id uuid.UUID, newDate, newTime string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2,
		    time = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, patient_id, doctor_id, date, time, status, created_at, updated_at
	`, id, newDate, newTime)

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	return appt, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, patient_id, doctor_id, date, time, status, created_at, updated_at
	`, id, status)

	return scanAppointment(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
