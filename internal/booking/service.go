package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-booking/internal/cache"
	"github.com/carebridge/telehealth-booking/internal/calltoken"
	"github.com/carebridge/telehealth-booking/internal/notify"
	"github.com/carebridge/telehealth-booking/internal/redisclient"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventStatusUpdated          = "APPOINTMENT_STATUS_UPDATED"

	appointmentType = "Video Consultation"
)

var (
	ErrMissingFields   = errors.New("missing required fields")
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidTime     = errors.New("invalid time format")
	ErrOnlyPatients    = errors.New("only patients can book appointments")
	ErrNotOwnBooking   = errors.New("cannot book appointment for other patients")
	ErrForbidden       = errors.New("forbidden: access denied")
	ErrOutsideWindow   = errors.New("selected time is not within available slots")
	ErrSlotTaken       = errors.New("time slot already booked by another patient")
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")
	ErrNoAppointments  = errors.New("no appointments found")
)

// TokenIssuer mints the call-access capability for one appointment and one
// requesting identity. Issue may refuse with calltoken.ErrExpired.
type TokenIssuer interface {
	Issue(appointmentID uuid.UUID, date, startTime string, userID uuid.UUID, role string) (string, error)
}

type Service struct {
	repo         Repository
	cache        *cache.Store
	locker       redisclient.Locker
	notifier     notify.Scheduler
	tokens       TokenIssuer
	reminderLead time.Duration
	log          zerolog.Logger
}

func NewService(repo Repository, store *cache.Store, locker redisclient.Locker, notifier notify.Scheduler, tokens TokenIssuer, reminderLead time.Duration, log zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		cache:        store,
		locker:       locker,
		notifier:     notifier,
		tokens:       tokens,
		reminderLead: reminderLead,
		log:          log,
	}
}

type BookRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      string // 2006-01-02
	Time      string // HH:MM
}

type BookResult struct {
	Appointment *Appointment
	CallLink    string
	// Warning reports a post-persistence failure (reminders, call link) that
	// must not fail the booking itself.
	Warning string
}

// Book reserves a slot for a patient. The conflict check and the insert run
// under a per-slot Redis lock, and the partial unique index on active slots
// backstops the invariant if the lock is ever bypassed.
func (s *Service) Book(ctx context.Context, req BookRequest, actor Actor) (*BookResult, error) {
	// Discard the subjects' list caches up front, before any validation.
	// Worst case this forces an extra recomputation, never a stale read.
	s.cache.Delete(
		cache.PatientAppointmentsKey(req.PatientID),
		cache.DoctorAppointmentsKey(req.DoctorID),
	)

	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil || req.Date == "" || req.Time == "" {
		return nil, ErrMissingFields
	}
	if actor.Role != RolePatient {
		return nil, ErrOnlyPatients
	}
	if actor.ID != req.PatientID {
		return nil, ErrNotOwnBooking
	}
	if !ValidDate(req.Date) {
		return nil, ErrInvalidDate
	}
	if !ValidTime(req.Time) {
		return nil, ErrInvalidTime
	}

	availability, err := s.repo.GetAvailability(ctx, req.DoctorID, req.Date)
	if err != nil {
		if errors.Is(err, ErrAvailabilityMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}

	if !slices.Contains(TimeSlots(availability.StartTime, availability.EndTime), req.Time) {
		return nil, ErrOutsideWindow
	}

	var created *Appointment

	err = s.locker.WithSlotLock(ctx, req.DoctorID, req.Date, req.Time, func(lockCtx context.Context) error {
		existing, err := s.repo.FindActiveAppointment(lockCtx, req.DoctorID, req.Date, req.Time)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check slot conflict: %w", err)
		}
		if existing != nil {
			return ErrSlotTaken
		}

		appt, err := s.repo.CreateAppointment(lockCtx, req.PatientID, req.DoctorID, req.Date, req.Time)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	// The write succeeded; everything from here on is best effort and must
	// not fail the booking.
	s.invalidateListCaches(created.PatientID, created.DoctorID)

	s.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"patient_id": created.PatientID.String(),
		"doctor_id":  created.DoctorID.String(),
		"date":       created.Date,
		"time":       created.Time,
	})

	result := &BookResult{Appointment: created}

	if err := s.scheduleReminders(ctx, created); err != nil {
		s.log.Error().Err(err).Stringer("appointment_id", created.ID).Msg("schedule reminders")
		result.Warning = "appointment booked, but reminder scheduling failed"
	}

	link, err := s.tokens.Issue(created.ID, created.Date, created.Time, actor.ID, string(actor.Role))
	if err != nil {
		s.log.Error().Err(err).Stringer("appointment_id", created.ID).Msg("issue call link")
		result.Warning = "appointment booked, but call link generation failed"
	} else {
		result.CallLink = link
	}

	return result, nil
}

// Reschedule moves an appointment to a new slot. The new slot goes through
// the same conflict check as a fresh booking, ignoring the appointment being
// moved.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate, newTime string, actor Actor) (*Appointment, string, error) {
	if !ValidDate(newDate) {
		return nil, "", ErrInvalidDate
	}
	if !ValidTime(newTime) {
		return nil, "", ErrInvalidTime
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	availability, err := s.repo.GetAvailability(ctx, appt.DoctorID, newDate)
	if err != nil {
		if errors.Is(err, ErrAvailabilityMissing) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("load availability: %w", err)
	}
	if !slices.Contains(TimeSlots(availability.StartTime, availability.EndTime), newTime) {
		return nil, "", ErrOutsideWindow
	}

	var updated *Appointment

	err = s.locker.WithSlotLock(ctx, appt.DoctorID, newDate, newTime, func(lockCtx context.Context) error {
		existing, err := s.repo.FindActiveAppointment(lockCtx, appt.DoctorID, newDate, newTime)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check slot conflict: %w", err)
		}
		if existing != nil && existing.ID != appt.ID {
			return ErrSlotTaken
		}

		upd, err := s.repo.UpdateAppointmentSchedule(lockCtx, id, newDate, newTime)
		if err != nil {
			return fmt.Errorf("update appointment schedule: %w", err)
		}

		updated = upd
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, "", ErrSlotBeingBooked
		}
		return nil, "", err
	}

	s.invalidateListCaches(updated.PatientID, updated.DoctorID)

	s.logEvent(ctx, updated.ID, EventAppointmentRescheduled, map[string]any{
		"date": updated.Date,
		"time": updated.Time,
	})

	link, err := s.tokens.Issue(updated.ID, updated.Date, updated.Time, actor.ID, string(actor.Role))
	if err != nil {
		s.log.Error().Err(err).Stringer("appointment_id", updated.ID).Msg("issue call link")
		link = ""
	}

	return updated, link, nil
}

// Cancel marks an appointment cancelled. The slot becomes bookable again.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return err
	}

	s.invalidateListCaches(appt.PatientID, appt.DoctorID)

	if _, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusCancelled); err != nil {
		return fmt.Errorf("cancel appointment: %w", err)
	}

	// A read racing the update above could have re-primed the old view
	// between the first delete and the write.
	s.invalidateListCaches(appt.PatientID, appt.DoctorID)

	s.logEvent(ctx, appt.ID, EventAppointmentCancelled, map[string]any{})

	return nil
}

// UpdateStatus sets an externally driven status value. Allowed values are the
// caller's contract, not validated here.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) error {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.repo.UpdateAppointmentStatus(ctx, id, status); err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}

	s.invalidateListCaches(appt.PatientID, appt.DoctorID)

	s.logEvent(ctx, appt.ID, EventStatusUpdated, map[string]any{
		"status": string(status),
	})

	return nil
}

// AppointmentsByPatient returns the enriched appointment list for a patient,
// serving token-independent fields from cache when fresh. Call links are
// minted per request and never cached.
func (s *Service) AppointmentsByPatient(ctx context.Context, patientID uuid.UUID, actor Actor) ([]AppointmentView, error) {
	if actor.Role != RoleAdmin && actor.ID != patientID {
		return nil, ErrForbidden
	}

	key := cache.PatientAppointmentsKey(patientID)
	if cached, ok := s.cache.Get(key); ok {
		if views, ok := cached.([]AppointmentView); ok {
			return s.withCallLinks(views, actor), nil
		}
	}

	appts, err := s.repo.ListAppointmentsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}

	views, err := s.buildViews(ctx, appts)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrNoAppointments
	}

	s.cache.Set(key, views)

	return s.withCallLinks(views, actor), nil
}

// AppointmentsByDoctor is the doctor-side counterpart of
// AppointmentsByPatient.
func (s *Service) AppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, actor Actor) ([]AppointmentView, error) {
	if actor.Role != RoleAdmin && actor.ID != doctorID {
		return nil, ErrForbidden
	}

	key := cache.DoctorAppointmentsKey(doctorID)
	if cached, ok := s.cache.Get(key); ok {
		if views, ok := cached.([]AppointmentView); ok {
			return s.withCallLinks(views, actor), nil
		}
	}

	appts, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}

	views, err := s.buildViews(ctx, appts)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrNoAppointments
	}

	s.cache.Set(key, views)

	return s.withCallLinks(views, actor), nil
}

// CallLink issues a fresh call link for an appointment.
func (s *Service) CallLink(ctx context.Context, id uuid.UUID, actor Actor) (string, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return "", err
	}

	return s.tokens.Issue(appt.ID, appt.Date, appt.Time, actor.ID, string(actor.Role))
}

// FreeSlots lists the still-bookable start times for a doctor's date.
func (s *Service) FreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	if !ValidDate(date) {
		return nil, ErrInvalidDate
	}

	availability, err := s.repo.GetAvailability(ctx, doctorID, date)
	if err != nil {
		if errors.Is(err, ErrAvailabilityMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}

	booked, err := s.repo.ListBookedTimes(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list booked times: %w", err)
	}

	var free []string
	for _, slot := range TimeSlots(availability.StartTime, availability.EndTime) {
		if !slices.Contains(booked, slot) {
			free = append(free, slot)
		}
	}

	return free, nil
}

// buildViews enriches raw appointments with names and specialties, resolving
// the distinct user ids in a single lookup.
func (s *Service) buildViews(ctx context.Context, appts []Appointment) ([]AppointmentView, error) {
	if len(appts) == 0 {
		return nil, nil
	}

	idSet := make(map[uuid.UUID]struct{}, len(appts)*2)
	for _, a := range appts {
		idSet[a.PatientID] = struct{}{}
		idSet[a.DoctorID] = struct{}{}
	}
	ids := make([]uuid.UUID, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	users, err := s.repo.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}

	views := make([]AppointmentView, 0, len(appts))
	for _, a := range appts {
		v := AppointmentView{
			AppointmentID: a.ID,
			DoctorID:      a.DoctorID,
			PatientID:     a.PatientID,
			Date:          a.Date,
			Time:          a.Time,
			Status:        string(a.Status),
			Type:          appointmentType,
		}
		if u, ok := users[a.DoctorID]; ok {
			v.DoctorName = u.Name
			if u.Specialty != nil {
				v.DoctorSpecialty = *u.Specialty
			}
		}
		if u, ok := users[a.PatientID]; ok {
			v.PatientName = u.Name
		}
		views = append(views, v)
	}

	return views, nil
}

// withCallLinks fills per-request call links on a copy of the cached views.
// An expired link is left empty rather than failing the whole listing.
func (s *Service) withCallLinks(views []AppointmentView, actor Actor) []AppointmentView {
	out := make([]AppointmentView, len(views))
	copy(out, views)

	for i := range out {
		link, err := s.tokens.Issue(out[i].AppointmentID, out[i].Date, out[i].Time, actor.ID, string(actor.Role))
		if err != nil {
			if !errors.Is(err, calltoken.ErrExpired) {
				s.log.Error().Err(err).Stringer("appointment_id", out[i].AppointmentID).Msg("issue call link")
			}
			continue
		}
		out[i].CallLink = link
	}

	return out
}

func (s *Service) scheduleReminders(ctx context.Context, appt *Appointment) error {
	users, err := s.repo.GetUsersByIDs(ctx, []uuid.UUID{appt.PatientID, appt.DoctorID})
	if err != nil {
		return fmt.Errorf("resolve reminder recipients: %w", err)
	}
	patient, ok := users[appt.PatientID]
	if !ok {
		return ErrUserNotFound
	}
	doctor, ok := users[appt.DoctorID]
	if !ok {
		return ErrUserNotFound
	}

	startsAt, err := time.ParseInLocation("2006-01-02 15:04", appt.Date+" "+appt.Time, time.Local)
	if err != nil {
		return fmt.Errorf("parse appointment time: %w", err)
	}
	remindAt := startsAt.Add(-s.reminderLead)

	if err := s.notifier.Schedule(ctx, notify.Request{
		RecipientID: appt.PatientID,
		SubjectID:   appt.ID,
		Category:    notify.CategoryAppointment,
		Message:     fmt.Sprintf("Reminder: Your appointment with Dr. %s is scheduled for %s at %s.", doctor.Name, appt.Date, appt.Time),
		Channel:     notify.ChannelEmail,
		DeliverAt:   remindAt,
	}); err != nil {
		return fmt.Errorf("schedule patient reminder: %w", err)
	}

	if err := s.notifier.Schedule(ctx, notify.Request{
		RecipientID: appt.DoctorID,
		SubjectID:   appt.ID,
		Category:    notify.CategoryAppointment,
		Message:     fmt.Sprintf("Reminder: You have an appointment with %s on %s at %s.", patient.Name, appt.Date, appt.Time),
		Channel:     notify.ChannelEmail,
		DeliverAt:   remindAt,
	}); err != nil {
		return fmt.Errorf("schedule doctor reminder: %w", err)
	}

	return nil
}

func (s *Service) invalidateListCaches(patientID, doctorID uuid.UUID) {
	s.cache.Delete(
		cache.PatientAppointmentsKey(patientID),
		cache.DoctorAppointmentsKey(doctorID),
	)
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Stringer("appointment_id", appointmentID).Msg("insert event log")
	}
}
