package booking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/telehealth-booking/internal/cache"
	"github.com/carebridge/telehealth-booking/internal/notify"
	"github.com/carebridge/telehealth-booking/internal/redisclient"
)

// fakeRepo is an in-memory Repository that mirrors the partial unique index
// on active slots.
type fakeRepo struct {
	users        map[uuid.UUID]*User
	availability map[string]*Availability
	appointments map[uuid.UUID]*Appointment
	events       []EventLog

	listPatientCalls int
	listDoctorCalls  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:        make(map[uuid.UUID]*User),
		availability: make(map[string]*Availability),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func availKey(doctorID uuid.UUID, date string) string {
	return doctorID.String() + "|" + date
}

func (r *fakeRepo) addUser(name string, role Role, specialty string) uuid.UUID {
	id := uuid.New()
	u := &User{ID: id, Name: name, Role: role}
	if specialty != "" {
		u.Specialty = &specialty
	}
	r.users[id] = u
	return id
}

func (r *fakeRepo) addAvailability(doctorID uuid.UUID, date, start, end string) {
	r.availability[availKey(doctorID, date)] = &Availability{
		DoctorID:  doctorID,
		Date:      date,
		StartTime: start,
		EndTime:   end,
	}
}

func (r *fakeRepo) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (r *fakeRepo) GetUsersByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*User, error) {
	result := make(map[uuid.UUID]*User)
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			result[id] = u
		}
	}
	return result, nil
}

func (r *fakeRepo) GetAvailability(_ context.Context, doctorID uuid.UUID, date string) (*Availability, error) {
	a, ok := r.availability[availKey(doctorID, date)]
	if !ok {
		return nil, ErrAvailabilityMissing
	}
	return a, nil
}

func (r *fakeRepo) FindActiveAppointment(_ context.Context, doctorID uuid.UUID, date, timeOfDay string) (*Appointment, error) {
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date == date && a.Time == timeOfDay && a.Status != StatusCancelled {
			return a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) ListBookedTimes(_ context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	var times []string
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date == date && a.Status != StatusCancelled {
			times = append(times, a.Time)
		}
	}
	return times, nil
}

func (r *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a, nil
}

func (r *fakeRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	r.listPatientCalls++
	var result []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *fakeRepo) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	r.listDoctorCalls++
	var result []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *fakeRepo) CreateAppointment(ctx context.Context, patientID, doctorID uuid.UUID, date, timeOfDay string) (*Appointment, error) {
	if existing, _ := r.FindActiveAppointment(ctx, doctorID, date, timeOfDay); existing != nil {
		return nil, ErrSlotTaken
	}

	a := &Appointment{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      date,
		Time:      timeOfDay,
		Status:    StatusConfirmed,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	r.appointments[a.ID] = a
	return a, nil
}

func (r *fakeRepo) UpdateAppointmentSchedule(ctx context.Context, id uuid.UUID, newDate, newTime string) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if existing, _ := r.FindActiveAppointment(ctx, a.DoctorID, newDate, newTime); existing != nil && existing.ID != id {
		return nil, ErrSlotTaken
	}
	a.Date = newDate
	a.Time = newTime
	a.UpdatedAt = time.Now()
	return a, nil
}

func (r *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	return a, nil
}

func (r *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.events = append(r.events, ev)
	return nil
}

// fakeLocker runs the critical section inline, or refuses.
type fakeLocker struct {
	refuse bool
	calls  int
}

func (l *fakeLocker) WithSlotLock(ctx context.Context, _ uuid.UUID, _, _ string, fn func(ctx context.Context) error) error {
	l.calls++
	if l.refuse {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

type fakeScheduler struct {
	requests []notify.Request
	err      error
}

func (s *fakeScheduler) Schedule(_ context.Context, req notify.Request) error {
	if s.err != nil {
		return s.err
	}
	s.requests = append(s.requests, req)
	return nil
}

// fakeIssuer numbers every link it mints, so tests can tell a fresh token
// from a replayed one.
type fakeIssuer struct {
	issued int
	err    error
}

func (i *fakeIssuer) Issue(appointmentID uuid.UUID, _, _ string, _ uuid.UUID, _ string) (string, error) {
	if i.err != nil {
		return "", i.err
	}
	i.issued++
	return fmt.Sprintf("https://calls.test/call/%s?token=%d", appointmentID, i.issued), nil
}

type fixture struct {
	svc       *fakeSvcDeps
	service   *Service
	patientID uuid.UUID
	doctorID  uuid.UUID
}

type fakeSvcDeps struct {
	repo      *fakeRepo
	store     *cache.Store
	clock     *fakeClock
	locker    *fakeLocker
	scheduler *fakeScheduler
	issuer    *fakeIssuer
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	deps := &fakeSvcDeps{
		repo:      newFakeRepo(),
		clock:     &fakeClock{now: time.Date(2025, 1, 8, 12, 0, 0, 0, time.Local)},
		locker:    &fakeLocker{},
		scheduler: &fakeScheduler{},
		issuer:    &fakeIssuer{},
	}
	deps.store = cache.NewWithClock(30*time.Second, deps.clock.Now)

	patientID := deps.repo.addUser("Alice Moore", RolePatient, "")
	doctorID := deps.repo.addUser("Bashir Khan", RoleDoctor, "Dermatology")
	deps.repo.addAvailability(doctorID, "2025-01-10", "09:00", "11:00")

	service := NewService(deps.repo, deps.store, deps.locker, deps.scheduler, deps.issuer, 24*time.Hour, zerolog.Nop())

	return &fixture{svc: deps, service: service, patientID: patientID, doctorID: doctorID}
}

func (f *fixture) patientActor() Actor { return Actor{ID: f.patientID, Role: RolePatient} }

func (f *fixture) book(t *testing.T, date, timeOfDay string) *BookResult {
	t.Helper()
	result, err := f.service.Book(context.Background(), BookRequest{
		PatientID: f.patientID,
		DoctorID:  f.doctorID,
		Date:      date,
		Time:      timeOfDay,
	}, f.patientActor())
	require.NoError(t, err)
	return result
}

func TestBookSuccess(t *testing.T) {
	f := newFixture(t)

	result := f.book(t, "2025-01-10", "09:00")

	require.NotNil(t, result.Appointment)
	assert.Equal(t, StatusConfirmed, result.Appointment.Status)
	assert.NotEmpty(t, result.CallLink)
	assert.Empty(t, result.Warning)

	require.Len(t, f.svc.scheduler.requests, 2)
	wantRemindAt := time.Date(2025, 1, 9, 9, 0, 0, 0, time.Local)

	patientReminder := f.svc.scheduler.requests[0]
	assert.Equal(t, f.patientID, patientReminder.RecipientID)
	assert.Equal(t, result.Appointment.ID, patientReminder.SubjectID)
	assert.Equal(t, "Reminder: Your appointment with Dr. Bashir Khan is scheduled for 2025-01-10 at 09:00.", patientReminder.Message)
	assert.Equal(t, wantRemindAt, patientReminder.DeliverAt)

	doctorReminder := f.svc.scheduler.requests[1]
	assert.Equal(t, f.doctorID, doctorReminder.RecipientID)
	assert.Equal(t, "Reminder: You have an appointment with Alice Moore on 2025-01-10 at 09:00.", doctorReminder.Message)
	assert.Equal(t, wantRemindAt, doctorReminder.DeliverAt)

	require.Len(t, f.svc.repo.events, 1)
	assert.Equal(t, EventAppointmentBooked, f.svc.repo.events[0].EventType)
}

func TestBookConflictScenarios(t *testing.T) {
	f := newFixture(t)

	f.book(t, "2025-01-10", "09:00")

	_, err := f.service.Book(context.Background(), BookRequest{
		PatientID: f.patientID, DoctorID: f.doctorID, Date: "2025-01-10", Time: "09:00",
	}, f.patientActor())
	assert.ErrorIs(t, err, ErrSlotTaken)

	_, err = f.service.Book(context.Background(), BookRequest{
		PatientID: f.patientID, DoctorID: f.doctorID, Date: "2025-01-10", Time: "10:45",
	}, f.patientActor())
	assert.ErrorIs(t, err, ErrOutsideWindow)

	_, err = f.service.Book(context.Background(), BookRequest{
		PatientID: f.patientID, DoctorID: f.doctorID, Date: "2025-01-11", Time: "09:00",
	}, f.patientActor())
	assert.ErrorIs(t, err, ErrAvailabilityMissing)
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Book(context.Background(), BookRequest{
		PatientID: f.patientID, DoctorID: f.doctorID, Date: "", Time: "09:00",
	}, f.patientActor())
	assert.ErrorIs(t, err, ErrMissingFields)

	_, err = f.service.Book(context.Background(), BookRequest{
		PatientID: f.patientID, DoctorID: f.doctorID, Date: "not-a-date", Time: "09:00",
	}, f.patientActor())
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = f.service.Book(context.Background(), BookRequest{
		PatientID: f.patientID, DoctorID: f.doctorID, Date: "2025-01-10", Time: "9:00",
	}, f.patientActor())
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestBookIdentityBinding(t *testing.T) {
	f := newFixture(t)

	req := BookRequest{PatientID: f.patientID, DoctorID: f.doctorID, Date: "2025-01-10", Time: "09:00"}

	_, err := f.service.Book(context.Background(), req, Actor{ID: f.doctorID, Role: RoleDoctor})
	assert.ErrorIs(t, err, ErrOnlyPatients)

	_, err = f.service.Book(context.Background(), req, Actor{ID: uuid.New(), Role: RolePatient})
	assert.ErrorIs(t, err, ErrNotOwnBooking)
}

func TestBookLockContention(t *testing.T) {
	f := newFixture(t)
	f.svc.locker.refuse = true

	_, err := f.service.Book(context.Background(), BookRequest{
		PatientID: f.patientID, DoctorID: f.doctorID, Date: "2025-01-10", Time: "09:00",
	}, f.patientActor())
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
}

func TestBookReminderFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t)
	f.svc.scheduler.err = errors.New("queue unavailable")

	result := f.book(t, "2025-01-10", "09:30")

	require.NotNil(t, result.Appointment)
	assert.NotEmpty(t, result.Warning)
	// The write went through regardless.
	_, err := f.svc.repo.GetAppointmentByID(context.Background(), result.Appointment.ID)
	assert.NoError(t, err)
}

func TestCancelFreesSlot(t *testing.T) {
	f := newFixture(t)

	first := f.book(t, "2025-01-10", "09:00")

	require.NoError(t, f.service.Cancel(context.Background(), first.Appointment.ID))
	assert.Equal(t, StatusCancelled, f.svc.repo.appointments[first.Appointment.ID].Status)

	second := f.book(t, "2025-01-10", "09:00")
	assert.NotEqual(t, first.Appointment.ID, second.Appointment.ID)
}

func TestCancelNotFound(t *testing.T) {
	f := newFixture(t)

	err := f.service.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestRescheduleSuccess(t *testing.T) {
	f := newFixture(t)

	booked := f.book(t, "2025-01-10", "09:00")

	updated, link, err := f.service.Reschedule(context.Background(), booked.Appointment.ID, "2025-01-10", "10:00", f.patientActor())
	require.NoError(t, err)
	assert.Equal(t, "10:00", updated.Time)
	assert.NotEmpty(t, link)
}

func TestRescheduleNotFound(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.service.Reschedule(context.Background(), uuid.New(), "2025-01-10", "10:00", f.patientActor())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestRescheduleConflicts(t *testing.T) {
	f := newFixture(t)

	first := f.book(t, "2025-01-10", "09:00")
	second := f.book(t, "2025-01-10", "09:30")

	_, _, err := f.service.Reschedule(context.Background(), second.Appointment.ID, "2025-01-10", "09:00", f.patientActor())
	assert.ErrorIs(t, err, ErrSlotTaken)

	// Moving an appointment onto its own slot is not a conflict.
	_, _, err = f.service.Reschedule(context.Background(), first.Appointment.ID, "2025-01-10", "09:00", f.patientActor())
	assert.NoError(t, err)

	_, _, err = f.service.Reschedule(context.Background(), second.Appointment.ID, "2025-01-10", "10:45", f.patientActor())
	assert.ErrorIs(t, err, ErrOutsideWindow)
}

func TestUpdateStatusNotFound(t *testing.T) {
	f := newFixture(t)

	err := f.service.UpdateStatus(context.Background(), uuid.New(), StatusCompleted)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestListAuthorization(t *testing.T) {
	f := newFixture(t)
	f.book(t, "2025-01-10", "09:00")

	_, err := f.service.AppointmentsByPatient(context.Background(), f.patientID, Actor{ID: uuid.New(), Role: RolePatient})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.service.AppointmentsByPatient(context.Background(), f.patientID, f.patientActor())
	assert.NoError(t, err)

	_, err = f.service.AppointmentsByPatient(context.Background(), f.patientID, Actor{ID: uuid.New(), Role: RoleAdmin})
	assert.NoError(t, err)

	_, err = f.service.AppointmentsByDoctor(context.Background(), f.doctorID, Actor{ID: uuid.New(), Role: RoleDoctor})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListEmpty(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.AppointmentsByPatient(context.Background(), f.patientID, f.patientActor())
	assert.ErrorIs(t, err, ErrNoAppointments)
}

func TestListEnrichment(t *testing.T) {
	f := newFixture(t)
	f.book(t, "2025-01-10", "09:00")

	views, err := f.service.AppointmentsByPatient(context.Background(), f.patientID, f.patientActor())
	require.NoError(t, err)
	require.Len(t, views, 1)

	v := views[0]
	assert.Equal(t, "Bashir Khan", v.DoctorName)
	assert.Equal(t, "Dermatology", v.DoctorSpecialty)
	assert.Equal(t, "Alice Moore", v.PatientName)
	assert.Equal(t, "Video Consultation", v.Type)
	assert.NotEmpty(t, v.CallLink)
}

func TestListServedFromCacheWithFreshTokens(t *testing.T) {
	f := newFixture(t)
	f.book(t, "2025-01-10", "09:00")

	first, err := f.service.AppointmentsByPatient(context.Background(), f.patientID, f.patientActor())
	require.NoError(t, err)
	assert.Equal(t, 1, f.svc.repo.listPatientCalls)

	second, err := f.service.AppointmentsByPatient(context.Background(), f.patientID, f.patientActor())
	require.NoError(t, err)
	assert.Equal(t, 1, f.svc.repo.listPatientCalls, "second read must come from cache")

	// Tokens are minted per request even on cache hits.
	assert.NotEqual(t, first[0].CallLink, second[0].CallLink)
}

func TestListCacheExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	f.book(t, "2025-01-10", "09:00")

	_, err := f.service.AppointmentsByPatient(context.Background(), f.patientID, f.patientActor())
	require.NoError(t, err)
	assert.Equal(t, 1, f.svc.repo.listPatientCalls)

	f.svc.clock.now = f.svc.clock.now.Add(31 * time.Second)

	_, err = f.service.AppointmentsByPatient(context.Background(), f.patientID, f.patientActor())
	require.NoError(t, err)
	assert.Equal(t, 2, f.svc.repo.listPatientCalls, "expired entry must be recomputed")
}

func TestReadAfterWriteFreshness(t *testing.T) {
	f := newFixture(t)
	booked := f.book(t, "2025-01-10", "09:00")

	views, err := f.service.AppointmentsByPatient(context.Background(), f.patientID, f.patientActor())
	require.NoError(t, err)
	assert.Equal(t, string(StatusConfirmed), views[0].Status)

	require.NoError(t, f.service.Cancel(context.Background(), booked.Appointment.ID))

	views, err = f.service.AppointmentsByPatient(context.Background(), f.patientID, f.patientActor())
	require.NoError(t, err)
	assert.Equal(t, string(StatusCancelled), views[0].Status, "cancel must invalidate the patient list cache")

	doctorViews, err := f.service.AppointmentsByDoctor(context.Background(), f.doctorID, Actor{ID: f.doctorID, Role: RoleDoctor})
	require.NoError(t, err)
	assert.Equal(t, string(StatusCancelled), doctorViews[0].Status, "cancel must invalidate the doctor list cache")
}

func TestCallLinkNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CallLink(context.Background(), uuid.New(), f.patientActor())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestFreeSlots(t *testing.T) {
	f := newFixture(t)

	slots, err := f.service.FreeSlots(context.Background(), f.doctorID, "2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30"}, slots)

	f.book(t, "2025-01-10", "09:30")

	slots, err = f.service.FreeSlots(context.Background(), f.doctorID, "2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "10:30"}, slots)

	_, err = f.service.FreeSlots(context.Background(), f.doctorID, "2025-01-12")
	assert.ErrorIs(t, err, ErrAvailabilityMissing)
}
