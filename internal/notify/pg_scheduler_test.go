package notify

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestScheduleInsertsRow(t *testing.T) {
	mock := newMockDB(t)
	scheduler := NewPgScheduler(mock)

	recipient := uuid.New()
	subject := uuid.New()
	deliverAt := time.Date(2025, 1, 9, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduled_notifications")).
		WithArgs(pgxmock.AnyArg(), recipient, subject, CategoryAppointment, "see you tomorrow", ChannelEmail, deliverAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := scheduler.Schedule(context.Background(), Request{
		RecipientID: recipient,
		SubjectID:   subject,
		Category:    CategoryAppointment,
		Message:     "see you tomorrow",
		Channel:     ChannelEmail,
		DeliverAt:   deliverAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type recordingSender struct {
	sent []string
	fail map[string]error
}

func (s *recordingSender) Send(_ context.Context, _ uuid.UUID, _ string, message string) error {
	if err, ok := s.fail[message]; ok {
		return err
	}
	s.sent = append(s.sent, message)
	return nil
}

func TestDispatchDueSendsAndMarks(t *testing.T) {
	mock := newMockDB(t)
	sender := &recordingSender{}
	dispatcher := NewDispatcher(mock, sender, zerolog.Nop())

	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	first := uuid.New()
	second := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM scheduled_notifications")).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "recipient_id", "channel", "message"}).
			AddRow(first, uuid.New(), ChannelEmail, "first reminder").
			AddRow(second, uuid.New(), ChannelEmail, "second reminder"))

	mock.ExpectExec(regexp.QuoteMeta("SET sent_at")).
		WithArgs(first).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("SET sent_at")).
		WithArgs(second).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	sent, err := dispatcher.DispatchDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"first reminder", "second reminder"}, sender.sent)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchDueNothingDue(t *testing.T) {
	mock := newMockDB(t)
	dispatcher := NewDispatcher(mock, &recordingSender{}, zerolog.Nop())

	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM scheduled_notifications")).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "recipient_id", "channel", "message"}))

	sent, err := dispatcher.DispatchDue(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchDueFailedSendLeftUnsent(t *testing.T) {
	mock := newMockDB(t)
	sender := &recordingSender{fail: map[string]error{"broken": errors.New("smtp down")}}
	dispatcher := NewDispatcher(mock, sender, zerolog.Nop())

	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	okID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM scheduled_notifications")).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "recipient_id", "channel", "message"}).
			AddRow(uuid.New(), uuid.New(), ChannelEmail, "broken").
			AddRow(okID, uuid.New(), ChannelEmail, "fine"))

	// Only the successful send gets marked.
	mock.ExpectExec(regexp.QuoteMeta("SET sent_at")).
		WithArgs(okID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	sent, err := dispatcher.DispatchDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"fine"}, sender.sent)

	assert.NoError(t, mock.ExpectationsWereMet())
}
