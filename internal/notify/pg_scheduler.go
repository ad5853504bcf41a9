package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// DB is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgScheduler persists scheduling requests so a worker can dispatch them
// later. Requests survive process restarts.
type PgScheduler struct {
	db DB
}

func NewPgScheduler(db DB) *PgScheduler {
	return &PgScheduler{db: db}
}

func (s *PgScheduler) Schedule(ctx context.Context, req Request) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO scheduled_notifications (id, recipient_id, subject_id, category, message, channel, deliver_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, uuid.New(), req.RecipientID, req.SubjectID, req.Category, req.Message, req.Channel, req.DeliverAt)
	if err != nil {
		return fmt.Errorf("schedule notification: %w", err)
	}

	return nil
}

type dueNotification struct {
	ID          uuid.UUID
	RecipientID uuid.UUID
	Channel     string
	Message     string
}

// Dispatcher drains due notifications. Intended to be called periodically by
// the reminder worker.
type Dispatcher struct {
	db     DB
	sender Sender
	log    zerolog.Logger
}

func NewDispatcher(db DB, sender Sender, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{db: db, sender: sender, log: log}
}

// DispatchDue sends every unsent notification whose deliver_at has passed and
// marks it sent. A failed send is logged and left unsent for the next run.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	rows, err := d.db.Query(ctx, `
		SELECT id, recipient_id, channel, message
		FROM scheduled_notifications
		WHERE sent_at IS NULL AND deliver_at <= $1
		ORDER BY deliver_at
	`, now)
	if err != nil {
		return 0, fmt.Errorf("find due notifications: %w", err)
	}

	var due []dueNotification
	for rows.Next() {
		var n dueNotification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Channel, &n.Message); err != nil {
			rows.Close()
			return 0, err
		}
		due = append(due, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	sent := 0
	for _, n := range due {
		if err := d.sender.Send(ctx, n.RecipientID, n.Channel, n.Message); err != nil {
			d.log.Error().Err(err).Stringer("notification_id", n.ID).Msg("send notification")
			continue
		}

		if _, err := d.db.Exec(ctx, `
			UPDATE scheduled_notifications
			SET sent_at = now()
			WHERE id = $1
		`, n.ID); err != nil {
			d.log.Error().Err(err).Stringer("notification_id", n.ID).Msg("mark notification sent")
			continue
		}
		sent++
	}

	return sent, nil
}

// LogSender is the default Sender: it records the delivery instead of
// performing one. Real channels are wired in by the host application.
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Send(_ context.Context, recipientID uuid.UUID, channel, message string) error {
	s.Log.Info().
		Stringer("recipient_id", recipientID).
		Str("channel", channel).
		Str("message", message).
		Msg("deliver notification")
	return nil
}
