// Package notify schedules messages for future delivery. Delivery mechanics
// live behind the Sender interface; this package only owns the queue.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	CategoryAppointment = "appointment"
	ChannelEmail        = "email"
)

// Request asks for message to reach recipient at DeliverAt. SubjectID ties
// the notification back to the entity it is about (here, an appointment).
type Request struct {
	RecipientID uuid.UUID
	SubjectID   uuid.UUID
	Category    string
	Message     string
	Channel     string
	DeliverAt   time.Time
}

// Scheduler accepts delivery requests. Implementations must be safe for
// concurrent use.
type Scheduler interface {
	Schedule(ctx context.Context, req Request) error
}

// Sender performs the actual delivery of a due notification.
type Sender interface {
	Send(ctx context.Context, recipientID uuid.UUID, channel, message string) error
}
