package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// NotificationType enumerates the notification kinds produced by the engines.
type NotificationType string

const (
	NotificationAppointmentReminder NotificationType = "APPOINTMENT_REMINDER"
	NotificationPaymentReminder     NotificationType = "PAYMENT_REMINDER"
)

// Notification is a message handed to the delivery layer. The API only
// constructs and stores these; delivery over the listed channels is external.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Type      NotificationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	Channels  pq.StringArray   `db:"channels" json:"channels"`
	Payload   types.JSONText   `db:"payload" json:"payload,omitempty"`
	Read      bool             `db:"read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
