package models

import "time"

// AvailabilitySlot is a weekly recurring window during which a tutor accepts
// bookings. Start and end are minutes from midnight, UTC.
type AvailabilitySlot struct {
	ID          string    `db:"id" json:"id"`
	TutorID     string    `db:"tutor_id" json:"tutor_id"`
	Weekday     int       `db:"weekday" json:"weekday"`
	StartMinute int       `db:"start_minute" json:"start_minute"`
	EndMinute   int       `db:"end_minute" json:"end_minute"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Opening is a concrete bookable interval expanded from an availability slot.
type Opening struct {
	TutorID   string    `json:"tutor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}
