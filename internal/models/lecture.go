package models

import "time"

// LectureHours is the running ledger of tutoring hours keyed by the unique
// (student, tutor, subject) triple. TotalHours and UnpaidHours only grow during
// accrual; UnpaidHours shrinks when a payment is recorded.
type LectureHours struct {
	ID              string    `db:"id" json:"id"`
	StudentID       string    `db:"student_id" json:"student_id"`
	TutorID         string    `db:"tutor_id" json:"tutor_id"`
	Subject         string    `db:"subject" json:"subject"`
	TotalHours      float64   `db:"total_hours" json:"total_hours"`
	UnpaidHours     float64   `db:"unpaid_hours" json:"unpaid_hours"`
	LastSessionDate time.Time `db:"last_session_date" json:"last_session_date"`
	PaymentInterval float64   `db:"payment_interval" json:"payment_interval"`
	ReminderSent    bool      `db:"reminder_sent" json:"reminder_sent"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// LectureSession is an immutable audit record of one completed session.
type LectureSession struct {
	ID              string    `db:"id" json:"id"`
	LectureHoursID  string    `db:"lecture_hours_id" json:"lecture_hours_id"`
	AppointmentID   string    `db:"appointment_id" json:"appointment_id"`
	Duration        float64   `db:"duration" json:"duration"`
	ActualStartTime time.Time `db:"actual_start_time" json:"actual_start_time"`
	ActualEndTime   time.Time `db:"actual_end_time" json:"actual_end_time"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// LectureHoursFilter captures listing criteria for ledgers.
type LectureHoursFilter struct {
	StudentID string
	TutorID   string
	Subject   string
	Page      int
	PageSize  int
}
