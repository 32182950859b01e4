package models

import "time"

// AppointmentStatus enumerates the appointment lifecycle states.
type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "SCHEDULED"
	AppointmentConfirmed  AppointmentStatus = "CONFIRMED"
	AppointmentInProgress AppointmentStatus = "IN_PROGRESS"
	AppointmentCompleted  AppointmentStatus = "COMPLETED"
	AppointmentCancelled  AppointmentStatus = "CANCELLED"
	AppointmentNoShow     AppointmentStatus = "NO_SHOW"
)

// allowedTransitions encodes the appointment state machine. Terminal states
// (COMPLETED, CANCELLED, NO_SHOW) have no outgoing edges.
var allowedTransitions = map[AppointmentStatus]map[AppointmentStatus]struct{}{
	AppointmentScheduled: {
		AppointmentConfirmed:  {},
		AppointmentInProgress: {},
		AppointmentCompleted:  {},
		AppointmentCancelled:  {},
		AppointmentNoShow:     {},
	},
	AppointmentConfirmed: {
		AppointmentInProgress: {},
		AppointmentCompleted:  {},
		AppointmentCancelled:  {},
		AppointmentNoShow:     {},
	},
	AppointmentInProgress: {
		AppointmentCompleted: {},
		AppointmentCancelled: {},
	},
}

// CanTransition reports whether the status change is allowed by the state machine.
func CanTransition(from, to AppointmentStatus) bool {
	if from == to {
		return true
	}
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsTerminal reports whether no further transitions are defined for the status.
func IsTerminal(status AppointmentStatus) bool {
	return len(allowedTransitions[status]) == 0
}

// ValidStatus reports whether the value is a known appointment status.
func ValidStatus(status AppointmentStatus) bool {
	switch status {
	case AppointmentScheduled, AppointmentConfirmed, AppointmentInProgress,
		AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

// Appointment represents one scheduled tutoring session. Times are UTC and the
// booked interval is half-open: [StartTime, EndTime).
type Appointment struct {
	ID        string            `db:"id" json:"id"`
	TutorID   string            `db:"tutor_id" json:"tutor_id"`
	StudentID string            `db:"student_id" json:"student_id"`
	Subject   string            `db:"subject" json:"subject"`
	StartTime time.Time         `db:"start_time" json:"start_time"`
	EndTime   time.Time         `db:"end_time" json:"end_time"`
	Status    AppointmentStatus `db:"status" json:"status"`
	Notes     *string           `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// AppointmentDetail attaches tutor/student display data to an appointment.
type AppointmentDetail struct {
	Appointment
	TutorName   string `db:"tutor_name" json:"tutor_name"`
	StudentName string `db:"student_name" json:"student_name"`
}

// AppointmentFilter captures listing criteria for appointments.
type AppointmentFilter struct {
	TutorID   string
	StudentID string
	Status    AppointmentStatus
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
	SortOrder string
}
