package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-api/internal/models"
	appErrors "github.com/tutorhub/tutorhub-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type appointmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Appointment, error)
	FindDetailByID(ctx context.Context, id string) (*models.AppointmentDetail, error)
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.AppointmentDetail, int, error)
	LockTutor(ctx context.Context, exec sqlx.ExtContext, tutorID string) error
	FindOverlapping(ctx context.Context, exec sqlx.ExtContext, tutorID string, start, end time.Time, excludeID string) ([]models.Appointment, error)
	Create(ctx context.Context, exec sqlx.ExtContext, appointment *models.Appointment) error
	Update(ctx context.Context, exec sqlx.ExtContext, appointment *models.Appointment) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.AppointmentStatus) error
}

type bookingUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type idempotencyStore interface {
	Claim(ctx context.Context, token string) (bool, error)
	Release(ctx context.Context, token string) error
}

type completionHandler interface {
	HandleCompleted(ctx context.Context, exec sqlx.ExtContext, evt AppointmentCompleted) error
}

// CreateAppointmentRequest describes a booking request. Date and Time combine
// into the UTC session start.
type CreateAppointmentRequest struct {
	TutorID         string  `json:"tutor_id" validate:"required"`
	StudentID       string  `json:"student_id" validate:"required"`
	Subject         string  `json:"subject" validate:"required"`
	Date            string  `json:"date" validate:"required"`
	Time            string  `json:"time" validate:"required"`
	DurationMinutes int     `json:"duration_minutes" validate:"omitempty,gt=0"`
	Notes           *string `json:"notes"`
	IdempotencyKey  string  `json:"-"`
}

// UpdateAppointmentRequest describes a partial appointment mutation. Supplying
// date and time reschedules the session and resets its status to SCHEDULED.
type UpdateAppointmentRequest struct {
	Date            *string                   `json:"date"`
	Time            *string                   `json:"time"`
	DurationMinutes *int                      `json:"duration_minutes" validate:"omitempty,gt=0"`
	Subject         *string                   `json:"subject"`
	Status          *models.AppointmentStatus `json:"status"`
	Notes           *string                   `json:"notes"`
}

// BookingService is the appointment booking engine: conflict-free interval
// booking with idempotent request handling and the status state machine.
type BookingService struct {
	tx              txProvider
	appointments    appointmentStore
	users           bookingUserReader
	idempotency     idempotencyStore
	accrual         completionHandler
	notifier        notificationSink
	metrics         *MetricsService
	defaultDuration time.Duration
	validator       *validator.Validate
	logger          *zap.Logger
}

// NewBookingService constructs the booking engine.
func NewBookingService(tx txProvider, appointments appointmentStore, users bookingUserReader, idempotency idempotencyStore, accrual completionHandler, notifier notificationSink, metrics *MetricsService, defaultDurationMinutes int, validate *validator.Validate, logger *zap.Logger) *BookingService {
	if defaultDurationMinutes <= 0 {
		defaultDurationMinutes = 60
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{
		tx:              tx,
		appointments:    appointments,
		users:           users,
		idempotency:     idempotency,
		accrual:         accrual,
		notifier:        notifier,
		metrics:         metrics,
		defaultDuration: time.Duration(defaultDurationMinutes) * time.Minute,
		validator:       validate,
		logger:          logger,
	}
}

// List returns appointments visible to the principal. Students and tutors are
// constrained to their own; admins see everything.
func (s *BookingService) List(ctx context.Context, principal models.Principal, filter models.AppointmentFilter) ([]models.AppointmentDetail, *models.Pagination, error) {
	switch principal.Role {
	case models.RoleStudent:
		filter.StudentID = principal.UserID
	case models.RoleTutor:
		filter.TutorID = principal.UserID
	}
	appointments, total, err := s.appointments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list appointments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return appointments, pagination, nil
}

// Get returns one appointment when the principal owns it or is an admin.
func (s *BookingService) Get(ctx context.Context, principal models.Principal, id string) (*models.AppointmentDetail, error) {
	detail, err := s.appointments.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment")
	}
	if !principal.IsAdmin() && principal.UserID != detail.TutorID && principal.UserID != detail.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "appointment belongs to another user")
	}
	return detail, nil
}

// Create books a new appointment. The conflict check and the insert run inside
// one transaction guarded by a per-tutor advisory lock; the idempotency key,
// when present, is claimed before any work and released on every failure path.
func (s *BookingService) Create(ctx context.Context, principal models.Principal, req CreateAppointmentRequest) (*models.AppointmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}
	startTime, err := combineDateTime(req.Date, req.Time)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date or time")
	}
	duration := s.defaultDuration
	if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes) * time.Minute
	}
	endTime := startTime.Add(duration)

	if err := s.authorizeCreate(principal, req); err != nil {
		return nil, err
	}
	if err := s.verifyParticipants(ctx, req.TutorID, req.StudentID); err != nil {
		return nil, err
	}

	claimed := false
	if req.IdempotencyKey != "" {
		ok, err := s.idempotency.Claim(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim idempotency key")
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrDuplicateRequest, "a booking with this idempotency key is already in flight or completed")
		}
		claimed = true
	}

	appointment := &models.Appointment{
		TutorID:   req.TutorID,
		StudentID: req.StudentID,
		Subject:   req.Subject,
		StartTime: startTime,
		EndTime:   endTime,
		Status:    models.AppointmentScheduled,
		Notes:     req.Notes,
	}

	if err := s.bookWithinTx(ctx, appointment); err != nil {
		if claimed {
			if relErr := s.idempotency.Release(ctx, req.IdempotencyKey); relErr != nil {
				s.logger.Sugar().Warnw("failed to release idempotency key", "key", req.IdempotencyKey, "error", relErr)
			}
		}
		return nil, err
	}

	s.metrics.IncBooking()
	s.notifyBooked(ctx, appointment)

	detail, err := s.appointments.FindDetailByID(ctx, appointment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment detail")
	}
	return detail, nil
}

func (s *BookingService) bookWithinTx(ctx context.Context, appointment *models.Appointment) error {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin booking")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.appointments.LockTutor(ctx, tx, appointment.TutorID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock tutor schedule")
	}
	overlapping, err := s.appointments.FindOverlapping(ctx, tx, appointment.TutorID, appointment.StartTime, appointment.EndTime, "")
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check for conflicts")
	}
	if len(overlapping) > 0 {
		s.metrics.IncBookingConflict()
		return appErrors.Clone(appErrors.ErrSlotConflict, "")
	}
	if err := s.appointments.Create(ctx, tx, appointment); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create appointment")
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit booking")
	}
	return nil
}

// Update applies a partial mutation: reschedule, field edits, or a status
// transition. A transition to COMPLETED triggers hour accrual within the same
// transaction as the appointment update.
func (s *BookingService) Update(ctx context.Context, principal models.Principal, id string, req UpdateAppointmentRequest) (*models.AppointmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	appointment, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment")
	}

	if err := s.authorizeUpdate(principal, appointment, req); err != nil {
		return nil, err
	}

	oldStatus := appointment.Status
	rescheduled := false

	if req.Date != nil || req.Time != nil {
		if req.Date == nil || req.Time == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "date and time must be supplied together")
		}
		if oldStatus != models.AppointmentScheduled && oldStatus != models.AppointmentConfirmed {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
				fmt.Sprintf("cannot reschedule a %s appointment", oldStatus))
		}
		startTime, err := combineDateTime(*req.Date, *req.Time)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date or time")
		}
		duration := appointment.EndTime.Sub(appointment.StartTime)
		if req.DurationMinutes != nil {
			duration = time.Duration(*req.DurationMinutes) * time.Minute
		}
		appointment.StartTime = startTime
		appointment.EndTime = startTime.Add(duration)
		appointment.Status = models.AppointmentScheduled
		rescheduled = true
	} else if req.DurationMinutes != nil {
		appointment.EndTime = appointment.StartTime.Add(time.Duration(*req.DurationMinutes) * time.Minute)
		rescheduled = true
	}

	if req.Subject != nil {
		appointment.Subject = *req.Subject
	}
	if req.Notes != nil {
		appointment.Notes = req.Notes
	}

	completing := false
	if req.Status != nil {
		newStatus := *req.Status
		if !models.ValidStatus(newStatus) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown appointment status")
		}
		if !models.CanTransition(oldStatus, newStatus) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
				fmt.Sprintf("cannot transition from %s to %s", oldStatus, newStatus))
		}
		appointment.Status = newStatus
		completing = newStatus == models.AppointmentCompleted && oldStatus != models.AppointmentCompleted
	}

	if err := s.applyUpdateTx(ctx, appointment, rescheduled, completing); err != nil {
		return nil, err
	}

	detail, err := s.appointments.FindDetailByID(ctx, appointment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment detail")
	}
	return detail, nil
}

func (s *BookingService) applyUpdateTx(ctx context.Context, appointment *models.Appointment, rescheduled, completing bool) error {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin update")
	}
	defer tx.Rollback() //nolint:errcheck

	if rescheduled {
		if err := s.appointments.LockTutor(ctx, tx, appointment.TutorID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock tutor schedule")
		}
		overlapping, err := s.appointments.FindOverlapping(ctx, tx, appointment.TutorID, appointment.StartTime, appointment.EndTime, appointment.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check for conflicts")
		}
		if len(overlapping) > 0 {
			s.metrics.IncBookingConflict()
			return appErrors.Clone(appErrors.ErrSlotConflict, "rescheduled slot is already booked")
		}
	}

	if err := s.appointments.Update(ctx, tx, appointment); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update appointment")
	}

	if completing {
		evt := AppointmentCompleted{
			AppointmentID: appointment.ID,
			TutorID:       appointment.TutorID,
			StudentID:     appointment.StudentID,
			Subject:       appointment.Subject,
			StartTime:     appointment.StartTime,
			EndTime:       appointment.EndTime,
			Notes:         appointment.Notes,
		}
		if err := s.accrual.HandleCompleted(ctx, tx, evt); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to accrue lecture hours")
		}
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit update")
	}
	return nil
}

// Cancel soft-deletes an appointment: the row is kept with status CANCELLED.
func (s *BookingService) Cancel(ctx context.Context, principal models.Principal, id string) (*models.AppointmentDetail, error) {
	appointment, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment")
	}

	if !principal.IsAdmin() && principal.UserID != appointment.TutorID && principal.UserID != appointment.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only participants may cancel an appointment")
	}
	if !models.CanTransition(appointment.Status, models.AppointmentCancelled) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot cancel a %s appointment", appointment.Status))
	}

	if err := s.appointments.UpdateStatus(ctx, nil, id, models.AppointmentCancelled); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel appointment")
	}

	detail, err := s.appointments.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment detail")
	}
	return detail, nil
}

func (s *BookingService) authorizeCreate(principal models.Principal, req CreateAppointmentRequest) error {
	switch principal.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTutor:
		if principal.UserID != req.TutorID {
			return appErrors.Clone(appErrors.ErrForbidden, "tutors may only book their own schedule")
		}
		return nil
	case models.RoleStudent:
		if principal.UserID != req.StudentID {
			return appErrors.Clone(appErrors.ErrForbidden, "students may only book for themselves")
		}
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "")
}

func (s *BookingService) authorizeUpdate(principal models.Principal, appointment *models.Appointment, req UpdateAppointmentRequest) error {
	switch principal.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTutor:
		if principal.UserID != appointment.TutorID {
			return appErrors.Clone(appErrors.ErrForbidden, "appointment belongs to another tutor")
		}
		return nil
	case models.RoleStudent:
		if principal.UserID != appointment.StudentID {
			return appErrors.Clone(appErrors.ErrForbidden, "appointment belongs to another student")
		}
		// Students may only start their own session.
		onlyStatus := req.Date == nil && req.Time == nil && req.DurationMinutes == nil &&
			req.Subject == nil && req.Notes == nil
		if !onlyStatus || req.Status == nil || *req.Status != models.AppointmentInProgress {
			return appErrors.Clone(appErrors.ErrForbidden, "students may only mark an appointment in progress")
		}
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "")
}

func (s *BookingService) verifyParticipants(ctx context.Context, tutorID, studentID string) error {
	tutor, err := s.users.FindByID(ctx, tutorID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "tutor not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load tutor")
	}
	if tutor.Role != models.RoleTutor {
		return appErrors.Clone(appErrors.ErrValidation, "tutor_id does not reference a tutor")
	}
	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrValidation, "student_id does not reference a student")
	}
	return nil
}

func (s *BookingService) notifyBooked(ctx context.Context, appointment *models.Appointment) {
	payload, err := json.Marshal(map[string]interface{}{
		"appointment_id": appointment.ID,
		"subject":        appointment.Subject,
		"start_time":     appointment.StartTime,
		"end_time":       appointment.EndTime,
	})
	if err != nil {
		s.logger.Sugar().Errorw("failed to marshal booking payload", "appointment_id", appointment.ID, "error", err)
		return
	}
	notification := &models.Notification{
		UserID:   appointment.StudentID,
		Type:     models.NotificationAppointmentReminder,
		Title:    "Appointment booked",
		Message:  fmt.Sprintf("Your %s session is booked for %s.", appointment.Subject, appointment.StartTime.Format("2006-01-02 15:04")),
		Channels: []string{"email", "in_app"},
		Payload:  payload,
	}
	if err := s.notifier.Enqueue(ctx, notification); err != nil {
		// Booking must not fail because the notification channel is down.
		s.logger.Sugar().Warnw("failed to enqueue booking notification",
			"appointment_id", appointment.ID, "error", err)
	}
}

// combineDateTime merges a YYYY-MM-DD date and an HH:MM time into a UTC instant.
func combineDateTime(date, clock string) (time.Time, error) {
	return time.Parse("2006-01-02 15:04", fmt.Sprintf("%s %s", date, clock))
}
