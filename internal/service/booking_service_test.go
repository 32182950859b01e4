package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-api/internal/models"
	appErrors "github.com/tutorhub/tutorhub-api/pkg/errors"
)

func TestBookingServiceCreateSuccess(t *testing.T) {
	fx := newBookingFixture(t)
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	detail, err := fx.service.Create(context.Background(), adminPrincipal(), bookingRequest())
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentScheduled, detail.Status)
	assert.Equal(t, "tutor-1", detail.TutorID)
	assert.Equal(t, "student-1", detail.StudentID)
	assert.Len(t, fx.notifier.sent, 1)
	assert.Equal(t, models.NotificationAppointmentReminder, fx.notifier.sent[0].Type)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestBookingServiceCreateConflict(t *testing.T) {
	fx := newBookingFixture(t)
	fx.appointments.seed(&models.Appointment{
		ID: "apt-busy", TutorID: "tutor-1", StudentID: "student-2", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 10:30"), EndTime: mustTime(t, "2026-09-07 11:30"),
		Status: models.AppointmentScheduled,
	})
	fx.mock.ExpectBegin()
	fx.mock.ExpectRollback()

	req := bookingRequest()
	req.IdempotencyKey = "key-1"
	_, err := fx.service.Create(context.Background(), adminPrincipal(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotConflict.Code, appErrors.FromError(err).Code)
	assert.Contains(t, fx.idempotency.released, "key-1", "key must be released so the client can retry")
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestBookingServiceCreateDuplicateIdempotencyKey(t *testing.T) {
	fx := newBookingFixture(t)
	fx.idempotency.claimed["key-dup"] = true

	req := bookingRequest()
	req.IdempotencyKey = "key-dup"
	_, err := fx.service.Create(context.Background(), adminPrincipal(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateRequest.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.appointments.created, "no booking may happen on a duplicate key")
}

func TestBookingServiceCreateCancelledSlotDoesNotBlock(t *testing.T) {
	fx := newBookingFixture(t)
	fx.appointments.seed(&models.Appointment{
		ID: "apt-cancelled", TutorID: "tutor-1", StudentID: "student-2", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 10:00"), EndTime: mustTime(t, "2026-09-07 11:00"),
		Status: models.AppointmentCancelled,
	})
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	_, err := fx.service.Create(context.Background(), adminPrincipal(), bookingRequest())
	require.NoError(t, err)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestBookingServiceCreateStudentForAnotherStudentForbidden(t *testing.T) {
	fx := newBookingFixture(t)

	principal := models.Principal{UserID: "student-2", Role: models.RoleStudent}
	_, err := fx.service.Create(context.Background(), principal, bookingRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestBookingServiceUpdateCompleteTriggersAccrual(t *testing.T) {
	fx := newBookingFixture(t)
	fx.appointments.seed(&models.Appointment{
		ID: "apt-1", TutorID: "tutor-1", StudentID: "student-1", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 10:00"), EndTime: mustTime(t, "2026-09-07 11:30"),
		Status: models.AppointmentInProgress,
	})
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	status := models.AppointmentCompleted
	detail, err := fx.service.Update(context.Background(), adminPrincipal(), "apt-1", UpdateAppointmentRequest{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCompleted, detail.Status)
	require.Len(t, fx.accrual.events, 1)
	evt := fx.accrual.events[0]
	assert.Equal(t, "apt-1", evt.AppointmentID)
	assert.Equal(t, 1.5, evt.EndTime.Sub(evt.StartTime).Hours())
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestBookingServiceUpdateInvalidTransition(t *testing.T) {
	fx := newBookingFixture(t)
	fx.appointments.seed(&models.Appointment{
		ID: "apt-1", TutorID: "tutor-1", StudentID: "student-1", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 10:00"), EndTime: mustTime(t, "2026-09-07 11:00"),
		Status: models.AppointmentCompleted,
	})

	status := models.AppointmentScheduled
	_, err := fx.service.Update(context.Background(), adminPrincipal(), "apt-1", UpdateAppointmentRequest{Status: &status})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.accrual.events)
}

func TestBookingServiceRescheduleConflict(t *testing.T) {
	fx := newBookingFixture(t)
	fx.appointments.seed(&models.Appointment{
		ID: "apt-1", TutorID: "tutor-1", StudentID: "student-1", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 10:00"), EndTime: mustTime(t, "2026-09-07 11:00"),
		Status: models.AppointmentScheduled,
	})
	fx.appointments.seed(&models.Appointment{
		ID: "apt-2", TutorID: "tutor-1", StudentID: "student-2", Subject: "math",
		StartTime: mustTime(t, "2026-09-08 10:00"), EndTime: mustTime(t, "2026-09-08 11:00"),
		Status: models.AppointmentConfirmed,
	})
	fx.mock.ExpectBegin()
	fx.mock.ExpectRollback()

	date, clock := "2026-09-08", "10:30"
	_, err := fx.service.Update(context.Background(), adminPrincipal(), "apt-1", UpdateAppointmentRequest{Date: &date, Time: &clock})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotConflict.Code, appErrors.FromError(err).Code)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestBookingServiceRescheduleIgnoresOwnSlot(t *testing.T) {
	fx := newBookingFixture(t)
	fx.appointments.seed(&models.Appointment{
		ID: "apt-1", TutorID: "tutor-1", StudentID: "student-1", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 10:00"), EndTime: mustTime(t, "2026-09-07 11:00"),
		Status: models.AppointmentConfirmed,
	})
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	// Shifting within the original window must not collide with itself.
	date, clock := "2026-09-07", "10:30"
	detail, err := fx.service.Update(context.Background(), adminPrincipal(), "apt-1", UpdateAppointmentRequest{Date: &date, Time: &clock})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentScheduled, detail.Status, "reschedule resets the status")
	assert.Equal(t, mustTime(t, "2026-09-07 10:30"), detail.StartTime)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestBookingServiceRescheduleCompletedRejected(t *testing.T) {
	fx := newBookingFixture(t)
	fx.appointments.seed(&models.Appointment{
		ID: "apt-1", TutorID: "tutor-1", StudentID: "student-1", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 10:00"), EndTime: mustTime(t, "2026-09-07 11:00"),
		Status: models.AppointmentCompleted,
	})

	date, clock := "2026-09-08", "10:00"
	_, err := fx.service.Update(context.Background(), adminPrincipal(), "apt-1", UpdateAppointmentRequest{Date: &date, Time: &clock})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestBookingServiceStudentMayOnlyStartOwnSession(t *testing.T) {
	fx := newBookingFixture(t)
	fx.appointments.seed(&models.Appointment{
		ID: "apt-1", TutorID: "tutor-1", StudentID: "student-1", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 10:00"), EndTime: mustTime(t, "2026-09-07 11:00"),
		Status: models.AppointmentConfirmed,
	})
	student := models.Principal{UserID: "student-1", Role: models.RoleStudent}

	confirmed := models.AppointmentConfirmed
	_, err := fx.service.Update(context.Background(), student, "apt-1", UpdateAppointmentRequest{Status: &confirmed})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
	inProgress := models.AppointmentInProgress
	detail, err := fx.service.Update(context.Background(), student, "apt-1", UpdateAppointmentRequest{Status: &inProgress})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentInProgress, detail.Status)
}

func TestBookingServiceCancel(t *testing.T) {
	fx := newBookingFixture(t)
	fx.appointments.seed(&models.Appointment{
		ID: "apt-1", TutorID: "tutor-1", StudentID: "student-1", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 10:00"), EndTime: mustTime(t, "2026-09-07 11:00"),
		Status: models.AppointmentScheduled,
	})

	detail, err := fx.service.Cancel(context.Background(), models.Principal{UserID: "student-1", Role: models.RoleStudent}, "apt-1")
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCancelled, detail.Status)
}

func TestBookingServiceCancelCompletedRejected(t *testing.T) {
	fx := newBookingFixture(t)
	fx.appointments.seed(&models.Appointment{
		ID: "apt-1", TutorID: "tutor-1", StudentID: "student-1", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 10:00"), EndTime: mustTime(t, "2026-09-07 11:00"),
		Status: models.AppointmentCompleted,
	})

	_, err := fx.service.Cancel(context.Background(), adminPrincipal(), "apt-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestBookingServiceListScopedByRole(t *testing.T) {
	fx := newBookingFixture(t)
	fx.appointments.seed(&models.Appointment{
		ID: "apt-1", TutorID: "tutor-1", StudentID: "student-1", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 10:00"), EndTime: mustTime(t, "2026-09-07 11:00"),
		Status: models.AppointmentScheduled,
	})
	fx.appointments.seed(&models.Appointment{
		ID: "apt-2", TutorID: "tutor-2", StudentID: "student-2", Subject: "math",
		StartTime: mustTime(t, "2026-09-07 12:00"), EndTime: mustTime(t, "2026-09-07 13:00"),
		Status: models.AppointmentScheduled,
	})

	items, _, err := fx.service.List(context.Background(), models.Principal{UserID: "tutor-1", Role: models.RoleTutor}, models.AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "apt-1", items[0].ID)
}

// --- Fixtures ---

type bookingFixture struct {
	service      *BookingService
	appointments *appointmentStoreStub
	idempotency  *idempotencyStub
	accrual      *accrualStub
	notifier     *notifierStub
	mock         sqlmock.Sqlmock
}

func newBookingFixture(t *testing.T) *bookingFixture {
	tx, mock := newTxProviderMock(t)
	appointments := newAppointmentStoreStub()
	users := userReaderStub{users: map[string]*models.User{
		"tutor-1":   {ID: "tutor-1", FullName: "Tutor One", Role: models.RoleTutor, Active: true},
		"tutor-2":   {ID: "tutor-2", FullName: "Tutor Two", Role: models.RoleTutor, Active: true},
		"student-1": {ID: "student-1", FullName: "Student One", Role: models.RoleStudent, Active: true},
		"student-2": {ID: "student-2", FullName: "Student Two", Role: models.RoleStudent, Active: true},
	}}
	idempotency := &idempotencyStub{claimed: map[string]bool{}}
	accrual := &accrualStub{}
	notifier := &notifierStub{}

	service := NewBookingService(tx, appointments, users, idempotency, accrual, notifier, nil, 60, nil, zap.NewNop())
	return &bookingFixture{
		service:      service,
		appointments: appointments,
		idempotency:  idempotency,
		accrual:      accrual,
		notifier:     notifier,
		mock:         mock,
	}
}

func bookingRequest() CreateAppointmentRequest {
	return CreateAppointmentRequest{
		TutorID:   "tutor-1",
		StudentID: "student-1",
		Subject:   "math",
		Date:      "2026-09-07",
		Time:      "10:00",
	}
}

func adminPrincipal() models.Principal {
	return models.Principal{UserID: "admin-1", Role: models.RoleAdmin}
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", value)
	require.NoError(t, err)
	return ts
}

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type appointmentStoreStub struct {
	items   map[string]*models.Appointment
	created []*models.Appointment
	seq     int
}

func newAppointmentStoreStub() *appointmentStoreStub {
	return &appointmentStoreStub{items: map[string]*models.Appointment{}}
}

func (s *appointmentStoreStub) seed(appointment *models.Appointment) {
	s.items[appointment.ID] = appointment
}

func (s *appointmentStoreStub) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	if appointment, ok := s.items[id]; ok {
		copy := *appointment
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *appointmentStoreStub) FindDetailByID(ctx context.Context, id string) (*models.AppointmentDetail, error) {
	appointment, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.AppointmentDetail{Appointment: *appointment, TutorName: "Tutor", StudentName: "Student"}, nil
}

func (s *appointmentStoreStub) List(ctx context.Context, filter models.AppointmentFilter) ([]models.AppointmentDetail, int, error) {
	var details []models.AppointmentDetail
	for _, appointment := range s.items {
		if filter.TutorID != "" && appointment.TutorID != filter.TutorID {
			continue
		}
		if filter.StudentID != "" && appointment.StudentID != filter.StudentID {
			continue
		}
		details = append(details, models.AppointmentDetail{Appointment: *appointment})
	}
	return details, len(details), nil
}

func (s *appointmentStoreStub) LockTutor(ctx context.Context, exec sqlx.ExtContext, tutorID string) error {
	return nil
}

func (s *appointmentStoreStub) FindOverlapping(ctx context.Context, exec sqlx.ExtContext, tutorID string, start, end time.Time, excludeID string) ([]models.Appointment, error) {
	var overlapping []models.Appointment
	for _, appointment := range s.items {
		if appointment.TutorID != tutorID || appointment.ID == excludeID {
			continue
		}
		if appointment.Status == models.AppointmentCancelled {
			continue
		}
		if appointment.StartTime.Before(end) && appointment.EndTime.After(start) {
			overlapping = append(overlapping, *appointment)
		}
	}
	return overlapping, nil
}

func (s *appointmentStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, appointment *models.Appointment) error {
	if appointment.ID == "" {
		s.seq++
		appointment.ID = fmt.Sprintf("apt-new-%d", s.seq)
	}
	copy := *appointment
	s.items[appointment.ID] = &copy
	s.created = append(s.created, &copy)
	return nil
}

func (s *appointmentStoreStub) Update(ctx context.Context, exec sqlx.ExtContext, appointment *models.Appointment) error {
	if _, ok := s.items[appointment.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *appointment
	s.items[appointment.ID] = &copy
	return nil
}

func (s *appointmentStoreStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.AppointmentStatus) error {
	appointment, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	appointment.Status = status
	return nil
}

type userReaderStub struct {
	users map[string]*models.User
}

func (s userReaderStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

type idempotencyStub struct {
	claimed  map[string]bool
	released []string
}

func (s *idempotencyStub) Claim(ctx context.Context, token string) (bool, error) {
	if s.claimed[token] {
		return false, nil
	}
	s.claimed[token] = true
	return true, nil
}

func (s *idempotencyStub) Release(ctx context.Context, token string) error {
	delete(s.claimed, token)
	s.released = append(s.released, token)
	return nil
}

type accrualStub struct {
	events []AppointmentCompleted
	err    error
}

func (s *accrualStub) HandleCompleted(ctx context.Context, exec sqlx.ExtContext, evt AppointmentCompleted) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}
