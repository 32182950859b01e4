package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-api/internal/models"
	appErrors "github.com/tutorhub/tutorhub-api/pkg/errors"
)

func TestLectureServiceGetIncludesSessions(t *testing.T) {
	store := newLectureStoreStub()
	service := NewLectureService(store, nil, zap.NewNop())

	detail, err := service.Get(context.Background(),
		models.Principal{UserID: "student-1", Role: models.RoleStudent}, "ledger-1")
	require.NoError(t, err)
	assert.Equal(t, 12.0, detail.TotalHours)
	assert.Len(t, detail.Sessions, 2)
}

func TestLectureServiceGetForeignLedgerForbidden(t *testing.T) {
	store := newLectureStoreStub()
	service := NewLectureService(store, nil, zap.NewNop())

	_, err := service.Get(context.Background(),
		models.Principal{UserID: "student-2", Role: models.RoleStudent}, "ledger-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestLectureServiceRecordPaymentStudentForbidden(t *testing.T) {
	store := newLectureStoreStub()
	service := NewLectureService(store, nil, zap.NewNop())

	_, err := service.RecordPayment(context.Background(),
		models.Principal{UserID: "student-1", Role: models.RoleStudent},
		"ledger-1", RecordPaymentRequest{Hours: 5})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Zero(t, store.paid)
}

func TestLectureServiceRecordPaymentByTutor(t *testing.T) {
	store := newLectureStoreStub()
	service := NewLectureService(store, nil, zap.NewNop())

	ledger, err := service.RecordPayment(context.Background(),
		models.Principal{UserID: "tutor-1", Role: models.RoleTutor},
		"ledger-1", RecordPaymentRequest{Hours: 5})
	require.NoError(t, err)
	assert.Equal(t, 6.0, ledger.UnpaidHours)
	assert.False(t, ledger.ReminderSent)
}

func TestLectureServiceRecordPaymentRejectsNonPositiveHours(t *testing.T) {
	service := NewLectureService(newLectureStoreStub(), nil, zap.NewNop())

	_, err := service.RecordPayment(context.Background(),
		models.Principal{UserID: "tutor-1", Role: models.RoleTutor},
		"ledger-1", RecordPaymentRequest{Hours: 0})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLectureServiceStatementCSV(t *testing.T) {
	store := newLectureStoreStub()
	service := NewLectureService(store, nil, zap.NewNop())

	data, contentType, err := service.Statement(context.Background(),
		models.Principal{UserID: "tutor-1", Role: models.RoleTutor}, "ledger-1", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)

	body := string(data)
	assert.True(t, strings.HasPrefix(body, "Date,Start,End,Hours,Notes"))
	assert.Contains(t, body, "2026-09-07")
	assert.Contains(t, body, "Total unpaid")
	assert.Contains(t, body, "11.00")
}

func TestLectureServiceStatementPDF(t *testing.T) {
	store := newLectureStoreStub()
	service := NewLectureService(store, nil, zap.NewNop())

	data, contentType, err := service.Statement(context.Background(),
		models.Principal{UserID: "tutor-1", Role: models.RoleTutor}, "ledger-1", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
}

func TestLectureServiceStatementUnknownFormat(t *testing.T) {
	service := NewLectureService(newLectureStoreStub(), nil, zap.NewNop())

	_, _, err := service.Statement(context.Background(),
		models.Principal{UserID: "tutor-1", Role: models.RoleTutor}, "ledger-1", "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLectureServiceListScopedByRole(t *testing.T) {
	store := newLectureStoreStub()
	service := NewLectureService(store, nil, zap.NewNop())

	_, _, err := service.List(context.Background(),
		models.Principal{UserID: "student-1", Role: models.RoleStudent}, models.LectureHoursFilter{})
	require.NoError(t, err)
	assert.Equal(t, "student-1", store.lastFilter.StudentID)

	_, _, err = service.List(context.Background(),
		models.Principal{UserID: "tutor-1", Role: models.RoleTutor}, models.LectureHoursFilter{})
	require.NoError(t, err)
	assert.Equal(t, "tutor-1", store.lastFilter.TutorID)
}

// --- Fixtures ---

type lectureStoreStub struct {
	ledgers    map[string]*models.LectureHours
	sessions   map[string][]models.LectureSession
	paid       float64
	lastFilter models.LectureHoursFilter
}

func newLectureStoreStub() *lectureStoreStub {
	notes := "covered derivatives"
	return &lectureStoreStub{
		ledgers: map[string]*models.LectureHours{
			"ledger-1": {
				ID: "ledger-1", StudentID: "student-1", TutorID: "tutor-1", Subject: "math",
				TotalHours: 12, UnpaidHours: 11, PaymentInterval: 10, ReminderSent: true,
			},
		},
		sessions: map[string][]models.LectureSession{
			"ledger-1": {
				{
					ID: "session-1", LectureHoursID: "ledger-1", AppointmentID: "apt-1", Duration: 2,
					ActualStartTime: parseTime("2026-09-07 10:00"), ActualEndTime: parseTime("2026-09-07 12:00"),
					Notes: &notes,
				},
				{
					ID: "session-2", LectureHoursID: "ledger-1", AppointmentID: "apt-2", Duration: 1,
					ActualStartTime: parseTime("2026-09-08 10:00"), ActualEndTime: parseTime("2026-09-08 11:00"),
				},
			},
		},
	}
}

func parseTime(value string) time.Time {
	ts, err := time.Parse("2006-01-02 15:04", value)
	if err != nil {
		panic(err)
	}
	return ts
}

func (s *lectureStoreStub) FindByID(ctx context.Context, id string) (*models.LectureHours, error) {
	if ledger, ok := s.ledgers[id]; ok {
		copy := *ledger
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *lectureStoreStub) List(ctx context.Context, filter models.LectureHoursFilter) ([]models.LectureHours, int, error) {
	s.lastFilter = filter
	var ledgers []models.LectureHours
	for _, ledger := range s.ledgers {
		ledgers = append(ledgers, *ledger)
	}
	return ledgers, len(ledgers), nil
}

func (s *lectureStoreStub) ListSessions(ctx context.Context, lectureHoursID string) ([]models.LectureSession, error) {
	return s.sessions[lectureHoursID], nil
}

func (s *lectureStoreStub) MarkPaid(ctx context.Context, id string, hours float64) (*models.LectureHours, error) {
	ledger, ok := s.ledgers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	s.paid += hours
	ledger.UnpaidHours -= hours
	if ledger.UnpaidHours < 0 {
		ledger.UnpaidHours = 0
	}
	ledger.ReminderSent = false
	copy := *ledger
	return &copy, nil
}
