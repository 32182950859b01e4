package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-api/internal/models"
)

func TestAccrualServiceCreatesLedgerOnFirstCompletion(t *testing.T) {
	ledgers := newLedgerStoreStub()
	notifier := &notifierStub{}
	accrual := NewAccrualService(ledgers, notifier, nil, 10, zap.NewNop())

	err := accrual.HandleCompleted(context.Background(), nil, completionEvent(t, "apt-1", "2026-09-07 10:00", "2026-09-07 12:00"))
	require.NoError(t, err)

	ledger := ledgers.ledger("student-1", "tutor-1", "math")
	require.NotNil(t, ledger)
	assert.Equal(t, 2.0, ledger.TotalHours)
	assert.Equal(t, 2.0, ledger.UnpaidHours)
	assert.Equal(t, 10.0, ledger.PaymentInterval)
	assert.False(t, ledger.ReminderSent)
	require.Len(t, ledgers.sessions, 1)
	assert.Equal(t, "apt-1", ledgers.sessions[0].AppointmentID)
	assert.Empty(t, notifier.sent)
}

func TestAccrualServiceAccumulatesAcrossCompletions(t *testing.T) {
	ledgers := newLedgerStoreStub()
	accrual := NewAccrualService(ledgers, &notifierStub{}, nil, 10, zap.NewNop())

	for i, window := range [][2]string{
		{"2026-09-07 10:00", "2026-09-07 13:00"},
		{"2026-09-08 10:00", "2026-09-08 14:00"},
	} {
		evt := completionEvent(t, fmt.Sprintf("apt-%d", i+1), window[0], window[1])
		require.NoError(t, accrual.HandleCompleted(context.Background(), nil, evt))
	}

	ledger := ledgers.ledger("student-1", "tutor-1", "math")
	require.NotNil(t, ledger)
	assert.Equal(t, 7.0, ledger.TotalHours)
	assert.Equal(t, 7.0, ledger.UnpaidHours)
	assert.Len(t, ledgers.sessions, 2)
}

func TestAccrualServiceFiresReminderOnThresholdCrossing(t *testing.T) {
	ledgers := newLedgerStoreStub()
	notifier := &notifierStub{}
	accrual := NewAccrualService(ledgers, notifier, nil, 10, zap.NewNop())

	// 8 hours accrued, below threshold.
	require.NoError(t, accrual.HandleCompleted(context.Background(), nil,
		completionEvent(t, "apt-1", "2026-09-07 08:00", "2026-09-07 16:00")))
	assert.Empty(t, notifier.sent)

	// 3 more cross the 10 hour threshold: both parties get a reminder.
	require.NoError(t, accrual.HandleCompleted(context.Background(), nil,
		completionEvent(t, "apt-2", "2026-09-08 09:00", "2026-09-08 12:00")))
	require.Len(t, notifier.sent, 2)
	recipients := []string{notifier.sent[0].UserID, notifier.sent[1].UserID}
	assert.ElementsMatch(t, []string{"student-1", "tutor-1"}, recipients)
	for _, n := range notifier.sent {
		assert.Equal(t, models.NotificationPaymentReminder, n.Type)
	}
	assert.True(t, ledgers.ledger("student-1", "tutor-1", "math").ReminderSent)
}

func TestAccrualServiceReminderLatchSuppressesImmediateRepeat(t *testing.T) {
	ledgers := newLedgerStoreStub()
	notifier := &notifierStub{}
	accrual := NewAccrualService(ledgers, notifier, nil, 10, zap.NewNop())

	require.NoError(t, accrual.HandleCompleted(context.Background(), nil,
		completionEvent(t, "apt-1", "2026-09-07 08:00", "2026-09-07 16:00")))
	require.NoError(t, accrual.HandleCompleted(context.Background(), nil,
		completionEvent(t, "apt-2", "2026-09-08 09:00", "2026-09-08 12:00")))
	require.Len(t, notifier.sent, 2)

	// A short session right after the crossing must not re-fire.
	require.NoError(t, accrual.HandleCompleted(context.Background(), nil,
		completionEvent(t, "apt-3", "2026-09-09 10:00", "2026-09-09 10:30")))
	assert.Len(t, notifier.sent, 2)
	assert.Equal(t, 11.5, ledgers.ledger("student-1", "tutor-1", "math").UnpaidHours)
}

func TestAccrualServiceSkipsNonPositiveDuration(t *testing.T) {
	ledgers := newLedgerStoreStub()
	accrual := NewAccrualService(ledgers, &notifierStub{}, nil, 10, zap.NewNop())

	err := accrual.HandleCompleted(context.Background(), nil,
		completionEvent(t, "apt-1", "2026-09-07 10:00", "2026-09-07 10:00"))
	require.NoError(t, err)
	assert.Nil(t, ledgers.ledger("student-1", "tutor-1", "math"))
	assert.Empty(t, ledgers.sessions)
}

func TestAccrualServiceSwallowsNotifierFailures(t *testing.T) {
	ledgers := newLedgerStoreStub()
	notifier := &notifierStub{err: fmt.Errorf("queue full")}
	accrual := NewAccrualService(ledgers, notifier, nil, 10, zap.NewNop())

	err := accrual.HandleCompleted(context.Background(), nil,
		completionEvent(t, "apt-1", "2026-09-07 08:00", "2026-09-07 20:00"))
	require.NoError(t, err)
	assert.True(t, ledgers.ledger("student-1", "tutor-1", "math").ReminderSent)
}

func completionEvent(t *testing.T, id, start, end string) AppointmentCompleted {
	t.Helper()
	return AppointmentCompleted{
		AppointmentID: id,
		TutorID:       "tutor-1",
		StudentID:     "student-1",
		Subject:       "math",
		StartTime:     mustTime(t, start),
		EndTime:       mustTime(t, end),
	}
}

// --- Fixtures ---

type ledgerStoreStub struct {
	ledgers  map[string]*models.LectureHours
	sessions []*models.LectureSession
	seq      int
}

func newLedgerStoreStub() *ledgerStoreStub {
	return &ledgerStoreStub{ledgers: map[string]*models.LectureHours{}}
}

func ledgerKey(studentID, tutorID, subject string) string {
	return studentID + "/" + tutorID + "/" + subject
}

func (s *ledgerStoreStub) ledger(studentID, tutorID, subject string) *models.LectureHours {
	return s.ledgers[ledgerKey(studentID, tutorID, subject)]
}

func (s *ledgerStoreStub) FindByTripleForUpdate(ctx context.Context, exec sqlx.ExtContext, studentID, tutorID, subject string) (*models.LectureHours, error) {
	if ledger, ok := s.ledgers[ledgerKey(studentID, tutorID, subject)]; ok {
		copy := *ledger
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *ledgerStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, ledger *models.LectureHours) error {
	if ledger.ID == "" {
		s.seq++
		ledger.ID = fmt.Sprintf("ledger-%d", s.seq)
	}
	copy := *ledger
	s.ledgers[ledgerKey(ledger.StudentID, ledger.TutorID, ledger.Subject)] = &copy
	return nil
}

func (s *ledgerStoreStub) Update(ctx context.Context, exec sqlx.ExtContext, ledger *models.LectureHours) error {
	key := ledgerKey(ledger.StudentID, ledger.TutorID, ledger.Subject)
	if _, ok := s.ledgers[key]; !ok {
		return sql.ErrNoRows
	}
	copy := *ledger
	s.ledgers[key] = &copy
	return nil
}

func (s *ledgerStoreStub) CreateSession(ctx context.Context, exec sqlx.ExtContext, session *models.LectureSession) error {
	if session.ID == "" {
		s.seq++
		session.ID = fmt.Sprintf("session-%d", s.seq)
	}
	copy := *session
	s.sessions = append(s.sessions, &copy)
	return nil
}

type notifierStub struct {
	sent []*models.Notification
	err  error
}

func (s *notifierStub) Enqueue(ctx context.Context, notification *models.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, notification)
	return nil
}
