package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-api/internal/models"
)

// AppointmentCompleted is the domain event emitted when an appointment
// transitions to COMPLETED. The accrual engine consumes it synchronously
// within the transaction that performed the status update.
type AppointmentCompleted struct {
	AppointmentID string
	TutorID       string
	StudentID     string
	Subject       string
	StartTime     time.Time
	EndTime       time.Time
	Notes         *string
}

type lectureLedgerStore interface {
	FindByTripleForUpdate(ctx context.Context, exec sqlx.ExtContext, studentID, tutorID, subject string) (*models.LectureHours, error)
	Create(ctx context.Context, exec sqlx.ExtContext, ledger *models.LectureHours) error
	Update(ctx context.Context, exec sqlx.ExtContext, ledger *models.LectureHours) error
	CreateSession(ctx context.Context, exec sqlx.ExtContext, session *models.LectureSession) error
}

type notificationSink interface {
	Enqueue(ctx context.Context, notification *models.Notification) error
}

// AccrualService accumulates completed session hours into per
// (student, tutor, subject) ledgers and fires payment reminders when unpaid
// hours cross the configured threshold.
type AccrualService struct {
	ledgers         lectureLedgerStore
	notifier        notificationSink
	metrics         *MetricsService
	defaultInterval float64
	logger          *zap.Logger
}

// NewAccrualService constructs the accrual engine. defaultInterval is the
// payment-reminder threshold in hours applied to newly created ledgers.
func NewAccrualService(ledgers lectureLedgerStore, notifier notificationSink, metrics *MetricsService, defaultInterval float64, logger *zap.Logger) *AccrualService {
	if defaultInterval <= 0 {
		defaultInterval = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccrualService{
		ledgers:         ledgers,
		notifier:        notifier,
		metrics:         metrics,
		defaultInterval: defaultInterval,
		logger:          logger,
	}
}

// HandleCompleted applies one completion event to the ledger. It must run on
// the same transaction as the appointment status update so a crash cannot
// leave a COMPLETED appointment without its ledger entry. Notification enqueue
// failures are logged and swallowed.
func (s *AccrualService) HandleCompleted(ctx context.Context, exec sqlx.ExtContext, evt AppointmentCompleted) error {
	durationHours := evt.EndTime.Sub(evt.StartTime).Hours()
	if durationHours <= 0 {
		// Corrupted interval; skip accrual rather than surface an error.
		s.logger.Sugar().Warnw("non-positive session duration, skipping accrual",
			"appointment_id", evt.AppointmentID, "start", evt.StartTime, "end", evt.EndTime)
		return nil
	}

	// The latch is evaluated against the value loaded here: a crossing that
	// already fired suppresses this accrual's reminder, while the
	// reset-on-accrual below re-arms the latch for the next one.
	reminderAlreadySent := false

	ledger, err := s.ledgers.FindByTripleForUpdate(ctx, exec, evt.StudentID, evt.TutorID, evt.Subject)
	if err != nil {
		if err != sql.ErrNoRows {
			return fmt.Errorf("load lecture hours: %w", err)
		}
		ledger = &models.LectureHours{
			StudentID:       evt.StudentID,
			TutorID:         evt.TutorID,
			Subject:         evt.Subject,
			TotalHours:      durationHours,
			UnpaidHours:     durationHours,
			LastSessionDate: evt.EndTime,
			PaymentInterval: s.defaultInterval,
			ReminderSent:    false,
		}
		if err := s.ledgers.Create(ctx, exec, ledger); err != nil {
			return fmt.Errorf("create lecture hours: %w", err)
		}
	} else {
		reminderAlreadySent = ledger.ReminderSent
		ledger.TotalHours += durationHours
		ledger.UnpaidHours += durationHours
		ledger.LastSessionDate = evt.EndTime
		// New hours re-arm the reminder so the next crossing fires again.
		ledger.ReminderSent = false
		if err := s.ledgers.Update(ctx, exec, ledger); err != nil {
			return fmt.Errorf("update lecture hours: %w", err)
		}
	}

	session := &models.LectureSession{
		LectureHoursID:  ledger.ID,
		AppointmentID:   evt.AppointmentID,
		Duration:        durationHours,
		ActualStartTime: evt.StartTime,
		ActualEndTime:   evt.EndTime,
		Notes:           evt.Notes,
	}
	if err := s.ledgers.CreateSession(ctx, exec, session); err != nil {
		return fmt.Errorf("create lecture session: %w", err)
	}

	s.metrics.IncCompletion()

	if ledger.UnpaidHours >= ledger.PaymentInterval && !reminderAlreadySent {
		s.sendPaymentReminders(ctx, ledger)
		ledger.ReminderSent = true
		if err := s.ledgers.Update(ctx, exec, ledger); err != nil {
			return fmt.Errorf("latch payment reminder: %w", err)
		}
		s.metrics.IncPaymentReminder()
	}

	return nil
}

func (s *AccrualService) sendPaymentReminders(ctx context.Context, ledger *models.LectureHours) {
	payload, err := json.Marshal(map[string]interface{}{
		"lecture_hours_id": ledger.ID,
		"subject":          ledger.Subject,
		"unpaid_hours":     ledger.UnpaidHours,
		"payment_interval": ledger.PaymentInterval,
	})
	if err != nil {
		s.logger.Sugar().Errorw("failed to marshal reminder payload", "lecture_hours_id", ledger.ID, "error", err)
		return
	}

	message := fmt.Sprintf("%.1f unpaid tutoring hours accumulated for %s (threshold %.0f). Please settle the open balance.",
		ledger.UnpaidHours, ledger.Subject, ledger.PaymentInterval)

	for _, userID := range []string{ledger.StudentID, ledger.TutorID} {
		notification := &models.Notification{
			UserID:   userID,
			Type:     models.NotificationPaymentReminder,
			Title:    "Payment reminder",
			Message:  message,
			Channels: []string{"email", "in_app"},
			Payload:  payload,
		}
		if err := s.notifier.Enqueue(ctx, notification); err != nil {
			// Reminder bookkeeping must not fail because delivery is down.
			s.logger.Sugar().Warnw("failed to enqueue payment reminder",
				"user_id", userID, "lecture_hours_id", ledger.ID, "error", err)
		}
	}
}
