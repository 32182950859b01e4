package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tutorhub/tutorhub-api/internal/models"
)

// LectureRepository handles persistence of lecture-hour ledgers and sessions.
type LectureRepository struct {
	db *sqlx.DB
}

// NewLectureRepository constructs the repository.
func NewLectureRepository(db *sqlx.DB) *LectureRepository {
	return &LectureRepository{db: db}
}

func (r *LectureRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID returns a ledger by its ID.
func (r *LectureRepository) FindByID(ctx context.Context, id string) (*models.LectureHours, error) {
	const query = `SELECT id, student_id, tutor_id, subject, total_hours, unpaid_hours, last_session_date,
        payment_interval, reminder_sent, created_at, updated_at
        FROM lecture_hours WHERE id = $1`
	var ledger models.LectureHours
	if err := r.db.GetContext(ctx, &ledger, query, id); err != nil {
		return nil, err
	}
	return &ledger, nil
}

// FindByTripleForUpdate loads the ledger for the unique (student, tutor, subject)
// triple, row-locked for the duration of the surrounding transaction.
func (r *LectureRepository) FindByTripleForUpdate(ctx context.Context, exec sqlx.ExtContext, studentID, tutorID, subject string) (*models.LectureHours, error) {
	const query = `SELECT id, student_id, tutor_id, subject, total_hours, unpaid_hours, last_session_date,
        payment_interval, reminder_sent, created_at, updated_at
        FROM lecture_hours WHERE student_id = $1 AND tutor_id = $2 AND subject = $3 FOR UPDATE`
	var ledger models.LectureHours
	if err := sqlx.GetContext(ctx, r.exec(exec), &ledger, query, studentID, tutorID, subject); err != nil {
		return nil, err
	}
	return &ledger, nil
}

// Create persists a new ledger row.
func (r *LectureRepository) Create(ctx context.Context, exec sqlx.ExtContext, ledger *models.LectureHours) error {
	if ledger.ID == "" {
		ledger.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ledger.CreatedAt = now
	ledger.UpdatedAt = now
	const query = `INSERT INTO lecture_hours (id, student_id, tutor_id, subject, total_hours, unpaid_hours,
        last_session_date, payment_interval, reminder_sent, created_at, updated_at)
        VALUES (:id, :student_id, :tutor_id, :subject, :total_hours, :unpaid_hours,
        :last_session_date, :payment_interval, :reminder_sent, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, ledger); err != nil {
		return fmt.Errorf("create lecture hours: %w", err)
	}
	return nil
}

// Update persists accrual-mutable ledger fields.
func (r *LectureRepository) Update(ctx context.Context, exec sqlx.ExtContext, ledger *models.LectureHours) error {
	ledger.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lecture_hours
        SET total_hours = :total_hours, unpaid_hours = :unpaid_hours, last_session_date = :last_session_date,
        reminder_sent = :reminder_sent, updated_at = :updated_at
        WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, ledger); err != nil {
		return fmt.Errorf("update lecture hours: %w", err)
	}
	return nil
}

// CreateSession records an immutable session row.
func (r *LectureRepository) CreateSession(ctx context.Context, exec sqlx.ExtContext, session *models.LectureSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO lecture_sessions (id, lecture_hours_id, appointment_id, duration,
        actual_start_time, actual_end_time, notes, created_at)
        VALUES (:id, :lecture_hours_id, :appointment_id, :duration,
        :actual_start_time, :actual_end_time, :notes, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, session); err != nil {
		return fmt.Errorf("create lecture session: %w", err)
	}
	return nil
}

// ListSessions returns the session history for a ledger, newest first.
func (r *LectureRepository) ListSessions(ctx context.Context, lectureHoursID string) ([]models.LectureSession, error) {
	const query = `SELECT id, lecture_hours_id, appointment_id, duration, actual_start_time, actual_end_time, notes, created_at
        FROM lecture_sessions WHERE lecture_hours_id = $1 ORDER BY actual_start_time DESC`
	var sessions []models.LectureSession
	if err := r.db.SelectContext(ctx, &sessions, query, lectureHoursID); err != nil {
		return nil, fmt.Errorf("list lecture sessions: %w", err)
	}
	return sessions, nil
}

// List returns ledgers filtered by the provided criteria.
func (r *LectureRepository) List(ctx context.Context, filter models.LectureHoursFilter) ([]models.LectureHours, int, error) {
	base := `FROM lecture_hours`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TutorID != "" {
		conditions = append(conditions, fmt.Sprintf("tutor_id = $%d", len(args)+1))
		args = append(args, filter.TutorID)
	}
	if filter.Subject != "" {
		conditions = append(conditions, fmt.Sprintf("subject = $%d", len(args)+1))
		args = append(args, filter.Subject)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, student_id, tutor_id, subject, total_hours, unpaid_hours, last_session_date,
        payment_interval, reminder_sent, created_at, updated_at
        %s ORDER BY last_session_date DESC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var ledgers []models.LectureHours
	if err := r.db.SelectContext(ctx, &ledgers, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list lecture hours: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count lecture hours: %w", err)
	}
	return ledgers, total, nil
}

// MarkPaid records payment bookkeeping against a ledger: unpaid hours drop by
// the paid amount (floored at zero) and the reminder latch resets.
func (r *LectureRepository) MarkPaid(ctx context.Context, id string, hours float64) (*models.LectureHours, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mark paid: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const selectQuery = `SELECT id, student_id, tutor_id, subject, total_hours, unpaid_hours, last_session_date,
        payment_interval, reminder_sent, created_at, updated_at
        FROM lecture_hours WHERE id = $1 FOR UPDATE`
	var ledger models.LectureHours
	if err := tx.GetContext(ctx, &ledger, selectQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("load ledger for payment: %w", err)
	}

	ledger.UnpaidHours -= hours
	if ledger.UnpaidHours < 0 {
		ledger.UnpaidHours = 0
	}
	ledger.ReminderSent = false
	ledger.UpdatedAt = time.Now().UTC()

	const updateQuery = `UPDATE lecture_hours SET unpaid_hours = $2, reminder_sent = $3, updated_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateQuery, ledger.ID, ledger.UnpaidHours, ledger.ReminderSent, ledger.UpdatedAt); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payment: %w", err)
	}
	return &ledger, nil
}
