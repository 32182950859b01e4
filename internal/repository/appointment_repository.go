package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tutorhub/tutorhub-api/internal/models"
)

// AppointmentRepository handles persistence of appointments.
type AppointmentRepository struct {
	db *sqlx.DB
}

// NewAppointmentRepository constructs the repository.
func NewAppointmentRepository(db *sqlx.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func (r *AppointmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID returns an appointment by its ID.
func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	const query = `SELECT id, tutor_id, student_id, subject, start_time, end_time, status, notes, created_at, updated_at
        FROM appointments WHERE id = $1`
	var appointment models.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, id); err != nil {
		return nil, err
	}
	return &appointment, nil
}

// FindDetailByID returns an appointment with tutor/student display data.
func (r *AppointmentRepository) FindDetailByID(ctx context.Context, id string) (*models.AppointmentDetail, error) {
	const query = `SELECT a.id, a.tutor_id, a.student_id, a.subject, a.start_time, a.end_time, a.status, a.notes,
        a.created_at, a.updated_at, t.full_name AS tutor_name, s.full_name AS student_name
        FROM appointments a
        LEFT JOIN users t ON t.id = a.tutor_id
        LEFT JOIN users s ON s.id = a.student_id
        WHERE a.id = $1`
	var detail models.AppointmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns appointments filtered by the provided criteria.
func (r *AppointmentRepository) List(ctx context.Context, filter models.AppointmentFilter) ([]models.AppointmentDetail, int, error) {
	base := `FROM appointments a
LEFT JOIN users t ON t.id = a.tutor_id
LEFT JOIN users s ON s.id = a.student_id`
	var conditions []string
	var args []interface{}

	if filter.TutorID != "" {
		conditions = append(conditions, fmt.Sprintf("a.tutor_id = $%d", len(args)+1))
		args = append(args, filter.TutorID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("a.start_time >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("a.start_time < $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT a.id, a.tutor_id, a.student_id, a.subject, a.start_time, a.end_time, a.status, a.notes,
        a.created_at, a.updated_at, t.full_name AS tutor_name, s.full_name AS student_name
        %s ORDER BY a.start_time %s LIMIT %d OFFSET %d`, base+clause, order, size, offset)

	var appointments []models.AppointmentDetail
	if err := r.db.SelectContext(ctx, &appointments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	return appointments, total, nil
}

// LockTutor takes a transaction-scoped advisory lock keyed by the tutor so the
// overlap check and the insert cannot race a concurrent booking.
func (r *AppointmentRepository) LockTutor(ctx context.Context, exec sqlx.ExtContext, tutorID string) error {
	const query = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := r.exec(exec).ExecContext(ctx, query, tutorID); err != nil {
		return fmt.Errorf("lock tutor %s: %w", tutorID, err)
	}
	return nil
}

// FindOverlapping returns non-cancelled appointments for the tutor whose
// half-open interval [start_time, end_time) intersects [start, end).
func (r *AppointmentRepository) FindOverlapping(ctx context.Context, exec sqlx.ExtContext, tutorID string, start, end time.Time, excludeID string) ([]models.Appointment, error) {
	query := `SELECT id, tutor_id, student_id, subject, start_time, end_time, status, notes, created_at, updated_at
        FROM appointments
        WHERE tutor_id = $1 AND status <> $2 AND start_time < $3 AND end_time > $4`
	args := []interface{}{tutorID, models.AppointmentCancelled, end, start}
	if excludeID != "" {
		query += fmt.Sprintf(" AND id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	var overlapping []models.Appointment
	if err := sqlx.SelectContext(ctx, r.exec(exec), &overlapping, query, args...); err != nil {
		return nil, fmt.Errorf("find overlapping appointments: %w", err)
	}
	return overlapping, nil
}

// Create persists a new appointment record.
func (r *AppointmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, appointment *models.Appointment) error {
	if appointment.ID == "" {
		appointment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if appointment.CreatedAt.IsZero() {
		appointment.CreatedAt = now
	}
	appointment.UpdatedAt = now
	if appointment.Status == "" {
		appointment.Status = models.AppointmentScheduled
	}
	const query = `INSERT INTO appointments (id, tutor_id, student_id, subject, start_time, end_time, status, notes, created_at, updated_at)
        VALUES (:id, :tutor_id, :student_id, :subject, :start_time, :end_time, :status, :notes, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, appointment); err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// Update persists the mutable fields of an appointment.
func (r *AppointmentRepository) Update(ctx context.Context, exec sqlx.ExtContext, appointment *models.Appointment) error {
	appointment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE appointments
        SET subject = :subject, start_time = :start_time, end_time = :end_time, status = :status, notes = :notes, updated_at = :updated_at
        WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, appointment); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

// UpdateStatus updates only the status of an appointment.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.AppointmentStatus) error {
	const query = `UPDATE appointments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	return nil
}
