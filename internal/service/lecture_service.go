package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-api/internal/models"
	appErrors "github.com/tutorhub/tutorhub-api/pkg/errors"
	"github.com/tutorhub/tutorhub-api/pkg/export"
)

type lectureHoursStore interface {
	FindByID(ctx context.Context, id string) (*models.LectureHours, error)
	List(ctx context.Context, filter models.LectureHoursFilter) ([]models.LectureHours, int, error)
	ListSessions(ctx context.Context, lectureHoursID string) ([]models.LectureSession, error)
	MarkPaid(ctx context.Context, id string, hours float64) (*models.LectureHours, error)
}

// RecordPaymentRequest marks a number of ledger hours as paid.
type RecordPaymentRequest struct {
	Hours float64 `json:"hours" validate:"required,gt=0"`
}

// LectureHoursDetail bundles a ledger with its session history.
type LectureHoursDetail struct {
	models.LectureHours
	Sessions []models.LectureSession `json:"sessions"`
}

// LectureService exposes lecture-hour ledgers, payment bookkeeping and
// statement exports.
type LectureService struct {
	ledgers   lectureHoursStore
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLectureService constructs the service.
func NewLectureService(ledgers lectureHoursStore, validate *validator.Validate, logger *zap.Logger) *LectureService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LectureService{
		ledgers:   ledgers,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		validator: validate,
		logger:    logger,
	}
}

// List returns ledgers visible to the principal. Students and tutors only see
// their own ledgers; admins see everything.
func (s *LectureService) List(ctx context.Context, principal models.Principal, filter models.LectureHoursFilter) ([]models.LectureHours, *models.Pagination, error) {
	switch principal.Role {
	case models.RoleStudent:
		filter.StudentID = principal.UserID
	case models.RoleTutor:
		filter.TutorID = principal.UserID
	}
	ledgers, total, err := s.ledgers.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lecture hours")
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
	return ledgers, pagination, nil
}

// Get returns one ledger with its session history.
func (s *LectureService) Get(ctx context.Context, principal models.Principal, id string) (*LectureHoursDetail, error) {
	ledger, err := s.loadAuthorized(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	sessions, err := s.ledgers.ListSessions(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return &LectureHoursDetail{LectureHours: *ledger, Sessions: sessions}, nil
}

// RecordPayment decrements the ledger's unpaid hours and resets the reminder
// latch. It is bookkeeping only; no payment processing happens here.
func (s *LectureService) RecordPayment(ctx context.Context, principal models.Principal, id string, req RecordPaymentRequest) (*models.LectureHours, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	ledger, err := s.loadAuthorized(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if principal.Role == models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the tutor or an admin may record payments")
	}
	updated, err := s.ledgers.MarkPaid(ctx, ledger.ID, req.Hours)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	return updated, nil
}

// Statement renders the ledger's session history as CSV or PDF bytes.
func (s *LectureService) Statement(ctx context.Context, principal models.Principal, id, format string) ([]byte, string, error) {
	detail, err := s.Get(ctx, principal, id)
	if err != nil {
		return nil, "", err
	}

	statement := export.Statement{
		Headers: []string{"Date", "Start", "End", "Hours", "Notes"},
	}
	for _, session := range detail.Sessions {
		notes := ""
		if session.Notes != nil {
			notes = *session.Notes
		}
		statement.Rows = append(statement.Rows, map[string]string{
			"Date":  session.ActualStartTime.Format("2006-01-02"),
			"Start": session.ActualStartTime.Format("15:04"),
			"End":   session.ActualEndTime.Format("15:04"),
			"Hours": strconv.FormatFloat(session.Duration, 'f', 2, 64),
			"Notes": notes,
		})
	}
	statement.Rows = append(statement.Rows, map[string]string{
		"Date":  "Total unpaid",
		"Hours": strconv.FormatFloat(detail.UnpaidHours, 'f', 2, 64),
	})

	switch format {
	case "pdf":
		title := fmt.Sprintf("Lecture hours statement - %s", detail.Subject)
		data, err := s.pdf.Render(statement, title)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
		}
		return data, "application/pdf", nil
	case "", "csv":
		data, err := s.csv.Render(statement)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
		}
		return data, "text/csv", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported statement format")
	}
}

func (s *LectureService) loadAuthorized(ctx context.Context, principal models.Principal, id string) (*models.LectureHours, error) {
	ledger, err := s.ledgers.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lecture hours not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecture hours")
	}
	if !principal.IsAdmin() && principal.UserID != ledger.TutorID && principal.UserID != ledger.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "ledger belongs to another user")
	}
	return ledger, nil
}
