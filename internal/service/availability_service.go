package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-api/internal/models"
	appErrors "github.com/tutorhub/tutorhub-api/pkg/errors"
)

type availabilityStore interface {
	FindByID(ctx context.Context, id string) (*models.AvailabilitySlot, error)
	ListByTutor(ctx context.Context, tutorID string) ([]models.AvailabilitySlot, error)
	Create(ctx context.Context, slot *models.AvailabilitySlot) error
	Update(ctx context.Context, slot *models.AvailabilitySlot) error
	Delete(ctx context.Context, id string) error
}

// AvailabilitySlotRequest describes a weekly availability window.
type AvailabilitySlotRequest struct {
	Weekday     int `json:"weekday" validate:"min=0,max=6"`
	StartMinute int `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute   int `json:"end_minute" validate:"min=1,max=1440"`
}

// AvailabilityService manages tutor weekly availability and expands it into
// concrete bookable openings over a date range.
type AvailabilityService struct {
	slots        availabilityStore
	appointments appointmentStore
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewAvailabilityService constructs the service.
func NewAvailabilityService(slots availabilityStore, appointments appointmentStore, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{slots: slots, appointments: appointments, validator: validate, logger: logger}
}

// ListForTutor returns a tutor's weekly availability windows.
func (s *AvailabilityService) ListForTutor(ctx context.Context, tutorID string) ([]models.AvailabilitySlot, error) {
	slots, err := s.slots.ListByTutor(ctx, tutorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list availability")
	}
	return slots, nil
}

// Create adds a weekly availability window for the calling tutor.
func (s *AvailabilityService) Create(ctx context.Context, principal models.Principal, req AvailabilitySlotRequest) (*models.AvailabilitySlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}
	if req.EndMinute <= req.StartMinute {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end must be after start")
	}
	if principal.Role != models.RoleTutor && !principal.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only tutors manage availability")
	}
	slot := &models.AvailabilitySlot{
		TutorID:     principal.UserID,
		Weekday:     req.Weekday,
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
	}
	if err := s.slots.Create(ctx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create availability slot")
	}
	return slot, nil
}

// Update mutates a window owned by the calling tutor.
func (s *AvailabilityService) Update(ctx context.Context, principal models.Principal, id string, req AvailabilitySlotRequest) (*models.AvailabilitySlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}
	if req.EndMinute <= req.StartMinute {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end must be after start")
	}
	slot, err := s.slots.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability slot")
	}
	if !principal.IsAdmin() && principal.UserID != slot.TutorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "availability belongs to another tutor")
	}
	slot.Weekday = req.Weekday
	slot.StartMinute = req.StartMinute
	slot.EndMinute = req.EndMinute
	if err := s.slots.Update(ctx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update availability slot")
	}
	return slot, nil
}

// Delete removes a window owned by the calling tutor.
func (s *AvailabilityService) Delete(ctx context.Context, principal models.Principal, id string) error {
	slot, err := s.slots.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "availability slot not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability slot")
	}
	if !principal.IsAdmin() && principal.UserID != slot.TutorID {
		return appErrors.Clone(appErrors.ErrForbidden, "availability belongs to another tutor")
	}
	if err := s.slots.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete availability slot")
	}
	return nil
}

// ListOpenings expands a tutor's weekly windows into concrete bookable
// intervals of slotMinutes between from and to, skipping intervals that
// overlap an existing non-cancelled appointment.
func (s *AvailabilityService) ListOpenings(ctx context.Context, tutorID string, from, to time.Time, slotMinutes int) ([]models.Opening, error) {
	if !from.Before(to) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must precede to")
	}
	if slotMinutes <= 0 {
		slotMinutes = 60
	}
	slots, err := s.slots.ListByTutor(ctx, tutorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list availability")
	}

	slotLen := time.Duration(slotMinutes) * time.Minute
	openings := []models.Opening{}
	for day := startOfDay(from); day.Before(to); day = day.AddDate(0, 0, 1) {
		for _, slot := range slots {
			if int(day.Weekday()) != slot.Weekday {
				continue
			}
			windowStart := day.Add(time.Duration(slot.StartMinute) * time.Minute)
			windowEnd := day.Add(time.Duration(slot.EndMinute) * time.Minute)
			for start := windowStart; !start.Add(slotLen).After(windowEnd); start = start.Add(slotLen) {
				end := start.Add(slotLen)
				if start.Before(from) || end.After(to) {
					continue
				}
				booked, err := s.appointments.FindOverlapping(ctx, nil, tutorID, start, end, "")
				if err != nil {
					return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check bookings")
				}
				if len(booked) == 0 {
					openings = append(openings, models.Opening{TutorID: tutorID, StartTime: start, EndTime: end})
				}
			}
		}
	}
	return openings, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
