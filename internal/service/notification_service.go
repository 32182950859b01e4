package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-api/internal/models"
	appErrors "github.com/tutorhub/tutorhub-api/pkg/errors"
	"github.com/tutorhub/tutorhub-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, page, size int) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, userID string) (bool, error)
}

// NotificationService is the notification sink. Enqueue hands the message to a
// background worker queue; persistence and delivery never block the caller.
type NotificationService struct {
	store  notificationStore
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService constructs the service and its dispatch queue.
func NewNotificationService(store notificationStore, cfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{store: store, logger: logger}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("notifications", s.handleJob, cfg)
	return s
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the dispatch workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Enqueue pushes a notification onto the dispatch queue. Callers treat failures
// as best-effort: the error is returned for logging only.
func (s *NotificationService) Enqueue(ctx context.Context, notification *models.Notification) error {
	if notification == nil {
		return fmt.Errorf("nil notification")
	}
	return s.queue.Enqueue(jobs.Job{
		ID:      notification.ID,
		Type:    string(notification.Type),
		Payload: notification,
	})
}

func (s *NotificationService) handleJob(ctx context.Context, job jobs.Job) error {
	notification, ok := job.Payload.(*models.Notification)
	if !ok {
		s.logger.Sugar().Errorw("unexpected notification payload", "job_id", job.ID, "type", job.Type)
		return nil
	}
	return s.store.Create(ctx, notification)
}

// ListForUser returns the user's notifications with pagination metadata.
func (s *NotificationService) ListForUser(ctx context.Context, userID string, page, size int) ([]models.Notification, *models.Pagination, error) {
	notifications, total, err := s.store.ListByUser(ctx, userID, page, size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return notifications, pagination, nil
}

// MarkRead flags a notification as read for the owning user.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	updated, err := s.store.MarkRead(ctx, id, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	if !updated {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}
