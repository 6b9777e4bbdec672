package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edukita/center-ops-api/internal/models"
	"github.com/edukita/center-ops-api/pkg/config"
	"github.com/edukita/center-ops-api/pkg/jobs"
)

// NotificationWriter persists notifications.
type NotificationWriter interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
}

// NotificationService delivers workflow notifications through a background
// worker pool. Delivery is best-effort: failures are retried by the queue and
// logged, never surfaced to the transition that produced them.
type NotificationService struct {
	repo   NotificationWriter
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService builds the service and its queue. Call Start before
// enqueuing.
func NewNotificationService(repo NotificationWriter, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{repo: repo, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the worker pool.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the worker pool.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify enqueues a notification for a user. Errors are logged and dropped.
func (s *NotificationService) Notify(userID string, kind models.NotificationKind, requestID, body string) {
	notification := models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		RequestID: requestID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      notification.ID,
		Type:    string(kind),
		Payload: notification,
	})
	if err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("user_id", userID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

// ListForUser returns the latest notifications for a user.
func (s *NotificationService) ListForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	notification, ok := job.Payload.(models.Notification)
	if !ok {
		return fmt.Errorf("unexpected notification payload type %T", job.Payload)
	}
	return s.repo.Create(ctx, &notification)
}
