package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edukita/center-ops-api/internal/models"
)

// NotificationRepository persists delivered workflow notifications.
type NotificationRepository struct {
	db sqlx.ExtContext
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db sqlx.ExtContext) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification row.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, user_id, kind, request_id, body, created_at)
	VALUES (:id, :user_id, :kind, :request_id, :body, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListByUser returns the latest notifications for a user.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `SELECT id, user_id, kind, request_id, body, created_at
	FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	var notifications []models.Notification
	if err := sqlx.SelectContext(ctx, r.db, &notifications, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}
