package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edukita/center-ops-api/internal/models"
	"github.com/edukita/center-ops-api/pkg/response"
)

// NotificationReader lists notifications for a user.
type NotificationReader interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
}

// NotificationHandler exposes the caller's notification feed.
type NotificationHandler struct {
	notifications NotificationReader
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(notifications NotificationReader) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List godoc
// @Summary List the caller's notifications
// @Tags notifications
// @Produce json
// @Param limit query int false "Max entries"
// @Success 200 {object} response.Envelope{data=[]models.Notification}
// @Security BearerAuth
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	claims, err := claimsFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	notifications, err := h.notifications.ListForUser(c.Request.Context(), claims.UserID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notifications, nil)
}
