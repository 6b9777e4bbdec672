package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edukita/center-ops-api/internal/dto"
	"github.com/edukita/center-ops-api/internal/models"
	appErrors "github.com/edukita/center-ops-api/pkg/errors"
	"github.com/edukita/center-ops-api/pkg/response"
)

// SessionReader is the service surface behind the session read routes.
type SessionReader interface {
	Get(ctx context.Context, id string) (*models.SessionDetail, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, error)
	CheckAvailability(ctx context.Context, query dto.AvailabilityQuery) (*dto.AvailabilityResult, error)
	OccupancyByDate(ctx context.Context, date string) ([]models.Occupancy, error)
}

// SessionHandler exposes the read-only session surfaces.
type SessionHandler struct {
	sessions SessionReader
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(sessions SessionReader) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// List godoc
// @Summary List sessions
// @Tags sessions
// @Produce json
// @Param class_id query string false "Class ID"
// @Param teacher_id query string false "Teacher ID"
// @Param date query string false "Session date (YYYY-MM-DD)"
// @Param status query string false "Comma-separated statuses"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope{data=[]models.SessionDetail}
// @Security BearerAuth
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	filter := models.SessionFilter{
		ClassID:   c.Query("class_id"),
		TeacherID: c.Query("teacher_id"),
	}
	if raw := c.Query("date"); raw != "" {
		date, err := dto.ParseDate(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD"))
			return
		}
		filter.Date = &date
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				filter.Status = append(filter.Status, models.SessionStatus(part))
			}
		}
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	sessions, err := h.sessions.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// Get godoc
// @Summary Get one session
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope{data=models.SessionDetail}
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Availability godoc
// @Summary Check resource availability
// @Description Answers whether a (resource, date, timeslot) is free of non-cancelled sessions
// @Tags sessions
// @Produce json
// @Param resource_id query string true "Resource ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param timeslot_id query string true "Timeslot ID"
// @Param exclude_session_id query string false "Session allowed to keep its reservation"
// @Success 200 {object} response.Envelope{data=dto.AvailabilityResult}
// @Security BearerAuth
// @Router /sessions/availability [get]
func (h *SessionHandler) Availability(c *gin.Context) {
	var query dto.AvailabilityQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	result, err := h.sessions.CheckAvailability(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Occupancy godoc
// @Summary List resource occupancy for a date
// @Tags sessions
// @Produce json
// @Param date query string false "Date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope{data=[]models.Occupancy}
// @Security BearerAuth
// @Router /sessions/occupancy [get]
func (h *SessionHandler) Occupancy(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = time.Now().UTC().Format(dto.DateLayout)
	}
	occupancies, err := h.sessions.OccupancyByDate(c.Request.Context(), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, occupancies, nil)
}
