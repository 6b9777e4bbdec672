package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edukita/center-ops-api/internal/dto"
	"github.com/edukita/center-ops-api/internal/models"
	appErrors "github.com/edukita/center-ops-api/pkg/errors"
	"github.com/edukita/center-ops-api/pkg/response"
)

// RequestWorkflow is the service surface behind the schedule-request routes.
type RequestWorkflow interface {
	Submit(ctx context.Context, claims *models.JWTClaims, req dto.SubmitChangeRequest) (*models.ChangeRequest, error)
	Approve(ctx context.Context, claims *models.JWTClaims, requestID string, req dto.ApproveRequest) (*models.ChangeRequest, error)
	Reject(ctx context.Context, claims *models.JWTClaims, requestID string, req dto.RejectRequest) (*models.ChangeRequest, error)
	ConfirmSwap(ctx context.Context, claims *models.JWTClaims, requestID string) (*models.ChangeRequest, error)
	DeclineSwap(ctx context.Context, claims *models.JWTClaims, requestID string, req dto.DeclineSwapRequest) (*models.ChangeRequest, error)
	List(ctx context.Context, claims *models.JWTClaims, query dto.ChangeRequestQuery) ([]models.ChangeRequest, error)
	Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.ChangeRequest, error)
}

// RequestHandler exposes the schedule-change request workflow over HTTP.
type RequestHandler struct {
	workflow RequestWorkflow
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(workflow RequestWorkflow) *RequestHandler {
	return &RequestHandler{workflow: workflow}
}

// Submit godoc
// @Summary Submit a schedule-change request
// @Description Teachers submit a RESCHEDULE, SWAP, or MODALITY_CHANGE request for a session they teach
// @Tags schedule-requests
// @Accept json
// @Produce json
// @Param request body dto.SubmitChangeRequest true "Request payload"
// @Success 201 {object} response.Envelope{data=models.ChangeRequest}
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /schedule-requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	claims, err := claimsFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.SubmitChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	created, err := h.workflow.Submit(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Approve godoc
// @Summary Approve a pending schedule-change request
// @Description Staff approve a PENDING request, applying it to the timetable or moving a swap to WAITING_CONFIRM
// @Tags schedule-requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body dto.ApproveRequest false "Approval payload with optional override"
// @Success 200 {object} response.Envelope{data=models.ChangeRequest}
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /schedule-requests/{id}/approve [post]
func (h *RequestHandler) Approve(c *gin.Context) {
	claims, err := claimsFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	updated, err := h.workflow.Approve(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Reject godoc
// @Summary Reject a pending schedule-change request
// @Tags schedule-requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body dto.RejectRequest true "Rejection payload"
// @Success 200 {object} response.Envelope{data=models.ChangeRequest}
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /schedule-requests/{id}/reject [post]
func (h *RequestHandler) Reject(c *gin.Context) {
	claims, err := claimsFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	updated, err := h.workflow.Reject(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// ConfirmSwap godoc
// @Summary Confirm a swap nomination
// @Description The nominated teacher accepts the swap, taking over the session
// @Tags schedule-requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope{data=models.ChangeRequest}
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /schedule-requests/{id}/confirm [post]
func (h *RequestHandler) ConfirmSwap(c *gin.Context) {
	claims, err := claimsFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	updated, err := h.workflow.ConfirmSwap(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// DeclineSwap godoc
// @Summary Decline a swap nomination
// @Description The nominated teacher declines; the request returns to PENDING
// @Tags schedule-requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body dto.DeclineSwapRequest false "Decline payload"
// @Success 200 {object} response.Envelope{data=models.ChangeRequest}
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /schedule-requests/{id}/decline [post]
func (h *RequestHandler) DeclineSwap(c *gin.Context) {
	claims, err := claimsFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.DeclineSwapRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
			return
		}
	}
	updated, err := h.workflow.DeclineSwap(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// List godoc
// @Summary List schedule-change requests
// @Description Teachers see their own requests and swaps they are nominated on; staff see all
// @Tags schedule-requests
// @Produce json
// @Param status query string false "Comma-separated statuses"
// @Param kind query string false "Request kind"
// @Param session_id query string false "Session ID"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope{data=[]models.ChangeRequest}
// @Security BearerAuth
// @Router /schedule-requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	claims, err := claimsFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	query := dto.ChangeRequestQuery{
		Kind:      models.ChangeRequestKind(c.Query("kind")),
		SessionID: c.Query("session_id"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				query.Status = append(query.Status, models.ChangeRequestStatus(part))
			}
		}
	}
	query.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	query.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	requests, err := h.workflow.List(c.Request.Context(), claims, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Get one schedule-change request
// @Tags schedule-requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope{data=models.ChangeRequest}
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /schedule-requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	claims, err := claimsFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	request, err := h.workflow.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}
