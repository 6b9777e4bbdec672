package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edukita/center-ops-api/internal/dto"
	"github.com/edukita/center-ops-api/internal/middleware"
	"github.com/edukita/center-ops-api/internal/models"
	appErrors "github.com/edukita/center-ops-api/pkg/errors"
	"github.com/edukita/center-ops-api/pkg/response"
)

type stubWorkflow struct {
	request   *models.ChangeRequest
	requests  []models.ChangeRequest
	err       error
	lastQuery dto.ChangeRequestQuery
}

func (s *stubWorkflow) Submit(_ context.Context, _ *models.JWTClaims, _ dto.SubmitChangeRequest) (*models.ChangeRequest, error) {
	return s.request, s.err
}

func (s *stubWorkflow) Approve(_ context.Context, _ *models.JWTClaims, _ string, _ dto.ApproveRequest) (*models.ChangeRequest, error) {
	return s.request, s.err
}

func (s *stubWorkflow) Reject(_ context.Context, _ *models.JWTClaims, _ string, _ dto.RejectRequest) (*models.ChangeRequest, error) {
	return s.request, s.err
}

func (s *stubWorkflow) ConfirmSwap(_ context.Context, _ *models.JWTClaims, _ string) (*models.ChangeRequest, error) {
	return s.request, s.err
}

func (s *stubWorkflow) DeclineSwap(_ context.Context, _ *models.JWTClaims, _ string, _ dto.DeclineSwapRequest) (*models.ChangeRequest, error) {
	return s.request, s.err
}

func (s *stubWorkflow) List(_ context.Context, _ *models.JWTClaims, query dto.ChangeRequestQuery) ([]models.ChangeRequest, error) {
	s.lastQuery = query
	return s.requests, s.err
}

func (s *stubWorkflow) Get(_ context.Context, _ *models.JWTClaims, _ string) (*models.ChangeRequest, error) {
	return s.request, s.err
}

func setupRequestRouter(workflow RequestWorkflow, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if claims != nil {
		router.Use(func(c *gin.Context) {
			c.Set(middleware.ClaimsContextKey, claims)
			c.Next()
		})
	}
	h := NewRequestHandler(workflow)
	router.POST("/schedule-requests", h.Submit)
	router.GET("/schedule-requests", h.List)
	router.GET("/schedule-requests/:id", h.Get)
	router.POST("/schedule-requests/:id/approve", h.Approve)
	router.POST("/schedule-requests/:id/reject", h.Reject)
	router.POST("/schedule-requests/:id/confirm", h.ConfirmSwap)
	router.POST("/schedule-requests/:id/decline", h.DeclineSwap)
	return router
}

func teacherClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}
}

func TestSubmitReturnsCreated(t *testing.T) {
	workflow := &stubWorkflow{request: &models.ChangeRequest{ID: "req-1", Status: models.RequestPending}}
	router := setupRequestRouter(workflow, teacherClaims())

	body := `{"session_id":"session-1","kind":"SWAP","swap":{"replacement_teacher_id":"teacher-2"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule-requests", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"req-1"`)
}

func TestSubmitWithoutClaims(t *testing.T) {
	router := setupRequestRouter(&stubWorkflow{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule-requests", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApproveConflictStatus(t *testing.T) {
	conflictErr := appErrors.WithDetail(appErrors.ErrResourceConflict, models.OccupancyConflict{
		ResourceID: "room-a", TimeslotID: "slot-1", HeldBySessionID: "session-9",
	})
	workflow := &stubWorkflow{err: conflictErr}
	router := setupRequestRouter(workflow, &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule-requests/req-1/approve", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "RESOURCE_CONFLICT")
	assert.Contains(t, w.Body.String(), "session-9")
}

func TestConfirmSwapForbidden(t *testing.T) {
	workflow := &stubWorkflow{err: appErrors.ErrForbidden}
	router := setupRequestRouter(workflow, teacherClaims())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule-requests/req-1/confirm", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListParsesQuery(t *testing.T) {
	workflow := &stubWorkflow{requests: []models.ChangeRequest{}}
	router := setupRequestRouter(workflow, teacherClaims())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/schedule-requests?status=PENDING,WAITING_CONFIRM&kind=SWAP&limit=10&offset=5", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.ChangeRequestStatus{models.RequestPending, models.RequestWaitingConfirm}, workflow.lastQuery.Status)
	assert.Equal(t, models.KindSwap, workflow.lastQuery.Kind)
	assert.Equal(t, 10, workflow.lastQuery.Limit)
	assert.Equal(t, 5, workflow.lastQuery.Offset)
}

func TestRejectRequiresBody(t *testing.T) {
	workflow := &stubWorkflow{request: &models.ChangeRequest{ID: "req-1", Status: models.RequestRejected}}
	router := setupRequestRouter(workflow, &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/schedule-requests/req-1/reject", strings.NewReader(`{"reason":"no rooms"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
