package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edukita/center-ops-api/internal/models"
	appErrors "github.com/edukita/center-ops-api/pkg/errors"
	"github.com/edukita/center-ops-api/pkg/response"
)

// Authenticator is the service surface behind the auth routes.
type Authenticator interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error)
	Logout(ctx context.Context, userID, ip, userAgent string) error
	ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth Authenticator
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login godoc
// @Summary Authenticate a user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Credentials"
// @Success 200 {object} response.Envelope{data=models.LoginResponse}
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	result, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Refresh godoc
// @Summary Exchange a refresh token for new tokens
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.RefreshTokenRequest true "Refresh token"
// @Success 200 {object} response.Envelope{data=models.RefreshTokenResponse}
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	result, err := h.auth.Refresh(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Logout godoc
// @Summary Revoke the caller's refresh tokens
// @Tags auth
// @Produce json
// @Success 204
// @Security BearerAuth
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, err := claimsFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.auth.Logout(c.Request.Context(), claims.UserID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ChangePassword godoc
// @Summary Change the caller's password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.ChangePasswordRequest true "Password change payload"
// @Success 204
// @Failure 401 {object} response.Envelope
// @Security BearerAuth
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims, err := claimsFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	if err := h.auth.ChangePassword(c.Request.Context(), claims.UserID, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
