package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/edukita/center-ops-api/internal/models"
	"github.com/edukita/center-ops-api/pkg/config"
	appErrors "github.com/edukita/center-ops-api/pkg/errors"
)

// AuthUserStore is the persistence surface the auth service needs.
type AuthUserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuthService handles authentication, token issuance, and password changes.
type AuthService struct {
	users    AuthUserStore
	jwtCfg   config.JWTConfig
	validate *validator.Validate
	logger   *zap.Logger
}

// NewAuthService constructs the auth service.
func NewAuthService(users AuthUserStore, jwtCfg config.JWTConfig, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:    users,
		jwtCfg:   jwtCfg,
		validate: validator.New(),
		logger:   logger,
	}
}

// Login verifies credentials and issues an access/refresh token pair.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}

	now := time.Now().UTC()
	accessToken, err := s.signAccessToken(user, now)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := s.issueRefreshToken(ctx, user.ID, req.IP, req.UserAgent, now)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.auditAuth(ctx, user.ID, models.AuditActionLogin, req.IP, req.UserAgent)

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtCfg.Expiration.Seconds()),
		IssuedAt:     now,
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
	}, nil
}

// Refresh rotates a refresh token and issues a new access token.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	stored, err := s.users.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUnauthorized
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	now := time.Now().UTC()
	if stored.Revoked || now.After(stored.ExpiresAt) {
		return nil, appErrors.ErrUnauthorized
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUnauthorized
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}

	if err := s.users.RevokeRefreshToken(ctx, stored.ID, now); err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	accessToken, err := s.signAccessToken(user, now)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := s.issueRefreshToken(ctx, user.ID, req.IP, req.UserAgent, now)
	if err != nil {
		return nil, err
	}

	return &models.RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtCfg.Expiration.Seconds()),
		IssuedAt:     now,
	}, nil
}

// Logout revokes every live refresh token of the user.
func (s *AuthService) Logout(ctx context.Context, userID, ip, userAgent string) error {
	if err := s.users.RevokeUserRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	s.auditAuth(ctx, userID, models.AuditActionLogout, ip, userAgent)
	return nil
}

// ChangePassword verifies the old password and stores a new hash, revoking
// existing refresh tokens.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	if err := s.users.UpdatePassword(ctx, userID, string(hash), now); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	if err := s.users.RevokeUserRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke tokens after password change", zap.String("user_id", userID), zap.Error(err))
	}
	s.auditAuth(ctx, userID, models.AuditActionPasswordChange, "", "")
	return nil
}

// ParseToken validates and parses an access token into claims.
func (s *AuthService) ParseToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.jwtCfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.ErrUnauthorized
	}
	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok {
		return nil, appErrors.ErrUnauthorized
	}
	return claims, nil
}

func (s *AuthService) signAccessToken(user *models.User, now time.Time) (string, error) {
	claims := models.JWTClaims{
		UserID:   user.ID,
		Role:     user.Role,
		Email:    user.Email,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtCfg.Expiration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtCfg.Secret))
}

func (s *AuthService) issueRefreshToken(ctx context.Context, userID, ip, userAgent string, now time.Time) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	value := hex.EncodeToString(raw)

	err := s.users.CreateRefreshToken(ctx, &models.RefreshToken{
		UserID:    userID,
		Token:     value,
		ExpiresAt: now.Add(s.jwtCfg.RefreshExpiration),
		CreatedAt: now,
		IPAddress: ip,
		UserAgent: userAgent,
	})
	if err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return value, nil
}

func (s *AuthService) auditAuth(ctx context.Context, userID, action, ip, userAgent string) {
	entry := &models.AuditLog{
		UserID:    &userID,
		Action:    action,
		Resource:  "auth",
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write auth audit log", zap.String("action", action), zap.Error(err))
	}
}
