package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edukita/center-ops-api/internal/dto"
	"github.com/edukita/center-ops-api/internal/models"
	"github.com/edukita/center-ops-api/internal/repository"
	appErrors "github.com/edukita/center-ops-api/pkg/errors"
)

// SessionLister is the pool-scoped session surface backing the read API.
type SessionLister interface {
	GetByID(ctx context.Context, id string) (*models.SessionDetail, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, error)
	MarkPastDone(ctx context.Context, before time.Time) (int64, error)
}

// OccupancyLister answers occupancy probes outside decision transactions.
type OccupancyLister interface {
	Holder(ctx context.Context, probe repository.OccupancyProbe) (*models.Occupancy, error)
	ListByDate(ctx context.Context, date time.Time) ([]models.Occupancy, error)
}

// SessionService serves the read-only session, availability, and occupancy
// surfaces, plus the daily completion sweep.
type SessionService struct {
	sessions SessionLister
	ledger   OccupancyLister
	arbiter  *ConflictArbiter
	validate *validator.Validate
	logger   *zap.Logger
}

// NewSessionService constructs the service.
func NewSessionService(sessions SessionLister, ledger OccupancyLister, arbiter *ConflictArbiter, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if arbiter == nil {
		arbiter = NewConflictArbiter(logger)
	}
	return &SessionService{
		sessions: sessions,
		ledger:   ledger,
		arbiter:  arbiter,
		validate: validator.New(),
		logger:   logger,
	}
}

// Get returns one session with display fields.
func (s *SessionService) Get(ctx context.Context, id string) (*models.SessionDetail, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}

// List returns sessions matching the filter.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, error) {
	return s.sessions.List(ctx, filter)
}

// CheckAvailability answers whether a (resource, date, timeslot) is free.
func (s *SessionService) CheckAvailability(ctx context.Context, query dto.AvailabilityQuery) (*dto.AvailabilityResult, error) {
	if err := s.validate.Struct(query); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	date, err := dto.ParseDate(query.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}

	available, err := s.arbiter.IsAvailable(ctx, s.ledger, repository.OccupancyProbe{
		ResourceID:       query.ResourceID,
		Date:             date,
		TimeslotID:       query.TimeslotID,
		ExcludeSessionID: query.ExcludeSessionID,
	})
	if err != nil {
		return nil, err
	}
	return &dto.AvailabilityResult{Available: available}, nil
}

// OccupancyByDate lists every held (resource, timeslot) pair on a date.
func (s *SessionService) OccupancyByDate(ctx context.Context, rawDate string) ([]models.Occupancy, error) {
	date, err := dto.ParseDate(rawDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	return s.ledger.ListByDate(ctx, date)
}

// MarkPastSessionsDone flips PLANNED sessions dated before today to DONE.
// Runs on a ticker; also safe to invoke manually.
func (s *SessionService) MarkPastSessionsDone(ctx context.Context) (int64, error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	count, err := s.sessions.MarkPastDone(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("mark past sessions done: %w", err)
	}
	if count > 0 {
		s.logger.Info("past sessions marked done", zap.Int64("count", count))
	}
	return count, nil
}
