package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/edukita/center-ops-api/internal/models"
	"github.com/edukita/center-ops-api/internal/repository"
	appErrors "github.com/edukita/center-ops-api/pkg/errors"
)

// ConflictArbiter decides whether a proposed (resource, date, timeslot)
// reservation may proceed. It probes the occupancy ledger it is handed, so a
// decision transaction passes its tx-scoped ledger and the read-only
// availability surface passes the pool-scoped one.
type ConflictArbiter struct {
	logger *zap.Logger
}

// NewConflictArbiter constructs the arbiter.
func NewConflictArbiter(logger *zap.Logger) *ConflictArbiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictArbiter{logger: logger}
}

// Check returns nil when the probed slot is free, or a RESOURCE_CONFLICT
// error carrying the holding occupancy as structured detail.
func (a *ConflictArbiter) Check(ctx context.Context, ledger repository.OccupancyStore, probe repository.OccupancyProbe) error {
	holder, err := ledger.Holder(ctx, probe)
	if err != nil {
		return fmt.Errorf("probe resource occupancy: %w", err)
	}
	if holder == nil {
		return nil
	}

	a.logger.Debug("resource occupancy conflict",
		zap.String("resource_id", probe.ResourceID),
		zap.Time("date", probe.Date),
		zap.String("timeslot_id", probe.TimeslotID),
		zap.String("held_by_session", holder.SessionID))

	return appErrors.WithDetail(appErrors.ErrResourceConflict, models.OccupancyConflict{
		ResourceID:      holder.ResourceID,
		Date:            holder.Date,
		TimeslotID:      holder.TimeslotID,
		HeldBySessionID: holder.SessionID,
	})
}

// IsAvailable answers the read-only availability probe.
func (a *ConflictArbiter) IsAvailable(ctx context.Context, ledger repository.OccupancyStore, probe repository.OccupancyProbe) (bool, error) {
	holder, err := ledger.Holder(ctx, probe)
	if err != nil {
		return false, fmt.Errorf("probe resource occupancy: %w", err)
	}
	return holder == nil, nil
}
