package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edukita/center-ops-api/internal/models"
)

// ResourceLedgerRepository is the query surface over session occupancy: the
// set of (resource, date, timeslot) pairs held by PLANNED or DONE sessions.
// CANCELLED sessions never block.
type ResourceLedgerRepository struct {
	db sqlx.ExtContext
}

// NewResourceLedgerRepository constructs the repository.
func NewResourceLedgerRepository(db sqlx.ExtContext) *ResourceLedgerRepository {
	return &ResourceLedgerRepository{db: db}
}

// Holder returns the occupancy holding the probed slot, or nil when the slot
// is free. Run inside the decision transaction this is the fast-fail check;
// the partial unique index backs it up against concurrent writers.
func (r *ResourceLedgerRepository) Holder(ctx context.Context, probe OccupancyProbe) (*models.Occupancy, error) {
	query := `SELECT resource_id, session_date, timeslot_id, id AS session_id
	FROM sessions
	WHERE resource_id = $1 AND session_date = $2 AND timeslot_id = $3
	  AND status IN ($4, $5)`
	args := []interface{}{probe.ResourceID, probe.Date, probe.TimeslotID,
		models.SessionPlanned, models.SessionDone}
	if probe.ExcludeSessionID != "" {
		query += ` AND id <> $6`
		args = append(args, probe.ExcludeSessionID)
	}
	query += ` LIMIT 1`

	var occupancy models.Occupancy
	err := sqlx.GetContext(ctx, r.db, &occupancy, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("probe occupancy: %w", err)
	}
	return &occupancy, nil
}

// ListByDate returns every occupancy held on the given date.
func (r *ResourceLedgerRepository) ListByDate(ctx context.Context, date time.Time) ([]models.Occupancy, error) {
	const query = `SELECT resource_id, session_date, timeslot_id, id AS session_id
	FROM sessions
	WHERE session_date = $1 AND resource_id IS NOT NULL AND status IN ($2, $3)
	ORDER BY timeslot_id ASC, resource_id ASC`
	var occupancies []models.Occupancy
	if err := sqlx.SelectContext(ctx, r.db, &occupancies, query, date, models.SessionPlanned, models.SessionDone); err != nil {
		return nil, fmt.Errorf("list occupancies: %w", err)
	}
	return occupancies, nil
}
