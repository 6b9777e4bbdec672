package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/edukita/center-ops-api/internal/models"
)

// CatalogRepository gives read access to the branch-scoped scheduling
// catalog of resources and timeslots. Writes belong to the admin surface
// outside this service.
type CatalogRepository struct {
	db sqlx.ExtContext
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db sqlx.ExtContext) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ResourceByID fetches a resource.
func (r *CatalogRepository) ResourceByID(ctx context.Context, id string) (*models.Resource, error) {
	const query = `SELECT id, branch_id, kind, name, capacity, active, created_at FROM resources WHERE id = $1`
	var resource models.Resource
	if err := sqlx.GetContext(ctx, r.db, &resource, query, id); err != nil {
		return nil, err
	}
	return &resource, nil
}

// TimeslotByID fetches a timeslot template.
func (r *CatalogRepository) TimeslotByID(ctx context.Context, id string) (*models.Timeslot, error) {
	const query = `SELECT id, branch_id, name, start_time, end_time, created_at FROM timeslots WHERE id = $1`
	var slot models.Timeslot
	if err := sqlx.GetContext(ctx, r.db, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}
