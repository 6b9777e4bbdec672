package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edukita/center-ops-api/internal/models"
)

// TeachingAssignmentRepository persists teacher-session responsibility records.
type TeachingAssignmentRepository struct {
	db sqlx.ExtContext
}

// NewTeachingAssignmentRepository constructs the repository.
func NewTeachingAssignmentRepository(db sqlx.ExtContext) *TeachingAssignmentRepository {
	return &TeachingAssignmentRepository{db: db}
}

// ActiveBySession returns the assignment currently responsible for the
// session (status SCHEDULED or SUBSTITUTED), or sql.ErrNoRows.
func (r *TeachingAssignmentRepository) ActiveBySession(ctx context.Context, sessionID string) (*models.TeachingAssignment, error) {
	const query = `SELECT id, session_id, teacher_id, status, created_at, updated_at
	FROM teaching_assignments
	WHERE session_id = $1 AND status IN ($2, $3)
	LIMIT 1`
	var assignment models.TeachingAssignment
	if err := sqlx.GetContext(ctx, r.db, &assignment, query, sessionID, models.AssignmentScheduled, models.AssignmentSubstituted); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// UpsertStatus sets the status for the (session, teacher) pair, inserting the
// record when absent. Idempotent: re-applying the same status is a no-op.
func (r *TeachingAssignmentRepository) UpsertStatus(ctx context.Context, sessionID, teacherID string, status models.AssignmentStatus) error {
	now := time.Now().UTC()
	const query = `INSERT INTO teaching_assignments (id, session_id, teacher_id, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT (session_id, teacher_id)
	DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), sessionID, teacherID, status, now); err != nil {
		return fmt.Errorf("upsert teaching assignment: %w", err)
	}
	return nil
}
