package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edukita/center-ops-api/internal/models"
)

const sessionDetailColumns = `
	s.id, s.class_id, s.session_date, s.timeslot_id, s.resource_id, s.modality, s.status,
	s.created_at, s.updated_at,
	c.branch_id, c.name AS class_name, t.name AS timeslot_name, r.name AS resource_name`

const sessionDetailJoins = `
FROM sessions s
JOIN classes c ON c.id = s.class_id
JOIN timeslots t ON t.id = s.timeslot_id
LEFT JOIN resources r ON r.id = s.resource_id`

// SessionRepository owns session lifecycle persistence. Resource reassignment
// has no public path around the workflow transaction; callers outside it only
// get reads.
type SessionRepository struct {
	db sqlx.ExtContext
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db sqlx.ExtContext) *SessionRepository {
	return &SessionRepository{db: db}
}

// GetByID fetches a session with branch scoping and display fields.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.SessionDetail, error) {
	query := `SELECT` + sessionDetailColumns + sessionDetailJoins + ` WHERE s.id = $1`
	var session models.SessionDetail
	if err := sqlx.GetContext(ctx, r.db, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetForUpdate fetches a session locking its row for the decision transaction.
func (r *SessionRepository) GetForUpdate(ctx context.Context, id string) (*models.SessionDetail, error) {
	query := `SELECT` + sessionDetailColumns + sessionDetailJoins + ` WHERE s.id = $1 FOR UPDATE OF s`
	var session models.SessionDetail
	if err := sqlx.GetContext(ctx, r.db, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// Create inserts a new session row. The partial unique index on
// (resource_id, session_date, timeslot_id) is the final arbiter against a
// concurrent reservation; callers map the violation to a conflict error.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.SessionPlanned
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	const query = `INSERT INTO sessions
	(id, class_id, session_date, timeslot_id, resource_id, modality, status, created_at, updated_at)
	VALUES (:id, :class_id, :session_date, :timeslot_id, :resource_id, :modality, :status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Cancel marks a PLANNED session CANCELLED, releasing its occupancy. Returns
// sql.ErrNoRows when the session was not PLANNED anymore.
func (r *SessionRepository) Cancel(ctx context.Context, id string) error {
	const query = `UPDATE sessions SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, id, models.SessionCancelled, time.Now().UTC(), models.SessionPlanned)
	if err != nil {
		return fmt.Errorf("cancel session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check cancelled session rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReassignResource moves a PLANNED session onto a different resource, keeping
// its identity, date, and timeslot. Guarded by the same unique index as Create.
func (r *SessionRepository) ReassignResource(ctx context.Context, sessionID, resourceID string, modality models.Modality) error {
	const query = `UPDATE sessions SET resource_id = $2, modality = $3, updated_at = $4 WHERE id = $1 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, sessionID, resourceID, modality, time.Now().UTC(), models.SessionPlanned)
	if err != nil {
		return fmt.Errorf("reassign session resource: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check reassigned session rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns sessions matching the filter, earliest date first.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 5)
	builder.WriteString(`SELECT` + sessionDetailColumns + sessionDetailJoins)

	conditions := make([]string, 0, 4)
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		conditions = append(conditions, fmt.Sprintf("s.class_id = $%d", len(args)))
	}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf(`EXISTS (
	SELECT 1 FROM teaching_assignments ta
	WHERE ta.session_id = s.id AND ta.teacher_id = $%d AND ta.status IN ('SCHEDULED', 'SUBSTITUTED'))`, len(args)))
	}
	if filter.Date != nil {
		args = append(args, *filter.Date)
		conditions = append(conditions, fmt.Sprintf("s.session_date = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("s.status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY s.session_date ASC, t.start_time ASC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var sessions []models.SessionDetail
	if err := sqlx.SelectContext(ctx, r.db, &sessions, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// MarkPastDone flips PLANNED sessions dated before the cutoff to DONE and
// returns how many rows changed. Pure batch, no conflict logic.
func (r *SessionRepository) MarkPastDone(ctx context.Context, before time.Time) (int64, error) {
	const query = `UPDATE sessions SET status = $1, updated_at = $2 WHERE status = $3 AND session_date < $4`
	result, err := r.db.ExecContext(ctx, query, models.SessionDone, time.Now().UTC(), models.SessionPlanned, before)
	if err != nil {
		return 0, fmt.Errorf("mark past sessions done: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check swept session rows: %w", err)
	}
	return rows, nil
}
