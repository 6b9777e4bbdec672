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

const changeRequestColumns = `id, teacher_id, session_id, kind, status,
       proposed_date, proposed_timeslot_id, proposed_resource_id, replacement_teacher_id,
       new_session_id, note, decided_by, submitted_at, decided_at`

// ChangeRequestRepository persists schedule-change workflow data. It works
// over either the shared pool or a transaction.
type ChangeRequestRepository struct {
	db sqlx.ExtContext
}

// NewChangeRequestRepository constructs the repository.
func NewChangeRequestRepository(db sqlx.ExtContext) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db}
}

// Create inserts a new request row.
func (r *ChangeRequestRepository) Create(ctx context.Context, request *models.ChangeRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.RequestPending
	}
	if request.SubmittedAt.IsZero() {
		request.SubmittedAt = time.Now().UTC()
	}
	const query = `INSERT INTO schedule_change_requests
	(id, teacher_id, session_id, kind, status, proposed_date, proposed_timeslot_id, proposed_resource_id,
	 replacement_teacher_id, new_session_id, note, decided_by, submitted_at, decided_at)
	VALUES (:id, :teacher_id, :session_id, :kind, :status, :proposed_date, :proposed_timeslot_id, :proposed_resource_id,
	 :replacement_teacher_id, :new_session_id, :note, :decided_by, :submitted_at, :decided_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, request); err != nil {
		return fmt.Errorf("create change request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *ChangeRequestRepository) GetByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	query := `SELECT ` + changeRequestColumns + ` FROM schedule_change_requests WHERE id = $1`
	var request models.ChangeRequest
	if err := sqlx.GetContext(ctx, r.db, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// GetForDecision fetches a request locking its row for the decision transaction.
func (r *ChangeRequestRepository) GetForDecision(ctx context.Context, id string) (*models.ChangeRequest, error) {
	query := `SELECT ` + changeRequestColumns + ` FROM schedule_change_requests WHERE id = $1 FOR UPDATE`
	var request models.ChangeRequest
	if err := sqlx.GetContext(ctx, r.db, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests matching the filter (latest first).
func (r *ChangeRequestRepository) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT ` + changeRequestColumns + ` FROM schedule_change_requests`)

	conditions := make([]string, 0, 5)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)))
	}
	if filter.ReplacementTeacherID != "" {
		args = append(args, filter.ReplacementTeacherID)
		conditions = append(conditions, fmt.Sprintf("replacement_teacher_id = $%d", len(args)))
	}
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY submitted_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.ChangeRequest
	if err := sqlx.SelectContext(ctx, r.db, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	return requests, nil
}

// DecisionParams groups the mutable columns of one state transition. The
// FromStatus guard makes the transition fail with sql.ErrNoRows when another
// decision already landed.
type DecisionParams struct {
	ID               string
	FromStatus       models.ChangeRequestStatus
	Status           models.ChangeRequestStatus
	DecidedBy        *string
	DecidedAt        *time.Time
	Note             *string
	NewSessionID     *string
	SetReplacement   *string
	ClearReplacement bool
}

// UpdateDecision persists one workflow transition under the optimistic
// pre-state guard.
func (r *ChangeRequestRepository) UpdateDecision(ctx context.Context, params DecisionParams) error {
	setParts := []string{"status = :status"}
	if params.DecidedBy != nil {
		setParts = append(setParts, "decided_by = :decided_by")
	}
	if params.DecidedAt != nil {
		setParts = append(setParts, "decided_at = :decided_at")
	}
	if params.Note != nil {
		setParts = append(setParts, "note = :note")
	}
	if params.NewSessionID != nil {
		setParts = append(setParts, "new_session_id = :new_session_id")
	}
	if params.ClearReplacement {
		setParts = append(setParts, "replacement_teacher_id = NULL")
	} else if params.SetReplacement != nil {
		setParts = append(setParts, "replacement_teacher_id = :replacement_teacher_id")
	}
	query := fmt.Sprintf("UPDATE schedule_change_requests SET %s WHERE id = :id AND status = :from_status",
		strings.Join(setParts, ", "))

	result, err := sqlx.NamedExecContext(ctx, r.db, query, map[string]interface{}{
		"id":                     params.ID,
		"from_status":            params.FromStatus,
		"status":                 params.Status,
		"decided_by":             params.DecidedBy,
		"decided_at":             params.DecidedAt,
		"note":                   params.Note,
		"new_session_id":         params.NewSessionID,
		"replacement_teacher_id": params.SetReplacement,
	})
	if err != nil {
		return fmt.Errorf("update change request decision: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check change request update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
