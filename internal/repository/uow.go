package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edukita/center-ops-api/internal/models"
)

// OccupancyProbe identifies a candidate (resource, date, timeslot) reservation.
// ExcludeSessionID lets a session keep its own current resource while being
// modified.
type OccupancyProbe struct {
	ResourceID       string
	Date             time.Time
	TimeslotID       string
	ExcludeSessionID string
}

// ChangeRequestStore is the tx-scoped surface the workflow uses to decide a request.
type ChangeRequestStore interface {
	GetForDecision(ctx context.Context, id string) (*models.ChangeRequest, error)
	UpdateDecision(ctx context.Context, params DecisionParams) error
}

// SessionStore is the tx-scoped surface for session lifecycle mutations.
type SessionStore interface {
	GetForUpdate(ctx context.Context, id string) (*models.SessionDetail, error)
	Create(ctx context.Context, session *models.Session) error
	Cancel(ctx context.Context, id string) error
	ReassignResource(ctx context.Context, sessionID, resourceID string, modality models.Modality) error
}

// TeachingAssignmentStore is the tx-scoped surface for teacher-session records.
type TeachingAssignmentStore interface {
	ActiveBySession(ctx context.Context, sessionID string) (*models.TeachingAssignment, error)
	UpsertStatus(ctx context.Context, sessionID, teacherID string, status models.AssignmentStatus) error
}

// OccupancyStore answers who currently holds a (resource, date, timeslot).
type OccupancyStore interface {
	Holder(ctx context.Context, probe OccupancyProbe) (*models.Occupancy, error)
}

// Stores bundles the tx-scoped stores participating in one workflow decision.
type Stores struct {
	Requests    ChangeRequestStore
	Sessions    SessionStore
	Assignments TeachingAssignmentStore
	Ledger      OccupancyStore
}

// UnitOfWork runs a function against tx-scoped stores under one serializable
// transaction, so the conflict check and the mutation it gates cannot be
// interleaved by a second decision.
type UnitOfWork struct {
	db *sqlx.DB
}

// NewUnitOfWork constructs the unit of work over the shared pool.
func NewUnitOfWork(db *sqlx.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Within executes fn inside a serializable transaction, committing on nil and
// rolling back on error or panic.
func (u *UnitOfWork) Within(ctx context.Context, fn func(s Stores) error) (err error) {
	tx, err := u.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin decision transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stores := Stores{
		Requests:    NewChangeRequestRepository(tx),
		Sessions:    NewSessionRepository(tx),
		Assignments: NewTeachingAssignmentRepository(tx),
		Ledger:      NewResourceLedgerRepository(tx),
	}
	if err = fn(stores); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit decision transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation, optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsSerializationFailure reports whether err is a serializable-transaction
// conflict; callers surface it as a retryable state conflict.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}
