package models

import "time"

// AssignmentStatus tracks a teacher's standing on a session occurrence.
type AssignmentStatus string

const (
	AssignmentScheduled   AssignmentStatus = "SCHEDULED"
	AssignmentOnLeave     AssignmentStatus = "ON_LEAVE"
	AssignmentSubstituted AssignmentStatus = "SUBSTITUTED"
)

// Active reports whether the status makes the teacher the one responsible for
// the session. At most one assignment per session should be active.
func (s AssignmentStatus) Active() bool {
	return s == AssignmentScheduled || s == AssignmentSubstituted
}

// TeachingAssignment records which teacher is responsible for a session
// occurrence. Keyed by (session, teacher); re-applying the same status is a
// no-op.
type TeachingAssignment struct {
	ID        string           `db:"id" json:"id"`
	SessionID string           `db:"session_id" json:"session_id"`
	TeacherID string           `db:"teacher_id" json:"teacher_id"`
	Status    AssignmentStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}
