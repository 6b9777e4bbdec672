package models

import "time"

// SessionStatus captures the session lifecycle.
type SessionStatus string

const (
	SessionPlanned   SessionStatus = "PLANNED"
	SessionDone      SessionStatus = "DONE"
	SessionCancelled SessionStatus = "CANCELLED"
)

// Modality is how a session (or class) is delivered.
type Modality string

const (
	ModalityInPerson Modality = "IN_PERSON"
	ModalityVirtual  Modality = "VIRTUAL"
)

// ModalityForResource derives the per-session modality from the occupying resource.
func ModalityForResource(kind ResourceKind) Modality {
	if kind == ResourceVirtual {
		return ModalityVirtual
	}
	return ModalityInPerson
}

// Session is one scheduled occurrence of a class on a date at a timeslot.
// An optional resource occupies the (date, timeslot) pair while the session
// is not cancelled.
type Session struct {
	ID         string        `db:"id" json:"id"`
	ClassID    string        `db:"class_id" json:"class_id"`
	Date       time.Time     `db:"session_date" json:"date"`
	TimeslotID string        `db:"timeslot_id" json:"timeslot_id"`
	ResourceID *string       `db:"resource_id" json:"resource_id,omitempty"`
	Modality   Modality      `db:"modality" json:"modality"`
	Status     SessionStatus `db:"status" json:"status"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

// SessionDetail enriches a session with branch scoping and display fields.
type SessionDetail struct {
	Session
	BranchID     string  `db:"branch_id" json:"branch_id"`
	ClassName    string  `db:"class_name" json:"class_name"`
	TimeslotName string  `db:"timeslot_name" json:"timeslot_name"`
	ResourceName *string `db:"resource_name" json:"resource_name,omitempty"`
}

// SessionFilter constrains session listing queries.
type SessionFilter struct {
	ClassID   string
	TeacherID string
	Date      *time.Time
	Status    []SessionStatus
	Limit     int
	Offset    int
}

// Occupancy is one (resource, date, timeslot) pair held by a non-cancelled session.
type Occupancy struct {
	ResourceID string    `db:"resource_id" json:"resource_id"`
	Date       time.Time `db:"session_date" json:"date"`
	TimeslotID string    `db:"timeslot_id" json:"timeslot_id"`
	SessionID  string    `db:"session_id" json:"session_id"`
}
