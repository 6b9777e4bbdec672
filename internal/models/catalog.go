package models

import "time"

// ResourceKind distinguishes bookable rooms from virtual meeting links.
type ResourceKind string

const (
	ResourcePhysical ResourceKind = "PHYSICAL"
	ResourceVirtual  ResourceKind = "VIRTUAL"
)

// Resource is a bookable room or virtual link scoped to a branch.
type Resource struct {
	ID        string       `db:"id" json:"id"`
	BranchID  string       `db:"branch_id" json:"branch_id"`
	Kind      ResourceKind `db:"kind" json:"kind"`
	Name      string       `db:"name" json:"name"`
	Capacity  int          `db:"capacity" json:"capacity"`
	Active    bool         `db:"active" json:"active"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// Timeslot is a named start/end time template shared across sessions at a branch.
type Timeslot struct {
	ID        string    `db:"id" json:"id"`
	BranchID  string    `db:"branch_id" json:"branch_id"`
	Name      string    `db:"name" json:"name"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
