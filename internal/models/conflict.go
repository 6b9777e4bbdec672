package models

import "time"

// OccupancyConflict describes the slot a proposed reservation collided with,
// with enough detail for a caller to suggest an alternative.
type OccupancyConflict struct {
	ResourceID      string    `json:"resource_id"`
	Date            time.Time `json:"date"`
	TimeslotID      string    `json:"timeslot_id"`
	HeldBySessionID string    `json:"held_by_session_id,omitempty"`
}
