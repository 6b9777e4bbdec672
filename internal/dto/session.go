package dto

// AvailabilityQuery asks whether a (resource, date, timeslot) is free.
// ExcludeSessionID lets a session keep its own current reservation.
type AvailabilityQuery struct {
	ResourceID       string `form:"resource_id" validate:"required"`
	Date             string `form:"date" validate:"required"`
	TimeslotID       string `form:"timeslot_id" validate:"required"`
	ExcludeSessionID string `form:"exclude_session_id"`
}

// AvailabilityResult is the answer to an availability probe.
type AvailabilityResult struct {
	Available bool `json:"available"`
}
