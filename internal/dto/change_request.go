package dto

import (
	"time"

	"github.com/edukita/center-ops-api/internal/models"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a wire date into a UTC day value.
func ParseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, raw, time.UTC)
}

// ReschedulePayload proposes a new (date, timeslot, resource) for the session.
type ReschedulePayload struct {
	Date       string `json:"date" validate:"required"`
	TimeslotID string `json:"timeslot_id" validate:"required"`
	ResourceID string `json:"resource_id" validate:"required"`
}

// ModalityChangePayload proposes a new resource for the same slot.
type ModalityChangePayload struct {
	ResourceID string `json:"resource_id" validate:"required"`
}

// SwapPayload nominates a replacement teacher for the session.
type SwapPayload struct {
	ReplacementTeacherID string `json:"replacement_teacher_id" validate:"required"`
}

// SubmitChangeRequest is the teacher-facing submission payload. Exactly one
// payload variant must be set, matching the kind.
type SubmitChangeRequest struct {
	SessionID      string                   `json:"session_id" validate:"required"`
	Kind           models.ChangeRequestKind `json:"kind" validate:"required"`
	Reason         string                   `json:"reason"`
	Reschedule     *ReschedulePayload       `json:"reschedule,omitempty"`
	ModalityChange *ModalityChangePayload   `json:"modality_change,omitempty"`
	Swap           *SwapPayload             `json:"swap,omitempty"`
}

// OverridePayload lets staff adjust the proposal at approval time, e.g.
// nominate a different replacement teacher after a decline.
type OverridePayload struct {
	Date                 *string `json:"date,omitempty"`
	TimeslotID           *string `json:"timeslot_id,omitempty"`
	ResourceID           *string `json:"resource_id,omitempty"`
	ReplacementTeacherID *string `json:"replacement_teacher_id,omitempty"`
}

// ApproveRequest is the staff approval payload.
type ApproveRequest struct {
	Note     string           `json:"note"`
	Override *OverridePayload `json:"override,omitempty"`
}

// RejectRequest is the staff rejection payload.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// DeclineSwapRequest is the nominated teacher's decline payload.
type DeclineSwapRequest struct {
	Reason string `json:"reason"`
}

// ChangeRequestQuery constrains the read-only listing surface.
type ChangeRequestQuery struct {
	Status    []models.ChangeRequestStatus
	Kind      models.ChangeRequestKind
	SessionID string
	Limit     int
	Offset    int
}
