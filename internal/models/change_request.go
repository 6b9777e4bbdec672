package models

import (
	"fmt"
	"strings"
	"time"
)

// ChangeRequestKind enumerates supported schedule-change categories.
type ChangeRequestKind string

const (
	KindReschedule     ChangeRequestKind = "RESCHEDULE"
	KindSwap           ChangeRequestKind = "SWAP"
	KindModalityChange ChangeRequestKind = "MODALITY_CHANGE"
)

// ChangeRequestStatus captures workflow states for schedule-change requests.
// APPROVED and REJECTED are terminal; WAITING_CONFIRM may roll back to
// PENDING when the nominated teacher declines a swap.
type ChangeRequestStatus string

const (
	RequestPending        ChangeRequestStatus = "PENDING"
	RequestWaitingConfirm ChangeRequestStatus = "WAITING_CONFIRM"
	RequestApproved       ChangeRequestStatus = "APPROVED"
	RequestRejected       ChangeRequestStatus = "REJECTED"
)

// ChangeRequest is one teacher-initiated schedule change awaiting decision.
// Rows are never deleted; the full decision history stays for audit.
type ChangeRequest struct {
	ID        string              `db:"id" json:"id"`
	TeacherID string              `db:"teacher_id" json:"teacher_id"`
	SessionID string              `db:"session_id" json:"session_id"`
	Kind      ChangeRequestKind   `db:"kind" json:"kind"`
	Status    ChangeRequestStatus `db:"status" json:"status"`

	// Kind-specific payload; exactly one variant is populated per kind.
	ProposedDate         *time.Time `db:"proposed_date" json:"proposed_date,omitempty"`
	ProposedTimeslotID   *string    `db:"proposed_timeslot_id" json:"proposed_timeslot_id,omitempty"`
	ProposedResourceID   *string    `db:"proposed_resource_id" json:"proposed_resource_id,omitempty"`
	ReplacementTeacherID *string    `db:"replacement_teacher_id" json:"replacement_teacher_id,omitempty"`

	NewSessionID *string    `db:"new_session_id" json:"new_session_id,omitempty"`
	Note         *string    `db:"note" json:"note,omitempty"`
	DecidedBy    *string    `db:"decided_by" json:"decided_by,omitempty"`
	SubmittedAt  time.Time  `db:"submitted_at" json:"submitted_at"`
	DecidedAt    *time.Time `db:"decided_at" json:"decided_at,omitempty"`
}

// RescheduleDetails is the payload variant for RESCHEDULE requests.
type RescheduleDetails struct {
	Date       time.Time
	TimeslotID string
	ResourceID string
}

// ModalityChangeDetails is the payload variant for MODALITY_CHANGE requests.
type ModalityChangeDetails struct {
	ResourceID string
}

// SwapDetails is the payload variant for SWAP requests.
type SwapDetails struct {
	ReplacementTeacherID string
}

// Reschedule extracts the RESCHEDULE payload, failing when fields are missing.
func (r *ChangeRequest) Reschedule() (RescheduleDetails, error) {
	if r.Kind != KindReschedule {
		return RescheduleDetails{}, fmt.Errorf("request %s is %s, not %s", r.ID, r.Kind, KindReschedule)
	}
	if r.ProposedDate == nil || r.ProposedTimeslotID == nil || r.ProposedResourceID == nil {
		return RescheduleDetails{}, fmt.Errorf("request %s has incomplete reschedule payload", r.ID)
	}
	return RescheduleDetails{
		Date:       *r.ProposedDate,
		TimeslotID: *r.ProposedTimeslotID,
		ResourceID: *r.ProposedResourceID,
	}, nil
}

// ModalityChange extracts the MODALITY_CHANGE payload.
func (r *ChangeRequest) ModalityChange() (ModalityChangeDetails, error) {
	if r.Kind != KindModalityChange {
		return ModalityChangeDetails{}, fmt.Errorf("request %s is %s, not %s", r.ID, r.Kind, KindModalityChange)
	}
	if r.ProposedResourceID == nil {
		return ModalityChangeDetails{}, fmt.Errorf("request %s has no proposed resource", r.ID)
	}
	return ModalityChangeDetails{ResourceID: *r.ProposedResourceID}, nil
}

// Swap extracts the SWAP payload.
func (r *ChangeRequest) Swap() (SwapDetails, error) {
	if r.Kind != KindSwap {
		return SwapDetails{}, fmt.Errorf("request %s is %s, not %s", r.ID, r.Kind, KindSwap)
	}
	if r.ReplacementTeacherID == nil {
		return SwapDetails{}, fmt.Errorf("request %s has no replacement teacher", r.ID)
	}
	return SwapDetails{ReplacementTeacherID: *r.ReplacementTeacherID}, nil
}

// DeclineMarker renders the machine-readable note marker recorded when a
// nominated teacher declines a swap.
func DeclineMarker(teacherID string, at time.Time) string {
	return fmt.Sprintf("[declined_by:%s at:%s]", teacherID, at.UTC().Format(time.RFC3339))
}

// AppendNote joins an existing note and a new fragment with a newline.
func AppendNote(existing *string, fragment string) *string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return existing
	}
	if existing == nil || strings.TrimSpace(*existing) == "" {
		return &fragment
	}
	joined := *existing + "\n" + fragment
	return &joined
}

// ChangeRequestFilter constrains listing queries.
type ChangeRequestFilter struct {
	TeacherID            string
	ReplacementTeacherID string
	SessionID            string
	Status               []ChangeRequestStatus
	Kind                 ChangeRequestKind
	Limit                int
	Offset               int
}
