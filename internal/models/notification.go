package models

import "time"

// NotificationKind labels what a notification is about.
type NotificationKind string

const (
	NotifyRequestSubmitted NotificationKind = "REQUEST_SUBMITTED"
	NotifyRequestApproved  NotificationKind = "REQUEST_APPROVED"
	NotifyRequestRejected  NotificationKind = "REQUEST_REJECTED"
	NotifySwapNominated    NotificationKind = "SWAP_NOMINATED"
	NotifySwapConfirmed    NotificationKind = "SWAP_CONFIRMED"
	NotifySwapDeclined     NotificationKind = "SWAP_DECLINED"
)

// Notification is a fire-and-forget message to a user about a workflow
// transition. Delivery is best-effort and never gates the transition itself.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	RequestID string           `db:"request_id" json:"request_id"`
	Body      string           `db:"body" json:"body"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
