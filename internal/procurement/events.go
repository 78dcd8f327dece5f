package procurement

import (
	"context"
	"time"
)

// NotificationEvent names the workflow change a notification reports.
type NotificationEvent string

const (
	NotifyRequestSubmitted    NotificationEvent = "request.submitted"
	NotifyStepApproved        NotificationEvent = "request.step_approved"
	NotifyRequestApproved     NotificationEvent = "request.approved"
	NotifyRequestRejected     NotificationEvent = "request.rejected"
	NotifyRequestCancelled    NotificationEvent = "request.cancelled"
	NotifyPOIssued            NotificationEvent = "purchase_order.issued"
	NotifyPOReceived          NotificationEvent = "purchase_order.received"
	NotifyDiscrepancyReported NotificationEvent = "goods_receipt.discrepancy_reported"
	NotifyReceiptRejected     NotificationEvent = "goods_receipt.rejected"
)

// Recipient addresses a notification to a user, a role or a supplier.
type Recipient struct {
	UserID     int64  `json:"user_id,omitempty"`
	Role       string `json:"role,omitempty"`
	SupplierID int64  `json:"supplier_id,omitempty"`
}

// Notification describes a fire-and-forget message about a state change.
type Notification struct {
	Event      NotificationEvent `json:"event"`
	Entity     string            `json:"entity"`
	EntityID   int64             `json:"entity_id"`
	Number     string            `json:"number"`
	Recipient  Recipient         `json:"recipient"`
	Message    string            `json:"message"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier dispatches notifications. Failures are logged by the caller, never propagated.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// TransitionRecorder counts workflow transitions.
type TransitionRecorder interface {
	RecordTransition(entity, action string)
}
