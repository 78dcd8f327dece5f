package procurement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// POStatus enumerates purchase order states.
type POStatus string

const (
	POStatusDraft             POStatus = "draft"
	POStatusIssued            POStatus = "issued"
	POStatusAcknowledged      POStatus = "acknowledged"
	POStatusInTransit         POStatus = "in_transit"
	POStatusReceived          POStatus = "received"
	POStatusPartiallyReceived POStatus = "partially_received"
	POStatusCompleted         POStatus = "completed"
	POStatusCancelled         POStatus = "cancelled"
)

// TimelineEvent keys the purchase order timeline.
type TimelineEvent string

const (
	EventCreated      TimelineEvent = "created"
	EventIssued       TimelineEvent = "issued"
	EventAcknowledged TimelineEvent = "acknowledged"
	EventShipped      TimelineEvent = "shipped"
	EventReceived     TimelineEvent = "received"
	EventCompleted    TimelineEvent = "completed"
	EventCancelled    TimelineEvent = "cancelled"
)

// DefaultPaymentTerms applies when an order names none.
const DefaultPaymentTerms = "net_30"

// POItem is an ordered line together with the quantity received so far.
type POItem struct {
	LineItem
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
}

// Delivery carries shipping details.
type Delivery struct {
	ExpectedDate   *time.Time `json:"expected_date,omitempty"`
	Address        string     `json:"address,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	Carrier        string     `json:"carrier,omitempty"`
}

// TimelineEntry records who moved the order and when.
type TimelineEntry struct {
	At        time.Time         `json:"date"`
	ActorID   int64             `json:"actor_id,omitempty"`
	ActorName string            `json:"actor_name,omitempty"`
	Meta      map[string]string `json:"metadata,omitempty"`
}

// POComment is a free-text note on the order.
type POComment struct {
	At        time.Time `json:"date"`
	ActorID   int64     `json:"actor_id,omitempty"`
	ActorName string    `json:"actor_name,omitempty"`
	Text      string    `json:"text"`
}

// PurchaseOrder is the supplier facing commitment.
type PurchaseOrder struct {
	ID           int64                           `json:"id"`
	Number       string                          `json:"po_number"`
	RequestID    *int64                          `json:"request_id,omitempty"`
	RFQID        string                          `json:"rfq_id,omitempty"`
	SupplierID   int64                           `json:"supplier_id"`
	SupplierName string                          `json:"supplier_name"`
	Items        []POItem                        `json:"items"`
	Total        decimal.Decimal                 `json:"total_amount"`
	Delivery     Delivery                        `json:"delivery"`
	PaymentTerms string                          `json:"payment_terms"`
	Terms        string                          `json:"terms,omitempty"`
	Status       POStatus                        `json:"status"`
	Timeline     map[TimelineEvent]TimelineEntry `json:"timeline"`
	Comments     []POComment                     `json:"comments"`
	ReceiptIDs   []int64                         `json:"receipt_ids"`
	Version      int64                           `json:"version"`
	CreatedBy    int64                           `json:"created_by"`
	CreatedAt    time.Time                       `json:"created_at"`
	UpdatedAt    time.Time                       `json:"updated_at"`
}

func toPOItems(items []LineItem) []POItem {
	out := make([]POItem, 0, len(items))
	for _, item := range items {
		out = append(out, POItem{LineItem: item, ReceivedQuantity: decimal.Zero})
	}
	return out
}

func poItemsTotal(items []POItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Total())
	}
	return total
}

func newPurchaseOrder(in CreatePOInput, number string, now time.Time) (PurchaseOrder, error) {
	errs := shared.FieldErrors{}
	if in.SupplierID <= 0 {
		errs["supplier_id"] = "is required"
	}
	if strings.TrimSpace(in.SupplierName) == "" {
		errs["supplier_name"] = "is required"
	}
	validateItems(in.Items, "items", errs)
	if len(errs) > 0 {
		return PurchaseOrder{}, invalid(errs)
	}
	po := PurchaseOrder{
		Number:       number,
		RequestID:    in.RequestID,
		RFQID:        in.RFQID,
		SupplierID:   in.SupplierID,
		SupplierName: in.SupplierName,
		Items:        toPOItems(in.Items),
		Delivery:     in.Delivery,
		PaymentTerms: in.PaymentTerms,
		Terms:        in.Terms,
		Status:       POStatusDraft,
		Comments:     []POComment{},
		ReceiptIDs:   []int64{},
		Version:      1,
		CreatedBy:    in.Actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if po.PaymentTerms == "" {
		po.PaymentTerms = DefaultPaymentTerms
	}
	po.Total = poItemsTotal(po.Items)
	po.Timeline = map[TimelineEvent]TimelineEntry{}
	po.mark(EventCreated, in.Actor, now, nil)
	return po, nil
}

func (po *PurchaseOrder) mark(event TimelineEvent, actor shared.Actor, now time.Time, meta map[string]string) {
	if po.Timeline == nil {
		po.Timeline = map[TimelineEvent]TimelineEntry{}
	}
	po.Timeline[event] = TimelineEntry{At: now, ActorID: actor.ID, ActorName: actor.Name, Meta: meta}
	po.UpdatedAt = now
}

func (po *PurchaseOrder) advance(from []POStatus, to POStatus) error {
	for _, status := range from {
		if po.Status == status {
			po.Status = to
			return nil
		}
	}
	return invalidState("purchase order %s is %s, cannot move to %s", po.Number, po.Status, to)
}

// Revise edits a draft order and recomputes its total.
func (po *PurchaseOrder) Revise(patch POPatch, now time.Time) error {
	if po.Status != POStatusDraft {
		return invalidState("purchase order %s is %s, only drafts can be edited", po.Number, po.Status)
	}
	if patch.Items != nil {
		errs := shared.FieldErrors{}
		validateItems(*patch.Items, "items", errs)
		if len(errs) > 0 {
			return invalid(errs)
		}
		po.Items = toPOItems(*patch.Items)
		po.Total = poItemsTotal(po.Items)
	}
	if patch.Delivery != nil {
		po.Delivery = *patch.Delivery
	}
	if patch.PaymentTerms != nil && *patch.PaymentTerms != "" {
		po.PaymentTerms = *patch.PaymentTerms
	}
	if patch.Terms != nil {
		po.Terms = *patch.Terms
	}
	po.UpdatedAt = now
	return nil
}

// Issue sends a draft order to the supplier.
func (po *PurchaseOrder) Issue(actor shared.Actor, now time.Time) error {
	if err := po.advance([]POStatus{POStatusDraft}, POStatusIssued); err != nil {
		return err
	}
	po.mark(EventIssued, actor, now, nil)
	return nil
}

// Acknowledge records the supplier confirmation.
func (po *PurchaseOrder) Acknowledge(actor shared.Actor, confirmation string, now time.Time) error {
	if err := po.advance([]POStatus{POStatusIssued}, POStatusAcknowledged); err != nil {
		return err
	}
	po.mark(EventAcknowledged, actor, now, map[string]string{"supplier_confirmation": confirmation})
	return nil
}

// Ship marks the order in transit with tracking details.
func (po *PurchaseOrder) Ship(actor shared.Actor, trackingNumber, carrier string, now time.Time) error {
	if err := po.advance([]POStatus{POStatusAcknowledged}, POStatusInTransit); err != nil {
		return err
	}
	po.Delivery.TrackingNumber = trackingNumber
	po.Delivery.Carrier = carrier
	po.mark(EventShipped, actor, now, map[string]string{"tracking_number": trackingNumber, "carrier": carrier})
	return nil
}

// Receive folds a goods receipt into the ordered quantities. The order is
// received once every line is covered, otherwise partially received.
func (po *PurchaseOrder) Receive(actor shared.Actor, receipt GoodsReceipt, now time.Time) error {
	if po.Status != POStatusInTransit && po.Status != POStatusPartiallyReceived {
		return invalidState("purchase order %s is %s, cannot receive", po.Number, po.Status)
	}
	if receipt.POID != po.ID {
		return fmt.Errorf("receipt %s belongs to another order: %w", receipt.Number, ErrValidation)
	}
	for _, id := range po.ReceiptIDs {
		if id == receipt.ID {
			return invalidState("receipt %s already applied to %s", receipt.Number, po.Number)
		}
	}
	for _, received := range receipt.Items {
		if idx := po.itemIndex(received.Name); idx >= 0 {
			po.Items[idx].ReceivedQuantity = po.Items[idx].ReceivedQuantity.Add(received.ReceivedQuantity)
		}
	}
	po.ReceiptIDs = append(po.ReceiptIDs, receipt.ID)
	if po.fullyReceived() {
		po.Status = POStatusReceived
	} else {
		po.Status = POStatusPartiallyReceived
	}
	po.mark(EventReceived, actor, now, map[string]string{
		"receipt_id":     fmt.Sprintf("%d", receipt.ID),
		"receipt_number": receipt.Number,
	})
	return nil
}

func (po PurchaseOrder) itemIndex(name string) int {
	for i, item := range po.Items {
		if strings.EqualFold(item.Name, name) {
			return i
		}
	}
	return -1
}

func (po PurchaseOrder) fullyReceived() bool {
	for _, item := range po.Items {
		if item.ReceivedQuantity.LessThan(item.Quantity) {
			return false
		}
	}
	return true
}

// Complete closes a fully received order.
func (po *PurchaseOrder) Complete(actor shared.Actor, now time.Time) error {
	if err := po.advance([]POStatus{POStatusReceived}, POStatusCompleted); err != nil {
		return err
	}
	po.mark(EventCompleted, actor, now, nil)
	return nil
}

// Cancel stops the order unless it is already completed or cancelled.
func (po *PurchaseOrder) Cancel(actor shared.Actor, reason string, now time.Time) error {
	if po.Status == POStatusCompleted || po.Status == POStatusCancelled {
		return invalidState("purchase order %s is %s and cannot be cancelled", po.Number, po.Status)
	}
	po.Status = POStatusCancelled
	po.Comments = append(po.Comments, POComment{At: now, ActorID: actor.ID, ActorName: actor.Name, Text: "Cancelled: " + reason})
	po.mark(EventCancelled, actor, now, map[string]string{"reason": reason})
	return nil
}
