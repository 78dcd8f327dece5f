package procurement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// GRStatus enumerates goods receipt states.
type GRStatus string

const (
	GRStatusDraft     GRStatus = "draft"
	GRStatusReceived  GRStatus = "received"
	GRStatusInspected GRStatus = "inspected"
	GRStatusAccepted  GRStatus = "accepted"
	GRStatusRejected  GRStatus = "rejected"
	GRStatusCompleted GRStatus = "completed"
)

// InspectionStatus is the quality verdict on a receipt.
type InspectionStatus string

const (
	InspectionPending     InspectionStatus = "pending"
	InspectionInProgress  InspectionStatus = "in_progress"
	InspectionPassed      InspectionStatus = "passed"
	InspectionFailed      InspectionStatus = "failed"
	InspectionConditional InspectionStatus = "conditional"
)

// DiscrepancyType classifies a delivery problem.
type DiscrepancyType string

const (
	DiscrepancyShortage      DiscrepancyType = "quantity_shortage"
	DiscrepancyExcess        DiscrepancyType = "quantity_excess"
	DiscrepancyWrongItem     DiscrepancyType = "wrong_item"
	DiscrepancyDamaged       DiscrepancyType = "damaged_goods"
	DiscrepancyQuality       DiscrepancyType = "quality_issue"
	DiscrepancyDocumentation DiscrepancyType = "missing_documentation"
	DiscrepancyOther         DiscrepancyType = "other"
)

// Valid reports whether t is a known discrepancy type.
func (t DiscrepancyType) Valid() bool {
	switch t {
	case DiscrepancyShortage, DiscrepancyExcess, DiscrepancyWrongItem, DiscrepancyDamaged,
		DiscrepancyQuality, DiscrepancyDocumentation, DiscrepancyOther:
		return true
	}
	return false
}

// ReceiptItem is one received line.
type ReceiptItem struct {
	Name             string          `json:"name"`
	OrderedQuantity  decimal.Decimal `json:"ordered_quantity"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Category         Category        `json:"category"`
}

// Quality is the inspection sub-record.
type Quality struct {
	InspectionStatus InspectionStatus `json:"inspection_status"`
	InspectorID      int64            `json:"inspector_id,omitempty"`
	InspectorName    string           `json:"inspector_name,omitempty"`
	InspectedAt      *time.Time       `json:"inspected_at,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	Score            *int             `json:"quality_score,omitempty"`
	Issues           []string         `json:"issues,omitempty"`
}

// Discrepancy is the delivery problem sub-record.
type Discrepancy struct {
	HasDiscrepancy bool            `json:"has_discrepancy"`
	Type           DiscrepancyType `json:"type,omitempty"`
	Description    string          `json:"description,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	ReportedBy     int64           `json:"reported_by,omitempty"`
	ReportedAt     *time.Time      `json:"reported_at,omitempty"`
	Resolved       bool            `json:"resolved"`
	Resolution     string          `json:"resolution,omitempty"`
	ResolvedBy     int64           `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

func (d Discrepancy) open() bool {
	return d.HasDiscrepancy && !d.Resolved
}

// GoodsReceipt records a delivery against one purchase order.
type GoodsReceipt struct {
	ID                 int64           `json:"id"`
	Number             string          `json:"receipt_number"`
	POID               int64           `json:"purchase_order_id"`
	Items              []ReceiptItem   `json:"items"`
	TotalReceivedValue decimal.Decimal `json:"total_received_value"`
	ReceivedDate       time.Time       `json:"received_date"`
	ReceivedBy         int64           `json:"received_by"`
	ReceivedByName     string          `json:"received_by_name,omitempty"`
	Quality            Quality         `json:"quality_inspection"`
	Discrepancy        Discrepancy     `json:"discrepancy"`
	Status             GRStatus        `json:"status"`
	Notes              string          `json:"notes,omitempty"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

func receivedValue(items []ReceiptItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.ReceivedQuantity.Mul(item.UnitPrice))
	}
	return total
}

// validateReceiptItems checks received lines against the order they belong to.
func validateReceiptItems(po PurchaseOrder, items []ReceiptItem, errs shared.FieldErrors) {
	if len(items) == 0 {
		errs["items"] = "at least one item is required"
		return
	}
	for i, item := range items {
		prefix := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.Name) == "" {
			errs[prefix+".name"] = "is required"
		} else if po.itemIndex(item.Name) < 0 {
			errs[prefix+".name"] = "is not on the purchase order"
		}
		if item.ReceivedQuantity.IsNegative() {
			errs[prefix+".received_quantity"] = "must not be negative"
		}
		if item.UnitPrice.IsNegative() {
			errs[prefix+".unit_price"] = "must not be negative"
		}
	}
}

// fillFromOrder copies ordered quantity, price and category from the matching PO line.
func fillFromOrder(po PurchaseOrder, items []ReceiptItem) []ReceiptItem {
	out := make([]ReceiptItem, 0, len(items))
	for _, item := range items {
		if idx := po.itemIndex(item.Name); idx >= 0 {
			line := po.Items[idx]
			if item.OrderedQuantity.IsZero() {
				item.OrderedQuantity = line.Quantity
			}
			if item.UnitPrice.IsZero() {
				item.UnitPrice = line.UnitPrice
			}
			if item.Category == "" {
				item.Category = line.Category
			}
		}
		out = append(out, item)
	}
	return out
}

func newGoodsReceipt(po PurchaseOrder, in CreateReceiptInput, number string, now time.Time) (GoodsReceipt, error) {
	if po.Status == POStatusCancelled {
		return GoodsReceipt{}, invalidState("purchase order %s is cancelled", po.Number)
	}
	errs := shared.FieldErrors{}
	validateReceiptItems(po, in.Items, errs)
	if len(errs) > 0 {
		return GoodsReceipt{}, invalid(errs)
	}
	received := in.ReceivedDate
	if received.IsZero() {
		received = now
	}
	items := fillFromOrder(po, in.Items)
	return GoodsReceipt{
		Number:             number,
		POID:               po.ID,
		Items:              items,
		TotalReceivedValue: receivedValue(items),
		ReceivedDate:       received,
		ReceivedBy:         in.Actor.ID,
		ReceivedByName:     in.Actor.Name,
		Quality:            Quality{InspectionStatus: InspectionPending},
		Status:             GRStatusDraft,
		Notes:              in.Notes,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (g GoodsReceipt) editable() error {
	if g.Status == GRStatusCompleted {
		return invalidState("goods receipt %s is completed", g.Number)
	}
	return nil
}

// Revise replaces items or notes on a receipt that is not completed.
func (g *GoodsReceipt) Revise(po PurchaseOrder, patch ReceiptPatch, now time.Time) error {
	if err := g.editable(); err != nil {
		return err
	}
	if patch.Items != nil {
		errs := shared.FieldErrors{}
		validateReceiptItems(po, *patch.Items, errs)
		if len(errs) > 0 {
			return invalid(errs)
		}
		g.Items = fillFromOrder(po, *patch.Items)
		g.TotalReceivedValue = receivedValue(g.Items)
	}
	if patch.Notes != nil {
		g.Notes = *patch.Notes
	}
	g.UpdatedAt = now
	return nil
}

// MarkReceived confirms physical arrival of a draft receipt.
func (g *GoodsReceipt) MarkReceived(actor shared.Actor, now time.Time) error {
	if g.Status != GRStatusDraft {
		return invalidState("goods receipt %s is %s, only drafts can be received", g.Number, g.Status)
	}
	g.Status = GRStatusReceived
	g.ReceivedBy = actor.ID
	g.ReceivedByName = actor.Name
	g.UpdatedAt = now
	return nil
}

// Inspect records the quality verdict and derives the receipt status from it
// and the discrepancy state.
func (g *GoodsReceipt) Inspect(actor shared.Actor, in InspectionInput, now time.Time) error {
	if err := g.editable(); err != nil {
		return err
	}
	errs := shared.FieldErrors{}
	switch in.Status {
	case InspectionInProgress, InspectionPassed, InspectionFailed, InspectionConditional:
	default:
		errs["inspection_status"] = "must be in_progress, passed, failed or conditional"
	}
	if in.Score != nil && (*in.Score < 0 || *in.Score > 100) {
		errs["quality_score"] = "must be between 0 and 100"
	}
	if len(errs) > 0 {
		return invalid(errs)
	}
	g.Quality = Quality{
		InspectionStatus: in.Status,
		InspectorID:      actor.ID,
		InspectorName:    actor.Name,
		InspectedAt:      &now,
		Notes:            in.Notes,
		Score:            in.Score,
		Issues:           in.Issues,
	}
	switch {
	case in.Status == InspectionFailed || g.Discrepancy.open():
		g.Status = GRStatusRejected
	case in.Status == InspectionPassed:
		g.Status = GRStatusAccepted
	case in.Status == InspectionConditional:
		g.Status = GRStatusInspected
	}
	g.UpdatedAt = now
	return nil
}

// ReportDiscrepancy flags a delivery problem and rejects the receipt until resolved.
func (g *GoodsReceipt) ReportDiscrepancy(actor shared.Actor, kind DiscrepancyType, description, notes string, now time.Time) error {
	if err := g.editable(); err != nil {
		return err
	}
	errs := shared.FieldErrors{}
	if !kind.Valid() {
		errs["type"] = "is not a known discrepancy type"
	}
	if strings.TrimSpace(description) == "" {
		errs["description"] = "is required"
	}
	if len(errs) > 0 {
		return invalid(errs)
	}
	g.Discrepancy = Discrepancy{
		HasDiscrepancy: true,
		Type:           kind,
		Description:    description,
		Notes:          notes,
		ReportedBy:     actor.ID,
		ReportedAt:     &now,
	}
	g.Status = GRStatusRejected
	g.UpdatedAt = now
	return nil
}

// ResolveDiscrepancy closes the open discrepancy and accepts the receipt, overriding
// any earlier inspection verdict. It reports whether a failed inspection was overridden.
func (g *GoodsReceipt) ResolveDiscrepancy(actor shared.Actor, resolution string, now time.Time) (bool, error) {
	if err := g.editable(); err != nil {
		return false, err
	}
	if strings.TrimSpace(resolution) == "" {
		return false, invalid(shared.FieldErrors{"resolution": "is required"})
	}
	if !g.Discrepancy.open() {
		return false, invalidState("goods receipt %s has no open discrepancy", g.Number)
	}
	g.Discrepancy.Resolved = true
	g.Discrepancy.Resolution = resolution
	g.Discrepancy.ResolvedBy = actor.ID
	g.Discrepancy.ResolvedAt = &now
	g.Status = GRStatusAccepted
	g.UpdatedAt = now
	return g.Quality.InspectionStatus == InspectionFailed, nil
}

// Complete finalises an accepted receipt. Completed receipts are immutable.
func (g *GoodsReceipt) Complete(now time.Time) error {
	if g.Status != GRStatusAccepted {
		return invalidState("goods receipt %s is %s, only accepted receipts can be completed", g.Number, g.Status)
	}
	g.Status = GRStatusCompleted
	g.CompletedAt = &now
	g.UpdatedAt = now
	return nil
}

// AwaitingInspection reports whether the receipt belongs on the inspection queue.
func (g GoodsReceipt) AwaitingInspection() bool {
	return g.Quality.InspectionStatus == InspectionPending &&
		(g.Status == GRStatusReceived || g.Status == GRStatusInspected)
}
