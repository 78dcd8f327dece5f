package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// CreatePOInput describes a new purchase order, optionally sourced from a request.
type CreatePOInput struct {
	RequestID      *int64
	RFQID          string
	SupplierID     int64
	SupplierName   string
	Items          []LineItem
	Delivery       Delivery
	PaymentTerms   string
	Terms          string
	Actor          shared.Actor
	IdempotencyKey string
}

// POPatch edits a draft purchase order.
type POPatch struct {
	Items        *[]LineItem
	Delivery     *Delivery
	PaymentTerms *string
	Terms        *string
}

// POFilters narrows a purchase order listing.
type POFilters struct {
	Status     POStatus
	SupplierID int64
	RequestID  int64
	From       *time.Time
	To         *time.Time
	Page       int
	Limit      int
}

// CreatePurchaseOrder persists a draft order. When it references a request, the
// request must be approved; it is marked ordered in the same transaction and its
// items are copied when none are given.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	release, err := s.claimKey(ctx, input.IdempotencyKey, "procurement.po")
	if err != nil {
		return PurchaseOrder{}, err
	}
	now := s.now().UTC()
	var po PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var req *Request
		if input.RequestID != nil {
			locked, err := tx.LockRequest(ctx, *input.RequestID)
			if err != nil {
				return err
			}
			if locked.Status != RequestApproved {
				return invalidState("request %s is %s, only approved requests can be ordered", locked.Number, locked.Status)
			}
			if len(input.Items) == 0 {
				input.Items = locked.Items
			}
			req = &locked
		}
		built, err := newPurchaseOrder(input, generateNumber("PO"), now)
		if err != nil {
			return err
		}
		id, err := tx.InsertPurchaseOrder(ctx, built)
		if err != nil {
			return err
		}
		built.ID = id
		po = built
		if req == nil {
			return nil
		}
		if err := req.MarkOrdered(id, now); err != nil {
			return err
		}
		return tx.UpdateRequest(ctx, *req)
	})
	if err != nil {
		release()
		return PurchaseOrder{}, err
	}
	meta := map[string]any{"number": po.Number, "supplier_id": po.SupplierID, "total": po.Total.String()}
	if po.RequestID != nil {
		meta["request_id"] = *po.RequestID
		s.afterCommit(ctx, entityRequest, "order", *po.RequestID, map[string]any{"purchase_order_id": po.ID})
	}
	s.afterCommit(ctx, entityPurchaseOrder, "create", po.ID, meta)
	return po, nil
}

// GetPurchaseOrder returns an order by id.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPurchaseOrder(ctx, id)
}

// PurchaseOrderTimeline returns the timeline of an order.
func (s *Service) PurchaseOrderTimeline(ctx context.Context, id int64) (map[TimelineEvent]TimelineEntry, error) {
	po, err := s.repo.GetPurchaseOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return po.Timeline, nil
}

// ListPurchaseOrders returns one page of orders and the total match count.
func (s *Service) ListPurchaseOrders(ctx context.Context, filters POFilters) ([]PurchaseOrder, shared.Pagination, error) {
	filters.Page, filters.Limit = shared.NormalizePage(filters.Page, filters.Limit)
	var (
		items []PurchaseOrder
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.repo.ListPurchaseOrders(gctx, filters)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.CountPurchaseOrders(gctx, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// UpdatePurchaseOrder edits a draft order.
func (s *Service) UpdatePurchaseOrder(ctx context.Context, id int64, patch POPatch) (PurchaseOrder, error) {
	po, err := s.mutatePurchaseOrder(ctx, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		return po.Revise(patch, s.now().UTC())
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.afterCommit(ctx, entityPurchaseOrder, "update", po.ID, map[string]any{"total": po.Total.String()})
	return po, nil
}

// IssuePurchaseOrder sends a draft order to the supplier.
func (s *Service) IssuePurchaseOrder(ctx context.Context, id int64, actor shared.Actor) (PurchaseOrder, error) {
	po, err := s.mutatePurchaseOrder(ctx, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		return po.Issue(actor, s.now().UTC())
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.afterCommit(ctx, entityPurchaseOrder, "issue", po.ID, map[string]any{"number": po.Number}, Notification{
		Event:     NotifyPOIssued,
		Recipient: Recipient{SupplierID: po.SupplierID},
		Message:   fmt.Sprintf("Purchase order %s issued to %s", po.Number, po.SupplierName),
	}.about(entityPurchaseOrder, po.ID, po.Number))
	return po, nil
}

// AcknowledgePurchaseOrder records the supplier confirmation.
func (s *Service) AcknowledgePurchaseOrder(ctx context.Context, id int64, actor shared.Actor, confirmation string) (PurchaseOrder, error) {
	po, err := s.mutatePurchaseOrder(ctx, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		return po.Acknowledge(actor, confirmation, s.now().UTC())
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.afterCommit(ctx, entityPurchaseOrder, "acknowledge", po.ID, map[string]any{"confirmation": confirmation})
	return po, nil
}

// ShipPurchaseOrder marks the order in transit.
func (s *Service) ShipPurchaseOrder(ctx context.Context, id int64, actor shared.Actor, trackingNumber, carrier string) (PurchaseOrder, error) {
	po, err := s.mutatePurchaseOrder(ctx, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		return po.Ship(actor, trackingNumber, carrier, s.now().UTC())
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.afterCommit(ctx, entityPurchaseOrder, "ship", po.ID, map[string]any{"tracking_number": trackingNumber, "carrier": carrier})
	return po, nil
}

// ReceivePurchaseOrder applies a goods receipt to the order.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, id int64, actor shared.Actor, receiptID int64) (PurchaseOrder, error) {
	po, err := s.mutatePurchaseOrder(ctx, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		receipt, err := tx.LockGoodsReceipt(ctx, receiptID)
		if err != nil {
			return err
		}
		if receipt.Status == GRStatusDraft {
			return invalidState("goods receipt %s has not been received", receipt.Number)
		}
		return po.Receive(actor, receipt, s.now().UTC())
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.afterCommit(ctx, entityPurchaseOrder, "receive", po.ID, map[string]any{"receipt_id": receiptID, "status": po.Status}, Notification{
		Event:     NotifyPOReceived,
		Recipient: Recipient{Role: shared.RoleProcurementOfficer},
		Message:   fmt.Sprintf("Purchase order %s is %s", po.Number, po.Status),
	}.about(entityPurchaseOrder, po.ID, po.Number))
	return po, nil
}

// CompletePurchaseOrder closes a received order.
func (s *Service) CompletePurchaseOrder(ctx context.Context, id int64, actor shared.Actor) (PurchaseOrder, error) {
	po, err := s.mutatePurchaseOrder(ctx, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		return po.Complete(actor, s.now().UTC())
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.afterCommit(ctx, entityPurchaseOrder, "complete", po.ID, nil)
	return po, nil
}

// CancelPurchaseOrder cancels an order that is not completed. Budget commitments are untouched.
func (s *Service) CancelPurchaseOrder(ctx context.Context, id int64, actor shared.Actor, reason string) (PurchaseOrder, error) {
	if reason == "" {
		return PurchaseOrder{}, invalid(shared.FieldErrors{"reason": "is required"})
	}
	po, err := s.mutatePurchaseOrder(ctx, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		return po.Cancel(actor, reason, s.now().UTC())
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.afterCommit(ctx, entityPurchaseOrder, "cancel", po.ID, map[string]any{"reason": reason})
	return po, nil
}

func (s *Service) mutatePurchaseOrder(ctx context.Context, id int64, fn func(context.Context, TxRepository, *PurchaseOrder) error) (PurchaseOrder, error) {
	var out PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &po); err != nil {
			return err
		}
		if err := tx.UpdatePurchaseOrder(ctx, po); err != nil {
			return err
		}
		po.Version++
		out = po
		return nil
	})
	return out, err
}

// CreateReceiptInput describes a delivery against an order.
type CreateReceiptInput struct {
	POID           int64
	Items          []ReceiptItem
	ReceivedDate   time.Time
	Notes          string
	Actor          shared.Actor
	IdempotencyKey string
}

// ReceiptPatch edits a receipt that is not completed.
type ReceiptPatch struct {
	Items *[]ReceiptItem
	Notes *string
}

// InspectionInput carries a quality verdict.
type InspectionInput struct {
	Status InspectionStatus
	Notes  string
	Score  *int
	Issues []string
}

// ReceiptFilters narrows a goods receipt listing.
type ReceiptFilters struct {
	Status            GRStatus
	POID              int64
	PendingInspection bool
	Page              int
	Limit             int
}

// CreateGoodsReceipt records a draft receipt against a purchase order.
func (s *Service) CreateGoodsReceipt(ctx context.Context, input CreateReceiptInput) (GoodsReceipt, error) {
	if input.POID <= 0 {
		return GoodsReceipt{}, invalid(shared.FieldErrors{"purchase_order_id": "is required"})
	}
	release, err := s.claimKey(ctx, input.IdempotencyKey, "procurement.grn")
	if err != nil {
		return GoodsReceipt{}, err
	}
	var gr GoodsReceipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPurchaseOrder(ctx, input.POID)
		if err != nil {
			return err
		}
		built, err := newGoodsReceipt(po, input, generateNumber("GR"), s.now().UTC())
		if err != nil {
			return err
		}
		id, err := tx.InsertGoodsReceipt(ctx, built)
		if err != nil {
			return err
		}
		built.ID = id
		gr = built
		return nil
	})
	if err != nil {
		release()
		return GoodsReceipt{}, err
	}
	s.afterCommit(ctx, entityGoodsReceipt, "create", gr.ID, map[string]any{
		"number": gr.Number, "purchase_order_id": gr.POID, "value": gr.TotalReceivedValue.String(),
	})
	return gr, nil
}

// GetGoodsReceipt returns a receipt by id.
func (s *Service) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return s.repo.GetGoodsReceipt(ctx, id)
}

// ListGoodsReceipts returns one page of receipts and the total match count.
func (s *Service) ListGoodsReceipts(ctx context.Context, filters ReceiptFilters) ([]GoodsReceipt, shared.Pagination, error) {
	filters.Page, filters.Limit = shared.NormalizePage(filters.Page, filters.Limit)
	var (
		items []GoodsReceipt
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.repo.ListGoodsReceipts(gctx, filters)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.CountGoodsReceipts(gctx, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// PendingInspection lists receipts waiting on a quality verdict.
func (s *Service) PendingInspection(ctx context.Context, page, limit int) ([]GoodsReceipt, shared.Pagination, error) {
	return s.ListGoodsReceipts(ctx, ReceiptFilters{PendingInspection: true, Page: page, Limit: limit})
}

// UpdateGoodsReceipt edits the items or notes of a receipt that is not completed.
func (s *Service) UpdateGoodsReceipt(ctx context.Context, id int64, patch ReceiptPatch) (GoodsReceipt, error) {
	current, err := s.repo.GetGoodsReceipt(ctx, id)
	if err != nil {
		return GoodsReceipt{}, err
	}
	var gr GoodsReceipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPurchaseOrder(ctx, current.POID)
		if err != nil {
			return err
		}
		locked, err := tx.LockGoodsReceipt(ctx, id)
		if err != nil {
			return err
		}
		if err := locked.Revise(po, patch, s.now().UTC()); err != nil {
			return err
		}
		if err := tx.UpdateGoodsReceipt(ctx, locked); err != nil {
			return err
		}
		locked.Version++
		gr = locked
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.afterCommit(ctx, entityGoodsReceipt, "update", gr.ID, map[string]any{"value": gr.TotalReceivedValue.String()})
	return gr, nil
}

// MarkGoodsReceived confirms physical arrival of a draft receipt.
func (s *Service) MarkGoodsReceived(ctx context.Context, id int64, actor shared.Actor) (GoodsReceipt, error) {
	gr, err := s.mutateGoodsReceipt(ctx, id, func(gr *GoodsReceipt) error {
		return gr.MarkReceived(actor, s.now().UTC())
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.afterCommit(ctx, entityGoodsReceipt, "receive", gr.ID, nil)
	return gr, nil
}

// Inspect records a quality verdict on a receipt.
func (s *Service) Inspect(ctx context.Context, id int64, actor shared.Actor, input InspectionInput) (GoodsReceipt, error) {
	gr, err := s.mutateGoodsReceipt(ctx, id, func(gr *GoodsReceipt) error {
		return gr.Inspect(actor, input, s.now().UTC())
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	var notes []Notification
	if gr.Status == GRStatusRejected {
		notes = append(notes, Notification{
			Event:     NotifyReceiptRejected,
			Recipient: Recipient{Role: shared.RoleProcurementOfficer},
			Message:   fmt.Sprintf("Goods receipt %s was rejected at inspection", gr.Number),
		}.about(entityGoodsReceipt, gr.ID, gr.Number))
	}
	s.afterCommit(ctx, entityGoodsReceipt, "inspect", gr.ID, map[string]any{"inspection": input.Status, "status": gr.Status}, notes...)
	return gr, nil
}

// ReportDiscrepancy flags a delivery problem and rejects the receipt.
func (s *Service) ReportDiscrepancy(ctx context.Context, id int64, actor shared.Actor, kind DiscrepancyType, description, notes string) (GoodsReceipt, error) {
	gr, err := s.mutateGoodsReceipt(ctx, id, func(gr *GoodsReceipt) error {
		return gr.ReportDiscrepancy(actor, kind, description, notes, s.now().UTC())
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.afterCommit(ctx, entityGoodsReceipt, "report_discrepancy", gr.ID, map[string]any{"type": kind}, Notification{
		Event:     NotifyDiscrepancyReported,
		Recipient: Recipient{Role: shared.RoleProcurementOfficer},
		Message:   fmt.Sprintf("Discrepancy reported on goods receipt %s: %s", gr.Number, description),
	}.about(entityGoodsReceipt, gr.ID, gr.Number))
	return gr, nil
}

// ResolveDiscrepancy resolves the open discrepancy and accepts the receipt.
func (s *Service) ResolveDiscrepancy(ctx context.Context, id int64, actor shared.Actor, resolution string) (GoodsReceipt, error) {
	var overridden bool
	gr, err := s.mutateGoodsReceipt(ctx, id, func(gr *GoodsReceipt) error {
		var err error
		overridden, err = gr.ResolveDiscrepancy(actor, resolution, s.now().UTC())
		return err
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	if overridden {
		s.logger.Info("discrepancy resolution overrides failed inspection", slog.Int64("receipt_id", gr.ID))
	}
	s.afterCommit(ctx, entityGoodsReceipt, "resolve_discrepancy", gr.ID, map[string]any{
		"resolution": resolution, "override_inspection": overridden,
	})
	return gr, nil
}

// CompleteGoodsReceipt finalises an accepted receipt.
func (s *Service) CompleteGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	gr, err := s.mutateGoodsReceipt(ctx, id, func(gr *GoodsReceipt) error {
		return gr.Complete(s.now().UTC())
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.afterCommit(ctx, entityGoodsReceipt, "complete", gr.ID, nil)
	return gr, nil
}

func (s *Service) mutateGoodsReceipt(ctx context.Context, id int64, fn func(*GoodsReceipt) error) (GoodsReceipt, error) {
	var out GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gr, err := tx.LockGoodsReceipt(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(&gr); err != nil {
			return err
		}
		if err := tx.UpdateGoodsReceipt(ctx, gr); err != nil {
			return err
		}
		gr.Version++
		out = gr
		return nil
	})
	return out, err
}
