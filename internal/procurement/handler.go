package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/budget"
	"github.com/odyssey-erp/odyssey-procure/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procure/internal/rbac"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator(), rbac: rbac}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProcurementView))
		r.Get("/requests", h.listRequests)
		r.Get("/requests/{id}", h.getRequest)
		r.Get("/requests/{id}/budget-check", h.checkBudget)
		r.Get("/purchase-orders", h.listPurchaseOrders)
		r.Get("/purchase-orders/{id}", h.getPurchaseOrder)
		r.Get("/purchase-orders/{id}/timeline", h.purchaseOrderTimeline)
		r.Get("/goods-receipts", h.listGoodsReceipts)
		r.Get("/goods-receipts/pending-inspection", h.pendingInspection)
		r.Get("/goods-receipts/{id}", h.getGoodsReceipt)
		r.Get("/goods-receipts/{id}/items", h.goodsReceiptItems)
		r.Get("/analytics/summary", h.summary)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementRequestCreate))
		r.Post("/requests", h.createRequest)
		r.Put("/requests/{id}", h.updateRequest)
		r.Post("/requests/{id}/submit", h.submitRequest)
		r.Post("/requests/{id}/cancel", h.cancelRequest)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementApprove))
		r.Post("/requests/{id}/approve", h.approveRequest)
		r.Post("/requests/{id}/reject", h.rejectRequest)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementPOCreate))
		r.Post("/purchase-orders", h.createPurchaseOrder)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementPOEdit))
		r.Put("/purchase-orders/{id}", h.updatePurchaseOrder)
		r.Post("/purchase-orders/{id}/issue", h.issuePurchaseOrder)
		r.Post("/purchase-orders/{id}/acknowledge", h.acknowledgePurchaseOrder)
		r.Post("/purchase-orders/{id}/ship", h.shipPurchaseOrder)
		r.Post("/purchase-orders/{id}/receive", h.receivePurchaseOrder)
		r.Post("/purchase-orders/{id}/complete", h.completePurchaseOrder)
		r.Post("/purchase-orders/{id}/cancel", h.cancelPurchaseOrder)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementReceiptCreate))
		r.Post("/goods-receipts", h.createGoodsReceipt)
		r.Put("/goods-receipts/{id}", h.updateGoodsReceipt)
		r.Post("/goods-receipts/{id}/receive", h.markGoodsReceived)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementReceiptInspect))
		r.Post("/goods-receipts/{id}/inspect", h.inspectGoodsReceipt)
		r.Post("/goods-receipts/{id}/report-discrepancy", h.reportDiscrepancy)
		r.Post("/goods-receipts/{id}/resolve-discrepancy", h.resolveDiscrepancy)
		r.Post("/goods-receipts/{id}/complete", h.completeGoodsReceipt)
	})
}

type lineItemRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=1000"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Category    string          `json:"category" validate:"required,oneof=office_supplies it_equipment furniture services raw_materials maintenance marketing travel other"`
}

type budgetRefRequest struct {
	Kind string `json:"budget_type" validate:"required,oneof=department project"`
	ID   int64  `json:"budget_id" validate:"required,gt=0"`
}

type createRequestRequest struct {
	Department    string            `json:"department" validate:"required,oneof=administration finance hr marketing operations sales it legal procurement other"`
	Project       string            `json:"project" validate:"max=200"`
	Items         []lineItemRequest `json:"items" validate:"required,min=1,dive"`
	Justification string            `json:"justification" validate:"required,max=2000"`
	Tags          []string          `json:"tags" validate:"max=20,dive,max=50"`
	Budget        *budgetRefRequest `json:"budget"`
}

type updateRequestRequest struct {
	Department    *string            `json:"department" validate:"omitempty,oneof=administration finance hr marketing operations sales it legal procurement other"`
	Project       *string            `json:"project" validate:"omitempty,max=200"`
	Items         *[]lineItemRequest `json:"items" validate:"omitempty,min=1,dive"`
	Justification *string            `json:"justification" validate:"omitempty,max=2000"`
	Tags          *[]string          `json:"tags"`
	Budget        *budgetRefRequest  `json:"budget"`
}

type decisionRequest struct {
	Version  int64  `json:"version" validate:"required,gt=0"`
	Comments string `json:"comments" validate:"max=1000"`
	Reason   string `json:"reason" validate:"max=1000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type deliveryRequest struct {
	ExpectedDate   *time.Time `json:"expected_date"`
	Address        string     `json:"address" validate:"max=500"`
	TrackingNumber string     `json:"tracking_number" validate:"max=100"`
	Carrier        string     `json:"carrier" validate:"max=100"`
}

type createPurchaseOrderRequest struct {
	RequestID    *int64            `json:"request_id" validate:"omitempty,gt=0"`
	RFQID        string            `json:"rfq_id" validate:"max=100"`
	SupplierID   int64             `json:"supplier_id" validate:"required,gt=0"`
	SupplierName string            `json:"supplier_name" validate:"required,max=200"`
	Items        []lineItemRequest `json:"items" validate:"omitempty,dive"`
	Delivery     deliveryRequest   `json:"delivery"`
	PaymentTerms string            `json:"payment_terms" validate:"omitempty,oneof=net_15 net_30 net_45 net_60 net_90 cod prepaid"`
	Terms        string            `json:"terms" validate:"max=4000"`
}

type updatePurchaseOrderRequest struct {
	Items        *[]lineItemRequest `json:"items" validate:"omitempty,min=1,dive"`
	Delivery     *deliveryRequest   `json:"delivery"`
	PaymentTerms *string            `json:"payment_terms" validate:"omitempty,oneof=net_15 net_30 net_45 net_60 net_90 cod prepaid"`
	Terms        *string            `json:"terms" validate:"omitempty,max=4000"`
}

type acknowledgeRequest struct {
	Confirmation string `json:"supplier_confirmation" validate:"max=1000"`
}

type shipRequest struct {
	TrackingNumber string `json:"tracking_number" validate:"required,max=100"`
	Carrier        string `json:"carrier" validate:"required,max=100"`
}

type receivePurchaseOrderRequest struct {
	ReceiptID int64 `json:"receipt_id" validate:"required,gt=0"`
}

type receiptItemRequest struct {
	Name             string          `json:"name" validate:"required,max=200"`
	OrderedQuantity  decimal.Decimal `json:"ordered_quantity"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Category         string          `json:"category" validate:"omitempty,oneof=office_supplies it_equipment furniture services raw_materials maintenance marketing travel other"`
}

type createGoodsReceiptRequest struct {
	PurchaseOrderID int64                `json:"purchase_order_id" validate:"required,gt=0"`
	Items           []receiptItemRequest `json:"items" validate:"required,min=1,dive"`
	ReceivedDate    *time.Time           `json:"received_date"`
	Notes           string               `json:"notes" validate:"max=2000"`
}

type updateGoodsReceiptRequest struct {
	Items *[]receiptItemRequest `json:"items" validate:"omitempty,min=1,dive"`
	Notes *string               `json:"notes" validate:"omitempty,max=2000"`
}

type inspectRequest struct {
	Status string   `json:"inspection_status" validate:"required,oneof=in_progress passed failed conditional"`
	Notes  string   `json:"notes" validate:"max=2000"`
	Score  *int     `json:"quality_score" validate:"omitempty,min=0,max=100"`
	Issues []string `json:"issues" validate:"max=50,dive,max=500"`
}

type discrepancyRequest struct {
	Type        string `json:"type" validate:"required,oneof=quantity_shortage quantity_excess wrong_item damaged_goods quality_issue missing_documentation other"`
	Description string `json:"description" validate:"required,max=2000"`
	Notes       string `json:"notes" validate:"max=2000"`
}

type resolutionRequest struct {
	Resolution string `json:"resolution" validate:"required,max=2000"`
}

// budgetProblem carries the gate verdict alongside the problem detail.
type budgetProblem struct {
	httpx.ProblemDetail
	BudgetCheck BudgetCheckResult `json:"budget_check"`
}

func toLineItems(in []lineItemRequest) []LineItem {
	out := make([]LineItem, 0, len(in))
	for _, item := range in {
		out = append(out, LineItem{
			Name:        item.Name,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Category:    Category(item.Category),
		})
	}
	return out
}

func toReceiptItems(in []receiptItemRequest) []ReceiptItem {
	out := make([]ReceiptItem, 0, len(in))
	for _, item := range in {
		out = append(out, ReceiptItem{
			Name:             item.Name,
			OrderedQuantity:  item.OrderedQuantity,
			ReceivedQuantity: item.ReceivedQuantity,
			UnitPrice:        item.UnitPrice,
			Category:         Category(item.Category),
		})
	}
	return out
}

func (b *budgetRefRequest) toRef() *BudgetRef {
	if b == nil {
		return nil
	}
	return &BudgetRef{Kind: budget.Kind(b.Kind), ID: b.ID}
}

func (d deliveryRequest) toDelivery() Delivery {
	return Delivery(d)
}

// decode reads and validates the body, writing the error response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := httpx.Validate(h.validate, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, id int64, err error) {
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrInvalidState) {
		h.logger.Info(op, slog.Any("error", err), slog.Int64("id", id))
	} else {
		h.logger.Error(op, slog.Any("error", err), slog.Int64("id", id))
	}
	httpx.RespondError(w, err)
}

func actor(r *http.Request) shared.Actor {
	a, _ := shared.ActorFromContext(r.Context())
	return a
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

// timeParam parses a date or RFC3339 bound. A bare date used as an upper bound
// covers the whole day.
func timeParam(r *http.Request, name string, upper bool) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, shared.FieldErrors{name: "must be a date (YYYY-MM-DD) or RFC3339 timestamp"}
	}
	if upper {
		t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	return &t, nil
}

func decimalParam(r *http.Request, name string) (*decimal.Decimal, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, shared.FieldErrors{name: "must be a decimal number"}
	}
	return &d, nil
}

func int64Param(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}

func listResponse[T any](w http.ResponseWriter, items []T, pagination shared.Pagination) {
	if items == nil {
		items = []T{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": pagination})
}

// Requests

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.CreateRequest(r.Context(), CreateRequestInput{
		Department:     budget.Department(req.Department),
		Project:        req.Project,
		Items:          toLineItems(req.Items),
		Justification:  req.Justification,
		Tags:           req.Tags,
		Budget:         req.Budget.toRef(),
		RequestedBy:    actor(r),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, "create request", 0, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := pageParams(r)
	filters := RequestFilters{
		Status:      RequestStatus(q.Get("status")),
		Department:  budget.Department(q.Get("department")),
		RequestedBy: int64Param(r, "requested_by"),
		Page:        page,
		Limit:       limit,
	}
	var err error
	if filters.From, err = timeParam(r, "date_from", false); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filters.To, err = timeParam(r, "date_to", true); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filters.MinAmount, err = decimalParam(r, "min_amount"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filters.MaxAmount, err = decimalParam(r, "max_amount"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, pagination, err := h.service.ListRequests(r.Context(), filters)
	if err != nil {
		h.fail(w, "list requests", 0, err)
		return
	}
	listResponse(w, items, pagination)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.fail(w, "get request", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) updateRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequestRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := RequestPatch{
		Project:       req.Project,
		Justification: req.Justification,
		Tags:          req.Tags,
		Budget:        req.Budget.toRef(),
	}
	if req.Department != nil {
		dept := budget.Department(*req.Department)
		patch.Department = &dept
	}
	if req.Items != nil {
		items := toLineItems(*req.Items)
		patch.Items = &items
	}
	updated, err := h.service.UpdateRequest(r.Context(), id, patch)
	if err != nil {
		h.fail(w, "update request", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) submitRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, check, err := h.service.SubmitRequest(r.Context(), id)
	if errors.Is(err, shared.ErrBudgetUnavailable) {
		httpx.JSON(w, http.StatusUnprocessableEntity, budgetProblem{
			ProblemDetail: httpx.ProblemDetail{
				Type:   "about:blank",
				Title:  "Budget Unavailable",
				Status: http.StatusUnprocessableEntity,
				Kind:   "budget_unavailable",
				Detail: check.WarningMessage,
			},
			BudgetCheck: check,
		})
		return
	}
	if err != nil {
		h.fail(w, "submit request", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"request": req, "budget_check": check})
}

func (h *Handler) approveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.service.ApproveStep(r.Context(), id, req.Version, actor(r), req.Comments)
	if err != nil {
		h.fail(w, "approve request", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) rejectRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = req.Comments
	}
	updated, err := h.service.RejectStep(r.Context(), id, req.Version, actor(r), reason)
	if err != nil {
		h.fail(w, "reject request", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) cancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.service.CancelRequest(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, "cancel request", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) checkBudget(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	check, err := h.service.CheckBudget(r.Context(), id)
	if err != nil {
		h.fail(w, "check budget", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

// Purchase orders

func (h *Handler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), CreatePOInput{
		RequestID:      req.RequestID,
		RFQID:          req.RFQID,
		SupplierID:     req.SupplierID,
		SupplierName:   req.SupplierName,
		Items:          toLineItems(req.Items),
		Delivery:       req.Delivery.toDelivery(),
		PaymentTerms:   req.PaymentTerms,
		Terms:          req.Terms,
		Actor:          actor(r),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, "create purchase order", 0, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) listPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	filters := POFilters{
		Status:     POStatus(r.URL.Query().Get("status")),
		SupplierID: int64Param(r, "supplier_id"),
		RequestID:  int64Param(r, "request_id"),
		Page:       page,
		Limit:      limit,
	}
	var err error
	if filters.From, err = timeParam(r, "date_from", false); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filters.To, err = timeParam(r, "date_to", true); err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, pagination, err := h.service.ListPurchaseOrders(r.Context(), filters)
	if err != nil {
		h.fail(w, "list purchase orders", 0, err)
		return
	}
	listResponse(w, items, pagination)
}

func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.fail(w, "get purchase order", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) purchaseOrderTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	timeline, err := h.service.PurchaseOrderTimeline(r.Context(), id)
	if err != nil {
		h.fail(w, "purchase order timeline", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"timeline": timeline})
}

func (h *Handler) updatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updatePurchaseOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := POPatch{PaymentTerms: req.PaymentTerms, Terms: req.Terms}
	if req.Items != nil {
		items := toLineItems(*req.Items)
		patch.Items = &items
	}
	if req.Delivery != nil {
		delivery := req.Delivery.toDelivery()
		patch.Delivery = &delivery
	}
	po, err := h.service.UpdatePurchaseOrder(r.Context(), id, patch)
	if err != nil {
		h.fail(w, "update purchase order", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

// poAction adapts a purchase order transition with no body to a handler.
func (h *Handler) poAction(op string, fn func(r *http.Request, id int64) (PurchaseOrder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		po, err := fn(r, id)
		if err != nil {
			h.fail(w, op, id, err)
			return
		}
		httpx.JSON(w, http.StatusOK, po)
	}
}

func (h *Handler) issuePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.poAction("issue purchase order", func(r *http.Request, id int64) (PurchaseOrder, error) {
		return h.service.IssuePurchaseOrder(r.Context(), id, actor(r))
	})(w, r)
}

func (h *Handler) completePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.poAction("complete purchase order", func(r *http.Request, id int64) (PurchaseOrder, error) {
		return h.service.CompletePurchaseOrder(r.Context(), id, actor(r))
	})(w, r)
}

func (h *Handler) acknowledgePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.poAction("acknowledge purchase order", func(r *http.Request, id int64) (PurchaseOrder, error) {
		return h.service.AcknowledgePurchaseOrder(r.Context(), id, actor(r), req.Confirmation)
	})(w, r)
}

func (h *Handler) shipPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req shipRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.poAction("ship purchase order", func(r *http.Request, id int64) (PurchaseOrder, error) {
		return h.service.ShipPurchaseOrder(r.Context(), id, actor(r), req.TrackingNumber, req.Carrier)
	})(w, r)
}

func (h *Handler) receivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req receivePurchaseOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.poAction("receive purchase order", func(r *http.Request, id int64) (PurchaseOrder, error) {
		return h.service.ReceivePurchaseOrder(r.Context(), id, actor(r), req.ReceiptID)
	})(w, r)
}

func (h *Handler) cancelPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.poAction("cancel purchase order", func(r *http.Request, id int64) (PurchaseOrder, error) {
		return h.service.CancelPurchaseOrder(r.Context(), id, actor(r), req.Reason)
	})(w, r)
}

// Goods receipts

func (h *Handler) createGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	var req createGoodsReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := CreateReceiptInput{
		POID:           req.PurchaseOrderID,
		Items:          toReceiptItems(req.Items),
		Notes:          req.Notes,
		Actor:          actor(r),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if req.ReceivedDate != nil {
		input.ReceivedDate = *req.ReceivedDate
	}
	gr, err := h.service.CreateGoodsReceipt(r.Context(), input)
	if err != nil {
		h.fail(w, "create goods receipt", req.PurchaseOrderID, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, gr)
}

func (h *Handler) listGoodsReceipts(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	items, pagination, err := h.service.ListGoodsReceipts(r.Context(), ReceiptFilters{
		Status: GRStatus(r.URL.Query().Get("status")),
		POID:   int64Param(r, "purchase_order_id"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.fail(w, "list goods receipts", 0, err)
		return
	}
	listResponse(w, items, pagination)
}

func (h *Handler) pendingInspection(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	items, pagination, err := h.service.PendingInspection(r.Context(), page, limit)
	if err != nil {
		h.fail(w, "pending inspection", 0, err)
		return
	}
	listResponse(w, items, pagination)
}

func (h *Handler) getGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	gr, err := h.service.GetGoodsReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, "get goods receipt", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) goodsReceiptItems(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	gr, err := h.service.GetGoodsReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, "goods receipt items", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": gr.Items, "total_received_value": gr.TotalReceivedValue})
}

func (h *Handler) updateGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateGoodsReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := ReceiptPatch{Notes: req.Notes}
	if req.Items != nil {
		items := toReceiptItems(*req.Items)
		patch.Items = &items
	}
	gr, err := h.service.UpdateGoodsReceipt(r.Context(), id, patch)
	if err != nil {
		h.fail(w, "update goods receipt", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

// receiptAction adapts a goods receipt transition to a handler.
func (h *Handler) receiptAction(op string, fn func(r *http.Request, id int64) (GoodsReceipt, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		gr, err := fn(r, id)
		if err != nil {
			h.fail(w, op, id, err)
			return
		}
		httpx.JSON(w, http.StatusOK, gr)
	}
}

func (h *Handler) markGoodsReceived(w http.ResponseWriter, r *http.Request) {
	h.receiptAction("mark goods received", func(r *http.Request, id int64) (GoodsReceipt, error) {
		return h.service.MarkGoodsReceived(r.Context(), id, actor(r))
	})(w, r)
}

func (h *Handler) completeGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	h.receiptAction("complete goods receipt", func(r *http.Request, id int64) (GoodsReceipt, error) {
		return h.service.CompleteGoodsReceipt(r.Context(), id)
	})(w, r)
}

func (h *Handler) inspectGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	var req inspectRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.receiptAction("inspect goods receipt", func(r *http.Request, id int64) (GoodsReceipt, error) {
		return h.service.Inspect(r.Context(), id, actor(r), InspectionInput{
			Status: InspectionStatus(req.Status),
			Notes:  req.Notes,
			Score:  req.Score,
			Issues: req.Issues,
		})
	})(w, r)
}

func (h *Handler) reportDiscrepancy(w http.ResponseWriter, r *http.Request) {
	var req discrepancyRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.receiptAction("report discrepancy", func(r *http.Request, id int64) (GoodsReceipt, error) {
		return h.service.ReportDiscrepancy(r.Context(), id, actor(r), DiscrepancyType(req.Type), req.Description, req.Notes)
	})(w, r)
}

func (h *Handler) resolveDiscrepancy(w http.ResponseWriter, r *http.Request) {
	var req resolutionRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.receiptAction("resolve discrepancy", func(r *http.Request, id int64) (GoodsReceipt, error) {
		return h.service.ResolveDiscrepancy(r.Context(), id, actor(r), req.Resolution)
	})(w, r)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.fail(w, "procurement summary", 0, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
