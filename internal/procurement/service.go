package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-procure/internal/budget"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequest(ctx context.Context, id int64) (Request, error)
	ListRequests(ctx context.Context, filters RequestFilters) ([]Request, error)
	CountRequests(ctx context.Context, filters RequestFilters) (int, error)
	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, filters POFilters) ([]PurchaseOrder, error)
	CountPurchaseOrders(ctx context.Context, filters POFilters) (int, error)
	GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error)
	ListGoodsReceipts(ctx context.Context, filters ReceiptFilters) ([]GoodsReceipt, error)
	CountGoodsReceipts(ctx context.Context, filters ReceiptFilters) (int, error)
	RequestTotals(ctx context.Context) (map[RequestStatus]StatusTotals, error)
	PurchaseOrderTotals(ctx context.Context) (map[POStatus]StatusTotals, error)
}

// TxRepository exposes transactional operations. Update methods compare-and-set on
// the loaded Version and fail with ErrConflict when it moved.
type TxRepository interface {
	InsertRequest(ctx context.Context, req Request) (int64, error)
	LockRequest(ctx context.Context, id int64) (Request, error)
	UpdateRequest(ctx context.Context, req Request) error
	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	LockPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error
	InsertGoodsReceipt(ctx context.Context, gr GoodsReceipt) (int64, error)
	LockGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error)
	UpdateGoodsReceipt(ctx context.Context, gr GoodsReceipt) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards client supplied idempotency keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Release(ctx context.Context, key, module string) error
}

// ServiceConfig carries the optional collaborators of Service.
type ServiceConfig struct {
	Logger      *slog.Logger
	Audit       AuditPort
	Idempotency IdempotencyPort
	Notifier    Notifier
	Metrics     TransitionRecorder
	Cache       *Cache
}

// Service orchestrates procurement flows.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	gate        *BudgetGate
	audit       AuditPort
	idempotency IdempotencyPort
	notifier    Notifier
	metrics     TransitionRecorder
	cache       *Cache
	logger      *slog.Logger
	summaries   singleflight.Group
	now         func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, ledger LedgerPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:        repo,
		ledger:      ledger,
		gate:        NewBudgetGate(ledger, logger),
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		cache:       cfg.Cache,
		logger:      logger,
		now:         time.Now,
	}
	s.gate.now = func() time.Time { return s.now() }
	return s
}

// CreateRequestInput describes a new procurement request.
type CreateRequestInput struct {
	Department     budget.Department
	Project        string
	Items          []LineItem
	Justification  string
	Tags           []string
	Budget         *BudgetRef
	RequestedBy    shared.Actor
	IdempotencyKey string
}

// RequestPatch edits a draft request. Nil fields are left untouched.
type RequestPatch struct {
	Department    *budget.Department
	Project       *string
	Items         *[]LineItem
	Justification *string
	Tags          *[]string
	Budget        *BudgetRef
}

// RequestFilters narrows a request listing.
type RequestFilters struct {
	Status      RequestStatus
	Department  budget.Department
	RequestedBy int64
	From        *time.Time
	To          *time.Time
	MinAmount   *decimal.Decimal
	MaxAmount   *decimal.Decimal
	Page        int
	Limit       int
}

// CreateRequest validates input and persists a draft with its approval chain.
func (s *Service) CreateRequest(ctx context.Context, input CreateRequestInput) (Request, error) {
	req, err := newRequest(input, generateNumber("REQ"), s.now().UTC())
	if err != nil {
		return Request{}, err
	}
	release, err := s.claimKey(ctx, input.IdempotencyKey, "procurement.request")
	if err != nil {
		return Request{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertRequest(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id
		return nil
	})
	if err != nil {
		release()
		return Request{}, err
	}
	s.afterCommit(ctx, entityRequest, "create", req.ID, map[string]any{
		"number": req.Number, "total": req.Total.String(), "steps": len(req.Chain),
	})
	return req, nil
}

// GetRequest returns a request by id.
func (s *Service) GetRequest(ctx context.Context, id int64) (Request, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListRequests returns one page of requests and the total match count.
func (s *Service) ListRequests(ctx context.Context, filters RequestFilters) ([]Request, shared.Pagination, error) {
	if filters.MinAmount != nil && filters.MaxAmount != nil && filters.MinAmount.GreaterThan(*filters.MaxAmount) {
		return nil, shared.Pagination{}, invalid(shared.FieldErrors{"min_amount": "must not exceed max_amount"})
	}
	filters.Page, filters.Limit = shared.NormalizePage(filters.Page, filters.Limit)
	var (
		items []Request
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.repo.ListRequests(gctx, filters)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.CountRequests(gctx, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// UpdateRequest edits a draft. Item changes recompute the total and the chain.
func (s *Service) UpdateRequest(ctx context.Context, id int64, patch RequestPatch) (Request, error) {
	now := s.now().UTC()
	req, err := s.mutateRequest(ctx, id, 0, func(ctx context.Context, tx TxRepository, req *Request) error {
		return req.Revise(patch, now)
	})
	if err != nil {
		return Request{}, err
	}
	s.afterCommit(ctx, entityRequest, "update", req.ID, map[string]any{"total": req.Total.String(), "steps": len(req.Chain)})
	return req, nil
}

// CheckBudget runs the budget gate for a request without changing it.
func (s *Service) CheckBudget(ctx context.Context, id int64) (BudgetCheckResult, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return BudgetCheckResult{}, err
	}
	return s.gate.Check(ctx, req), nil
}

// SubmitRequest runs the budget gate and moves a draft into approval. When the
// gate denies funding the request is left unchanged and the verdict is returned
// with an error wrapping shared.ErrBudgetUnavailable.
func (s *Service) SubmitRequest(ctx context.Context, id int64) (Request, BudgetCheckResult, error) {
	var check BudgetCheckResult
	req, err := s.mutateRequest(ctx, id, 0, func(ctx context.Context, tx TxRepository, req *Request) error {
		if req.Status != RequestDraft {
			return invalidState("request %s is %s, only drafts can be submitted", req.Number, req.Status)
		}
		check = s.gate.Check(ctx, *req)
		return req.Submit(check, s.now().UTC())
	})
	if err != nil {
		if errors.Is(err, shared.ErrBudgetUnavailable) {
			s.logger.Info("submission blocked by budget", slog.Int64("request_id", id), slog.String("reason", string(check.Reason)))
		}
		return Request{}, check, err
	}
	note := s.approverNotification(req, NotifyRequestSubmitted)
	s.afterCommit(ctx, entityRequest, "submit", req.ID, map[string]any{
		"total": req.Total.String(), "budget_id": check.BudgetID, "available": check.AvailableAmount.String(),
	}, note)
	return req, check, nil
}

// ApproveStep approves the current step on behalf of actor. expectedVersion must
// match the stored version.
func (s *Service) ApproveStep(ctx context.Context, id, expectedVersion int64, actor shared.Actor, comment string) (Request, error) {
	if err := requireVersion(expectedVersion); err != nil {
		return Request{}, err
	}
	var step int
	req, err := s.mutateRequest(ctx, id, expectedVersion, func(ctx context.Context, tx TxRepository, req *Request) error {
		step = req.CurrentStep
		return req.Approve(actor, comment, s.now().UTC())
	})
	if err != nil {
		return Request{}, err
	}
	meta := map[string]any{"step": step, "status": req.Status}
	if req.Status != RequestApproved {
		s.afterCommit(ctx, entityRequest, "approve", req.ID, meta, s.approverNotification(req, NotifyStepApproved))
		return req, nil
	}
	s.commitBudget(ctx, req)
	s.afterCommit(ctx, entityRequest, "approve", req.ID, meta, Notification{
		Event:     NotifyRequestApproved,
		Recipient: Recipient{UserID: req.RequestedBy},
		Message:   fmt.Sprintf("Request %s was approved", req.Number),
	}.about(entityRequest, req.ID, req.Number))
	return req, nil
}

// RejectStep rejects the current step and terminates the request.
func (s *Service) RejectStep(ctx context.Context, id, expectedVersion int64, actor shared.Actor, reason string) (Request, error) {
	if err := requireVersion(expectedVersion); err != nil {
		return Request{}, err
	}
	var step int
	req, err := s.mutateRequest(ctx, id, expectedVersion, func(ctx context.Context, tx TxRepository, req *Request) error {
		step = req.CurrentStep
		return req.Reject(actor, reason, s.now().UTC())
	})
	if err != nil {
		return Request{}, err
	}
	s.afterCommit(ctx, entityRequest, "reject", req.ID, map[string]any{"step": step, "reason": reason}, Notification{
		Event:     NotifyRequestRejected,
		Recipient: Recipient{UserID: req.RequestedBy},
		Message:   fmt.Sprintf("Request %s was rejected: %s", req.Number, reason),
	}.about(entityRequest, req.ID, req.Number))
	return req, nil
}

// CancelRequest withdraws a request. Cancelling an approved request releases
// its budget commitment.
func (s *Service) CancelRequest(ctx context.Context, id int64, reason string) (Request, error) {
	var prior RequestStatus
	req, err := s.mutateRequest(ctx, id, 0, func(ctx context.Context, tx TxRepository, req *Request) error {
		prior = req.Status
		return req.Cancel(reason, s.now().UTC())
	})
	if err != nil {
		return Request{}, err
	}
	if prior == RequestApproved {
		s.releaseBudget(ctx, req)
	}
	s.afterCommit(ctx, entityRequest, "cancel", req.ID, map[string]any{"from": prior, "reason": reason}, Notification{
		Event:     NotifyRequestCancelled,
		Recipient: Recipient{UserID: req.RequestedBy},
		Message:   fmt.Sprintf("Request %s was cancelled", req.Number),
	}.about(entityRequest, req.ID, req.Number))
	return req, nil
}

// mutateRequest applies fn under lock. A positive expectedVersion marks an approval
// decision: the request must await one and be at that version.
func (s *Service) mutateRequest(ctx context.Context, id, expectedVersion int64, fn func(context.Context, TxRepository, *Request) error) (Request, error) {
	var out Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequest(ctx, id)
		if err != nil {
			return err
		}
		if expectedVersion > 0 {
			// A decided request stays decided whatever version the caller holds.
			if err := req.awaitingDecision(); err != nil {
				return err
			}
			if req.Version != expectedVersion {
				return fmt.Errorf("request %s is at version %d, not %d: %w", req.Number, req.Version, expectedVersion, ErrConflict)
			}
		}
		if err := fn(ctx, tx, &req); err != nil {
			return err
		}
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		req.Version++
		out = req
		return nil
	})
	return out, err
}

func (s *Service) commitBudget(ctx context.Context, req Request) {
	if s.ledger == nil || req.Budget.Ref == nil || !req.Total.IsPositive() {
		return
	}
	ref := req.Budget.Ref
	if err := s.ledger.Commit(ctx, ref.ID, req.Total, req.commitmentRef()); err != nil {
		s.logger.Error("commit budget", slog.Any("error", err), slog.Int64("request_id", req.ID), slog.Int64("budget_id", ref.ID))
		s.recordAudit(ctx, entityRequest, "BUDGET_COMMIT_FAILED", req.ID, map[string]any{"budget_id": ref.ID, "error": err.Error()})
	}
}

func (s *Service) releaseBudget(ctx context.Context, req Request) {
	if s.ledger == nil || req.Budget.Ref == nil {
		return
	}
	ref := req.Budget.Ref
	err := s.ledger.Release(ctx, ref.ID, req.commitmentRef())
	if err != nil && !errors.Is(err, budget.ErrNoCommitment) {
		s.logger.Error("release budget", slog.Any("error", err), slog.Int64("request_id", req.ID), slog.Int64("budget_id", ref.ID))
		s.recordAudit(ctx, entityRequest, "BUDGET_RELEASE_FAILED", req.ID, map[string]any{"budget_id": ref.ID, "error": err.Error()})
	}
}

func (s *Service) approverNotification(req Request, event NotificationEvent) Notification {
	role, ok := req.CurrentApprover()
	if !ok {
		return Notification{}
	}
	return Notification{
		Event:     event,
		Recipient: Recipient{Role: string(role)},
		Message:   fmt.Sprintf("Request %s (%s) awaits %s approval", req.Number, req.Total.StringFixed(2), role),
	}.about(entityRequest, req.ID, req.Number)
}

func requireVersion(version int64) error {
	if version <= 0 {
		return invalid(shared.FieldErrors{"version": "is required"})
	}
	return nil
}

const (
	entityRequest       = "procurement_request"
	entityPurchaseOrder = "purchase_order"
	entityGoodsReceipt  = "goods_receipt"
)

func (n Notification) about(entity string, id int64, number string) Notification {
	n.Entity = entity
	n.EntityID = id
	n.Number = number
	return n
}

// claimKey reserves an idempotency key and returns its release func.
func (s *Service) claimKey(ctx context.Context, key, module string) (func(), error) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return func() {}, nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, module); err != nil {
		return nil, err
	}
	return func() {
		if err := s.idempotency.Release(ctx, key, module); err != nil {
			s.logger.Warn("release idempotency key", slog.Any("error", err), slog.String("module", module))
		}
	}, nil
}

// afterCommit runs the side effects of a committed transition. None of them can fail it.
func (s *Service) afterCommit(ctx context.Context, entity, action string, id int64, meta map[string]any, notes ...Notification) {
	s.recordAudit(ctx, entity, strings.ToUpper(action), id, meta)
	if s.metrics != nil {
		s.metrics.RecordTransition(entity, action)
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump procurement cache", slog.Any("error", err))
	}
	for _, n := range notes {
		s.notify(ctx, n)
	}
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil || n.Event == "" {
		return
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = s.now().UTC()
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("procurement notification", slog.Any("error", err), slog.String("event", string(n.Event)), slog.Int64("entity_id", n.EntityID))
	}
}

func (s *Service) recordAudit(ctx context.Context, entity, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("procurement audit", slog.Any("error", err), slog.String("action", action))
	}
}

func generateNumber(prefix string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), suffix)
}
