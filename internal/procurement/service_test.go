package procurement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/budget"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

var (
	requester = shared.Actor{ID: 10, Name: "Rina", Role: shared.RoleEmployee}
	manager   = shared.Actor{ID: 20, Name: "Dewi", Role: shared.RoleDepartmentManager}
	finance   = shared.Actor{ID: 30, Name: "Bayu", Role: shared.RoleFinanceOfficer}
	head      = shared.Actor{ID: 40, Name: "Sari", Role: shared.RoleHeadAdministrator}
	buyer     = shared.Actor{ID: 50, Name: "Agus", Role: shared.RoleProcurementOfficer}
)

type serviceFixture struct {
	service  *Service
	repo     *memoryProcRepo
	ledger   *memoryLedger
	notifier *recordingNotifier
	audit    *recordingAudit
	metrics  *transitionCounter
}

func itBudget(total int64) budget.Budget {
	return budget.Budget{
		ID:         1,
		Kind:       budget.KindDepartment,
		Department: budget.DeptIT,
		FiscalYear: 2026,
		Total:      decimal.NewFromInt(total),
		Active:     true,
	}
}

func newFixture(t *testing.T, budgets ...budget.Budget) serviceFixture {
	t.Helper()
	f := serviceFixture{
		repo:     newMemoryProcRepo(),
		ledger:   newMemoryLedger(budgets...),
		notifier: &recordingNotifier{},
		audit:    &recordingAudit{},
		metrics:  &transitionCounter{},
	}
	f.service = NewService(f.repo, f.ledger, ServiceConfig{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Audit:       f.audit,
		Idempotency: &memoryIdempotency{},
		Notifier:    f.notifier,
		Metrics:     f.metrics,
	})
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return fixed }
	return f
}

func laptops(qty, price int64) []LineItem {
	return []LineItem{{
		Name:      "Laptop",
		Quantity:  decimal.NewFromInt(qty),
		UnitPrice: decimal.NewFromInt(price),
		Category:  CategoryITEquipment,
	}}
}

func (f serviceFixture) draft(t *testing.T, items []LineItem) Request {
	t.Helper()
	req, err := f.service.CreateRequest(context.Background(), CreateRequestInput{
		Department:    budget.DeptIT,
		Items:         items,
		Justification: "Replace ageing laptops",
		Budget:        &BudgetRef{Kind: budget.KindDepartment, ID: 1},
		RequestedBy:   requester,
	})
	require.NoError(t, err)
	return req
}

func (f serviceFixture) submitted(t *testing.T, items []LineItem) Request {
	t.Helper()
	req := f.draft(t, items)
	submitted, check, err := f.service.SubmitRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.True(t, check.Available)
	return submitted
}

func (f serviceFixture) approved(t *testing.T, items []LineItem) Request {
	t.Helper()
	req := f.submitted(t, items)
	approvers := []shared.Actor{manager, finance, head}
	for req.Status == RequestPendingApproval {
		var err error
		req, err = f.service.ApproveStep(context.Background(), req.ID, req.Version, approvers[req.CurrentStep], "ok")
		require.NoError(t, err)
	}
	require.Equal(t, RequestApproved, req.Status)
	return req
}

func TestCreateRequestDerivesTotalAndChain(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	req := f.draft(t, laptops(5, 2500))

	require.NotZero(t, req.ID)
	require.Equal(t, RequestDraft, req.Status)
	require.Equal(t, int64(1), req.Version)
	require.True(t, req.Total.Equal(decimal.NewFromInt(12500)))
	require.Len(t, req.Chain, 3)
	require.Empty(t, req.History)
	require.Regexp(t, `^REQ-\d+-[0-9A-F]{4}$`, req.Number)
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CreateRequest(context.Background(), CreateRequestInput{
		Department:  "space",
		Items:       []LineItem{{Name: "", Quantity: decimal.NewFromInt(-1), Category: "toys"}},
		RequestedBy: requester,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorIs(t, err, ErrValidation)
	var fields shared.FieldErrors
	require.True(t, errors.As(err, &fields))
	require.Contains(t, fields, "department")
	require.Contains(t, fields, "justification")
	require.Contains(t, fields, "items[0].name")
	require.Contains(t, fields, "items[0].quantity")
	require.Contains(t, fields, "items[0].category")
}

func TestCreateRequestRejectsReplayedIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	input := CreateRequestInput{
		Department:     budget.DeptIT,
		Items:          laptops(1, 100),
		Justification:  "Mouse",
		RequestedBy:    requester,
		IdempotencyKey: "abc",
	}
	_, err := f.service.CreateRequest(context.Background(), input)
	require.NoError(t, err)
	_, err = f.service.CreateRequest(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestUpdateDraftRecomputesChain(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	req := f.draft(t, laptops(1, 500))
	require.Len(t, req.Chain, 1)

	items := laptops(4, 500)
	updated, err := f.service.UpdateRequest(context.Background(), req.ID, RequestPatch{Items: &items})
	require.NoError(t, err)
	require.True(t, updated.Total.Equal(decimal.NewFromInt(2000)))
	require.Len(t, updated.Chain, 2)
	require.Equal(t, req.Version+1, updated.Version)

	_, _, err = f.service.SubmitRequest(context.Background(), req.ID)
	require.NoError(t, err)
	_, err = f.service.UpdateRequest(context.Background(), req.ID, RequestPatch{Items: &items})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSubmitBlockedByBudgetLeavesDraftUnchanged(t *testing.T) {
	f := newFixture(t, itBudget(1000))
	req := f.draft(t, laptops(1, 5000))

	for i := 0; i < 2; i++ {
		_, check, err := f.service.SubmitRequest(context.Background(), req.ID)
		require.ErrorIs(t, err, shared.ErrBudgetUnavailable)
		require.ErrorIs(t, err, ErrBudgetInsufficient)
		require.False(t, check.Available)
		require.Equal(t, ReasonInsufficient, check.Reason)
		require.True(t, check.AvailableAmount.Equal(decimal.NewFromInt(1000)))
		require.True(t, check.RequiredAmount.Equal(decimal.NewFromInt(5000)))
	}

	stored, err := f.service.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, RequestDraft, stored.Status)
	require.Equal(t, req.Version, stored.Version)
	require.Nil(t, stored.SubmittedAt)
	require.Empty(t, f.notifier.events())
}

func TestSubmitWithoutLinkedBudgetFailsClosed(t *testing.T) {
	f := newFixture(t)
	req, err := f.service.CreateRequest(context.Background(), CreateRequestInput{
		Department:    budget.DeptIT,
		Items:         laptops(1, 10),
		Justification: "Cable",
		RequestedBy:   requester,
	})
	require.NoError(t, err)

	_, check, err := f.service.SubmitRequest(context.Background(), req.ID)
	require.ErrorIs(t, err, ErrBudgetNotFound)
	require.Equal(t, ReasonNoBudgetLinked, check.Reason)
}

func TestSubmitWhenLedgerLookupFails(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	f.ledger.getErr = errors.New("connection refused")
	req := f.draft(t, laptops(1, 10))

	_, check, err := f.service.SubmitRequest(context.Background(), req.ID)
	require.ErrorIs(t, err, shared.ErrBudgetUnavailable)
	require.Equal(t, ReasonLookupFailed, check.Reason)
}

func TestApprovalScenarioEndToEnd(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	req := f.submitted(t, laptops(5, 2500))
	require.Equal(t, RequestPendingApproval, req.Status)
	require.Len(t, req.Chain, 3)
	role, ok := req.CurrentApprover()
	require.True(t, ok)
	require.Equal(t, RoleDepartmentManager, role)

	var err error
	for i, approver := range []shared.Actor{manager, finance, head} {
		req, err = f.service.ApproveStep(context.Background(), req.ID, req.Version, approver, "fine")
		require.NoError(t, err)
		require.Equal(t, approver.ID, req.Chain[i].ResolvedBy)
		require.Equal(t, StepApproved, req.Chain[i].Status)
	}

	require.Equal(t, RequestApproved, req.Status)
	require.Len(t, req.History, 3)
	require.GreaterOrEqual(t, req.CurrentStep, 3)
	require.NotNil(t, req.DecidedAt)

	b := f.ledger.budget(1)
	require.True(t, b.Committed.Equal(decimal.NewFromInt(12500)))
	require.Contains(t, f.ledger.commitments, req.commitmentRef())

	require.Equal(t, []NotificationEvent{
		NotifyRequestSubmitted, NotifyStepApproved, NotifyStepApproved, NotifyRequestApproved,
	}, f.notifier.events())
	require.Equal(t, 3, f.metrics.counts["procurement_request.approve"])
}

func TestApproveAfterFinalApprovalIsInvalidState(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	req := f.approved(t, laptops(1, 100))

	_, err := f.service.ApproveStep(context.Background(), req.ID, req.Version, manager, "again")
	require.ErrorIs(t, err, ErrInvalidState)
	stored, err := f.service.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 1)
}

func TestZeroTotalApprovalCommitsNothing(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	req := f.approved(t, laptops(0, 1200))
	require.True(t, req.Total.IsZero())

	require.True(t, f.ledger.budget(1).Committed.IsZero())
	require.NotContains(t, f.audit.actions(), "BUDGET_COMMIT_FAILED")
}

func TestRetriedDecisionWithStaleVersionIsInvalidState(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	req := f.submitted(t, laptops(1, 100))

	approved, err := f.service.ApproveStep(context.Background(), req.ID, req.Version, manager, "")
	require.NoError(t, err)
	require.Equal(t, RequestApproved, approved.Status)

	_, err = f.service.ApproveStep(context.Background(), req.ID, req.Version, manager, "retry")
	require.ErrorIs(t, err, ErrInvalidState)
	require.NotErrorIs(t, err, ErrConflict)

	_, err = f.service.RejectStep(context.Background(), req.ID, req.Version, manager, "too late")
	require.ErrorIs(t, err, ErrInvalidState)

	stored, err := f.service.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, approved.Version, stored.Version)
	require.Len(t, stored.History, 1)
}

func TestRejectStopsChainAndKeepsLaterStepsPending(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	req := f.submitted(t, laptops(5, 2500))

	_, err := f.service.RejectStep(context.Background(), req.ID, req.Version, manager, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	rejected, err := f.service.RejectStep(context.Background(), req.ID, req.Version, manager, "quote too high")
	require.NoError(t, err)
	require.Equal(t, RequestRejected, rejected.Status)
	require.Equal(t, StepRejected, rejected.Chain[0].Status)
	require.Equal(t, StepPending, rejected.Chain[1].Status)
	require.Equal(t, StepPending, rejected.Chain[2].Status)
	require.Len(t, rejected.History, 1)
	require.Equal(t, ActionRejected, rejected.History[0].Action)
	require.Equal(t, "quote too high", rejected.History[0].Comment)

	_, err = f.service.ApproveStep(context.Background(), req.ID, rejected.Version, finance, "late")
	require.ErrorIs(t, err, ErrInvalidState)
	require.True(t, f.ledger.budget(1).Committed.IsZero())
}

func TestApproveRequiresCurrentVersion(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	req := f.submitted(t, laptops(5, 2500))

	_, err := f.service.ApproveStep(context.Background(), req.ID, 0, manager, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	first, err := f.service.ApproveStep(context.Background(), req.ID, req.Version, manager, "")
	require.NoError(t, err)

	_, err = f.service.ApproveStep(context.Background(), req.ID, req.Version, finance, "stale")
	require.ErrorIs(t, err, ErrConflict)
	require.ErrorIs(t, err, shared.ErrConflict)

	stored, err := f.service.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, first.Version, stored.Version)
	require.Len(t, stored.History, 1)
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	f.notifier.err = errors.New("queue down")

	req := f.submitted(t, laptops(1, 100))
	approved, err := f.service.ApproveStep(context.Background(), req.ID, req.Version, manager, "")
	require.NoError(t, err)
	require.Equal(t, RequestApproved, approved.Status)
	require.NotEmpty(t, f.notifier.events())
}

func TestBudgetCommitFailureIsAuditedNotFatal(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	req := f.submitted(t, laptops(1, 100))
	f.ledger.commitErr = errors.New("ledger offline")

	approved, err := f.service.ApproveStep(context.Background(), req.ID, req.Version, manager, "")
	require.NoError(t, err)
	require.Equal(t, RequestApproved, approved.Status)
	require.Contains(t, f.audit.actions(), "BUDGET_COMMIT_FAILED")
}

func TestCancelApprovedRequestReleasesCommitment(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	req := f.approved(t, laptops(2, 300))
	require.True(t, f.ledger.budget(1).Committed.Equal(decimal.NewFromInt(600)))

	cancelled, err := f.service.CancelRequest(context.Background(), req.ID, "project dropped")
	require.NoError(t, err)
	require.Equal(t, RequestCancelled, cancelled.Status)
	require.Equal(t, "project dropped", cancelled.CancelReason)
	require.True(t, f.ledger.budget(1).Committed.IsZero())

	_, err = f.service.CancelRequest(context.Background(), req.ID, "again")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestListRequestsFiltersAndValidatesAmountRange(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	f.draft(t, laptops(1, 100))
	f.draft(t, laptops(1, 5000))
	f.submitted(t, laptops(1, 200))

	low := decimal.NewFromInt(150)
	items, page, err := f.service.ListRequests(context.Background(), RequestFilters{MinAmount: &low})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 2, page.Total)

	items, _, err = f.service.ListRequests(context.Background(), RequestFilters{Status: RequestPendingApproval})
	require.NoError(t, err)
	require.Len(t, items, 1)

	high := decimal.NewFromInt(100)
	_, _, err = f.service.ListRequests(context.Background(), RequestFilters{MinAmount: &low, MaxAmount: &high})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCheckBudgetDoesNotMutate(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	req := f.draft(t, laptops(1, 100))

	check, err := f.service.CheckBudget(context.Background(), req.ID)
	require.NoError(t, err)
	require.True(t, check.Available)
	require.Equal(t, ReasonSufficient, check.Reason)

	stored, err := f.service.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, req.Version, stored.Version)
	require.True(t, f.ledger.budget(1).Committed.IsZero())
}

func TestPurchaseOrderFromApprovedRequest(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	draft := f.draft(t, laptops(1, 100))

	_, err := f.service.CreatePurchaseOrder(context.Background(), CreatePOInput{
		RequestID: &draft.ID, SupplierID: 7, SupplierName: "PT Sumber", Actor: buyer,
	})
	require.ErrorIs(t, err, ErrInvalidState)
	orders, _, err := f.service.ListPurchaseOrders(context.Background(), POFilters{})
	require.NoError(t, err)
	require.Empty(t, orders)

	req := f.approved(t, laptops(3, 400))
	po, err := f.service.CreatePurchaseOrder(context.Background(), CreatePOInput{
		RequestID: &req.ID, SupplierID: 7, SupplierName: "PT Sumber", Actor: buyer,
	})
	require.NoError(t, err)
	require.Equal(t, POStatusDraft, po.Status)
	require.Equal(t, DefaultPaymentTerms, po.PaymentTerms)
	require.Len(t, po.Items, 1)
	require.True(t, po.Total.Equal(decimal.NewFromInt(1200)))
	require.Contains(t, po.Timeline, EventCreated)

	ordered, err := f.service.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, RequestOrdered, ordered.Status)
	require.NotNil(t, ordered.PurchaseOrderID)
	require.Equal(t, po.ID, *ordered.PurchaseOrderID)

	_, err = f.service.CreatePurchaseOrder(context.Background(), CreatePOInput{
		RequestID: &req.ID, SupplierID: 7, SupplierName: "PT Sumber", Actor: buyer,
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func (f serviceFixture) shippedOrder(t *testing.T) PurchaseOrder {
	t.Helper()
	ctx := context.Background()
	po, err := f.service.CreatePurchaseOrder(ctx, CreatePOInput{
		SupplierID:   9,
		SupplierName: "CV Meja",
		Items: []LineItem{
			{Name: "Desk", Quantity: decimal.NewFromInt(4), UnitPrice: decimal.NewFromInt(150), Category: CategoryFurniture},
			{Name: "Chair", Quantity: decimal.NewFromInt(4), UnitPrice: decimal.NewFromInt(80), Category: CategoryFurniture},
		},
		Actor: buyer,
	})
	require.NoError(t, err)
	po, err = f.service.IssuePurchaseOrder(ctx, po.ID, buyer)
	require.NoError(t, err)
	po, err = f.service.AcknowledgePurchaseOrder(ctx, po.ID, buyer, "SO-991")
	require.NoError(t, err)
	po, err = f.service.ShipPurchaseOrder(ctx, po.ID, buyer, "JNE123", "JNE")
	require.NoError(t, err)
	require.Equal(t, POStatusInTransit, po.Status)
	return po
}

func TestPurchaseOrderReceivingLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	po := f.shippedOrder(t)
	require.Equal(t, "JNE123", po.Delivery.TrackingNumber)
	require.Equal(t, "SO-991", po.Timeline[EventAcknowledged].Meta["supplier_confirmation"])

	first, err := f.service.CreateGoodsReceipt(ctx, CreateReceiptInput{
		POID: po.ID,
		Items: []ReceiptItem{
			{Name: "desk", ReceivedQuantity: decimal.NewFromInt(4)},
			{Name: "Chair", ReceivedQuantity: decimal.NewFromInt(2)},
		},
		Actor: buyer,
	})
	require.NoError(t, err)
	require.True(t, first.TotalReceivedValue.Equal(decimal.NewFromInt(760)))

	_, err = f.service.ReceivePurchaseOrder(ctx, po.ID, buyer, first.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.service.MarkGoodsReceived(ctx, first.ID, buyer)
	require.NoError(t, err)
	po, err = f.service.ReceivePurchaseOrder(ctx, po.ID, buyer, first.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusPartiallyReceived, po.Status)

	_, err = f.service.ReceivePurchaseOrder(ctx, po.ID, buyer, first.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	second, err := f.service.CreateGoodsReceipt(ctx, CreateReceiptInput{
		POID:  po.ID,
		Items: []ReceiptItem{{Name: "Chair", ReceivedQuantity: decimal.NewFromInt(2)}},
		Actor: buyer,
	})
	require.NoError(t, err)
	_, err = f.service.MarkGoodsReceived(ctx, second.ID, buyer)
	require.NoError(t, err)
	po, err = f.service.ReceivePurchaseOrder(ctx, po.ID, buyer, second.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, po.Status)
	require.Equal(t, []int64{first.ID, second.ID}, po.ReceiptIDs)

	po, err = f.service.CompletePurchaseOrder(ctx, po.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, POStatusCompleted, po.Status)

	_, err = f.service.CancelPurchaseOrder(ctx, po.ID, buyer, "too late")
	require.ErrorIs(t, err, ErrInvalidState)
	require.Contains(t, f.notifier.events(), NotifyPOIssued)
	require.Contains(t, f.notifier.events(), NotifyPOReceived)
}

func TestCreateGoodsReceiptValidatesAgainstOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	po := f.shippedOrder(t)

	_, err := f.service.CreateGoodsReceipt(ctx, CreateReceiptInput{
		POID:  po.ID,
		Items: []ReceiptItem{{Name: "Lamp", ReceivedQuantity: decimal.NewFromInt(1)}},
		Actor: buyer,
	})
	var fields shared.FieldErrors
	require.True(t, errors.As(err, &fields))
	require.Contains(t, fields, "items[0].name")

	_, err = f.service.CancelPurchaseOrder(ctx, po.ID, buyer, "")
	require.ErrorIs(t, err, shared.ErrValidation)
	cancelled, err := f.service.CancelPurchaseOrder(ctx, po.ID, buyer, "supplier bankrupt")
	require.NoError(t, err)
	require.Equal(t, "Cancelled: supplier bankrupt", cancelled.Comments[0].Text)

	_, err = f.service.CreateGoodsReceipt(ctx, CreateReceiptInput{
		POID:  po.ID,
		Items: []ReceiptItem{{Name: "Desk", ReceivedQuantity: decimal.NewFromInt(1)}},
		Actor: buyer,
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestGoodsReceiptInspectionAndDiscrepancy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	po := f.shippedOrder(t)
	gr, err := f.service.CreateGoodsReceipt(ctx, CreateReceiptInput{
		POID:  po.ID,
		Items: []ReceiptItem{{Name: "Desk", ReceivedQuantity: decimal.NewFromInt(4)}},
		Actor: buyer,
	})
	require.NoError(t, err)
	gr, err = f.service.MarkGoodsReceived(ctx, gr.ID, buyer)
	require.NoError(t, err)

	pending, page, err := f.service.PendingInspection(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, page.Total)

	gr, err = f.service.Inspect(ctx, gr.ID, buyer, InspectionInput{Status: InspectionFailed, Notes: "scratched"})
	require.NoError(t, err)
	require.Equal(t, GRStatusRejected, gr.Status)
	require.Contains(t, f.notifier.events(), NotifyReceiptRejected)

	pending, _, err = f.service.PendingInspection(ctx, 1, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = f.service.ResolveDiscrepancy(ctx, gr.ID, buyer, "no discrepancy yet")
	require.ErrorIs(t, err, ErrInvalidState)

	gr, err = f.service.ReportDiscrepancy(ctx, gr.ID, buyer, DiscrepancyDamaged, "two desks scratched", "")
	require.NoError(t, err)
	require.True(t, gr.Discrepancy.HasDiscrepancy)
	require.Contains(t, f.notifier.events(), NotifyDiscrepancyReported)

	gr, err = f.service.ResolveDiscrepancy(ctx, gr.ID, buyer, "supplier credit note")
	require.NoError(t, err)
	require.Equal(t, GRStatusAccepted, gr.Status)
	require.True(t, gr.Discrepancy.Resolved)

	gr, err = f.service.CompleteGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)
	require.Equal(t, GRStatusCompleted, gr.Status)
	require.NotNil(t, gr.CompletedAt)

	_, err = f.service.Inspect(ctx, gr.ID, buyer, InspectionInput{Status: InspectionPassed})
	require.ErrorIs(t, err, ErrInvalidState)
	notes := "late"
	_, err = f.service.UpdateGoodsReceipt(ctx, gr.ID, ReceiptPatch{Notes: &notes})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSummaryAggregatesWithoutCache(t *testing.T) {
	f := newFixture(t, itBudget(50000))
	f.draft(t, laptops(1, 100))
	f.submitted(t, laptops(2, 100))
	f.shippedOrder(t)

	summary, err := f.service.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Requests[RequestDraft].Count)
	require.True(t, summary.Requests[RequestPendingApproval].Amount.Equal(decimal.NewFromInt(200)))
	require.Equal(t, 1, summary.PurchaseOrders[POStatusInTransit].Count)
	require.Zero(t, summary.PendingInspection)
}
