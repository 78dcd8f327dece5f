package procurement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/budget"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

func pendingRequest(t *testing.T, total int64) Request {
	t.Helper()
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	req, err := newRequest(CreateRequestInput{
		Department:    budget.DeptOperations,
		Items:         laptops(1, total),
		Justification: "Forklift service",
		Budget:        &BudgetRef{Kind: budget.KindDepartment, ID: 3},
		RequestedBy:   requester,
	}, "REQ-1", now)
	require.NoError(t, err)
	req.ID = 1
	require.NoError(t, req.Submit(BudgetCheckResult{Available: true, Reason: ReasonSufficient}, now))
	return req
}

func TestRequestSubmitRejectsFailedCheck(t *testing.T) {
	now := time.Now()
	req, err := newRequest(CreateRequestInput{
		Department:    budget.DeptHR,
		Items:         laptops(1, 10),
		Justification: "Badge printer ribbon",
		RequestedBy:   requester,
	}, "REQ-2", now)
	require.NoError(t, err)

	err = req.Submit(BudgetCheckResult{Reason: ReasonBudgetInactive, WarningMessage: "closed"}, now)
	require.ErrorIs(t, err, ErrBudgetInsufficient)
	require.Equal(t, RequestDraft, req.Status)
	require.Nil(t, req.Budget.LastCheck)

	err = req.Submit(BudgetCheckResult{Reason: ReasonNotFound}, now)
	require.ErrorIs(t, err, ErrBudgetNotFound)
}

func TestRequestApproveWalksChainInOrder(t *testing.T) {
	req := pendingRequest(t, 12000)
	now := time.Now()

	require.NoError(t, req.Approve(manager, "", now))
	role, ok := req.CurrentApprover()
	require.True(t, ok)
	require.Equal(t, RoleFinanceOfficer, role)
	require.Equal(t, RequestPendingApproval, req.Status)

	require.NoError(t, req.Approve(finance, "budget ok", now))
	require.NoError(t, req.Approve(head, "", now))
	require.Equal(t, RequestApproved, req.Status)
	_, ok = req.CurrentApprover()
	require.False(t, ok)

	for i, entry := range req.History {
		require.Equal(t, i, entry.Step)
		require.Equal(t, ActionApproved, entry.Action)
	}
	require.Equal(t, "budget ok", req.Chain[1].Comment)
	require.ErrorIs(t, req.Approve(head, "", now), ErrInvalidState)
}

func TestRequestRejectMidChain(t *testing.T) {
	req := pendingRequest(t, 12000)
	now := time.Now()
	require.NoError(t, req.Approve(manager, "", now))

	require.NoError(t, req.Reject(finance, "duplicate of REQ-0", now))
	require.Equal(t, RequestRejected, req.Status)
	require.Equal(t, StepApproved, req.Chain[0].Status)
	require.Equal(t, StepRejected, req.Chain[1].Status)
	require.Equal(t, StepPending, req.Chain[2].Status)
	require.Len(t, req.History, 2)
	require.NotNil(t, req.DecidedAt)
}

func TestRequestReviseOnlyInDraft(t *testing.T) {
	now := time.Now()
	req, err := newRequest(CreateRequestInput{
		Department:    budget.DeptIT,
		Items:         laptops(1, 100),
		Justification: "Dock",
		Budget:        &BudgetRef{Kind: budget.KindDepartment, ID: 1},
		RequestedBy:   requester,
	}, "REQ-3", now)
	require.NoError(t, err)
	req.Budget.LastCheck = &BudgetCheckResult{Available: true}

	dept := budget.DeptFinance
	ref := &BudgetRef{Kind: budget.KindProject, ID: 9}
	require.NoError(t, req.Revise(RequestPatch{Department: &dept, Budget: ref}, now))
	require.Equal(t, budget.DeptFinance, req.Department)
	require.Equal(t, ref, req.Budget.Ref)
	require.Nil(t, req.Budget.LastCheck)

	bad := &BudgetRef{Kind: "company", ID: 0}
	err = req.Revise(RequestPatch{Budget: bad}, now)
	require.ErrorIs(t, err, shared.ErrValidation)

	pending := pendingRequest(t, 10)
	require.ErrorIs(t, pending.Revise(RequestPatch{Department: &dept}, now), ErrInvalidState)
}

func TestRequestCancelTransitions(t *testing.T) {
	now := time.Now()
	req := pendingRequest(t, 10)
	require.NoError(t, req.Cancel("no longer needed", now))
	require.Equal(t, RequestCancelled, req.Status)
	require.ErrorIs(t, req.Cancel("", now), ErrInvalidState)

	ordered := pendingRequest(t, 10)
	require.NoError(t, ordered.Approve(manager, "", now))
	require.NoError(t, ordered.MarkOrdered(44, now))
	require.Equal(t, RequestOrdered, ordered.Status)
	require.ErrorIs(t, ordered.Cancel("", now), ErrInvalidState)
	require.ErrorIs(t, ordered.MarkOrdered(45, now), ErrInvalidState)
}

func TestLineItemTotalUsesDecimalArithmetic(t *testing.T) {
	item := LineItem{Quantity: decimal.RequireFromString("0.1"), UnitPrice: decimal.RequireFromString("0.2")}
	require.Equal(t, "0.02", item.Total().String())
}
