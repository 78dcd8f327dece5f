package procurement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/budget"
)

func gateRequest(ref *BudgetRef, total int64) Request {
	return Request{Number: "REQ-9", Items: laptops(1, total), Budget: BudgetTracking{Ref: ref}}
}

func TestBudgetGateVerdicts(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	dept := budget.Budget{ID: 1, Kind: budget.KindDepartment, Department: budget.DeptIT, Total: decimal.NewFromInt(1000), Spent: decimal.NewFromInt(700), Active: true}
	closed := budget.Budget{ID: 2, Kind: budget.KindDepartment, Department: budget.DeptHR, Total: decimal.NewFromInt(1000), Active: false}
	expired := budget.Budget{ID: 3, Kind: budget.KindProject, ProjectCode: "ERP", Total: decimal.NewFromInt(1000), Active: true,
		PeriodEnd: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	gate := NewBudgetGate(newMemoryLedger(dept, closed, expired), nil)
	gate.now = func() time.Time { return now }

	cases := []struct {
		name      string
		ref       *BudgetRef
		total     int64
		available bool
		reason    BudgetReason
	}{
		{"sufficient", &BudgetRef{Kind: budget.KindDepartment, ID: 1}, 300, true, ReasonSufficient},
		{"insufficient", &BudgetRef{Kind: budget.KindDepartment, ID: 1}, 301, false, ReasonInsufficient},
		{"inactive", &BudgetRef{Kind: budget.KindDepartment, ID: 2}, 1, false, ReasonBudgetInactive},
		{"outside period", &BudgetRef{Kind: budget.KindProject, ID: 3}, 1, false, ReasonBudgetInactive},
		{"missing", &BudgetRef{Kind: budget.KindDepartment, ID: 42}, 1, false, ReasonNotFound},
		{"kind mismatch", &BudgetRef{Kind: budget.KindProject, ID: 1}, 1, false, ReasonNotFound},
		{"unlinked", nil, 1, false, ReasonNoBudgetLinked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := gate.Check(context.Background(), gateRequest(tc.ref, tc.total))
			require.Equal(t, tc.available, result.Available)
			require.Equal(t, tc.reason, result.Reason)
			require.True(t, result.RequiredAmount.Equal(decimal.NewFromInt(tc.total)))
			require.Equal(t, now, result.CheckedAt)
			if tc.available {
				require.NoError(t, result.Err())
			} else {
				require.Error(t, result.Err())
				require.NotEmpty(t, result.WarningMessage)
			}
		})
	}
}

func TestBudgetGateWarnsNearThreshold(t *testing.T) {
	b := budget.Budget{ID: 1, Kind: budget.KindDepartment, Department: budget.DeptIT, Total: decimal.NewFromInt(1000), Committed: decimal.NewFromInt(850), Active: true}
	gate := NewBudgetGate(newMemoryLedger(b), nil)

	result := gate.Check(context.Background(), gateRequest(&BudgetRef{Kind: budget.KindDepartment, ID: 1}, 100))
	require.True(t, result.Available)
	require.Equal(t, budget.AlertWarning, result.AlertLevel)
	require.Contains(t, result.WarningMessage, "85")
}

func TestBudgetGateWithoutLedgerFailsClosed(t *testing.T) {
	gate := NewBudgetGate(nil, nil)
	result := gate.Check(context.Background(), gateRequest(&BudgetRef{Kind: budget.KindDepartment, ID: 1}, 1))
	require.False(t, result.Available)
	require.Equal(t, ReasonLookupFailed, result.Reason)
}
