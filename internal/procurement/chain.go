package procurement

import "github.com/shopspring/decimal"

var (
	financeThreshold = decimal.NewFromInt(1000)
	headThreshold    = decimal.NewFromInt(10000)
)

// ItemsTotal sums quantity times unit price over items.
func ItemsTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Total())
	}
	return total
}

// BuildApprovalChain returns the ordered approval steps required for total.
// Totals from 1000 add a finance step and from 10000 a head administrator step.
func BuildApprovalChain(total decimal.Decimal) []ApprovalStep {
	chain := []ApprovalStep{{Role: RoleDepartmentManager, Required: true, Status: StepPending}}
	if total.GreaterThanOrEqual(financeThreshold) {
		chain = append(chain, ApprovalStep{Role: RoleFinanceOfficer, Required: true, Status: StepPending})
	}
	if total.GreaterThanOrEqual(headThreshold) {
		chain = append(chain, ApprovalStep{Role: RoleHeadAdministrator, Required: true, Status: StepPending})
	}
	return chain
}
