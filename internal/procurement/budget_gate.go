package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/budget"
)

// LedgerPort exposes the budget ledger operations the workflow consumes.
type LedgerPort interface {
	Get(ctx context.Context, id int64) (budget.Budget, error)
	Commit(ctx context.Context, id int64, amount decimal.Decimal, ref string) error
	Release(ctx context.Context, id int64, ref string) error
}

// BudgetGate answers whether a request's linked budget can fund it. It never
// mutates the ledger and never fails on budget problems; those become a closed verdict.
type BudgetGate struct {
	ledger LedgerPort
	logger *slog.Logger
	now    func() time.Time
}

// NewBudgetGate constructs the gate.
func NewBudgetGate(ledger LedgerPort, logger *slog.Logger) *BudgetGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &BudgetGate{ledger: ledger, logger: logger, now: time.Now}
}

// Check evaluates req against its linked budget.
func (g *BudgetGate) Check(ctx context.Context, req Request) BudgetCheckResult {
	total := ItemsTotal(req.Items)
	result := BudgetCheckResult{
		AvailableAmount: decimal.Zero,
		RequiredAmount:  total,
		CheckedAt:       g.now().UTC(),
	}
	ref := req.Budget.Ref
	if ref == nil {
		result.Reason = ReasonNoBudgetLinked
		result.WarningMessage = "no budget linked to request " + req.Number
		return result
	}
	result.BudgetType = ref.Kind
	result.BudgetID = ref.ID
	if g.ledger == nil {
		result.Reason = ReasonLookupFailed
		result.WarningMessage = "budget ledger unavailable"
		return result
	}
	b, err := g.ledger.Get(ctx, ref.ID)
	switch {
	case errors.Is(err, budget.ErrNotFound):
		result.Reason = ReasonNotFound
		result.WarningMessage = fmt.Sprintf("%s budget %d not found", ref.Kind, ref.ID)
		return result
	case err != nil:
		g.logger.Warn("budget lookup failed", slog.Any("error", err), slog.Int64("budget_id", ref.ID), slog.String("request", req.Number))
		result.Reason = ReasonLookupFailed
		result.WarningMessage = fmt.Sprintf("unable to verify %s budget %d", ref.Kind, ref.ID)
		return result
	case b.Kind != ref.Kind:
		result.Reason = ReasonNotFound
		result.WarningMessage = fmt.Sprintf("budget %d is not a %s budget", ref.ID, ref.Kind)
		return result
	}

	availability := b.CheckAmount(total, result.CheckedAt)
	result.AvailableAmount = availability.Balance
	result.AlertLevel = availability.Level
	switch {
	case !availability.Open:
		result.Reason = ReasonBudgetInactive
		result.WarningMessage = fmt.Sprintf("%s budget %s is not open", b.Kind, b.Owner())
	case !availability.Available:
		result.Reason = ReasonInsufficient
		result.WarningMessage = fmt.Sprintf("insufficient %s budget: available %s, required %s",
			b.Kind, availability.Balance.StringFixed(2), total.StringFixed(2))
	default:
		result.Available = true
		result.Reason = ReasonSufficient
		if availability.Level != budget.AlertNormal {
			result.WarningMessage = fmt.Sprintf("%s budget %s is at %s%% utilization", b.Kind, b.Owner(), b.Utilization().String())
		}
	}
	return result
}
