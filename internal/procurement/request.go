package procurement

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/budget"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// validateItems checks line items against the enums and numeric constraints.
func validateItems(items []LineItem, field string, errs shared.FieldErrors) {
	if len(items) == 0 {
		errs[field] = "at least one item is required"
		return
	}
	for i, item := range items {
		prefix := fmt.Sprintf("%s[%d]", field, i)
		if strings.TrimSpace(item.Name) == "" {
			errs[prefix+".name"] = "is required"
		}
		if item.Quantity.IsNegative() {
			errs[prefix+".quantity"] = "must not be negative"
		}
		if item.UnitPrice.IsNegative() {
			errs[prefix+".unit_price"] = "must not be negative"
		}
		if !item.Category.Valid() {
			errs[prefix+".category"] = "is not a known category"
		}
	}
}

func validateBudgetRef(ref *BudgetRef, errs shared.FieldErrors) {
	if ref == nil {
		return
	}
	if ref.Kind != budget.KindDepartment && ref.Kind != budget.KindProject {
		errs["budget.budget_type"] = "must be department or project"
	}
	if ref.ID <= 0 {
		errs["budget.budget_id"] = "must be a positive id"
	}
}

// newRequest builds a draft request with its total and approval chain derived from items.
func newRequest(in CreateRequestInput, number string, now time.Time) (Request, error) {
	errs := shared.FieldErrors{}
	if !in.Department.Valid() {
		errs["department"] = "is not a known department"
	}
	if strings.TrimSpace(in.Justification) == "" {
		errs["justification"] = "is required"
	}
	validateItems(in.Items, "items", errs)
	validateBudgetRef(in.Budget, errs)
	if in.RequestedBy.ID == 0 {
		errs["requested_by"] = "is required"
	}
	if len(errs) > 0 {
		return Request{}, invalid(errs)
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	req := Request{
		Number:          number,
		Department:      in.Department,
		Project:         in.Project,
		Items:           append([]LineItem(nil), in.Items...),
		Justification:   in.Justification,
		Tags:            tags,
		RequestedBy:     in.RequestedBy.ID,
		RequestedByName: in.RequestedBy.Name,
		Status:          RequestDraft,
		History:         []HistoryEntry{},
		Budget:          BudgetTracking{Ref: in.Budget},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	req.recompute()
	return req, nil
}

func (r *Request) recompute() {
	r.Total = ItemsTotal(r.Items)
	r.Chain = BuildApprovalChain(r.Total)
	r.CurrentStep = 0
}

// Revise applies a draft edit. Item changes recompute the total and the chain.
func (r *Request) Revise(patch RequestPatch, now time.Time) error {
	if r.Status != RequestDraft {
		return invalidState("request %s is %s, only drafts can be edited", r.Number, r.Status)
	}
	errs := shared.FieldErrors{}
	if patch.Department != nil && !patch.Department.Valid() {
		errs["department"] = "is not a known department"
	}
	if patch.Justification != nil && strings.TrimSpace(*patch.Justification) == "" {
		errs["justification"] = "is required"
	}
	if patch.Items != nil {
		validateItems(*patch.Items, "items", errs)
	}
	validateBudgetRef(patch.Budget, errs)
	if len(errs) > 0 {
		return invalid(errs)
	}
	if patch.Department != nil {
		r.Department = *patch.Department
	}
	if patch.Project != nil {
		r.Project = *patch.Project
	}
	if patch.Justification != nil {
		r.Justification = *patch.Justification
	}
	if patch.Tags != nil {
		r.Tags = *patch.Tags
	}
	if patch.Budget != nil {
		r.Budget.Ref = patch.Budget
		r.Budget.LastCheck = nil
		r.Budget.CheckStatus = ""
	}
	if patch.Items != nil {
		r.Items = append([]LineItem(nil), (*patch.Items)...)
	}
	r.recompute()
	r.UpdatedAt = now
	return nil
}

// Submit moves a draft into approval once the gate has passed. A failed check
// leaves the request untouched.
func (r *Request) Submit(check BudgetCheckResult, now time.Time) error {
	if r.Status != RequestDraft {
		return invalidState("request %s is %s, only drafts can be submitted", r.Number, r.Status)
	}
	if err := check.Err(); err != nil {
		return err
	}
	r.recompute()
	r.Budget.LastCheck = &check
	r.Budget.CheckStatus = "passed"
	r.Status = RequestPendingApproval
	r.SubmittedAt = &now
	r.UpdatedAt = now
	return nil
}

// CurrentApprover returns the role expected to act next.
func (r Request) CurrentApprover() (ApproverRole, bool) {
	if r.Status != RequestPendingApproval || r.CurrentStep >= len(r.Chain) {
		return "", false
	}
	return r.Chain[r.CurrentStep].Role, true
}

// Approve resolves the current step. The request becomes approved once every
// required step is approved.
func (r *Request) Approve(actor shared.Actor, comment string, now time.Time) error {
	if err := r.awaitingDecision(); err != nil {
		return err
	}
	step := &r.Chain[r.CurrentStep]
	step.Status = StepApproved
	step.ResolvedAt = &now
	step.ResolvedBy = actor.ID
	step.ResolvedByName = actor.Name
	step.Comment = comment
	r.History = append(r.History, HistoryEntry{
		Step: r.CurrentStep, ActorID: actor.ID, ActorName: actor.Name,
		Action: ActionApproved, Comment: comment, At: now,
	})
	if r.requiredApproved() {
		r.Status = RequestApproved
		r.CurrentStep = len(r.Chain)
		r.DecidedAt = &now
	} else {
		r.CurrentStep++
	}
	r.UpdatedAt = now
	return nil
}

// awaitingDecision reports ErrInvalidState unless an approval step is open.
func (r Request) awaitingDecision() error {
	if r.Status != RequestPendingApproval {
		return invalidState("request %s is %s, not pending approval", r.Number, r.Status)
	}
	if r.CurrentStep >= len(r.Chain) {
		return invalidState("request %s has no open approval step", r.Number)
	}
	return nil
}

func (r Request) requiredApproved() bool {
	for _, step := range r.Chain {
		if step.Required && step.Status != StepApproved {
			return false
		}
	}
	return true
}

// Reject terminates the request at the current step. Later steps stay pending.
func (r *Request) Reject(actor shared.Actor, reason string, now time.Time) error {
	if strings.TrimSpace(reason) == "" {
		return invalid(shared.FieldErrors{"reason": "is required"})
	}
	if err := r.awaitingDecision(); err != nil {
		return err
	}
	step := &r.Chain[r.CurrentStep]
	step.Status = StepRejected
	step.ResolvedAt = &now
	step.ResolvedBy = actor.ID
	step.ResolvedByName = actor.Name
	step.Comment = reason
	r.History = append(r.History, HistoryEntry{
		Step: r.CurrentStep, ActorID: actor.ID, ActorName: actor.Name,
		Action: ActionRejected, Comment: reason, At: now,
	})
	r.Status = RequestRejected
	r.DecidedAt = &now
	r.UpdatedAt = now
	return nil
}

// Cancel withdraws a draft, pending or approved request.
func (r *Request) Cancel(reason string, now time.Time) error {
	switch r.Status {
	case RequestDraft, RequestPendingApproval, RequestApproved:
	default:
		return invalidState("request %s is %s and cannot be cancelled", r.Number, r.Status)
	}
	r.Status = RequestCancelled
	r.CancelReason = reason
	r.UpdatedAt = now
	return nil
}

// MarkOrdered links the purchase order created from an approved request.
func (r *Request) MarkOrdered(poID int64, now time.Time) error {
	if r.Status != RequestApproved {
		return invalidState("request %s is %s, only approved requests can be ordered", r.Number, r.Status)
	}
	r.Status = RequestOrdered
	r.PurchaseOrderID = &poID
	r.UpdatedAt = now
	return nil
}

// commitmentRef identifies the budget commitment held by the request.
func (r Request) commitmentRef() string {
	return fmt.Sprintf("procurement_request:%d", r.ID)
}
