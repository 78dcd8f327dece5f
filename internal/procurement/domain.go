package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/budget"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// RequestStatus is the procurement request lifecycle status.
type RequestStatus string

const (
	RequestDraft           RequestStatus = "draft"
	RequestPendingApproval RequestStatus = "pending_approval"
	RequestApproved        RequestStatus = "approved"
	RequestRejected        RequestStatus = "rejected"
	RequestOrdered         RequestStatus = "ordered"
	RequestCancelled       RequestStatus = "cancelled"
)

// Category classifies a requested item.
type Category string

const (
	CategoryOfficeSupplies Category = "office_supplies"
	CategoryITEquipment    Category = "it_equipment"
	CategoryFurniture      Category = "furniture"
	CategoryServices       Category = "services"
	CategoryRawMaterials   Category = "raw_materials"
	CategoryMaintenance    Category = "maintenance"
	CategoryMarketing      Category = "marketing"
	CategoryTravel         Category = "travel"
	CategoryOther          Category = "other"
)

// Categories lists every accepted item category.
func Categories() []Category {
	return []Category{
		CategoryOfficeSupplies, CategoryITEquipment, CategoryFurniture, CategoryServices,
		CategoryRawMaterials, CategoryMaintenance, CategoryMarketing, CategoryTravel, CategoryOther,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// ApproverRole names the role expected to resolve an approval step.
type ApproverRole string

const (
	RoleDepartmentManager ApproverRole = shared.RoleDepartmentManager
	RoleFinanceOfficer    ApproverRole = shared.RoleFinanceOfficer
	RoleHeadAdministrator ApproverRole = shared.RoleHeadAdministrator
)

// StepStatus is the resolution of a single approval step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// HistoryAction is the action recorded in the approval history.
type HistoryAction string

const (
	ActionApproved HistoryAction = "approved"
	ActionRejected HistoryAction = "rejected"
)

// LineItem is one requested good or service.
type LineItem struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Category    Category        `json:"category"`
}

// Total returns quantity times unit price.
func (i LineItem) Total() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

// ApprovalStep is one entry of the approval chain.
type ApprovalStep struct {
	Role           ApproverRole `json:"approver_role"`
	Required       bool         `json:"required"`
	Status         StepStatus   `json:"status"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy     int64        `json:"resolved_by,omitempty"`
	ResolvedByName string       `json:"resolved_by_name,omitempty"`
	Comment        string       `json:"comment,omitempty"`
}

// HistoryEntry is an immutable record of an approval action.
type HistoryEntry struct {
	Step      int           `json:"step"`
	ActorID   int64         `json:"approver_id"`
	ActorName string        `json:"approver_name"`
	Action    HistoryAction `json:"action"`
	Comment   string        `json:"comments,omitempty"`
	At        time.Time     `json:"timestamp"`
}

// BudgetRef links a request to exactly one department or project budget.
type BudgetRef struct {
	Kind budget.Kind `json:"budget_type"`
	ID   int64       `json:"budget_id"`
}

// BudgetReason explains a budget gate verdict.
type BudgetReason string

const (
	ReasonSufficient     BudgetReason = "sufficient"
	ReasonInsufficient   BudgetReason = "insufficient_funds"
	ReasonBudgetInactive BudgetReason = "budget_inactive"
	ReasonNotFound       BudgetReason = "budget_not_found"
	ReasonNoBudgetLinked BudgetReason = "no_budget_linked"
	ReasonLookupFailed   BudgetReason = "lookup_failed"
)

// BudgetCheckResult is the outcome of the budget gate.
type BudgetCheckResult struct {
	Available       bool              `json:"available"`
	AvailableAmount decimal.Decimal   `json:"available_amount"`
	RequiredAmount  decimal.Decimal   `json:"required_amount"`
	BudgetType      budget.Kind       `json:"budget_type,omitempty"`
	BudgetID        int64             `json:"budget_id,omitempty"`
	Reason          BudgetReason      `json:"reason"`
	WarningMessage  string            `json:"warning_message,omitempty"`
	AlertLevel      budget.AlertLevel `json:"alert_level,omitempty"`
	CheckedAt       time.Time         `json:"checked_at"`
}

// Err returns nil for an available result, otherwise the matching budget error.
func (r BudgetCheckResult) Err() error {
	switch {
	case r.Available:
		return nil
	case r.Reason == ReasonInsufficient || r.Reason == ReasonBudgetInactive:
		return fmt.Errorf("%s: %w", r.WarningMessage, ErrBudgetInsufficient)
	default:
		return fmt.Errorf("%s: %w", r.WarningMessage, ErrBudgetNotFound)
	}
}

// BudgetTracking links the request to its budget and caches the last gate verdict.
type BudgetTracking struct {
	Ref         *BudgetRef         `json:"ref,omitempty"`
	CheckStatus string             `json:"check_status,omitempty"`
	LastCheck   *BudgetCheckResult `json:"last_check,omitempty"`
}

// Request is a procurement request moving through the approval chain.
type Request struct {
	ID              int64             `json:"id"`
	Number          string            `json:"request_number"`
	Department      budget.Department `json:"department"`
	Project         string            `json:"project,omitempty"`
	Items           []LineItem        `json:"items"`
	Justification   string            `json:"justification"`
	Tags            []string          `json:"tags"`
	RequestedBy     int64             `json:"requested_by"`
	RequestedByName string            `json:"requested_by_name,omitempty"`
	Total           decimal.Decimal   `json:"total_amount"`
	Chain           []ApprovalStep    `json:"approval_chain"`
	CurrentStep     int               `json:"current_approval_step"`
	History         []HistoryEntry    `json:"approval_history"`
	Budget          BudgetTracking    `json:"budget_tracking"`
	Status          RequestStatus     `json:"status"`
	CancelReason    string            `json:"cancel_reason,omitempty"`
	PurchaseOrderID *int64            `json:"purchase_order_id,omitempty"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	SubmittedAt     *time.Time        `json:"submitted_at,omitempty"`
	DecidedAt       *time.Time        `json:"decided_at,omitempty"`

	// storedHistory counts history entries already persisted; only the tail is written.
	storedHistory int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("procurement: not found: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("procurement: invalid input: %w", shared.ErrValidation)
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = fmt.Errorf("procurement: invalid state transition: %w", shared.ErrInvalidState)
	// ErrConflict occurs when the caller's expected version is stale.
	ErrConflict = fmt.Errorf("procurement: version mismatch: %w", shared.ErrConflict)
	// ErrDuplicate occurs when a document number is already taken.
	ErrDuplicate = fmt.Errorf("procurement: duplicate number: %w", shared.ErrDuplicate)
	// ErrBudgetNotFound indicates the linked budget is missing or could not be resolved.
	ErrBudgetNotFound = fmt.Errorf("procurement: budget not found: %w", shared.ErrBudgetUnavailable)
	// ErrBudgetInsufficient indicates the linked budget cannot fund the request.
	ErrBudgetInsufficient = fmt.Errorf("procurement: insufficient budget: %w", shared.ErrBudgetUnavailable)
)

func invalid(fields shared.FieldErrors) error {
	return shared.InvalidFields(ErrValidation, fields)
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidState)
}
