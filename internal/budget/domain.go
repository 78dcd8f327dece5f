package budget

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Kind distinguishes department and project budgets.
type Kind string

const (
	KindDepartment Kind = "department"
	KindProject    Kind = "project"
)

// Department enumerates requesting departments.
type Department string

const (
	DeptAdministration Department = "administration"
	DeptFinance        Department = "finance"
	DeptHR             Department = "hr"
	DeptMarketing      Department = "marketing"
	DeptOperations     Department = "operations"
	DeptSales          Department = "sales"
	DeptIT             Department = "it"
	DeptLegal          Department = "legal"
	DeptProcurement    Department = "procurement"
	DeptOther          Department = "other"
)

// Departments lists every accepted department.
func Departments() []Department {
	return []Department{
		DeptAdministration, DeptFinance, DeptHR, DeptMarketing, DeptOperations,
		DeptSales, DeptIT, DeptLegal, DeptProcurement, DeptOther,
	}
}

// Valid reports whether d is a known department.
func (d Department) Valid() bool {
	for _, known := range Departments() {
		if d == known {
			return true
		}
	}
	return false
}

// AlertLevel grades utilization against fixed control points.
type AlertLevel string

const (
	AlertNormal   AlertLevel = "NORMAL"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
	AlertExceeded AlertLevel = "EXCEEDED"
)

// Severity grades a threshold breach.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var (
	hundred          = decimal.NewFromInt(100)
	warningLevel     = decimal.NewFromInt(80)
	criticalLevel    = decimal.NewFromInt(95)
	highSeverity     = decimal.NewFromInt(90)
	defaultThreshold = warningLevel
)

// Budget is a department or project spending envelope for one fiscal year.
type Budget struct {
	ID             int64           `json:"id"`
	Kind           Kind            `json:"kind"`
	Department     Department      `json:"department,omitempty"`
	ProjectCode    string          `json:"project_code,omitempty"`
	ProjectName    string          `json:"project_name,omitempty"`
	FiscalYear     int             `json:"fiscal_year"`
	Total          decimal.Decimal `json:"total"`
	Spent          decimal.Decimal `json:"spent"`
	Committed      decimal.Decimal `json:"committed"`
	AlertThreshold decimal.Decimal `json:"alert_threshold"`
	Active         bool            `json:"active"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	Version        int64           `json:"version"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Available returns total minus spent and committed.
func (b Budget) Available() decimal.Decimal {
	return b.Total.Sub(b.Spent).Sub(b.Committed)
}

// Utilization returns (spent + committed) / total as a percentage.
func (b Budget) Utilization() decimal.Decimal {
	used := b.Spent.Add(b.Committed)
	if !b.Total.IsPositive() {
		if used.IsPositive() {
			return hundred
		}
		return decimal.Zero
	}
	return used.Div(b.Total).Mul(hundred).Round(2)
}

// Level grades utilization: 80 warning, 95 critical, 100 exceeded.
func (b Budget) Level() AlertLevel {
	u := b.Utilization()
	switch {
	case u.GreaterThanOrEqual(hundred):
		return AlertExceeded
	case u.GreaterThanOrEqual(criticalLevel):
		return AlertCritical
	case u.GreaterThanOrEqual(warningLevel):
		return AlertWarning
	default:
		return AlertNormal
	}
}

// OpenAt reports whether the budget is active and at falls inside its period.
func (b Budget) OpenAt(at time.Time) bool {
	if !b.Active {
		return false
	}
	if !b.PeriodStart.IsZero() && at.Before(b.PeriodStart) {
		return false
	}
	if !b.PeriodEnd.IsZero() && at.After(b.PeriodEnd) {
		return false
	}
	return true
}

// Alert describes a budget whose utilization passed its threshold.
type Alert struct {
	BudgetID    int64           `json:"budget_id"`
	Kind        Kind            `json:"kind"`
	Owner       string          `json:"owner"`
	FiscalYear  int             `json:"fiscal_year"`
	Utilization decimal.Decimal `json:"utilization"`
	Threshold   decimal.Decimal `json:"threshold"`
	Available   decimal.Decimal `json:"available"`
	Level       AlertLevel      `json:"level"`
	Severity    Severity        `json:"severity"`
	Message     string          `json:"message"`
}

// Alert returns the threshold alert for b, if any.
func (b Budget) Alert() (Alert, bool) {
	threshold := b.AlertThreshold
	if !threshold.IsPositive() {
		threshold = defaultThreshold
	}
	u := b.Utilization()
	if u.LessThan(threshold) {
		return Alert{}, false
	}
	severity := SeverityMedium
	switch {
	case u.GreaterThanOrEqual(hundred):
		severity = SeverityCritical
	case u.GreaterThanOrEqual(highSeverity):
		severity = SeverityHigh
	}
	return Alert{
		BudgetID:    b.ID,
		Kind:        b.Kind,
		Owner:       b.Owner(),
		FiscalYear:  b.FiscalYear,
		Utilization: u,
		Threshold:   threshold,
		Available:   b.Available(),
		Level:       b.Level(),
		Severity:    severity,
		Message:     fmt.Sprintf("%s budget %s has used %s%% of its allocation", b.Kind, b.Owner(), u.StringFixed(2)),
	}, true
}

// Owner returns the department or project code the budget belongs to.
func (b Budget) Owner() string {
	if b.Kind == KindProject {
		return b.ProjectCode
	}
	return string(b.Department)
}

// Availability is the answer to "can this budget fund amount".
type Availability struct {
	BudgetID  int64           `json:"budget_id"`
	Kind      Kind            `json:"budget_type"`
	Available bool            `json:"available"`
	Balance   decimal.Decimal `json:"available_amount"`
	Required  decimal.Decimal `json:"required_amount"`
	Level     AlertLevel      `json:"alert_level"`
	Open      bool            `json:"open"`
}

// CheckAmount compares the available balance with amount at the given time.
func (b Budget) CheckAmount(amount decimal.Decimal, at time.Time) Availability {
	open := b.OpenAt(at)
	balance := b.Available()
	return Availability{
		BudgetID:  b.ID,
		Kind:      b.Kind,
		Available: open && balance.GreaterThanOrEqual(amount),
		Balance:   balance,
		Required:  amount,
		Level:     b.Level(),
		Open:      open,
	}
}

// Commitment reserves part of a budget for a referenced document.
type Commitment struct {
	ID         int64           `json:"id"`
	BudgetID   int64           `json:"budget_id"`
	Ref        string          `json:"ref"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
	ReleasedAt *time.Time      `json:"released_at,omitempty"`
}

var (
	// ErrNotFound indicates the budget does not exist.
	ErrNotFound = fmt.Errorf("budget: not found: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("budget: invalid input: %w", shared.ErrValidation)
	// ErrDuplicate indicates a department already has a budget for the fiscal year.
	ErrDuplicate = fmt.Errorf("budget: already exists: %w", shared.ErrDuplicate)
	// ErrConflict indicates a concurrent update won the race.
	ErrConflict = fmt.Errorf("budget: modified concurrently: %w", shared.ErrConflict)
	// ErrAlreadyCommitted indicates the reference already holds a commitment.
	ErrAlreadyCommitted = errors.New("budget: reference already committed")
	// ErrNoCommitment indicates the reference holds no open commitment.
	ErrNoCommitment = errors.New("budget: no open commitment for reference")
)

func invalid(fields shared.FieldErrors) error {
	return shared.InvalidFields(ErrValidation, fields)
}
