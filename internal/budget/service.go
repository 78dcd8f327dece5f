package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Budget, error)
	List(ctx context.Context, filters ListFilters) ([]Budget, error)
	Count(ctx context.Context, filters ListFilters) (int, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, b Budget) (int64, error)
	Lock(ctx context.Context, id int64) (Budget, error)
	Update(ctx context.Context, b Budget) error
	InsertCommitment(ctx context.Context, c Commitment) error
	ReleaseCommitment(ctx context.Context, budgetID int64, ref string, at time.Time) (decimal.Decimal, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ListFilters narrows a budget listing.
type ListFilters struct {
	Kind       Kind
	Department Department
	FiscalYear int
	ActiveOnly bool
	Page       int
	Limit      int
}

// Service manages the budget ledger.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs budget service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// CreateInput describes a new department or project budget.
type CreateInput struct {
	Kind           Kind
	Department     Department
	ProjectCode    string
	ProjectName    string
	FiscalYear     int
	Total          decimal.Decimal
	AlertThreshold decimal.Decimal
	PeriodStart    time.Time
	PeriodEnd      time.Time
	CreatedBy      int64
}

func (in CreateInput) validate() error {
	fields := shared.FieldErrors{}
	switch in.Kind {
	case KindDepartment:
		if !in.Department.Valid() {
			fields["department"] = "is not a known department"
		}
	case KindProject:
		if strings.TrimSpace(in.ProjectCode) == "" {
			fields["project_code"] = "is required"
		}
	default:
		fields["kind"] = "must be department or project"
	}
	if in.FiscalYear < 2000 || in.FiscalYear > 2100 {
		fields["fiscal_year"] = "must be between 2000 and 2100"
	}
	if in.Total.IsNegative() {
		fields["total"] = "must not be negative"
	}
	if in.AlertThreshold.IsNegative() || in.AlertThreshold.GreaterThan(hundred) {
		fields["alert_threshold"] = "must be between 0 and 100"
	}
	if !in.PeriodStart.IsZero() && !in.PeriodEnd.IsZero() && in.PeriodEnd.Before(in.PeriodStart) {
		fields["period_end"] = "must not precede period_start"
	}
	if len(fields) > 0 {
		return invalid(fields)
	}
	return nil
}

// Create persists a budget. Department budgets are unique per fiscal year.
func (s *Service) Create(ctx context.Context, input CreateInput) (Budget, error) {
	if err := input.validate(); err != nil {
		return Budget{}, err
	}
	threshold := input.AlertThreshold
	if !threshold.IsPositive() {
		threshold = defaultThreshold
	}
	start, end := input.PeriodStart, input.PeriodEnd
	if start.IsZero() {
		start = time.Date(input.FiscalYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if end.IsZero() {
		end = time.Date(input.FiscalYear, time.December, 31, 23, 59, 59, 0, time.UTC)
	}
	now := s.now().UTC()
	b := Budget{
		Kind:           input.Kind,
		Department:     input.Department,
		ProjectCode:    strings.TrimSpace(input.ProjectCode),
		ProjectName:    strings.TrimSpace(input.ProjectName),
		FiscalYear:     input.FiscalYear,
		Total:          input.Total,
		Spent:          decimal.Zero,
		Committed:      decimal.Zero,
		AlertThreshold: threshold,
		Active:         true,
		PeriodStart:    start,
		PeriodEnd:      end,
		Version:        1,
		CreatedBy:      input.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if b.Kind == KindProject {
		b.Department = ""
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, b)
		if err != nil {
			return err
		}
		b.ID = id
		return nil
	})
	if err != nil {
		return Budget{}, err
	}
	s.recordAudit(ctx, "BUDGET_CREATE", b.ID, map[string]any{"kind": b.Kind, "owner": b.Owner(), "fiscal_year": b.FiscalYear, "total": b.Total.String()})
	return b, nil
}

// Get returns a budget by id.
func (s *Service) Get(ctx context.Context, id int64) (Budget, error) {
	return s.repo.Get(ctx, id)
}

// List returns one page of budgets and the total match count.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Budget, shared.Pagination, error) {
	filters.Page, filters.Limit = shared.NormalizePage(filters.Page, filters.Limit)
	var (
		items []Budget
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.repo.List(gctx, filters)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.Count(gctx, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// UpdateInput patches mutable budget fields.
type UpdateInput struct {
	Total          *decimal.Decimal
	Spent          *decimal.Decimal
	AlertThreshold *decimal.Decimal
	Active         *bool
	PeriodEnd      *time.Time
}

// Update applies patch under the budget row lock.
func (s *Service) Update(ctx context.Context, id int64, patch UpdateInput) (Budget, error) {
	var updated Budget
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		fields := shared.FieldErrors{}
		if patch.Total != nil {
			if patch.Total.IsNegative() {
				fields["total"] = "must not be negative"
			}
			b.Total = *patch.Total
		}
		if patch.Spent != nil {
			if patch.Spent.IsNegative() {
				fields["spent"] = "must not be negative"
			}
			b.Spent = *patch.Spent
		}
		if patch.AlertThreshold != nil {
			if patch.AlertThreshold.IsNegative() || patch.AlertThreshold.GreaterThan(hundred) {
				fields["alert_threshold"] = "must be between 0 and 100"
			}
			b.AlertThreshold = *patch.AlertThreshold
		}
		if patch.Active != nil {
			b.Active = *patch.Active
		}
		if patch.PeriodEnd != nil {
			if patch.PeriodEnd.Before(b.PeriodStart) {
				fields["period_end"] = "must not precede period_start"
			}
			b.PeriodEnd = *patch.PeriodEnd
		}
		if len(fields) > 0 {
			return invalid(fields)
		}
		b.UpdatedAt = s.now().UTC()
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		b.Version++
		updated = b
		return nil
	})
	if err != nil {
		return Budget{}, err
	}
	s.recordAudit(ctx, "BUDGET_UPDATE", id, map[string]any{"total": updated.Total.String(), "spent": updated.Spent.String(), "active": updated.Active})
	return updated, nil
}

// CheckAvailability reports whether budget id can fund amount. It never mutates.
func (s *Service) CheckAvailability(ctx context.Context, id int64, amount decimal.Decimal) (Availability, error) {
	if amount.IsNegative() {
		return Availability{}, invalid(shared.FieldErrors{"amount": "must not be negative"})
	}
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Availability{}, err
	}
	return b.CheckAmount(amount, s.now()), nil
}

// Alerts lists active budgets whose utilization passed their threshold.
func (s *Service) Alerts(ctx context.Context) ([]Alert, error) {
	budgets, err := s.repo.List(ctx, ListFilters{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0)
	for _, b := range budgets {
		if alert, ok := b.Alert(); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}

// Commit reserves amount on budget id for ref. Committing the same ref twice fails
// with ErrAlreadyCommitted and leaves the ledger unchanged.
func (s *Service) Commit(ctx context.Context, id int64, amount decimal.Decimal, ref string) error {
	if !amount.IsPositive() || ref == "" {
		return fmt.Errorf("commit %s: %w", ref, ErrValidation)
	}
	var after Budget
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := tx.InsertCommitment(ctx, Commitment{BudgetID: id, Ref: ref, Amount: amount, CreatedAt: now}); err != nil {
			return err
		}
		b.Committed = b.Committed.Add(amount)
		b.UpdatedAt = now
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		after = b
		return nil
	})
	if err != nil {
		return err
	}
	if level := after.Level(); level != AlertNormal {
		s.logger.Warn("budget utilization", slog.Int64("budget_id", id), slog.String("level", string(level)), slog.String("utilization", after.Utilization().String()))
	}
	s.recordAudit(ctx, "BUDGET_COMMIT", id, map[string]any{"ref": ref, "amount": amount.String()})
	return nil
}

// Release returns the open commitment held by ref to the available balance.
func (s *Service) Release(ctx context.Context, id int64, ref string) error {
	if ref == "" {
		return fmt.Errorf("release: %w", ErrValidation)
	}
	var released decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		amount, err := tx.ReleaseCommitment(ctx, id, ref, now)
		if err != nil {
			return err
		}
		b.Committed = b.Committed.Sub(amount)
		if b.Committed.IsNegative() {
			b.Committed = decimal.Zero
		}
		b.UpdatedAt = now
		released = amount
		return tx.Update(ctx, b)
	})
	if err != nil {
		if errors.Is(err, ErrNoCommitment) {
			s.logger.Info("release without commitment", slog.Int64("budget_id", id), slog.String("ref", ref))
		}
		return err
	}
	s.recordAudit(ctx, "BUDGET_RELEASE", id, map[string]any{"ref": ref, "amount": released.String()})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "budget", EntityID: fmt.Sprintf("%d", id), Meta: meta}); err != nil {
		s.logger.Warn("budget audit", slog.Any("error", err), slog.String("action", action))
	}
}
