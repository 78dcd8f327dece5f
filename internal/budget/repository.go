package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn in a repeatable-read transaction, retrying serialization conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const budgetColumns = `id, kind, COALESCE(department, ''), COALESCE(project_code, ''), COALESCE(project_name, ''),
fiscal_year, total, spent, committed, alert_threshold, active, period_start, period_end, version,
created_by, created_at, updated_at`

func scanBudget(row pgx.Row) (Budget, error) {
	var (
		b    Budget
		kind string
		dept string
	)
	err := row.Scan(&b.ID, &kind, &dept, &b.ProjectCode, &b.ProjectName, &b.FiscalYear,
		&b.Total, &b.Spent, &b.Committed, &b.AlertThreshold, &b.Active, &b.PeriodStart, &b.PeriodEnd,
		&b.Version, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Budget{}, ErrNotFound
		}
		return Budget{}, err
	}
	b.Kind = Kind(kind)
	b.Department = Department(dept)
	return b, nil
}

// Get returns a budget by id.
func (r *Repository) Get(ctx context.Context, id int64) (Budget, error) {
	return scanBudget(r.pool.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id=$1`, id))
}

func buildFilters(filters ListFilters) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filters.Kind != "" {
		add("kind = $%d", string(filters.Kind))
	}
	if filters.Department != "" {
		add("department = $%d", string(filters.Department))
	}
	if filters.FiscalYear > 0 {
		add("fiscal_year = $%d", filters.FiscalYear)
	}
	if filters.ActiveOnly {
		clauses = append(clauses, "active")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns budgets ordered by fiscal year then id. A zero limit returns every row.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Budget, error) {
	where, args := buildFilters(filters)
	query := `SELECT ` + budgetColumns + ` FROM budgets` + where + ` ORDER BY fiscal_year DESC, id`
	if filters.Limit > 0 {
		args = append(args, filters.Limit, shared.Offset(filters.Page, filters.Limit))
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Count returns the number of budgets matching filters.
func (r *Repository) Count(ctx context.Context, filters ListFilters) (int, error) {
	where, args := buildFilters(filters)
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM budgets`+where, args...).Scan(&total)
	return total, err
}

func (t *txRepo) Insert(ctx context.Context, b Budget) (int64, error) {
	var dept, code *string
	if b.Department != "" {
		d := string(b.Department)
		dept = &d
	}
	if b.ProjectCode != "" {
		code = &b.ProjectCode
	}
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO budgets (kind, department, project_code, project_name, fiscal_year,
total, spent, committed, alert_threshold, active, period_start, period_end, version, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16) RETURNING id`,
		string(b.Kind), dept, code, b.ProjectName, b.FiscalYear, b.Total, b.Spent, b.Committed, b.AlertThreshold,
		b.Active, b.PeriodStart, b.PeriodEnd, b.Version, b.CreatedBy, b.CreatedAt, b.UpdatedAt).Scan(&id)
	if shared.IsUniqueViolation(err) {
		return 0, ErrDuplicate
	}
	return id, err
}

func (t *txRepo) Lock(ctx context.Context, id int64) (Budget, error) {
	return scanBudget(t.tx.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id=$1 FOR UPDATE`, id))
}

// Update writes b guarded by its loaded version and bumps the version.
func (t *txRepo) Update(ctx context.Context, b Budget) error {
	tag, err := t.tx.Exec(ctx, `UPDATE budgets SET total=$3, spent=$4, committed=$5, alert_threshold=$6, active=$7,
period_end=$8, updated_at=$9, version=version+1 WHERE id=$1 AND version=$2`,
		b.ID, b.Version, b.Total, b.Spent, b.Committed, b.AlertThreshold, b.Active, b.PeriodEnd, b.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (t *txRepo) InsertCommitment(ctx context.Context, c Commitment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO budget_commitments (budget_id, ref, amount, created_at) VALUES ($1,$2,$3,$4)`,
		c.BudgetID, c.Ref, c.Amount, c.CreatedAt)
	if shared.IsUniqueViolation(err) {
		return ErrAlreadyCommitted
	}
	return err
}

func (t *txRepo) ReleaseCommitment(ctx context.Context, budgetID int64, ref string, at time.Time) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := t.tx.QueryRow(ctx, `UPDATE budget_commitments SET released_at=$3
WHERE budget_id=$1 AND ref=$2 AND released_at IS NULL RETURNING amount`, budgetID, ref, at).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNoCommitment
	}
	return amount, err
}
