package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-procure/internal/budget"
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

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn in a repeatable-read transaction, retrying serialization conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type filterBuilder struct {
	clauses []string
	args    []any
}

func (f *filterBuilder) add(clause string, value any) {
	f.args = append(f.args, value)
	f.clauses = append(f.clauses, fmt.Sprintf(clause, len(f.args)))
}

func (f *filterBuilder) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

func (f *filterBuilder) page(page, limit int) string {
	f.args = append(f.args, limit, shared.Offset(page, limit))
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(f.args)-1, len(f.args))
}

func wrapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func duplicateAware(err error) error {
	if shared.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// Requests

const requestColumns = `id, number, department, COALESCE(project, ''), items, justification, tags,
requested_by, COALESCE(requested_by_name, ''), total_amount, approval_chain, current_step,
COALESCE(budget_kind, ''), budget_id, budget_check_status, budget_last_check, status,
COALESCE(cancel_reason, ''), purchase_order_id, version, created_at, updated_at, submitted_at, decided_at`

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req        Request
		department string
		status     string
		kind       string
		budgetID   *int64
	)
	err := row.Scan(&req.ID, &req.Number, &department, &req.Project, &req.Items, &req.Justification, &req.Tags,
		&req.RequestedBy, &req.RequestedByName, &req.Total, &req.Chain, &req.CurrentStep,
		&kind, &budgetID, &req.Budget.CheckStatus, &req.Budget.LastCheck, &status,
		&req.CancelReason, &req.PurchaseOrderID, &req.Version, &req.CreatedAt, &req.UpdatedAt, &req.SubmittedAt, &req.DecidedAt)
	if err != nil {
		return Request{}, wrapNoRows(err)
	}
	req.Department = budget.Department(department)
	req.Status = RequestStatus(status)
	if budgetID != nil {
		req.Budget.Ref = &BudgetRef{Kind: budget.Kind(kind), ID: *budgetID}
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}
	return req, nil
}

func budgetColumns(ref *BudgetRef) (*string, *int64) {
	if ref == nil {
		return nil, nil
	}
	kind := string(ref.Kind)
	id := ref.ID
	return &kind, &id
}

func loadHistory(ctx context.Context, q querier, ids ...int64) (map[int64][]HistoryEntry, error) {
	out := make(map[int64][]HistoryEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT request_id, step, actor_id, actor_name, action, COALESCE(comment, ''), created_at
FROM procurement_request_history WHERE request_id = ANY($1) ORDER BY request_id, seq`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			requestID int64
			entry     HistoryEntry
			action    string
		)
		if err := rows.Scan(&requestID, &entry.Step, &entry.ActorID, &entry.ActorName, &action, &entry.Comment, &entry.At); err != nil {
			return nil, err
		}
		entry.Action = HistoryAction(action)
		out[requestID] = append(out[requestID], entry)
	}
	return out, rows.Err()
}

func getRequest(ctx context.Context, q querier, query string, id int64) (Request, error) {
	req, err := scanRequest(q.QueryRow(ctx, query, id))
	if err != nil {
		return Request{}, err
	}
	history, err := loadHistory(ctx, q, id)
	if err != nil {
		return Request{}, err
	}
	req.History = history[id]
	if req.History == nil {
		req.History = []HistoryEntry{}
	}
	req.storedHistory = len(req.History)
	return req, nil
}

// GetRequest returns a request with its approval history.
func (r *Repository) GetRequest(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, r.pool, `SELECT `+requestColumns+` FROM procurement_requests WHERE id=$1`, id)
}

func requestFilters(filters RequestFilters) *filterBuilder {
	f := &filterBuilder{}
	if filters.Status != "" {
		f.add("status = $%d", string(filters.Status))
	}
	if filters.Department != "" {
		f.add("department = $%d", string(filters.Department))
	}
	if filters.RequestedBy > 0 {
		f.add("requested_by = $%d", filters.RequestedBy)
	}
	if filters.From != nil {
		f.add("created_at >= $%d", *filters.From)
	}
	if filters.To != nil {
		f.add("created_at <= $%d", *filters.To)
	}
	if filters.MinAmount != nil {
		f.add("total_amount >= $%d", *filters.MinAmount)
	}
	if filters.MaxAmount != nil {
		f.add("total_amount <= $%d", *filters.MaxAmount)
	}
	return f
}

// ListRequests returns requests newest first.
func (r *Repository) ListRequests(ctx context.Context, filters RequestFilters) ([]Request, error) {
	f := requestFilters(filters)
	query := `SELECT ` + requestColumns + ` FROM procurement_requests` + f.where() + ` ORDER BY created_at DESC, id DESC` + f.page(filters.Page, filters.Limit)
	rows, err := r.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, err
	}
	var (
		out []Request
		ids []int64
	)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, req)
		ids = append(ids, req.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	history, err := loadHistory(ctx, r.pool, ids...)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].History = history[out[i].ID]
		if out[i].History == nil {
			out[i].History = []HistoryEntry{}
		}
		out[i].storedHistory = len(out[i].History)
	}
	return out, nil
}

// CountRequests returns the number of requests matching filters.
func (r *Repository) CountRequests(ctx context.Context, filters RequestFilters) (int, error) {
	f := requestFilters(filters)
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM procurement_requests`+f.where(), f.args...).Scan(&total)
	return total, err
}

// RequestTotals groups requests by status.
func (r *Repository) RequestTotals(ctx context.Context) (map[RequestStatus]StatusTotals, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0) FROM procurement_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[RequestStatus]StatusTotals{}
	for rows.Next() {
		var (
			status string
			totals StatusTotals
		)
		if err := rows.Scan(&status, &totals.Count, &totals.Amount); err != nil {
			return nil, err
		}
		out[RequestStatus(status)] = totals
	}
	return out, rows.Err()
}

func (t *txRepo) InsertRequest(ctx context.Context, req Request) (int64, error) {
	kind, budgetID := budgetColumns(req.Budget.Ref)
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO procurement_requests (number, department, project, items, justification, tags,
requested_by, requested_by_name, total_amount, approval_chain, current_step, budget_kind, budget_id,
budget_check_status, budget_last_check, status, version, created_at, updated_at)
VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19) RETURNING id`,
		req.Number, string(req.Department), req.Project, req.Items, req.Justification, req.Tags,
		req.RequestedBy, req.RequestedByName, req.Total, req.Chain, req.CurrentStep, kind, budgetID,
		req.Budget.CheckStatus, req.Budget.LastCheck, string(req.Status), req.Version, req.CreatedAt, req.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, duplicateAware(err)
	}
	return id, nil
}

func (t *txRepo) LockRequest(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, t.tx, `SELECT `+requestColumns+` FROM procurement_requests WHERE id=$1 FOR UPDATE`, id)
}

// UpdateRequest writes req guarded by its loaded version and appends unsaved history.
func (t *txRepo) UpdateRequest(ctx context.Context, req Request) error {
	kind, budgetID := budgetColumns(req.Budget.Ref)
	tag, err := t.tx.Exec(ctx, `UPDATE procurement_requests SET department=$3, project=NULLIF($4,''), items=$5,
justification=$6, tags=$7, total_amount=$8, approval_chain=$9, current_step=$10, budget_kind=$11, budget_id=$12,
budget_check_status=$13, budget_last_check=$14, status=$15, cancel_reason=NULLIF($16,''), purchase_order_id=$17,
updated_at=$18, submitted_at=$19, decided_at=$20, version=version+1
WHERE id=$1 AND version=$2`,
		req.ID, req.Version, string(req.Department), req.Project, req.Items, req.Justification, req.Tags, req.Total,
		req.Chain, req.CurrentStep, kind, budgetID, req.Budget.CheckStatus, req.Budget.LastCheck, string(req.Status),
		req.CancelReason, req.PurchaseOrderID, req.UpdatedAt, req.SubmittedAt, req.DecidedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	for i := req.storedHistory; i < len(req.History); i++ {
		entry := req.History[i]
		if _, err := t.tx.Exec(ctx, `INSERT INTO procurement_request_history (request_id, seq, step, actor_id, actor_name, action, comment, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8)`,
			req.ID, i, entry.Step, entry.ActorID, entry.ActorName, string(entry.Action), entry.Comment, entry.At); err != nil {
			return err
		}
	}
	return nil
}

// Purchase orders

const poColumns = `id, number, request_id, COALESCE(rfq_id, ''), supplier_id, supplier_name, items, total_amount,
delivery, payment_terms, COALESCE(terms, ''), status, timeline, comments, receipt_ids, version, created_by,
created_at, updated_at`

func scanPurchaseOrder(row pgx.Row) (PurchaseOrder, error) {
	var (
		po     PurchaseOrder
		status string
	)
	err := row.Scan(&po.ID, &po.Number, &po.RequestID, &po.RFQID, &po.SupplierID, &po.SupplierName, &po.Items,
		&po.Total, &po.Delivery, &po.PaymentTerms, &po.Terms, &status, &po.Timeline, &po.Comments, &po.ReceiptIDs,
		&po.Version, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, wrapNoRows(err)
	}
	po.Status = POStatus(status)
	if po.Comments == nil {
		po.Comments = []POComment{}
	}
	if po.ReceiptIDs == nil {
		po.ReceiptIDs = []int64{}
	}
	return po, nil
}

// GetPurchaseOrder returns an order by id.
func (r *Repository) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPurchaseOrder(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1`, id))
}

func poFilters(filters POFilters) *filterBuilder {
	f := &filterBuilder{}
	if filters.Status != "" {
		f.add("status = $%d", string(filters.Status))
	}
	if filters.SupplierID > 0 {
		f.add("supplier_id = $%d", filters.SupplierID)
	}
	if filters.RequestID > 0 {
		f.add("request_id = $%d", filters.RequestID)
	}
	if filters.From != nil {
		f.add("created_at >= $%d", *filters.From)
	}
	if filters.To != nil {
		f.add("created_at <= $%d", *filters.To)
	}
	return f
}

// ListPurchaseOrders returns orders newest first.
func (r *Repository) ListPurchaseOrders(ctx context.Context, filters POFilters) ([]PurchaseOrder, error) {
	f := poFilters(filters)
	query := `SELECT ` + poColumns + ` FROM purchase_orders` + f.where() + ` ORDER BY created_at DESC, id DESC` + f.page(filters.Page, filters.Limit)
	rows, err := r.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

// CountPurchaseOrders returns the number of orders matching filters.
func (r *Repository) CountPurchaseOrders(ctx context.Context, filters POFilters) (int, error) {
	f := poFilters(filters)
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+f.where(), f.args...).Scan(&total)
	return total, err
}

// PurchaseOrderTotals groups orders by status.
func (r *Repository) PurchaseOrderTotals(ctx context.Context) (map[POStatus]StatusTotals, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0) FROM purchase_orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[POStatus]StatusTotals{}
	for rows.Next() {
		var (
			status string
			totals StatusTotals
		)
		if err := rows.Scan(&status, &totals.Count, &totals.Amount); err != nil {
			return nil, err
		}
		out[POStatus(status)] = totals
	}
	return out, rows.Err()
}

func (t *txRepo) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, request_id, rfq_id, supplier_id, supplier_name, items,
total_amount, delivery, payment_terms, terms, status, timeline, comments, receipt_ids, version, created_by, created_at, updated_at)
VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11,$12,$13,$14,$15,$16,$17,$18) RETURNING id`,
		po.Number, po.RequestID, po.RFQID, po.SupplierID, po.SupplierName, po.Items, po.Total, po.Delivery,
		po.PaymentTerms, po.Terms, string(po.Status), po.Timeline, po.Comments, po.ReceiptIDs, po.Version,
		po.CreatedBy, po.CreatedAt, po.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, duplicateAware(err)
	}
	return id, nil
}

func (t *txRepo) LockPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPurchaseOrder(t.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET items=$3, total_amount=$4, delivery=$5, payment_terms=$6,
terms=NULLIF($7,''), status=$8, timeline=$9, comments=$10, receipt_ids=$11, updated_at=$12, version=version+1
WHERE id=$1 AND version=$2`,
		po.ID, po.Version, po.Items, po.Total, po.Delivery, po.PaymentTerms, po.Terms, string(po.Status),
		po.Timeline, po.Comments, po.ReceiptIDs, po.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Goods receipts

const receiptColumns = `id, number, purchase_order_id, items, total_received_value, received_date, received_by,
COALESCE(received_by_name, ''), quality, discrepancy, status, COALESCE(notes, ''), version, created_at, updated_at,
completed_at`

func scanGoodsReceipt(row pgx.Row) (GoodsReceipt, error) {
	var (
		gr     GoodsReceipt
		status string
	)
	err := row.Scan(&gr.ID, &gr.Number, &gr.POID, &gr.Items, &gr.TotalReceivedValue, &gr.ReceivedDate, &gr.ReceivedBy,
		&gr.ReceivedByName, &gr.Quality, &gr.Discrepancy, &status, &gr.Notes, &gr.Version, &gr.CreatedAt, &gr.UpdatedAt,
		&gr.CompletedAt)
	if err != nil {
		return GoodsReceipt{}, wrapNoRows(err)
	}
	gr.Status = GRStatus(status)
	return gr, nil
}

// GetGoodsReceipt returns a receipt by id.
func (r *Repository) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return scanGoodsReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM goods_receipts WHERE id=$1`, id))
}

func receiptFilters(filters ReceiptFilters) *filterBuilder {
	f := &filterBuilder{}
	if filters.Status != "" {
		f.add("status = $%d", string(filters.Status))
	}
	if filters.POID > 0 {
		f.add("purchase_order_id = $%d", filters.POID)
	}
	if filters.PendingInspection {
		f.add("quality->>'inspection_status' = $%d", string(InspectionPending))
		f.clauses = append(f.clauses, "status IN ('received', 'inspected')")
	}
	return f
}

// ListGoodsReceipts returns receipts newest first.
func (r *Repository) ListGoodsReceipts(ctx context.Context, filters ReceiptFilters) ([]GoodsReceipt, error) {
	f := receiptFilters(filters)
	query := `SELECT ` + receiptColumns + ` FROM goods_receipts` + f.where() + ` ORDER BY received_date DESC, id DESC` + f.page(filters.Page, filters.Limit)
	rows, err := r.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GoodsReceipt
	for rows.Next() {
		gr, err := scanGoodsReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, gr)
	}
	return out, rows.Err()
}

// CountGoodsReceipts returns the number of receipts matching filters.
func (r *Repository) CountGoodsReceipts(ctx context.Context, filters ReceiptFilters) (int, error) {
	f := receiptFilters(filters)
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM goods_receipts`+f.where(), f.args...).Scan(&total)
	return total, err
}

func (t *txRepo) InsertGoodsReceipt(ctx context.Context, gr GoodsReceipt) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO goods_receipts (number, purchase_order_id, items, total_received_value,
received_date, received_by, received_by_name, quality, discrepancy, status, notes, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),$12,$13,$14) RETURNING id`,
		gr.Number, gr.POID, gr.Items, gr.TotalReceivedValue, gr.ReceivedDate, gr.ReceivedBy, gr.ReceivedByName,
		gr.Quality, gr.Discrepancy, string(gr.Status), gr.Notes, gr.Version, gr.CreatedAt, gr.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, duplicateAware(err)
	}
	return id, nil
}

func (t *txRepo) LockGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return scanGoodsReceipt(t.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM goods_receipts WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) UpdateGoodsReceipt(ctx context.Context, gr GoodsReceipt) error {
	tag, err := t.tx.Exec(ctx, `UPDATE goods_receipts SET items=$3, total_received_value=$4, received_by=$5,
received_by_name=$6, quality=$7, discrepancy=$8, status=$9, notes=NULLIF($10,''), updated_at=$11, completed_at=$12,
version=version+1 WHERE id=$1 AND version=$2`,
		gr.ID, gr.Version, gr.Items, gr.TotalReceivedValue, gr.ReceivedBy, gr.ReceivedByName, gr.Quality,
		gr.Discrepancy, string(gr.Status), gr.Notes, gr.UpdatedAt, gr.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}
