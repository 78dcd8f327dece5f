package procurement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/budget"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

type memoryProcRepo struct {
	mu       sync.Mutex
	requests map[int64]Request
	orders   map[int64]PurchaseOrder
	receipts map[int64]GoodsReceipt
	nextID   int64
}

type memoryProcTx struct {
	repo *memoryProcRepo
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		requests: make(map[int64]Request),
		orders:   make(map[int64]PurchaseOrder),
		receipts: make(map[int64]GoodsReceipt),
	}
}

func cloneRequest(r Request) Request {
	r.Items = append([]LineItem(nil), r.Items...)
	r.Chain = append([]ApprovalStep(nil), r.Chain...)
	r.History = append([]HistoryEntry(nil), r.History...)
	r.Tags = append([]string(nil), r.Tags...)
	return r
}

func clonePurchaseOrder(po PurchaseOrder) PurchaseOrder {
	po.Items = append([]POItem(nil), po.Items...)
	po.Comments = append([]POComment(nil), po.Comments...)
	po.ReceiptIDs = append([]int64(nil), po.ReceiptIDs...)
	timeline := make(map[TimelineEvent]TimelineEntry, len(po.Timeline))
	for k, v := range po.Timeline {
		timeline[k] = v
	}
	po.Timeline = timeline
	return po
}

func cloneGoodsReceipt(gr GoodsReceipt) GoodsReceipt {
	gr.Items = append([]ReceiptItem(nil), gr.Items...)
	gr.Quality.Issues = append([]string(nil), gr.Quality.Issues...)
	return gr
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	requests := make(map[int64]Request, len(r.requests))
	for id, v := range r.requests {
		requests[id] = v
	}
	orders := make(map[int64]PurchaseOrder, len(r.orders))
	for id, v := range r.orders {
		orders[id] = v
	}
	receipts := make(map[int64]GoodsReceipt, len(r.receipts))
	for id, v := range r.receipts {
		receipts[id] = v
	}
	nextID := r.nextID
	if err := fn(ctx, &memoryProcTx{repo: r}); err != nil {
		r.requests, r.orders, r.receipts, r.nextID = requests, orders, receipts, nextID
		return err
	}
	return nil
}

func (r *memoryProcRepo) GetRequest(ctx context.Context, id int64) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return cloneRequest(req), nil
}

func (r *memoryProcRepo) filterRequests(f RequestFilters) []Request {
	var out []Request
	for _, req := range r.requests {
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		if f.Department != "" && req.Department != f.Department {
			continue
		}
		if f.RequestedBy != 0 && req.RequestedBy != f.RequestedBy {
			continue
		}
		if f.MinAmount != nil && req.Total.LessThan(*f.MinAmount) {
			continue
		}
		if f.MaxAmount != nil && req.Total.GreaterThan(*f.MaxAmount) {
			continue
		}
		out = append(out, cloneRequest(req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func paginate[T any](items []T, page, limit int) []T {
	offset := shared.Offset(page, limit)
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (r *memoryProcRepo) ListRequests(ctx context.Context, filters RequestFilters) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return paginate(r.filterRequests(filters), filters.Page, filters.Limit), nil
}

func (r *memoryProcRepo) CountRequests(ctx context.Context, filters RequestFilters) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filterRequests(filters)), nil
}

func (r *memoryProcRepo) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return clonePurchaseOrder(po), nil
}

func (r *memoryProcRepo) filterOrders(f POFilters) []PurchaseOrder {
	var out []PurchaseOrder
	for _, po := range r.orders {
		if f.Status != "" && po.Status != f.Status {
			continue
		}
		if f.SupplierID != 0 && po.SupplierID != f.SupplierID {
			continue
		}
		if f.RequestID != 0 && (po.RequestID == nil || *po.RequestID != f.RequestID) {
			continue
		}
		out = append(out, clonePurchaseOrder(po))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryProcRepo) ListPurchaseOrders(ctx context.Context, filters POFilters) ([]PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return paginate(r.filterOrders(filters), filters.Page, filters.Limit), nil
}

func (r *memoryProcRepo) CountPurchaseOrders(ctx context.Context, filters POFilters) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filterOrders(filters)), nil
}

func (r *memoryProcRepo) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gr, ok := r.receipts[id]
	if !ok {
		return GoodsReceipt{}, ErrNotFound
	}
	return cloneGoodsReceipt(gr), nil
}

func (r *memoryProcRepo) filterReceipts(f ReceiptFilters) []GoodsReceipt {
	var out []GoodsReceipt
	for _, gr := range r.receipts {
		if f.Status != "" && gr.Status != f.Status {
			continue
		}
		if f.POID != 0 && gr.POID != f.POID {
			continue
		}
		if f.PendingInspection && !gr.AwaitingInspection() {
			continue
		}
		out = append(out, cloneGoodsReceipt(gr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryProcRepo) ListGoodsReceipts(ctx context.Context, filters ReceiptFilters) ([]GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return paginate(r.filterReceipts(filters), filters.Page, filters.Limit), nil
}

func (r *memoryProcRepo) CountGoodsReceipts(ctx context.Context, filters ReceiptFilters) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filterReceipts(filters)), nil
}

func (r *memoryProcRepo) RequestTotals(ctx context.Context) (map[RequestStatus]StatusTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[RequestStatus]StatusTotals{}
	for _, req := range r.requests {
		t := out[req.Status]
		t.Count++
		t.Amount = t.Amount.Add(req.Total)
		out[req.Status] = t
	}
	return out, nil
}

func (r *memoryProcRepo) PurchaseOrderTotals(ctx context.Context) (map[POStatus]StatusTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[POStatus]StatusTotals{}
	for _, po := range r.orders {
		t := out[po.Status]
		t.Count++
		t.Amount = t.Amount.Add(po.Total)
		out[po.Status] = t
	}
	return out, nil
}

func (tx *memoryProcTx) InsertRequest(ctx context.Context, req Request) (int64, error) {
	tx.repo.nextID++
	req.ID = tx.repo.nextID
	tx.repo.requests[req.ID] = cloneRequest(req)
	return req.ID, nil
}

func (tx *memoryProcTx) LockRequest(ctx context.Context, id int64) (Request, error) {
	req, ok := tx.repo.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return cloneRequest(req), nil
}

func (tx *memoryProcTx) UpdateRequest(ctx context.Context, req Request) error {
	stored, ok := tx.repo.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != req.Version {
		return fmt.Errorf("request %d: %w", req.ID, ErrConflict)
	}
	if len(req.History) < len(stored.History) {
		return errors.New("history is append-only")
	}
	req.Version++
	tx.repo.requests[req.ID] = cloneRequest(req)
	return nil
}

func (tx *memoryProcTx) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	tx.repo.nextID++
	po.ID = tx.repo.nextID
	tx.repo.orders[po.ID] = clonePurchaseOrder(po)
	return po.ID, nil
}

func (tx *memoryProcTx) LockPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := tx.repo.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return clonePurchaseOrder(po), nil
}

func (tx *memoryProcTx) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	stored, ok := tx.repo.orders[po.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != po.Version {
		return fmt.Errorf("purchase order %d: %w", po.ID, ErrConflict)
	}
	po.Version++
	tx.repo.orders[po.ID] = clonePurchaseOrder(po)
	return nil
}

func (tx *memoryProcTx) InsertGoodsReceipt(ctx context.Context, gr GoodsReceipt) (int64, error) {
	tx.repo.nextID++
	gr.ID = tx.repo.nextID
	tx.repo.receipts[gr.ID] = cloneGoodsReceipt(gr)
	return gr.ID, nil
}

func (tx *memoryProcTx) LockGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	gr, ok := tx.repo.receipts[id]
	if !ok {
		return GoodsReceipt{}, ErrNotFound
	}
	return cloneGoodsReceipt(gr), nil
}

func (tx *memoryProcTx) UpdateGoodsReceipt(ctx context.Context, gr GoodsReceipt) error {
	stored, ok := tx.repo.receipts[gr.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != gr.Version {
		return fmt.Errorf("goods receipt %d: %w", gr.ID, ErrConflict)
	}
	gr.Version++
	tx.repo.receipts[gr.ID] = cloneGoodsReceipt(gr)
	return nil
}

type memoryLedger struct {
	mu          sync.Mutex
	budgets     map[int64]budget.Budget
	commitments map[string]decimal.Decimal
	getErr      error
	commitErr   error
}

func newMemoryLedger(budgets ...budget.Budget) *memoryLedger {
	l := &memoryLedger{budgets: make(map[int64]budget.Budget), commitments: make(map[string]decimal.Decimal)}
	for _, b := range budgets {
		l.budgets[b.ID] = b
	}
	return l
}

func (l *memoryLedger) Get(ctx context.Context, id int64) (budget.Budget, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getErr != nil {
		return budget.Budget{}, l.getErr
	}
	b, ok := l.budgets[id]
	if !ok {
		return budget.Budget{}, budget.ErrNotFound
	}
	return b, nil
}

func (l *memoryLedger) Commit(ctx context.Context, id int64, amount decimal.Decimal, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.commitErr != nil {
		return l.commitErr
	}
	if !amount.IsPositive() {
		return budget.ErrValidation
	}
	b, ok := l.budgets[id]
	if !ok {
		return budget.ErrNotFound
	}
	if _, exists := l.commitments[ref]; exists {
		return budget.ErrAlreadyCommitted
	}
	b.Committed = b.Committed.Add(amount)
	l.budgets[id] = b
	l.commitments[ref] = amount
	return nil
}

func (l *memoryLedger) Release(ctx context.Context, id int64, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount, ok := l.commitments[ref]
	if !ok {
		return budget.ErrNoCommitment
	}
	b := l.budgets[id]
	b.Committed = b.Committed.Sub(amount)
	l.budgets[id] = b
	delete(l.commitments, ref)
	return nil
}

func (l *memoryLedger) budget(id int64) budget.Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budgets[id]
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return n.err
}

func (n *recordingNotifier) events() []NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationEvent, 0, len(n.sent))
	for _, note := range n.sent {
		out = append(out, note.Event)
	}
	return out
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, log := range a.logs {
		out = append(out, log.Action)
	}
	return out
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]struct{})
	}
	if _, ok := m.keys[module+"|"+key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"|"+key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Release(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"|"+key)
	return nil
}

type transitionCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *transitionCounter) RecordTransition(entity, action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[entity+"."+action]++
}
