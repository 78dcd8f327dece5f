package procurement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// StatusTotals counts documents in one status and sums their amounts.
type StatusTotals struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Summary is the procurement dashboard read model.
type Summary struct {
	Requests          map[RequestStatus]StatusTotals `json:"requests"`
	PurchaseOrders    map[POStatus]StatusTotals      `json:"purchase_orders"`
	PendingInspection int                            `json:"pending_inspection"`
	GeneratedAt       time.Time                      `json:"generated_at"`
}

// Summary returns request and order totals per status, served from cache when warm.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	key, err := s.cache.BuildKey(ctx, "summary")
	if err != nil {
		return Summary{}, err
	}
	v, err, _ := s.summaries.Do(key, func() (any, error) {
		var out Summary
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			return s.loadSummary(ctx)
		})
		return out, err
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

func (s *Service) loadSummary(ctx context.Context) (Summary, error) {
	out := Summary{GeneratedAt: s.now().UTC()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Requests, err = s.repo.RequestTotals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		out.PurchaseOrders, err = s.repo.PurchaseOrderTotals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		out.PendingInspection, err = s.repo.CountGoodsReceipts(gctx, ReceiptFilters{PendingInspection: true})
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return out, nil
}
