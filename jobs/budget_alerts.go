package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-procure/internal/budget"
	jobmetrics "github.com/odyssey-erp/odyssey-procure/internal/jobs"
)

type alertSource interface {
	Alerts(ctx context.Context) ([]budget.Alert, error)
}

var severityRank = map[budget.Severity]int{
	budget.SeverityMedium:   1,
	budget.SeverityHigh:     2,
	budget.SeverityCritical: 3,
}

// BudgetAlertScanJob logs budgets whose utilization crossed their alert threshold.
type BudgetAlertScanJob struct {
	Budgets alertSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewBudgetAlertScanJob wires the alert scan handler.
func NewBudgetAlertScanJob(budgets alertSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *BudgetAlertScanJob {
	return &BudgetAlertScanJob{
		Budgets: budgets,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *BudgetAlertScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Budgets == nil {
		return errors.New("budget alert scan: handler not configured")
	}
	var payload BudgetAlertScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	minRank := severityRank[budget.Severity(payload.MinSeverity)]

	start := j.now()
	tracker := j.metrics().Track(TaskBudgetAlertScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting budget alert scan")

	alerts, err := j.Budgets.Alerts(ctx)
	if err != nil {
		resultErr = err
		logger.Error("load budget alerts", slog.Any("error", err))
		return resultErr
	}

	counts := make(map[budget.Severity]int)
	for _, a := range alerts {
		if severityRank[a.Severity] < minRank {
			continue
		}
		counts[a.Severity]++
		logger.Warn("budget over threshold",
			slog.Int64("budget_id", a.BudgetID),
			slog.String("kind", string(a.Kind)),
			slog.String("owner", a.Owner),
			slog.Int("fiscal_year", a.FiscalYear),
			slog.String("utilization", a.Utilization.StringFixed(2)),
			slog.String("level", string(a.Level)),
			slog.String("severity", string(a.Severity)),
		)
	}
	total := 0
	for severity, n := range counts {
		j.metrics().AddBudgetAlerts(string(severity), n)
		total += n
	}

	logger.Info("completed budget alert scan",
		slog.Int("alerts", total),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *BudgetAlertScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBudgetAlertScan))
	}
	return slog.Default().With(slog.String("job", TaskBudgetAlertScan))
}

func (j *BudgetAlertScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *BudgetAlertScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
