package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-procure/internal/procurement"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskProcurementNotify delivers a procurement workflow notification.
	TaskProcurementNotify = "procurement:notify"
	// TaskBudgetAlertScan lists budgets over their alert threshold.
	TaskBudgetAlertScan = "budget:alert_scan"
	// TaskSummaryWarmup pre-populates the cached procurement summary.
	TaskSummaryWarmup = "procurement:summary_warmup"
)

// NewNotifyTask wraps a notification into an asynq task.
func NewNotifyTask(n procurement.Notification, opts ...asynq.Option) (*asynq.Task, error) {
	if n.Event == "" {
		return nil, fmt.Errorf("notify task: event required")
	}
	body, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcurementNotify, body, opts...), nil
}

// BudgetAlertScanPayload narrows a scan to a minimum severity.
type BudgetAlertScanPayload struct {
	MinSeverity string `json:"min_severity,omitempty"`
}

// NewBudgetAlertScanTask builds the periodic alert scan task.
func NewBudgetAlertScanTask(payload BudgetAlertScanPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBudgetAlertScan, body, asynq.Queue(QueueDefault)), nil
}

// NewSummaryWarmupTask builds the summary cache warmup task.
func NewSummaryWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskSummaryWarmup, []byte("{}"), asynq.Queue(QueueDefault))
}
