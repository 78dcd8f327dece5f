package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-procure/internal/jobs"
	"github.com/odyssey-erp/odyssey-procure/internal/procurement"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands workflow notifications to the worker through asynq.
type QueueNotifier struct {
	client enqueuer
	queue  string
}

// NewQueueNotifier builds a notifier enqueueing onto queue (QueueDefault when empty).
func NewQueueNotifier(client enqueuer, queue string) *QueueNotifier {
	if queue == "" {
		queue = QueueDefault
	}
	return &QueueNotifier{client: client, queue: queue}
}

// Notify implements procurement.Notifier.
func (q *QueueNotifier) Notify(ctx context.Context, n procurement.Notification) error {
	if q == nil || q.client == nil {
		return errors.New("notify: queue client not configured")
	}
	task, err := NewNotifyTask(n)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task, asynq.Queue(q.queue), asynq.MaxRetry(5))
	return err
}

// NotifyJob delivers queued notifications. Delivery is a structured log line.
type NotifyJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotifyJob wires the notification handler.
func NewNotifyJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyJob {
	return &NotifyJob{Logger: logger, Metrics: metrics}
}

// Handle processes TaskProcurementNotify tasks.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("notify: handler not configured")
	}
	var n procurement.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		j.logger().Warn("discarding malformed notification", slog.Any("error", err))
		return asynq.SkipRetry
	}
	if n.Event == "" {
		j.logger().Warn("discarding notification without event")
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskProcurementNotify)
	attrs := []any{
		slog.String("event", string(n.Event)),
		slog.String("entity", n.Entity),
		slog.Int64("entity_id", n.EntityID),
		slog.String("number", n.Number),
		slog.String("message", n.Message),
	}
	switch {
	case n.Recipient.UserID != 0:
		attrs = append(attrs, slog.Int64("user_id", n.Recipient.UserID))
	case n.Recipient.SupplierID != 0:
		attrs = append(attrs, slog.Int64("supplier_id", n.Recipient.SupplierID))
	case n.Recipient.Role != "":
		attrs = append(attrs, slog.String("role", n.Recipient.Role))
	}
	j.logger().InfoContext(ctx, "notification delivered", attrs...)
	j.metrics().NotificationDelivered(string(n.Event))
	return tracker.End(nil)
}

func (j *NotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskProcurementNotify))
	}
	return slog.Default().With(slog.String("job", TaskProcurementNotify))
}

func (j *NotifyJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
