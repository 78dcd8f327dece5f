package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-procure/internal/jobs"
	"github.com/odyssey-erp/odyssey-procure/internal/procurement"
)

type summarySource interface {
	Summary(ctx context.Context) (procurement.Summary, error)
}

// SummaryWarmupJob pre-populates the cached procurement summary after the cache
// version moves.
type SummaryWarmupJob struct {
	Source  summarySource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// NewSummaryWarmupJob wires dependencies for the warmup handler.
func NewSummaryWarmupJob(source summarySource, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryWarmupJob {
	return &SummaryWarmupJob{Source: source, Logger: logger, Metrics: metrics, Timeout: 20 * time.Second}
}

// Handle processes summary warmup tasks.
func (j *SummaryWarmupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("summary warmup: handler not configured")
	}
	tracker := j.metrics().Track(TaskSummaryWarmup)
	start := time.Now()

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	summary, err := j.Source.Summary(ctx)
	if err != nil {
		j.logger().Error("warm summary", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger().Info("completed summary warmup",
		slog.Int("pending_inspection", summary.PendingInspection),
		slog.Time("generated_at", summary.GeneratedAt),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *SummaryWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSummaryWarmup))
	}
	return slog.Default().With(slog.String("job", TaskSummaryWarmup))
}

func (j *SummaryWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
