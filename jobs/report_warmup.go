package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	jobmetrics "github.com/odyssey-erp/ledger/internal/jobs"
	"github.com/odyssey-erp/ledger/internal/statements"
)

// StatementBuilder builds and caches statements.
type StatementBuilder interface {
	Build(ctx context.Context, req statements.ReportRequest) (reports.Report, error)
}

// ReportWarmupJob pre-builds the closing statements of a period so the first
// readers after month end hit the cache.
type ReportWarmupJob struct {
	Service StatementBuilder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReportWarmupJob wires dependencies for the warmup handler.
func NewReportWarmupJob(service StatementBuilder, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportWarmupJob {
	return &ReportWarmupJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes warmup tasks.
func (j *ReportWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("report warmup: handler not configured")
	}
	var payload PeriodPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("report warmup: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	rng, err := payload.resolve(j.now())
	if err != nil {
		return fmt.Errorf("report warmup: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskReportWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("range", rng.Label()))
	start := j.now()
	requests := []statements.ReportRequest{
		{Kind: reports.KindBalanceSheet, Range: reports.AsOf(rng.End)},
		{Kind: reports.KindIncomeStatement, Range: rng},
		{Kind: reports.KindTrialBalance, Range: rng},
	}
	for _, req := range requests {
		buildCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := j.Service.Build(buildCtx, req)
		cancel()
		if err != nil {
			resultErr = err
			logger.Error("warm statement", slog.String("report", string(req.Kind)), slog.Any("error", err))
			return resultErr
		}
	}
	logger.Info("warmed statements", slog.Int("reports", len(requests)), slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *ReportWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportWarmup))
	}
	return slog.Default().With(slog.String("job", TaskReportWarmup))
}

func (j *ReportWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReportWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
