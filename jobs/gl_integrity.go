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
	"github.com/odyssey-erp/ledger/internal/events"
	jobmetrics "github.com/odyssey-erp/ledger/internal/jobs"
	"github.com/odyssey-erp/ledger/internal/statements"
)

// IntegrityService runs integrity scans and drops stale statements.
type IntegrityService interface {
	CheckIntegrity(ctx context.Context, rng reports.DateRange) (statements.IntegrityReport, error)
	Invalidate(ctx context.Context) error
}

// GLIntegrityJob verifies that a window of posted entries balances overall
// and per transaction. Findings are published, not retried.
type GLIntegrityJob struct {
	Service   IntegrityService
	Publisher events.Publisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewGLIntegrityJob constructs the job handler. A nil publisher drops events.
func NewGLIntegrityJob(service IntegrityService, publisher events.Publisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &GLIntegrityJob{
		Service:   service,
		Publisher: publisher,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the integrity scan.
func (j *GLIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("gl integrity: dependencies not configured")
	}
	var payload PeriodPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("gl integrity: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	rng, err := payload.resolve(j.now())
	if err != nil {
		j.log().Error("invalid integrity window", slog.String("from", payload.From), slog.String("to", payload.To), slog.Any("error", err))
		return fmt.Errorf("gl integrity: %v: %w", err, asynq.SkipRetry)
	}
	logger := j.log().With(slog.String("range", rng.Label()))

	tracker := j.metrics().Track(TaskGLIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	report, err := j.Service.CheckIntegrity(ctx, rng)
	if err != nil {
		resultErr = err
		logger.Error("integrity scan", slog.Any("error", err))
		return resultErr
	}

	if report.Balanced {
		if err := j.Service.Invalidate(ctx); err != nil {
			logger.Warn("bump report cache", slog.Any("error", err))
		}
		logger.Info("ledger balanced", slog.Int("entries", report.Entries), slog.Int("transactions", report.Transactions))
		return resultErr
	}

	j.metrics().AddAnomalies("unbalanced_transaction", len(report.Unbalanced))
	if !report.Debits.Equal(report.Credits) {
		j.metrics().AddAnomalies("totals", 1)
	}
	event := events.NewIntegrityFailed(rng.Start, rng.End, report.Debits, report.Credits, report.Unbalanced, j.now())
	if err := j.Publisher.Publish(ctx, event); err != nil {
		resultErr = err
		logger.Error("publish integrity failure", slog.Any("error", err))
		return resultErr
	}
	logger.Warn("ledger integrity failure published",
		slog.String("event_id", event.ID.String()),
		slog.String("debits", report.Debits.String()),
		slog.String("credits", report.Credits.String()),
		slog.Int("unbalanced_transactions", len(report.Unbalanced)),
	)
	return resultErr
}

func (j *GLIntegrityJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GLIntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskGLIntegrity))
}

func (j *GLIntegrityJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *GLIntegrityJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
