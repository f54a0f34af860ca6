package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	jobmetrics "github.com/odyssey-erp/ledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity scans posted entries for balance violations.
	TaskGLIntegrity = "gl:integrity"
	// TaskReportWarmup pre-builds the statements most users open first.
	TaskReportWarmup = "reports:warmup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PeriodPayload selects a date window. Empty fields mean the previous
// calendar month.
type PeriodPayload struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// NewGLIntegrityTask creates an integrity scan task. Empty bounds scan the
// month before the task runs.
func NewGLIntegrityTask(from, to string) (*asynq.Task, error) {
	return newPeriodTask(TaskGLIntegrity, from, to)
}

// NewReportWarmupTask creates a warmup task for the given window.
func NewReportWarmupTask(from, to string) (*asynq.Task, error) {
	return newPeriodTask(TaskReportWarmup, from, to)
}

func newPeriodTask(typ, from, to string) (*asynq.Task, error) {
	body, err := json.Marshal(PeriodPayload{From: from, To: to})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}

// resolve turns the payload into a validated range.
func (p PeriodPayload) resolve(now time.Time) (reports.DateRange, error) {
	if p.From == "" && p.To == "" {
		return previousMonth(now), nil
	}
	if p.From == "" || p.To == "" {
		return reports.DateRange{}, fmt.Errorf("%w: from and to must be set together", reports.ErrEmptyRange)
	}
	return reports.ParseDateRange(p.From + ".." + p.To)
}

func previousMonth(now time.Time) reports.DateRange {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return reports.DateRange{Start: first.AddDate(0, -1, 0), End: first.AddDate(0, 0, -1)}
}
