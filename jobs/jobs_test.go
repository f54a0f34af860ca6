package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/events"
	jobmetrics "github.com/odyssey-erp/ledger/internal/jobs"
	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/statements"
	_ "github.com/odyssey-erp/ledger/testing"
)

var (
	usd   = money.MustCode("USD")
	clock = func() time.Time { return time.Date(2024, 7, 3, 2, 0, 0, 0, time.UTC) }
)

type stubIntegrity struct {
	report      statements.IntegrityReport
	err         error
	ranges      []reports.DateRange
	invalidated int
}

func (s *stubIntegrity) CheckIntegrity(_ context.Context, rng reports.DateRange) (statements.IntegrityReport, error) {
	s.ranges = append(s.ranges, rng)
	if s.err != nil {
		return statements.IntegrityReport{}, s.err
	}
	report := s.report
	report.Range = rng
	return report, nil
}

func (s *stubIntegrity) Invalidate(context.Context) error {
	s.invalidated++
	return nil
}

type recordingPublisher struct {
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newIntegrityJob(svc IntegrityService, pub events.Publisher) *GLIntegrityJob {
	job := NewGLIntegrityJob(svc, pub, slog.New(slog.NewTextHandler(io.Discard, nil)), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(clock)
	return job
}

func TestGLIntegrityDefaultsToPreviousMonth(t *testing.T) {
	svc := &stubIntegrity{report: statements.IntegrityReport{Balanced: true, Debits: money.MustOf(100, usd), Credits: money.MustOf(100, usd)}}
	pub := &recordingPublisher{}
	task, err := NewGLIntegrityTask("", "")
	require.NoError(t, err)

	require.NoError(t, newIntegrityJob(svc, pub).Handle(context.Background(), task))
	require.Len(t, svc.ranges, 1)
	assert.Equal(t, "2024-06-01..2024-06-30", svc.ranges[0].Label())
	assert.Equal(t, 1, svc.invalidated, "a clean scan bumps the report cache")
	assert.Empty(t, pub.events)
}

func TestGLIntegrityPublishesFailures(t *testing.T) {
	broken := uuid.New()
	svc := &stubIntegrity{report: statements.IntegrityReport{
		Debits:     money.MustOf(5000, usd),
		Credits:    money.MustOf(4000, usd),
		Unbalanced: []uuid.UUID{broken},
	}}
	pub := &recordingPublisher{}
	task, err := NewGLIntegrityTask("2024-01-01", "2024-03-31")
	require.NoError(t, err)

	require.NoError(t, newIntegrityJob(svc, pub).Handle(context.Background(), task))
	assert.Equal(t, 0, svc.invalidated)
	require.Len(t, pub.events, 1)
	event, ok := pub.events[0].(events.IntegrityFailed)
	require.True(t, ok)
	assert.Equal(t, "2024-01-01", event.From)
	assert.Equal(t, "2024-03-31", event.To)
	assert.Equal(t, []uuid.UUID{broken}, event.UnbalancedTransactions)
	assert.Equal(t, clock(), event.OccurredAt)
}

func TestGLIntegrityRetriesTransientErrors(t *testing.T) {
	task, err := NewGLIntegrityTask("", "")
	require.NoError(t, err)

	svc := &stubIntegrity{err: errors.New("connection reset")}
	err = newIntegrityJob(svc, nil).Handle(context.Background(), task)
	require.ErrorContains(t, err, "connection reset")
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	svc = &stubIntegrity{report: statements.IntegrityReport{Debits: money.MustOf(1, usd), Credits: money.Zero(usd)}}
	err = newIntegrityJob(svc, &recordingPublisher{err: errors.New("broker down")}).Handle(context.Background(), task)
	require.ErrorContains(t, err, "broker down")
}

func TestGLIntegritySkipsBadPayloads(t *testing.T) {
	job := newIntegrityJob(&stubIntegrity{}, nil)
	cases := map[string][]byte{
		"not json":   []byte("{"),
		"half range": mustJSON(t, PeriodPayload{From: "2024-01-01"}),
		"inverted":   mustJSON(t, PeriodPayload{From: "2024-02-01", To: "2024-01-01"}),
		"not a date": mustJSON(t, PeriodPayload{From: "yesterday", To: "today"}),
	}
	for name, payload := range cases {
		err := job.Handle(context.Background(), asynq.NewTask(TaskGLIntegrity, payload))
		assert.ErrorIs(t, err, asynq.SkipRetry, name)
	}

	var missing *GLIntegrityJob
	require.Error(t, missing.Handle(context.Background(), asynq.NewTask(TaskGLIntegrity, nil)))
}

type stubBuilder struct {
	requests []statements.ReportRequest
	err      error
}

func (s *stubBuilder) Build(_ context.Context, req statements.ReportRequest) (reports.Report, error) {
	s.requests = append(s.requests, req)
	return reports.Report{Kind: req.Kind}, s.err
}

func TestReportWarmupBuildsClosingStatements(t *testing.T) {
	builder := &stubBuilder{}
	job := NewReportWarmupJob(builder, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = clock
	task, err := NewReportWarmupTask("", "")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, builder.requests, 3)
	assert.Equal(t, reports.KindBalanceSheet, builder.requests[0].Kind)
	assert.True(t, builder.requests[0].Range.IsPoint())
	assert.Equal(t, "2024-06-30", builder.requests[0].Range.Label())
	assert.Equal(t, "2024-06-01..2024-06-30", builder.requests[1].Range.Label())

	builder = &stubBuilder{err: errors.New("timeout")}
	job.Service = builder
	require.ErrorContains(t, job.Handle(context.Background(), task), "timeout")
	assert.Len(t, builder.requests, 1, "warmup stops at the first failure")
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestJobsHealthEndpoint(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		h.MountRoutes(r)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rr
	}

	rr := serve(NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 1}}, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Pending)
	assert.Equal(t, 1, body.Retry)

	rr = serve(NewHandler(stubInspector{err: errors.New("redis down")}, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(NewHandler(nil, nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNewServeMuxSkipsIncompleteHandlers(t *testing.T) {
	called := false
	mux := NewServeMux([]TaskHandler{
		{Type: TaskGLIntegrity, Handler: func(context.Context, *asynq.Task) error { called = true; return nil }},
		{Type: "", Handler: func(context.Context, *asynq.Task) error { return nil }},
		{Type: TaskReportWarmup},
	})
	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TaskGLIntegrity, nil)))
	assert.True(t, called)
	assert.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask(TaskReportWarmup, nil)))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
