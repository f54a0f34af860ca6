package statements

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/money"
	_ "github.com/odyssey-erp/ledger/testing"
)

var (
	usd     = money.MustCode("USD")
	closing = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
)

type mockSource struct {
	mu           sync.Mutex
	accounts     []accounting.Account
	entries      []accounting.JournalEntry
	entriesErr   error
	accountCalls int
	entryCalls   int
	lastFilter   EntryFilter
}

func (m *mockSource) Accounts(ctx context.Context) ([]accounting.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountCalls++
	return m.accounts, nil
}

func (m *mockSource) Entries(ctx context.Context, filter EntryFilter) ([]accounting.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entryCalls++
	m.lastFilter = filter
	if m.entriesErr != nil {
		return nil, m.entriesErr
	}
	var out []accounting.JournalEntry
	for _, e := range m.entries {
		if !filter.From.IsZero() && e.PostingDate.Before(filter.From) {
			continue
		}
		if e.PostingDate.After(filter.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func line(tx uuid.UUID, account int64, typ accounting.EntryType, amount int64, date time.Time) accounting.JournalEntry {
	return accounting.JournalEntry{TransactionID: tx, AccountID: account, Type: typ, Amount: amount, Currency: usd, PostingDate: date}
}

func scenarioSource() *mockSource {
	tx := uuid.New()
	return &mockSource{
		accounts: []accounting.Account{
			{ID: 1, Code: "1000", Name: "Cash", Type: accounting.AccountTypeAsset},
			{ID: 2, Code: "2100", Name: "Tax Payable", Type: accounting.AccountTypeLiability},
			{ID: 3, Code: "4000", Name: "Revenue", Type: accounting.AccountTypeRevenue},
		},
		entries: []accounting.JournalEntry{
			line(tx, 1, accounting.EntryTypeDebit, 10000, closing),
			line(tx, 3, accounting.EntryTypeCredit, 8000, closing),
			line(tx, 2, accounting.EntryTypeCredit, 2000, closing),
		},
	}
}

func newTestService(t *testing.T, source Source) (*Service, *miniredis.Miniredis) {
	t.Helper()
	require.NoError(t, SetupMetrics(prometheus.NewRegistry()))
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(source, NewCache(client, time.Minute), nil, usd, logger), mr
}

func TestBuildCachesReports(t *testing.T) {
	source := scenarioSource()
	svc, _ := newTestService(t, source)
	ctx := context.Background()
	req := ReportRequest{Kind: reports.KindBalanceSheet, Range: reports.AsOf(closing)}

	first, err := svc.Build(ctx, req)
	require.NoError(t, err)
	assets, ok := first.Section("assets")
	require.True(t, ok)
	assert.Equal(t, int64(10000), assets.Total.Amount())
	assert.True(t, source.lastFilter.From.IsZero(), "balance sheet loads from the beginning")

	second, err := svc.Build(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, source.entryCalls, "second build should be served from cache")
	equity, _ := second.Section("equity")
	assert.Equal(t, int64(8000), equity.Total.Amount())
	assert.Equal(t, usd, equity.Total.Currency())

	require.NoError(t, svc.Invalidate(ctx))
	_, err = svc.Build(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, source.entryCalls, "bump should invalidate cached reports")
}

func TestBuildWithoutCache(t *testing.T) {
	source := scenarioSource()
	svc := NewService(source, nil, nil, usd, nil)
	rng, err := reports.NewDateRange(closing.AddDate(0, -1, 0), closing)
	require.NoError(t, err)

	report, err := svc.Build(context.Background(), ReportRequest{Kind: reports.KindIncomeStatement, Range: rng})
	require.NoError(t, err)
	net, ok := report.Total("net_income")
	require.True(t, ok)
	assert.Equal(t, int64(8000), net.Amount.Amount())
	assert.Equal(t, rng.Start, source.lastFilter.From)
	require.NoError(t, svc.Invalidate(context.Background()))
}

func TestBuildSurfacesInconsistency(t *testing.T) {
	tx := uuid.New()
	source := scenarioSource()
	source.entries = []accounting.JournalEntry{
		line(tx, 1, accounting.EntryTypeDebit, 5000, closing),
		line(tx, 3, accounting.EntryTypeCredit, 4000, closing),
	}
	svc, mr := newTestService(t, source)

	_, err := svc.Build(context.Background(), ReportRequest{Kind: reports.KindBalanceSheet, Range: reports.AsOf(closing)})
	require.ErrorIs(t, err, accounting.ErrLedgerInconsistency)
	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "report:balance_sheet", "failed builds must not be cached")
	}
}

func TestBuildRejectsBadRequests(t *testing.T) {
	svc, _ := newTestService(t, scenarioSource())
	ctx := context.Background()

	_, err := svc.Build(ctx, ReportRequest{Kind: reports.KindBalanceSheet})
	require.ErrorIs(t, err, reports.ErrEmptyRange)

	_, err = svc.Build(ctx, ReportRequest{Kind: "cash_flow", Range: reports.AsOf(closing)})
	require.ErrorIs(t, err, reports.ErrUnknownKind)

	_, err = svc.BuildByEntity(ctx, reports.KindBalanceSheet, reports.AsOf(closing), nil)
	require.ErrorIs(t, err, reports.ErrNoColumns)
}

func TestBuildPropagatesSourceErrors(t *testing.T) {
	source := scenarioSource()
	source.entriesErr = errors.New("connection refused")
	svc, _ := newTestService(t, source)
	_, err := svc.Build(context.Background(), ReportRequest{Kind: reports.KindTrialBalance, Range: reports.AsOf(closing)})
	require.ErrorContains(t, err, "connection refused")
}

func TestBuildComparativeLoadsWidestWindow(t *testing.T) {
	source := scenarioSource()
	svc := NewService(source, nil, nil, usd, nil)
	q1, err := reports.NewDateRange(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	q2, err := reports.NewDateRange(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), closing)
	require.NoError(t, err)

	cmp, err := svc.BuildComparative(context.Background(), reports.KindIncomeStatement, []reports.DateRange{q2, q1}, nil)
	require.NoError(t, err)
	assert.Equal(t, q1.Start, source.lastFilter.From)
	assert.Equal(t, closing, source.lastFilter.To)
	require.Len(t, cmp.Reports, 2)
	first, _ := cmp.Reports[0].Total("net_income")
	second, _ := cmp.Reports[1].Total("net_income")
	assert.Equal(t, int64(8000), first.Amount.Amount())
	assert.True(t, second.Amount.IsZero())
}

func TestCheckEntries(t *testing.T) {
	svc := NewService(scenarioSource(), nil, nil, usd, nil)
	ctx := context.Background()
	good, bad := uuid.New(), uuid.New()

	result, err := svc.CheckEntries(ctx, "", []accounting.JournalEntry{
		line(good, 1, accounting.EntryTypeDebit, 500, closing),
		line(good, 3, accounting.EntryTypeCredit, 500, closing),
	})
	require.NoError(t, err)
	assert.True(t, result.Balanced)
	assert.True(t, result.Difference.IsZero())

	result, err = svc.CheckEntries(ctx, usd, []accounting.JournalEntry{
		line(bad, 1, accounting.EntryTypeDebit, 5000, closing),
		line(bad, 3, accounting.EntryTypeCredit, 4000, closing),
	})
	require.NoError(t, err)
	assert.False(t, result.Balanced)
	assert.Equal(t, []uuid.UUID{bad}, result.Unbalanced)
	assert.Equal(t, int64(1000), result.Difference.Amount())

	_, err = svc.CheckEntries(ctx, usd, []accounting.JournalEntry{line(bad, 42, accounting.EntryTypeDebit, 1, closing)})
	require.ErrorIs(t, err, accounting.ErrUnknownAccount)

	foreign := line(bad, 3, accounting.EntryTypeCredit, 1, closing)
	foreign.Currency = money.MustCode("EUR")
	_, err = svc.CheckEntries(ctx, usd, []accounting.JournalEntry{line(bad, 1, accounting.EntryTypeDebit, 1, closing), foreign})
	require.ErrorIs(t, err, money.ErrCurrencyMismatch)
}

func TestCheckIntegrity(t *testing.T) {
	source := scenarioSource()
	broken := uuid.New()
	source.entries = append(source.entries, line(broken, 1, accounting.EntryTypeDebit, 700, closing))
	svc := NewService(source, nil, nil, usd, nil)

	rng, err := reports.NewDateRange(closing.AddDate(0, 0, -29), closing)
	require.NoError(t, err)
	report, err := svc.CheckIntegrity(context.Background(), rng)
	require.NoError(t, err)
	assert.False(t, report.Balanced)
	assert.Equal(t, 4, report.Entries)
	assert.Equal(t, 2, report.Transactions)
	assert.Equal(t, []uuid.UUID{broken}, report.Unbalanced)
	assert.Equal(t, int64(10700), report.Debits.Amount())
}

func TestCacheListenForInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)
	require.NoError(t, cache.ListenForInvalidation(ctx, ""))

	require.NoError(t, client.Publish(ctx, BumpChannel, "9").Err())
	require.Eventually(t, func() bool {
		v, err := cache.Version(ctx)
		return err == nil && v == 9
	}, time.Second, 10*time.Millisecond)

	key, err := cache.BuildKey(ctx, "ledger", "report")
	require.NoError(t, err)
	assert.Equal(t, "ledger:report:v9", key)
}

type snapshotSource struct {
	*mockSource
	snapshots int
}

func (s *snapshotSource) Snapshot(ctx context.Context, fn func(Source) error) error {
	s.snapshots++
	return fn(s.mockSource)
}

func TestBuildReadsOneSnapshot(t *testing.T) {
	source := &snapshotSource{mockSource: scenarioSource()}
	svc := NewService(source, nil, nil, usd, nil)

	_, err := svc.Build(context.Background(), ReportRequest{Kind: reports.KindTrialBalance, Range: reports.AsOf(closing)})
	require.NoError(t, err)
	assert.Equal(t, 1, source.snapshots)
	assert.Equal(t, 1, source.accountCalls)
	assert.Equal(t, 1, source.entryCalls)
}

func TestBuildServesReportsWhileRedisIsDown(t *testing.T) {
	source := scenarioSource()
	svc, mr := newTestService(t, source)
	mr.Close()
	req := ReportRequest{Kind: reports.KindBalanceSheet, Range: reports.AsOf(closing)}

	report, err := svc.Build(context.Background(), req)
	require.NoError(t, err)
	assets, ok := report.Section("assets")
	require.True(t, ok)
	assert.Equal(t, int64(10000), assets.Total.Amount())

	_, err = svc.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, source.entryCalls, "nothing is cached without redis")
}

func TestFetchJSONFallsBackToLoader(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)
	mr.Close()

	var got map[string]int
	hit, err := cache.FetchJSON(context.Background(), "ledger:test", &got, func(context.Context) (any, error) {
		return map[string]int{"rows": 3}, nil
	})
	require.ErrorIs(t, err, ErrCacheUnavailable)
	assert.False(t, hit)
	assert.Equal(t, map[string]int{"rows": 3}, got)

	loadErr := errors.New("source down")
	_, err = cache.FetchJSON(context.Background(), "ledger:test", &got, func(context.Context) (any, error) {
		return nil, loadErr
	})
	require.ErrorIs(t, err, loadErr)
}

type blockingSource struct{}

func (blockingSource) Accounts(ctx context.Context) ([]accounting.Account, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingSource) Entries(ctx context.Context, _ EntryFilter) ([]accounting.JournalEntry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSharedBuildHonoursBuildTimeout(t *testing.T) {
	svc := NewService(blockingSource{}, nil, nil, usd, nil, WithBuildTimeout(20*time.Millisecond))
	req := ReportRequest{Kind: reports.KindBalanceSheet, Range: reports.AsOf(closing)}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Build(context.Background(), req)
		done <- err
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("build outlived its timeout")
	}
}
