package statements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/money"
)

// ReportRequest selects one statement.
type ReportRequest struct {
	Kind     reports.Kind
	Range    reports.DateRange
	Entities []int64
}

// CheckResult reports whether a set of proposed entries balances.
type CheckResult struct {
	Balanced   bool        `json:"balanced"`
	Debits     money.Money `json:"debits"`
	Credits    money.Money `json:"credits"`
	Difference money.Money `json:"difference"`
	Unbalanced []uuid.UUID `json:"unbalanced_transactions,omitempty"`
}

// IntegrityReport summarises a scan of posted entries.
type IntegrityReport struct {
	Range        reports.DateRange `json:"range"`
	Entries      int               `json:"entries"`
	Transactions int               `json:"transactions"`
	Debits       money.Money       `json:"debits"`
	Credits      money.Money       `json:"credits"`
	Balanced     bool              `json:"balanced"`
	Unbalanced   []uuid.UUID       `json:"unbalanced_transactions,omitempty"`
}

// Service loads ledger snapshots and builds statements. Concurrent requests
// for the same statement share one build.
type Service struct {
	source   Source
	cache    *Cache
	layouts  reports.Layouts
	currency money.Code
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time

	// buildTimeout bounds a shared build once it is detached from callers.
	buildTimeout time.Duration
}

const defaultBuildTimeout = 30 * time.Second

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithBuildTimeout bounds every shared build. Non-positive values keep the
// default.
func WithBuildTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.buildTimeout = d
		}
	}
}

// NewService constructs the report service. A nil cache disables caching.
func NewService(source Source, cache *Cache, layouts reports.Layouts, currency money.Code, logger *slog.Logger, opts ...ServiceOption) *Service {
	if layouts == nil {
		layouts = reports.DefaultLayouts()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		source:       source,
		cache:        cache,
		layouts:      layouts,
		currency:     currency,
		logger:       logger,
		now:          time.Now,
		buildTimeout: defaultBuildTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Currency returns the reporting currency.
func (s *Service) Currency() money.Code {
	return s.currency
}

// Build returns a statement, served from cache when possible.
func (s *Service) Build(ctx context.Context, req ReportRequest) (reports.Report, error) {
	if err := req.Range.Validate(); err != nil {
		return reports.Report{}, err
	}
	if _, err := s.layouts.Get(req.Kind); err != nil {
		return reports.Report{}, err
	}
	entities := normaliseEntities(req.Entities)
	cached := true
	key, err := s.cache.BuildKey(ctx, "ledger", "report", string(req.Kind), req.Range.Label(), entitiesToken(entities), s.currency.String())
	if err != nil {
		s.logger.Warn("report cache unavailable", slog.Any("error", err))
		cached = false
		key = strings.Join([]string{"ledger", "report", string(req.Kind), req.Range.Label(), entitiesToken(entities), s.currency.String()}, ":")
	}

	load := func(ctx context.Context) (any, error) {
		return s.build(ctx, req.Kind, []reports.DateRange{req.Range}, entities, func(b *reports.Builder, l accounting.Ledger) (any, error) {
			var opts []reports.BuildOption
			if len(entities) > 0 {
				opts = append(opts, reports.WithEntities(entities...))
			}
			return b.Build(l, req.Kind, req.Range, opts...)
		})
	}
	val, err := s.shared(ctx, key, func(ctx context.Context) (any, error) {
		if !cached {
			report, err := load(ctx)
			if err != nil {
				return nil, err
			}
			recordCacheResult(string(req.Kind), false)
			return report, nil
		}
		var report reports.Report
		hit, err := s.cache.FetchJSON(ctx, key, &report, load)
		if errors.Is(err, ErrCacheUnavailable) {
			s.logger.Warn("report cache unavailable", slog.String("report", string(req.Kind)), slog.Any("error", err))
			err = nil
		}
		if err != nil {
			return nil, err
		}
		recordCacheResult(string(req.Kind), hit)
		return report, nil
	})
	if err != nil {
		return reports.Report{}, err
	}
	return val.(reports.Report), nil
}

// BuildComparative builds kind for several periods side by side.
func (s *Service) BuildComparative(ctx context.Context, kind reports.Kind, ranges []reports.DateRange, entities []int64) (reports.Comparative, error) {
	if len(ranges) == 0 {
		return reports.Comparative{}, reports.ErrNoColumns
	}
	for _, rng := range ranges {
		if err := rng.Validate(); err != nil {
			return reports.Comparative{}, err
		}
	}
	entities = normaliseEntities(entities)
	val, err := s.build(ctx, kind, ranges, entities, func(b *reports.Builder, l accounting.Ledger) (any, error) {
		var opts []reports.BuildOption
		if len(entities) > 0 {
			opts = append(opts, reports.WithEntities(entities...))
		}
		return b.BuildComparative(l, kind, ranges, opts...)
	})
	if err != nil {
		return reports.Comparative{}, err
	}
	return val.(reports.Comparative), nil
}

// BuildByEntity builds kind once per entity over the same range.
func (s *Service) BuildByEntity(ctx context.Context, kind reports.Kind, rng reports.DateRange, entities []int64) (reports.Comparative, error) {
	if err := rng.Validate(); err != nil {
		return reports.Comparative{}, err
	}
	entities = normaliseEntities(entities)
	if len(entities) == 0 {
		return reports.Comparative{}, reports.ErrNoColumns
	}
	val, err := s.build(ctx, kind, []reports.DateRange{rng}, entities, func(b *reports.Builder, l accounting.Ledger) (any, error) {
		return b.BuildByEntity(l, kind, rng, entities)
	})
	if err != nil {
		return reports.Comparative{}, err
	}
	return val.(reports.Comparative), nil
}

// build loads the chart and the entries covering every range, then runs fn.
func (s *Service) build(ctx context.Context, kind reports.Kind, ranges []reports.DateRange, entities []int64, fn func(*reports.Builder, accounting.Ledger) (any, error)) (result any, err error) {
	started := s.now()
	defer func() {
		observeBuild(string(kind), err, s.now().Sub(started))
		if errors.Is(err, accounting.ErrLedgerInconsistency) {
			recordInconsistency(string(kind))
			s.logger.Error("ledger inconsistency", slog.String("report", string(kind)), slog.Any("error", err))
		}
	}()

	layout, err := s.layouts.Get(kind)
	if err != nil {
		return nil, err
	}
	filter := EntryFilter{Entities: entities}
	for i, rng := range ranges {
		if i == 0 || rng.Start.Before(filter.From) {
			filter.From = rng.Start
		}
		if rng.End.After(filter.To) {
			filter.To = rng.End
		}
	}
	if layout.Cumulative {
		filter.From = time.Time{}
	}
	var (
		accounts []accounting.Account
		entries  []accounting.JournalEntry
	)
	err = withSnapshot(ctx, s.source, func(src Source) error {
		var err error
		if accounts, err = src.Accounts(ctx); err != nil {
			return fmt.Errorf("load accounts: %w", err)
		}
		if entries, err = src.Entries(ctx, filter); err != nil {
			return fmt.Errorf("load entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	chart, err := accounting.NewChart(accounts)
	if err != nil {
		return nil, err
	}
	builder, err := reports.NewBuilder(chart, reports.WithLayouts(s.layouts))
	if err != nil {
		return nil, err
	}
	return fn(builder, accounting.NewLedger(s.currency, entries))
}

// shared collapses concurrent calls with the same key. The caller's context
// bounds only its own wait; the build itself runs under buildTimeout.
func (s *Service) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	resultChan := s.group.DoChan(key, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.buildTimeout)
		defer cancel()
		return fn(buildCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.Val, res.Err
	}
}

// CheckEntries verifies a proposed transaction set before posting: every
// entry must be well formed and reference a known account, and each
// transaction must balance on its own.
func (s *Service) CheckEntries(ctx context.Context, currency money.Code, entries []accounting.JournalEntry) (CheckResult, error) {
	if currency == "" {
		currency = s.currency
	}
	accounts, err := s.source.Accounts(ctx)
	if err != nil {
		return CheckResult{}, fmt.Errorf("load accounts: %w", err)
	}
	chart, err := accounting.NewChart(accounts)
	if err != nil {
		return CheckResult{}, err
	}
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return CheckResult{}, fmt.Errorf("entry %d: %w", i+1, err)
		}
		if _, ok := chart.Account(e.AccountID); !ok {
			return CheckResult{}, fmt.Errorf("entry %d: %w: %d", i+1, accounting.ErrUnknownAccount, e.AccountID)
		}
	}
	ledger := accounting.NewLedger(currency, entries)
	debits, credits, err := ledger.Totals()
	if err != nil {
		return CheckResult{}, err
	}
	unbalanced, err := ledger.UnbalancedTransactions()
	if err != nil {
		return CheckResult{}, err
	}
	diff, err := debits.Subtract(credits)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{
		Balanced:   debits.Equal(credits) && len(unbalanced) == 0,
		Debits:     debits,
		Credits:    credits,
		Difference: diff,
		Unbalanced: unbalanced,
	}, nil
}

// CheckIntegrity scans posted entries in rng for overall and per-transaction
// balance. An out-of-balance ledger is a finding, not an error.
func (s *Service) CheckIntegrity(ctx context.Context, rng reports.DateRange) (IntegrityReport, error) {
	if err := rng.Validate(); err != nil {
		return IntegrityReport{}, err
	}
	entries, err := s.source.Entries(ctx, EntryFilter{From: rng.Start, To: rng.End})
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("load entries: %w", err)
	}
	ledger := accounting.NewLedger(s.currency, entries)
	debits, credits, err := ledger.Totals()
	if err != nil {
		return IntegrityReport{}, err
	}
	unbalanced, err := ledger.UnbalancedTransactions()
	if err != nil {
		return IntegrityReport{}, err
	}
	report := IntegrityReport{
		Range:        rng,
		Entries:      ledger.Len(),
		Transactions: len(ledger.ByTransaction()),
		Debits:       debits,
		Credits:      credits,
		Balanced:     debits.Equal(credits) && len(unbalanced) == 0,
		Unbalanced:   unbalanced,
	}
	if !report.Balanced {
		recordInconsistency("integrity")
		s.logger.Error("ledger integrity check failed",
			slog.String("range", rng.Label()),
			slog.String("debits", debits.String()),
			slog.String("credits", credits.String()),
			slog.Int("unbalanced_transactions", len(unbalanced)),
		)
	}
	return report, nil
}

// Invalidate drops every cached statement.
func (s *Service) Invalidate(ctx context.Context) error {
	ver, err := s.cache.Bump(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("report cache invalidated", slog.Int64("version", ver))
	return nil
}

func normaliseEntities(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
