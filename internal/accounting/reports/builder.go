package reports

import (
	"errors"
	"fmt"
	"slices"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/money"
)

// Builder turns a ledger snapshot into statements for one chart of accounts.
// A Builder holds no mutable state and may be shared between goroutines.
type Builder struct {
	chart   *accounting.Chart
	layouts Layouts
}

// BuilderOption customises a Builder.
type BuilderOption func(*Builder)

// WithLayouts replaces the built-in layouts.
func WithLayouts(layouts Layouts) BuilderOption {
	return func(b *Builder) {
		b.layouts = layouts
	}
}

// NewBuilder validates the configured layouts against the chart.
func NewBuilder(chart *accounting.Chart, opts ...BuilderOption) (*Builder, error) {
	if chart == nil {
		return nil, errors.New("reports: chart required")
	}
	b := &Builder{chart: chart, layouts: DefaultLayouts()}
	for _, opt := range opts {
		opt(b)
	}
	for _, layout := range b.layouts {
		if err := layout.Validate(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Chart returns the chart the builder resolves accounts against.
func (b *Builder) Chart() *accounting.Chart {
	return b.chart
}

// Layout returns the layout used for kind.
func (b *Builder) Layout(kind Kind) (Layout, error) {
	return b.layouts.Get(kind)
}

// BuildOption narrows a single build.
type BuildOption func(*buildParams)

type buildParams struct {
	entities []int64
}

// WithEntities restricts the build to entries tagged with one of ids.
func WithEntities(ids ...int64) BuildOption {
	return func(p *buildParams) {
		p.entities = append(p.entities, ids...)
	}
}

// accountTotals is the stage-two result for one account.
type accountTotals struct {
	debits  money.Money
	credits money.Money
	net     money.Money
	entries int
}

// Build runs the filter, group, rollup and section stages in order. The
// reporting currency is the ledger's currency.
func (b *Builder) Build(ledger accounting.Ledger, kind Kind, rng DateRange, opts ...BuildOption) (Report, error) {
	if err := rng.Validate(); err != nil {
		return Report{}, err
	}
	layout, err := b.layouts.Get(kind)
	if err != nil {
		return Report{}, err
	}
	var params buildParams
	for _, opt := range opts {
		opt(&params)
	}

	filtered := b.filter(ledger, layout, rng, params.entities)
	grouped, err := b.groupByAccount(filtered)
	if err != nil {
		return Report{}, err
	}
	roots, err := b.rollup(grouped, filtered.Currency())
	if err != nil {
		return Report{}, err
	}
	report, err := b.section(layout, roots, filtered)
	if err != nil {
		return Report{}, err
	}
	report.Range = rng
	report.Period = rng.Label()
	if len(params.entities) > 0 {
		report.Entities = slices.Clone(params.entities)
		slices.Sort(report.Entities)
	}
	return report, nil
}

// filter keeps entries inside the range, or up to the range end for
// cumulative layouts, and inside the entity set when one is given.
func (b *Builder) filter(ledger accounting.Ledger, layout Layout, rng DateRange, entities []int64) accounting.Ledger {
	return ledger.Filter(func(e accounting.JournalEntry) bool {
		if layout.Cumulative {
			if !rng.OnOrBefore(e.PostingDate) {
				return false
			}
		} else if !rng.Contains(e.PostingDate) {
			return false
		}
		if len(entities) == 0 {
			return true
		}
		return e.EntityID != nil && slices.Contains(entities, *e.EntityID)
	})
}

// groupByAccount partitions entries by account and nets each account on its
// classification's normal side.
func (b *Builder) groupByAccount(ledger accounting.Ledger) (map[int64]accountTotals, error) {
	partitions := make(map[int64][]accounting.JournalEntry)
	for e := range ledger.All() {
		if _, ok := b.chart.Account(e.AccountID); !ok {
			return nil, fmt.Errorf("%w: %d (transaction %s)", accounting.ErrUnknownAccount, e.AccountID, e.TransactionID)
		}
		partitions[e.AccountID] = append(partitions[e.AccountID], e)
	}

	out := make(map[int64]accountTotals, len(partitions))
	for accountID, entries := range partitions {
		acc, _ := b.chart.Account(accountID)
		debits, err := accounting.SumByType(entries, accounting.EntryTypeDebit, ledger.Currency())
		if err != nil {
			return nil, err
		}
		credits, err := accounting.SumByType(entries, accounting.EntryTypeCredit, ledger.Currency())
		if err != nil {
			return nil, err
		}
		net, err := sideBalance(acc.Type.NormalSide(), debits, credits)
		if err != nil {
			return nil, err
		}
		out[accountID] = accountTotals{debits: debits, credits: credits, net: net, entries: len(entries)}
	}
	return out, nil
}

// rollup folds balances bottom-up through the chart. Accounts without any
// activity in their subtree are omitted.
func (b *Builder) rollup(grouped map[int64]accountTotals, currency money.Code) ([]AccountRow, error) {
	var roots []AccountRow
	for _, acc := range b.chart.Roots() {
		row, active, err := b.rollupAccount(acc, 0, grouped, currency)
		if err != nil {
			return nil, err
		}
		if active {
			roots = append(roots, row)
		}
	}
	return roots, nil
}

func (b *Builder) rollupAccount(acc accounting.Account, depth int, grouped map[int64]accountTotals, currency money.Code) (AccountRow, bool, error) {
	own, active := grouped[acc.ID]
	if !active {
		own = accountTotals{debits: money.Zero(currency), credits: money.Zero(currency), net: money.Zero(currency)}
	}
	row := AccountRow{
		AccountID: acc.ID,
		Code:      acc.Code,
		Name:      acc.Name,
		Type:      acc.Type,
		Depth:     depth,
		Debits:    own.debits,
		Credits:   own.credits,
		Direct:    own.net,
		Balance:   own.net,
	}
	side := acc.Type.NormalSide()
	for _, child := range b.chart.Children(acc.ID) {
		childRow, childActive, err := b.rollupAccount(child, depth+1, grouped, currency)
		if err != nil {
			return AccountRow{}, false, err
		}
		if !childActive {
			continue
		}
		active = true
		if row.Balance, err = row.Balance.Add(childRow.BalanceOn(side)); err != nil {
			return AccountRow{}, false, err
		}
		if row.Debits, err = row.Debits.Add(childRow.Debits); err != nil {
			return AccountRow{}, false, err
		}
		if row.Credits, err = row.Credits.Add(childRow.Credits); err != nil {
			return AccountRow{}, false, err
		}
		row.Children = append(row.Children, childRow)
	}
	return row, active, nil
}

// section assigns top-level rows to sections, derives totals and verifies
// the layout identity. Without an identity the ledger balance is checked.
func (b *Builder) section(layout Layout, roots []AccountRow, ledger accounting.Ledger) (Report, error) {
	currency := ledger.Currency()
	debits, credits, err := ledger.Totals()
	if err != nil {
		return Report{}, err
	}
	report := Report{
		Kind:     layout.Kind,
		Title:    layout.Title,
		Currency: currency,
		Sections: make([]Section, len(layout.Sections)),
		Debits:   debits,
		Credits:  credits,
	}
	for idx, spec := range layout.Sections {
		report.Sections[idx] = Section{Key: spec.Key, Label: spec.Label, Normal: spec.normal(), Total: money.Zero(currency)}
	}
	for _, row := range roots {
		idx := layout.sectionFor(row.Type)
		if idx < 0 {
			continue
		}
		sec := &report.Sections[idx]
		sec.Accounts = append(sec.Accounts, row)
		if sec.Total, err = sec.Total.Add(row.BalanceOn(sec.Normal)); err != nil {
			return Report{}, err
		}
	}

	totals := make(map[string]money.Money, len(report.Sections))
	for _, sec := range report.Sections {
		totals[sec.Key] = sec.Total
	}
	for _, spec := range layout.Totals {
		amount, err := combine(currency, totals, spec.Plus, spec.Minus)
		if err != nil {
			return Report{}, err
		}
		report.Totals = append(report.Totals, Total{Key: spec.Key, Label: spec.Label, Amount: amount})
	}

	if layout.Identity == nil {
		if err := ledger.CheckBalanced(string(layout.Kind)); err != nil {
			return Report{}, err
		}
		return report, nil
	}
	left, err := combine(currency, totals, layout.Identity.Left, nil)
	if err != nil {
		return Report{}, err
	}
	right, err := combine(currency, totals, layout.Identity.Right, nil)
	if err != nil {
		return Report{}, err
	}
	if !left.Equal(right) {
		unbalanced, err := ledger.UnbalancedTransactions()
		if err != nil {
			return Report{}, err
		}
		return Report{}, &accounting.InconsistencyError{
			Check:        fmt.Sprintf("%s identity", layout.Kind),
			Left:         left,
			Right:        right,
			Transactions: unbalanced,
		}
	}
	return report, nil
}

func combine(currency money.Code, totals map[string]money.Money, plus, minus []string) (money.Money, error) {
	out := money.Zero(currency)
	var err error
	for _, key := range plus {
		if out, err = out.Add(totals[key]); err != nil {
			return money.Money{}, err
		}
	}
	for _, key := range minus {
		if out, err = out.Subtract(totals[key]); err != nil {
			return money.Money{}, err
		}
	}
	return out, nil
}

func sideBalance(side accounting.EntryType, debits, credits money.Money) (money.Money, error) {
	if side == accounting.EntryTypeDebit {
		return debits.Subtract(credits)
	}
	return credits.Subtract(debits)
}
