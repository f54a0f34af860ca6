package reports

import (
	"iter"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/odyssey-erp/ledger/internal/money"
)

// Alignment hints how a renderer should align a column.
type Alignment string

const (
	AlignLeft   Alignment = "left"
	AlignCenter Alignment = "center"
	AlignRight  Alignment = "right"
)

// Column describes one cell position of every row.
type Column struct {
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	Alignment Alignment `json:"alignment"`
}

// RowKind distinguishes headings, account lines and totals.
type RowKind string

const (
	RowSection RowKind = "section"
	RowAccount RowKind = "account"
	RowTotal   RowKind = "total"
)

// Row is one flattened line. Cells line up with Table.Columns.
type Row struct {
	Kind  RowKind  `json:"kind"`
	Depth int      `json:"depth"`
	Cells []string `json:"cells"`
}

// Table is the tabular form consumed by exporters.
type Table interface {
	Title() string
	Subtitle() string
	Columns() []Column
	// Rows yields section headings followed by their accounts depth first.
	// Each call starts a fresh iteration.
	Rows() iter.Seq[Row]
	// Summary holds derived totals shown after the body.
	Summary() []Row
}

const indent = "  "

var baseColumns = []Column{
	{Key: "code", Label: "Code", Alignment: AlignCenter},
	{Key: "name", Label: "Account", Alignment: AlignLeft},
}

// presenter supplies the kind specific columns and amount cells.
type presenter struct {
	amountColumns []Column
	amounts       func(AccountRow) []string
	sectionCells  func(Section) []string
	summary       func(Report) []Row
}

func presenterFor(kind Kind) presenter {
	switch kind {
	case KindTrialBalance:
		return presenter{
			amountColumns: []Column{
				{Key: "debit", Label: "Debit", Alignment: AlignRight},
				{Key: "credit", Label: "Credit", Alignment: AlignRight},
				{Key: "balance", Label: "Balance", Alignment: AlignRight},
			},
			amounts: func(row AccountRow) []string {
				return []string{row.Debits.Format(), row.Credits.Format(), row.Balance.Format()}
			},
			sectionCells: func(s Section) []string {
				return []string{"", "", s.Total.Format()}
			},
			summary: func(r Report) []Row {
				return []Row{{Kind: RowTotal, Cells: []string{"", "Total", r.Debits.Format(), r.Credits.Format(), ""}}}
			},
		}
	default:
		return presenter{
			amountColumns: []Column{{Key: "balance", Label: "Balance", Alignment: AlignRight}},
			amounts: func(row AccountRow) []string {
				return []string{row.Balance.Format()}
			},
			sectionCells: func(s Section) []string {
				return []string{s.Total.Format()}
			},
			summary: func(r Report) []Row {
				rows := make([]Row, 0, len(r.Totals))
				for _, t := range r.Totals {
					rows = append(rows, Row{Kind: RowTotal, Cells: []string{"", t.Label, t.Amount.Format()}})
				}
				return rows
			},
		}
	}
}

// TransformOption narrows the rows a table emits.
type TransformOption func(*viewOptions)

type viewOptions struct {
	sectionsOnly bool
	// maxDepth caps account rows by depth; negative means no cap.
	maxDepth int
}

// SummaryOnly emits section rows and totals without account lines.
func SummaryOnly() TransformOption {
	return func(o *viewOptions) {
		o.sectionsOnly = true
	}
}

// WithMaxDepth emits accounts down to depth, where 0 is the top level.
// Balances of hidden accounts stay included in their ancestors.
func WithMaxDepth(depth int) TransformOption {
	return func(o *viewOptions) {
		if depth >= 0 {
			o.maxDepth = depth
		}
	}
}

func (o viewOptions) shows(depth int) bool {
	if o.sectionsOnly {
		return false
	}
	return o.maxDepth < 0 || depth <= o.maxDepth
}

type reportTable struct {
	report    Report
	presenter presenter
	view      viewOptions
}

// Transform flattens a report into a table whose columns depend on its kind.
// Without options every account of the tree is emitted.
func Transform(report Report, opts ...TransformOption) Table {
	view := viewOptions{maxDepth: -1}
	for _, opt := range opts {
		opt(&view)
	}
	return reportTable{report: report, presenter: presenterFor(report.Kind), view: view}
}

func (t reportTable) Title() string { return t.report.Title }

func (t reportTable) Subtitle() string {
	return subtitle(t.report.Currency, t.report.Period)
}

func (t reportTable) Columns() []Column {
	cols := append([]Column(nil), baseColumns...)
	return append(cols, t.presenter.amountColumns...)
}

func (t reportTable) Rows() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for _, section := range t.report.Sections {
			head := Row{Kind: RowSection, Cells: append([]string{"", section.Label}, t.presenter.sectionCells(section)...)}
			if !yield(head) {
				return
			}
			for _, account := range section.Accounts {
				if !t.emit(account, yield) {
					return
				}
			}
		}
	}
}

// emit yields row and its visible descendants. It returns false once the
// consumer stops.
func (t reportTable) emit(row AccountRow, yield func(Row) bool) bool {
	if !t.view.shows(row.Depth) {
		return true
	}
	if !yield(t.accountRow(row)) {
		return false
	}
	for _, child := range row.Children {
		if !t.emit(child, yield) {
			return false
		}
	}
	return true
}

func (t reportTable) accountRow(row AccountRow) Row {
	cells := append([]string{row.Code, indented(row.Name, row.Depth)}, t.presenter.amounts(row)...)
	return Row{Kind: RowAccount, Depth: row.Depth + 1, Cells: cells}
}

func (t reportTable) Summary() []Row {
	return t.presenter.summary(t.report)
}

// comparativeLine is one account aligned across every column.
type comparativeLine struct {
	path   string
	code   string
	name   string
	depth  int
	values []money.Money
}

type comparativeTable struct {
	cmp Comparative
}

// TransformComparative aligns each column's accounts by code so every row
// carries one balance per period or entity. Accounts missing from a column
// show a zero balance.
func TransformComparative(cmp Comparative) Table {
	return comparativeTable{cmp: cmp}
}

func (t comparativeTable) Title() string { return t.cmp.Title }

func (t comparativeTable) Subtitle() string {
	return subtitle(t.cmp.Currency, "by "+t.cmp.Axis)
}

func (t comparativeTable) Columns() []Column {
	cols := append([]Column(nil), baseColumns...)
	for i, label := range t.cmp.Labels {
		cols = append(cols, Column{Key: "col_" + strconv.Itoa(i), Label: label, Alignment: AlignRight})
	}
	return cols
}

func (t comparativeTable) Rows() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		if len(t.cmp.Reports) == 0 {
			return
		}
		for idx, section := range t.cmp.Reports[0].Sections {
			cells := []string{"", section.Label}
			for _, report := range t.cmp.Reports {
				cells = append(cells, report.Sections[idx].Total.Format())
			}
			if !yield(Row{Kind: RowSection, Cells: cells}) {
				return
			}
			for _, line := range t.lines(idx) {
				cells := []string{line.code, indented(line.name, line.depth)}
				for _, value := range line.values {
					cells = append(cells, value.Format())
				}
				if !yield(Row{Kind: RowAccount, Depth: line.depth + 1, Cells: cells}) {
					return
				}
			}
		}
	}
}

// lines merges the section's account trees of every column. Sorting by the
// code path yields depth-first order with siblings by code.
func (t comparativeTable) lines(section int) []comparativeLine {
	width := len(t.cmp.Reports)
	byPath := make(map[string]*comparativeLine)
	for col, report := range t.cmp.Reports {
		var visit func(prefix string, row AccountRow)
		visit = func(prefix string, row AccountRow) {
			path := prefix + row.Code
			line, ok := byPath[path]
			if !ok {
				line = &comparativeLine{path: path, code: row.Code, name: row.Name, depth: row.Depth, values: make([]money.Money, width)}
				for i := range line.values {
					line.values[i] = money.Zero(t.cmp.Currency)
				}
				byPath[path] = line
			}
			line.values[col] = row.Balance
			for _, child := range row.Children {
				visit(path+"\x00", child)
			}
		}
		for _, row := range report.Sections[section].Accounts {
			visit("", row)
		}
	}
	out := make([]comparativeLine, 0, len(byPath))
	for _, line := range byPath {
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

func (t comparativeTable) Summary() []Row {
	if len(t.cmp.Reports) == 0 {
		return nil
	}
	var rows []Row
	for idx, total := range t.cmp.Reports[0].Totals {
		cells := []string{"", total.Label}
		for _, report := range t.cmp.Reports {
			cells = append(cells, report.Totals[idx].Amount.Format())
		}
		rows = append(rows, Row{Kind: RowTotal, Cells: cells})
	}
	return rows
}

// Collect materialises a table's rows.
func Collect(t Table) []Row {
	return slices.Collect(t.Rows())
}

func indented(name string, depth int) string {
	return strings.Repeat(indent, depth) + name
}

func subtitle(currency money.Code, period string) string {
	if period == "" {
		return currency.String()
	}
	return period + " (" + currency.String() + ")"
}
