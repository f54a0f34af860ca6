package reports

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/ledger/internal/accounting"
)

var (
	// ErrInvalidLayout indicates a statement layout that cannot be built.
	ErrInvalidLayout = errors.New("reports: invalid layout")
	// ErrUnknownKind indicates a report kind with no layout.
	ErrUnknownKind = errors.New("reports: unknown report kind")
)

// Kind names a statement type.
type Kind string

const (
	KindBalanceSheet    Kind = "balance_sheet"
	KindIncomeStatement Kind = "income_statement"
	KindTrialBalance    Kind = "trial_balance"
)

// ParseKind accepts canonical kind names and the short forms bs, pl and tb.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "balance_sheet", "balance-sheet", "bs":
		return KindBalanceSheet, nil
	case "income_statement", "income-statement", "profit_and_loss", "pl":
		return KindIncomeStatement, nil
	case "trial_balance", "trial-balance", "tb":
		return KindTrialBalance, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// SectionSpec maps account classifications onto one statement section.
type SectionSpec struct {
	Key    string                   `yaml:"key"`
	Label  string                   `yaml:"label"`
	Types  []accounting.AccountType `yaml:"types"`
	Normal accounting.EntryType     `yaml:"normal"`
}

// TotalSpec derives a total as the sum of Plus sections minus Minus sections.
type TotalSpec struct {
	Key   string   `yaml:"key"`
	Label string   `yaml:"label"`
	Plus  []string `yaml:"plus"`
	Minus []string `yaml:"minus,omitempty"`
}

// IdentitySpec requires the Left sections to sum to the Right sections.
type IdentitySpec struct {
	Left  []string `yaml:"left"`
	Right []string `yaml:"right"`
}

// Layout describes how a statement groups and checks accounts. Cumulative
// layouts include every entry up to the range end.
type Layout struct {
	Kind       Kind          `yaml:"kind"`
	Title      string        `yaml:"title"`
	Cumulative bool          `yaml:"cumulative"`
	Sections   []SectionSpec `yaml:"sections"`
	Totals     []TotalSpec   `yaml:"totals,omitempty"`
	Identity   *IdentitySpec `yaml:"identity,omitempty"`
}

// Validate checks section keys, classification coverage and references.
// Layouts with an identity must map every account classification.
func (l Layout) Validate() error {
	if _, err := ParseKind(string(l.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	if len(l.Sections) == 0 {
		return fmt.Errorf("%w: %s has no sections", ErrInvalidLayout, l.Kind)
	}
	keys := make(map[string]struct{}, len(l.Sections))
	claimed := make(map[accounting.AccountType]string)
	for _, section := range l.Sections {
		if section.Key == "" {
			return fmt.Errorf("%w: %s section missing key", ErrInvalidLayout, l.Kind)
		}
		if _, dup := keys[section.Key]; dup {
			return fmt.Errorf("%w: %s section %q repeated", ErrInvalidLayout, l.Kind, section.Key)
		}
		keys[section.Key] = struct{}{}
		if len(section.Types) == 0 {
			return fmt.Errorf("%w: section %q maps no account types", ErrInvalidLayout, section.Key)
		}
		for _, typ := range section.Types {
			if !typ.Valid() {
				return fmt.Errorf("%w: section %q: %v", ErrInvalidLayout, section.Key, typ)
			}
			if owner, ok := claimed[typ]; ok {
				return fmt.Errorf("%w: %s mapped by %q and %q", ErrInvalidLayout, typ, owner, section.Key)
			}
			claimed[typ] = section.Key
		}
		if section.Normal != "" && !section.Normal.Valid() {
			return fmt.Errorf("%w: section %q normal side %q", ErrInvalidLayout, section.Key, section.Normal)
		}
	}
	for _, total := range l.Totals {
		if total.Key == "" || len(total.Plus)+len(total.Minus) == 0 {
			return fmt.Errorf("%w: %s total %q is empty", ErrInvalidLayout, l.Kind, total.Key)
		}
		if err := l.checkRefs(keys, total.Plus, total.Minus); err != nil {
			return err
		}
	}
	if l.Identity != nil {
		if len(l.Identity.Left) == 0 || len(l.Identity.Right) == 0 {
			return fmt.Errorf("%w: %s identity needs both sides", ErrInvalidLayout, l.Kind)
		}
		// An unmapped classification would drop balances from one side.
		for _, typ := range accounting.AccountTypes {
			if _, ok := claimed[typ]; !ok {
				return fmt.Errorf("%w: %s identity requires a section for %s accounts", ErrInvalidLayout, l.Kind, typ)
			}
		}
		if err := l.checkRefs(keys, l.Identity.Left, l.Identity.Right); err != nil {
			return err
		}
	}
	return nil
}

func (l Layout) checkRefs(keys map[string]struct{}, groups ...[]string) error {
	for _, group := range groups {
		for _, key := range group {
			if _, ok := keys[key]; !ok {
				return fmt.Errorf("%w: %s references unknown section %q", ErrInvalidLayout, l.Kind, key)
			}
		}
	}
	return nil
}

// sectionFor returns the index of the section mapping typ, or -1.
func (l Layout) sectionFor(typ accounting.AccountType) int {
	for idx, section := range l.Sections {
		for _, candidate := range section.Types {
			if candidate == typ {
				return idx
			}
		}
	}
	return -1
}

// normal returns the side a section presents balances on.
func (s SectionSpec) normal() accounting.EntryType {
	if s.Normal != "" {
		return s.Normal
	}
	return s.Types[0].NormalSide()
}

// Layouts indexes layouts by kind.
type Layouts map[Kind]Layout

// DefaultLayouts returns the built-in balance sheet, income statement and
// trial balance layouts.
func DefaultLayouts() Layouts {
	return Layouts{
		KindBalanceSheet: {
			Kind:       KindBalanceSheet,
			Title:      "Balance Sheet",
			Cumulative: true,
			Sections: []SectionSpec{
				{Key: "assets", Label: "Assets", Types: []accounting.AccountType{accounting.AccountTypeAsset}, Normal: accounting.EntryTypeDebit},
				{Key: "liabilities", Label: "Liabilities", Types: []accounting.AccountType{accounting.AccountTypeLiability}, Normal: accounting.EntryTypeCredit},
				{Key: "equity", Label: "Equity", Types: []accounting.AccountType{accounting.AccountTypeEquity, accounting.AccountTypeRevenue, accounting.AccountTypeExpense}, Normal: accounting.EntryTypeCredit},
			},
			Totals: []TotalSpec{
				{Key: "liabilities_equity", Label: "Total Liabilities & Equity", Plus: []string{"liabilities", "equity"}},
			},
			Identity: &IdentitySpec{Left: []string{"assets"}, Right: []string{"liabilities", "equity"}},
		},
		KindIncomeStatement: {
			Kind:  KindIncomeStatement,
			Title: "Income Statement",
			Sections: []SectionSpec{
				{Key: "revenue", Label: "Revenue", Types: []accounting.AccountType{accounting.AccountTypeRevenue}, Normal: accounting.EntryTypeCredit},
				{Key: "expenses", Label: "Expenses", Types: []accounting.AccountType{accounting.AccountTypeExpense}, Normal: accounting.EntryTypeDebit},
			},
			Totals: []TotalSpec{
				{Key: "net_income", Label: "Net Income", Plus: []string{"revenue"}, Minus: []string{"expenses"}},
			},
		},
		KindTrialBalance: {
			Kind:  KindTrialBalance,
			Title: "Trial Balance",
			Sections: []SectionSpec{
				{Key: "assets", Label: "Assets", Types: []accounting.AccountType{accounting.AccountTypeAsset}, Normal: accounting.EntryTypeDebit},
				{Key: "liabilities", Label: "Liabilities", Types: []accounting.AccountType{accounting.AccountTypeLiability}, Normal: accounting.EntryTypeCredit},
				{Key: "equity", Label: "Equity", Types: []accounting.AccountType{accounting.AccountTypeEquity}, Normal: accounting.EntryTypeCredit},
				{Key: "revenue", Label: "Revenue", Types: []accounting.AccountType{accounting.AccountTypeRevenue}, Normal: accounting.EntryTypeCredit},
				{Key: "expenses", Label: "Expenses", Types: []accounting.AccountType{accounting.AccountTypeExpense}, Normal: accounting.EntryTypeDebit},
			},
			Identity: &IdentitySpec{Left: []string{"assets", "expenses"}, Right: []string{"liabilities", "equity", "revenue"}},
		},
	}
}

// Get returns the layout for kind.
func (ls Layouts) Get(kind Kind) (Layout, error) {
	layout, ok := ls[kind]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return layout, nil
}

// Merge returns a copy of ls with overrides replacing layouts of the same kind.
func (ls Layouts) Merge(overrides Layouts) Layouts {
	out := make(Layouts, len(ls)+len(overrides))
	for kind, layout := range ls {
		out[kind] = layout
	}
	for kind, layout := range overrides {
		out[kind] = layout
	}
	return out
}

type layoutFile struct {
	Layouts []Layout `yaml:"layouts"`
}

// LoadLayouts decodes a YAML document of the form
//
//	layouts:
//	  - kind: balance_sheet
//	    title: Statement of Financial Position
//	    sections: [...]
//
// and validates every layout.
func LoadLayouts(r io.Reader) (Layouts, error) {
	var doc layoutFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Layouts{}, nil
		}
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidLayout, err)
	}
	out := make(Layouts, len(doc.Layouts))
	for _, layout := range doc.Layouts {
		kind, err := ParseKind(string(layout.Kind))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
		}
		layout.Kind = kind
		if err := layout.Validate(); err != nil {
			return nil, err
		}
		if _, dup := out[kind]; dup {
			return nil, fmt.Errorf("%w: %s defined twice", ErrInvalidLayout, kind)
		}
		out[kind] = layout
	}
	return out, nil
}

// LoadLayoutFile reads overrides from path and merges them onto the defaults.
// An empty path returns the defaults.
func LoadLayoutFile(path string) (Layouts, error) {
	defaults := DefaultLayouts()
	if strings.TrimSpace(path) == "" {
		return defaults, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open layout file: %w", err)
	}
	defer f.Close()
	overrides, err := LoadLayouts(f)
	if err != nil {
		return nil, err
	}
	return defaults.Merge(overrides), nil
}
