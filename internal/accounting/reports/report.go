package reports

import (
	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/money"
)

// Report is a built statement. It is never mutated after Build returns.
type Report struct {
	Kind     Kind        `json:"kind"`
	Title    string      `json:"title"`
	Currency money.Code  `json:"currency"`
	Range    DateRange   `json:"range"`
	Period   string      `json:"period"`
	Entities []int64     `json:"entities,omitempty"`
	Sections []Section   `json:"sections"`
	Totals   []Total     `json:"totals,omitempty"`
	Debits   money.Money `json:"debits"`
	Credits  money.Money `json:"credits"`
}

// Section groups top-level accounts of the mapped classifications.
type Section struct {
	Key      string               `json:"key"`
	Label    string               `json:"label"`
	Normal   accounting.EntryType `json:"normal"`
	Accounts []AccountRow         `json:"accounts"`
	Total    money.Money          `json:"total"`
}

// AccountRow is one account with its rolled-up balance. Balance is shown on
// the account's own normal side and equals Direct plus the children's
// balances converted to that side. Debits and Credits cover the subtree.
type AccountRow struct {
	AccountID int64                  `json:"account_id"`
	Code      string                 `json:"code"`
	Name      string                 `json:"name"`
	Type      accounting.AccountType `json:"type"`
	Depth     int                    `json:"depth"`
	Debits    money.Money            `json:"debits"`
	Credits   money.Money            `json:"credits"`
	Direct    money.Money            `json:"direct"`
	Balance   money.Money            `json:"balance"`
	Children  []AccountRow           `json:"children,omitempty"`
}

// Total is a derived figure such as net income.
type Total struct {
	Key    string      `json:"key"`
	Label  string      `json:"label"`
	Amount money.Money `json:"amount"`
}

// Section returns the section with key.
func (r Report) Section(key string) (Section, bool) {
	for _, s := range r.Sections {
		if s.Key == key {
			return s, true
		}
	}
	return Section{}, false
}

// Total returns the derived total with key.
func (r Report) Total(key string) (Total, bool) {
	for _, t := range r.Totals {
		if t.Key == key {
			return t, true
		}
	}
	return Total{}, false
}

// Find returns the row for an account code anywhere in the report.
func (r Report) Find(code string) (AccountRow, bool) {
	for _, s := range r.Sections {
		if row, ok := findRow(s.Accounts, code); ok {
			return row, true
		}
	}
	return AccountRow{}, false
}

// BalanceOn returns the row balance converted to side.
func (a AccountRow) BalanceOn(side accounting.EntryType) money.Money {
	if a.Type.NormalSide() == side {
		return a.Balance
	}
	return a.Balance.Negate()
}

// Walk visits the row and its descendants depth first.
func (a AccountRow) Walk(visit func(AccountRow) bool) bool {
	if !visit(a) {
		return false
	}
	for _, child := range a.Children {
		if !child.Walk(visit) {
			return false
		}
	}
	return true
}

func findRow(rows []AccountRow, code string) (AccountRow, bool) {
	for _, row := range rows {
		var found AccountRow
		ok := false
		row.Walk(func(candidate AccountRow) bool {
			if candidate.Code == code {
				found, ok = candidate, true
				return false
			}
			return true
		})
		if ok {
			return found, true
		}
	}
	return AccountRow{}, false
}
