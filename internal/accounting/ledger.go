package accounting

import (
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/odyssey-erp/ledger/internal/money"
)

// Ledger is an immutable collection of journal entries summed in a single
// reporting currency. Entries in any other currency must be converted before
// they reach the ledger.
type Ledger struct {
	currency money.Code
	entries  []JournalEntry
}

// NewLedger copies entries into a ledger reporting in currency.
func NewLedger(currency money.Code, entries []JournalEntry) Ledger {
	return Ledger{currency: currency, entries: append([]JournalEntry(nil), entries...)}
}

// Currency is the reporting currency.
func (l Ledger) Currency() money.Code {
	return l.currency
}

// Len returns the number of entries.
func (l Ledger) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the entries.
func (l Ledger) Entries() []JournalEntry {
	return append([]JournalEntry(nil), l.entries...)
}

// All iterates the entries in their original order.
func (l Ledger) All() iter.Seq[JournalEntry] {
	return func(yield func(JournalEntry) bool) {
		for _, e := range l.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Filter returns the entries for which keep returns true.
func (l Ledger) Filter(keep func(JournalEntry) bool) Ledger {
	out := make([]JournalEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return Ledger{currency: l.currency, entries: out}
}

// ForAccount narrows the ledger to one account.
func (l Ledger) ForAccount(accountID int64) Ledger {
	return l.Filter(func(e JournalEntry) bool { return e.AccountID == accountID })
}

// SumByType totals the entries of one direction in currency. Any matched
// entry in another currency fails with money.ErrCurrencyMismatch.
func SumByType(entries []JournalEntry, typ EntryType, currency money.Code) (money.Money, error) {
	if !typ.Valid() {
		return money.Money{}, fmt.Errorf("%w: %q", ErrInvalidEntryType, string(typ))
	}
	total := money.Zero(currency)
	for _, e := range entries {
		if e.Type != typ {
			continue
		}
		if e.Currency != currency {
			return money.Money{}, fmt.Errorf("%w: entry for account %d in %s, reporting in %s", money.ErrCurrencyMismatch, e.AccountID, e.Currency, currency)
		}
		if e.Amount < 0 {
			return money.Money{}, fmt.Errorf("%w: entry amount %d is negative", money.ErrInvalidAmount, e.Amount)
		}
		amt, err := e.Money()
		if err != nil {
			return money.Money{}, err
		}
		if total, err = total.Add(amt); err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

// SumByType totals one direction in the ledger currency.
func (l Ledger) SumByType(typ EntryType) (money.Money, error) {
	return SumByType(l.entries, typ, l.currency)
}

// SumDebits totals debit entries.
func (l Ledger) SumDebits() (money.Money, error) {
	return l.SumByType(EntryTypeDebit)
}

// SumCredits totals credit entries.
func (l Ledger) SumCredits() (money.Money, error) {
	return l.SumByType(EntryTypeCredit)
}

// Totals returns debits and credits together.
func (l Ledger) Totals() (debits, credits money.Money, err error) {
	if debits, err = l.SumDebits(); err != nil {
		return money.Money{}, money.Money{}, err
	}
	if credits, err = l.SumCredits(); err != nil {
		return money.Money{}, money.Money{}, err
	}
	return debits, credits, nil
}

// Net returns debits minus credits.
func (l Ledger) Net() (money.Money, error) {
	debits, credits, err := l.Totals()
	if err != nil {
		return money.Money{}, err
	}
	return debits.Subtract(credits)
}

// BalanceOn returns the net amount as seen from side: debits minus credits
// for debit-normal accounts, credits minus debits otherwise.
func (l Ledger) BalanceOn(side EntryType) (money.Money, error) {
	net, err := l.Net()
	if err != nil {
		return money.Money{}, err
	}
	if side == EntryTypeCredit {
		return net.Negate(), nil
	}
	return net, nil
}

// IsBalanced reports whether total debits equal total credits. An empty
// ledger is balanced.
func (l Ledger) IsBalanced() (bool, error) {
	debits, credits, err := l.Totals()
	if err != nil {
		return false, err
	}
	return debits.Equal(credits), nil
}

// CheckBalanced returns an *InconsistencyError naming the unbalanced
// transactions when debits and credits differ.
func (l Ledger) CheckBalanced(check string) error {
	debits, credits, err := l.Totals()
	if err != nil {
		return err
	}
	if debits.Equal(credits) {
		return nil
	}
	unbalanced, err := l.UnbalancedTransactions()
	if err != nil {
		return err
	}
	return &InconsistencyError{Check: check, Left: debits, Right: credits, Transactions: unbalanced}
}

// TransactionEntries groups the entries of one transaction.
type TransactionEntries struct {
	TransactionID uuid.UUID
	Entries       Ledger
}

// ByTransaction partitions entries by transaction, ordered by first appearance.
func (l Ledger) ByTransaction() []TransactionEntries {
	index := make(map[uuid.UUID]int)
	groups := make([]TransactionEntries, 0)
	for _, e := range l.entries {
		idx, ok := index[e.TransactionID]
		if !ok {
			idx = len(groups)
			index[e.TransactionID] = idx
			groups = append(groups, TransactionEntries{
				TransactionID: e.TransactionID,
				Entries:       Ledger{currency: l.currency},
			})
		}
		groups[idx].Entries.entries = append(groups[idx].Entries.entries, e)
	}
	return groups
}

// UnbalancedTransactions lists transactions whose own entries do not balance.
func (l Ledger) UnbalancedTransactions() ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, group := range l.ByTransaction() {
		ok, err := group.Entries.IsBalanced()
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", group.TransactionID, err)
		}
		if !ok {
			out = append(out, group.TransactionID)
		}
	}
	return out, nil
}
