package accounting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/ledger/internal/money"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// AccountTypes lists every classification in statement order.
var AccountTypes = []AccountType{
	AccountTypeAsset,
	AccountTypeLiability,
	AccountTypeEquity,
	AccountTypeRevenue,
	AccountTypeExpense,
}

// ParseAccountType accepts the canonical names plus the INCOME/COGS aliases
// used by some charts of accounts.
func ParseAccountType(raw string) (AccountType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ASSET":
		return AccountTypeAsset, nil
	case "LIABILITY":
		return AccountTypeLiability, nil
	case "EQUITY":
		return AccountTypeEquity, nil
	case "REVENUE", "INCOME":
		return AccountTypeRevenue, nil
	case "EXPENSE", "COGS":
		return AccountTypeExpense, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAccountType, raw)
}

// Valid reports whether t is one of the five classifications.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalSide returns the side on which the account's balance increases.
// Assets and expenses are debit-normal; everything else is credit-normal.
func (t AccountType) NormalSide() EntryType {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return EntryTypeDebit
	default:
		return EntryTypeCredit
	}
}

// EntryType is the direction of a journal entry.
type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// Valid reports whether e is Debit or Credit.
func (e EntryType) Valid() bool {
	return e == EntryTypeDebit || e == EntryTypeCredit
}

// Opposite returns the other side.
func (e EntryType) Opposite() EntryType {
	if e == EntryTypeDebit {
		return EntryTypeCredit
	}
	return EntryTypeDebit
}

// Account models a chart of accounts node.
type Account struct {
	ID       int64
	Code     string
	Name     string
	Type     AccountType
	ParentID *int64
}

// JournalEntry is one posted debit or credit line of a transaction.
type JournalEntry struct {
	TransactionID uuid.UUID
	AccountID     int64
	Type          EntryType
	Amount        int64
	Currency      money.Code
	PostingDate   time.Time
	EntityID      *int64
}

var (
	// ErrInvalidEntryType indicates an entry that is neither debit nor credit.
	ErrInvalidEntryType = errors.New("accounting: entry type must be DEBIT or CREDIT")
	// ErrInvalidAccountType indicates an unknown account classification.
	ErrInvalidAccountType = errors.New("accounting: invalid account type")
	// ErrUnknownAccount indicates an entry referencing an account missing from the chart.
	ErrUnknownAccount = errors.New("accounting: unknown account")
	// ErrHierarchyCycle indicates the account parent chain loops.
	ErrHierarchyCycle = errors.New("accounting: account hierarchy contains a cycle")
	// ErrDuplicateAccount indicates two accounts share an id or code.
	ErrDuplicateAccount = errors.New("accounting: duplicate account")
	// ErrLedgerInconsistency indicates a balance invariant failed after aggregation.
	ErrLedgerInconsistency = errors.New("accounting: ledger inconsistency")
)

// NewJournalEntry validates and constructs an entry.
func NewJournalEntry(txID uuid.UUID, accountID int64, typ EntryType, amount int64, currency money.Code, postingDate time.Time) (JournalEntry, error) {
	entry := JournalEntry{
		TransactionID: txID,
		AccountID:     accountID,
		Type:          typ,
		Amount:        amount,
		Currency:      currency,
		PostingDate:   postingDate,
	}
	if err := entry.Validate(); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// Validate ensures the entry has a direction, a non-negative amount and a
// known currency.
func (e JournalEntry) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntryType, string(e.Type))
	}
	if e.Amount < 0 {
		return fmt.Errorf("%w: entry amount %d is negative", money.ErrInvalidAmount, e.Amount)
	}
	if _, err := money.Of(e.Amount, e.Currency); err != nil {
		return err
	}
	if e.AccountID == 0 {
		return fmt.Errorf("%w: entry missing account", ErrUnknownAccount)
	}
	return nil
}

// Money returns the entry amount as Money.
func (e JournalEntry) Money() (money.Money, error) {
	return money.Of(e.Amount, e.Currency)
}

// WithEntity returns a copy tagged with an entity (company) dimension.
func (e JournalEntry) WithEntity(entityID int64) JournalEntry {
	id := entityID
	e.EntityID = &id
	return e
}

// InconsistencyError details a failed balance identity.
type InconsistencyError struct {
	Check        string
	Left         money.Money
	Right        money.Money
	Transactions []uuid.UUID
}

func (e *InconsistencyError) Error() string {
	diff, err := e.Left.Subtract(e.Right)
	detail := ""
	if err == nil {
		detail = fmt.Sprintf(" (difference %s)", diff)
	}
	msg := fmt.Sprintf("accounting: ledger inconsistency: %s: %s != %s%s", e.Check, e.Left, e.Right, detail)
	if n := len(e.Transactions); n > 0 {
		msg += fmt.Sprintf(", %d unbalanced transaction(s)", n)
	}
	return msg
}

// Is lets errors.Is match ErrLedgerInconsistency.
func (e *InconsistencyError) Is(target error) bool {
	return target == ErrLedgerInconsistency
}
