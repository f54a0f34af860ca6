package statements

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/platform/db"
)

// transactionNamespace derives stable transaction UUIDs from journal ids.
var transactionNamespace = uuid.MustParse("5b1f3c4e-8d0a-4a53-9c8e-2f6d1e7a9b40")

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads posted journals from Postgres.
type Repository struct {
	pool *pgxpool.Pool
	q    querier
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		return &Repository{}
	}
	return &Repository{pool: pool, q: pool}
}

// Snapshot serves every read made by fn from one read-only transaction.
func (r *Repository) Snapshot(ctx context.Context, fn func(Source) error) error {
	if r == nil || r.pool == nil {
		return errors.New("statements repo not initialised")
	}
	return db.ReadOnly(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{q: tx})
	})
}

// Accounts lists every account ordered by code. Inactive accounts stay in
// the chart so historic postings and child accounts still resolve.
func (r *Repository) Accounts(ctx context.Context) ([]accounting.Account, error) {
	if r == nil || r.q == nil {
		return nil, errors.New("statements repo not initialised")
	}
	rows, err := r.q.Query(ctx, `SELECT id, code, name, type, parent_id FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []accounting.Account
	for rows.Next() {
		var (
			a       accounting.Account
			rawType string
		)
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &rawType, &a.ParentID); err != nil {
			return nil, err
		}
		if a.Type, err = accounting.ParseAccountType(rawType); err != nil {
			return nil, fmt.Errorf("account %s: %w", a.Code, err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Entries lists posted journal lines in the filter window. A line carries
// either a debit or a credit amount; a line with both yields two entries.
func (r *Repository) Entries(ctx context.Context, filter EntryFilter) ([]accounting.JournalEntry, error) {
	if r == nil || r.q == nil {
		return nil, errors.New("statements repo not initialised")
	}
	const query = `
SELECT je.id, jl.account_id, jl.debit::text, jl.credit::text, je.currency, je.date, jl.dim_company_id
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.je_id AND je.status = 'POSTED'
WHERE ($1::date IS NULL OR je.date >= $1::date)
  AND je.date <= $2::date
  AND (cardinality($3::bigint[]) = 0 OR jl.dim_company_id = ANY($3::bigint[]))
ORDER BY je.date, je.id, jl.id`
	var from *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	entities := filter.Entities
	if entities == nil {
		entities = []int64{}
	}
	rows, err := r.q.Query(ctx, query, from, filter.To, entities)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []accounting.JournalEntry
	for rows.Next() {
		var (
			journalID     int64
			accountID     int64
			debit, credit string
			currency      string
			date          time.Time
			entityID      *int64
		)
		if err := rows.Scan(&journalID, &accountID, &debit, &credit, &currency, &date, &entityID); err != nil {
			return nil, err
		}
		code, err := money.ParseCode(currency)
		if err != nil {
			return nil, fmt.Errorf("journal %d: %w", journalID, err)
		}
		txID := uuid.NewSHA1(transactionNamespace, []byte(strconv.FormatInt(journalID, 10)))
		for _, side := range []struct {
			typ accounting.EntryType
			raw string
		}{{accounting.EntryTypeDebit, debit}, {accounting.EntryTypeCredit, credit}} {
			amount, err := decimal.NewFromString(side.raw)
			if err != nil {
				return nil, fmt.Errorf("journal %d: %w: %v", journalID, money.ErrInvalidAmount, err)
			}
			if amount.IsZero() {
				continue
			}
			value, err := money.FromDecimal(amount, code)
			if err != nil {
				return nil, fmt.Errorf("journal %d: %w", journalID, err)
			}
			entry, err := accounting.NewJournalEntry(txID, accountID, side.typ, value.Amount(), code, date)
			if err != nil {
				return nil, fmt.Errorf("journal %d: %w", journalID, err)
			}
			if entityID != nil {
				entry = entry.WithEntity(*entityID)
			}
			entries = append(entries, entry)
		}
	}
	return entries, rows.Err()
}
