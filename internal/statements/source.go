package statements

import (
	"context"
	"time"

	"github.com/odyssey-erp/ledger/internal/accounting"
)

// EntryFilter bounds an entry query. A zero From means no lower bound.
type EntryFilter struct {
	From     time.Time
	To       time.Time
	Entities []int64
}

// Source supplies read-only ledger data. Implementations never write.
type Source interface {
	Accounts(ctx context.Context) ([]accounting.Account, error)
	Entries(ctx context.Context, filter EntryFilter) ([]accounting.JournalEntry, error)
}

// Snapshotter is implemented by sources that can serve several reads from
// one consistent view of the ledger.
type Snapshotter interface {
	Snapshot(ctx context.Context, fn func(Source) error) error
}

// withSnapshot runs fn against one consistent view of src when supported.
func withSnapshot(ctx context.Context, src Source, fn func(Source) error) error {
	if s, ok := src.(Snapshotter); ok {
		return s.Snapshot(ctx, fn)
	}
	return fn(src)
}
