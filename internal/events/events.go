// Package events defines the domain events the ledger publishes.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/ledger/internal/money"
)

// TypeIntegrityFailed names IntegrityFailed on the wire.
const TypeIntegrityFailed = "ledger.integrity_failed"

// Event is implemented by every published event.
type Event interface {
	EventID() uuid.UUID
	EventType() string
	// Key groups related events onto one partition.
	Key() string
}

// IntegrityFailed reports a ledger window whose debits and credits diverge
// or which holds transactions that do not balance on their own.
type IntegrityFailed struct {
	ID                     uuid.UUID   `json:"id"`
	Type                   string      `json:"type"`
	OccurredAt             time.Time   `json:"occurred_at"`
	From                   string      `json:"from"`
	To                     string      `json:"to"`
	Debits                 money.Money `json:"debits"`
	Credits                money.Money `json:"credits"`
	UnbalancedTransactions []uuid.UUID `json:"unbalanced_transactions,omitempty"`
}

// NewIntegrityFailed stamps a new event.
func NewIntegrityFailed(from, to time.Time, debits, credits money.Money, unbalanced []uuid.UUID, now time.Time) IntegrityFailed {
	return IntegrityFailed{
		ID:                     uuid.New(),
		Type:                   TypeIntegrityFailed,
		OccurredAt:             now.UTC(),
		From:                   from.Format(time.DateOnly),
		To:                     to.Format(time.DateOnly),
		Debits:                 debits,
		Credits:                credits,
		UnbalancedTransactions: unbalanced,
	}
}

func (e IntegrityFailed) EventID() uuid.UUID { return e.ID }

func (e IntegrityFailed) EventType() string { return TypeIntegrityFailed }

func (e IntegrityFailed) Key() string { return e.From + ".." + e.To }

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop drops every event. It stands in when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

func (Noop) Close() error { return nil }
