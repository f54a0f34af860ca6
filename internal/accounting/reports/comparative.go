package reports

import (
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/money"
)

// ErrNoColumns indicates a comparative build with nothing to compare.
var ErrNoColumns = errors.New("reports: comparative build needs at least one column")

// Comparative holds one report per column of a presentation axis.
type Comparative struct {
	Kind     Kind       `json:"kind"`
	Title    string     `json:"title"`
	Currency money.Code `json:"currency"`
	Axis     string     `json:"axis"`
	Labels   []string   `json:"labels"`
	Reports  []Report   `json:"reports"`
}

// BuildComparative builds kind once per range. Builds run concurrently and
// the first failure aborts the whole comparison.
func (b *Builder) BuildComparative(ledger accounting.Ledger, kind Kind, ranges []DateRange, opts ...BuildOption) (Comparative, error) {
	if len(ranges) == 0 {
		return Comparative{}, ErrNoColumns
	}
	labels := make([]string, len(ranges))
	for i, rng := range ranges {
		if err := rng.Validate(); err != nil {
			return Comparative{}, fmt.Errorf("period %d: %w", i+1, err)
		}
		labels[i] = rng.Label()
	}
	reports, err := b.buildColumns(len(ranges), func(i int) (Report, error) {
		return b.Build(ledger, kind, ranges[i], opts...)
	})
	if err != nil {
		return Comparative{}, err
	}
	return b.comparative(kind, "period", ledger.Currency(), labels, reports)
}

// BuildByEntity builds kind once per entity over the same range.
func (b *Builder) BuildByEntity(ledger accounting.Ledger, kind Kind, rng DateRange, entities []int64) (Comparative, error) {
	if len(entities) == 0 {
		return Comparative{}, ErrNoColumns
	}
	if err := rng.Validate(); err != nil {
		return Comparative{}, err
	}
	labels := make([]string, len(entities))
	for i, id := range entities {
		labels[i] = "Entity " + strconv.FormatInt(id, 10)
	}
	reports, err := b.buildColumns(len(entities), func(i int) (Report, error) {
		return b.Build(ledger, kind, rng, WithEntities(entities[i]))
	})
	if err != nil {
		return Comparative{}, err
	}
	return b.comparative(kind, "entity", ledger.Currency(), labels, reports)
}

func (b *Builder) buildColumns(n int, build func(int) (Report, error)) ([]Report, error) {
	reports := make([]Report, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			report, err := build(i)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (b *Builder) comparative(kind Kind, axis string, currency money.Code, labels []string, reports []Report) (Comparative, error) {
	layout, err := b.layouts.Get(kind)
	if err != nil {
		return Comparative{}, err
	}
	return Comparative{
		Kind:     kind,
		Title:    layout.Title,
		Currency: currency,
		Axis:     axis,
		Labels:   labels,
		Reports:  reports,
	}, nil
}
