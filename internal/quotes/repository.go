package quotes

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/market-update/internal/market"
	"github.com/JakeFAU/market-update/internal/tablestore"
)

// Repository persists the latest quote per index, one row per index display name.
type Repository struct {
	store tablestore.Store
	table string
}

// NewRepository binds a Repository to the quote table.
func NewRepository(store tablestore.Store, table string) *Repository {
	return &Repository{store: store, table: table}
}

// Prepare ensures the quote table exists.
func (r *Repository) Prepare(ctx context.Context) error {
	if err := r.store.EnsureTable(ctx, r.table); err != nil {
		return fmt.Errorf("ensure quote table %s: %w", r.table, err)
	}
	return nil
}

// Save overwrites the stored quote for q.Index.
func (r *Repository) Save(ctx context.Context, q market.IndexQuote) error {
	err := r.store.Upsert(ctx, r.table, tablestore.Entity{
		PartitionKey: market.QuotePartition,
		RowKey:       q.Index.Name,
		Properties: map[string]string{
			market.PropLatestValue:      q.LatestValue,
			market.PropPercentageChange: q.PercentageChange,
			market.PropTimestamp:        q.Timestamp.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("save quote %s: %w", q.Index.Name, err)
	}
	return nil
}

// Load reads the stored quote for idx. A missing row wraps tablestore.ErrNotFound.
func (r *Repository) Load(ctx context.Context, idx market.Index) (market.IndexQuote, error) {
	row, err := r.store.Get(ctx, r.table, market.QuotePartition, idx.Name)
	if err != nil {
		return market.IndexQuote{}, fmt.Errorf("load quote %s: %w", idx.Name, err)
	}
	out := market.IndexQuote{
		Index:            idx,
		LatestValue:      row.Property(market.PropLatestValue),
		PercentageChange: row.Property(market.PropPercentageChange),
	}
	// Azure returns its own system Timestamp with 7 fractional digits; RFC3339 parsing accepts both forms.
	if ts, err := time.Parse(time.RFC3339, row.Property(market.PropTimestamp)); err == nil {
		out.Timestamp = ts
	}
	return out, nil
}
