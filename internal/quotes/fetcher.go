package quotes

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-update/internal/market"
	"github.com/JakeFAU/market-update/internal/metrics"
)

// EventQuotesUpdated is published after a run that stored at least one index.
const EventQuotesUpdated = "quotes.updated"

// Source returns the current quote for a ticker.
type Source interface {
	GlobalQuote(ctx context.Context, symbol string) (market.Quote, error)
}

// RunReport summarises one fetch run.
type RunReport struct {
	Stored  []string
	Skipped []string
}

// UpdatedEvent is the payload of EventQuotesUpdated.
type UpdatedEvent struct {
	Indices   []string  `json:"indices"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fetcher refreshes every configured index once per Run.
type Fetcher struct {
	source    Source
	repo      *Repository
	indices   []market.Index
	clock     market.Clock
	publisher market.Publisher
	logger    *zap.Logger
}

// NewFetcher wires a Fetcher. publisher may be nil.
func NewFetcher(source Source, repo *Repository, indices []market.Index, clock market.Clock, publisher market.Publisher, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		source:    source,
		repo:      repo,
		indices:   indices,
		clock:     clock,
		publisher: publisher,
		logger:    logger.Named("quotes"),
	}
}

// Run fetches and stores each index. Only a failure to prepare the quote table fails
// the run; a per-index failure is logged and that index is skipped.
func (f *Fetcher) Run(ctx context.Context) (RunReport, error) {
	var report RunReport
	if err := f.repo.Prepare(ctx); err != nil {
		return report, err
	}

	for _, idx := range f.indices {
		log := f.logger.With(zap.String("index", idx.Name), zap.String("symbol", idx.Symbol))

		quote, err := f.source.GlobalQuote(ctx, idx.Symbol)
		if err != nil {
			status := "error"
			if errors.Is(err, ErrQuoteMissing) {
				status = "missing"
			}
			log.Warn("failed to fetch quote", zap.Error(err))
			metrics.ObserveQuoteFetch(idx.Name, status)
			report.Skipped = append(report.Skipped, idx.Name)
			continue
		}

		stored := market.IndexQuote{
			Index:            idx,
			LatestValue:      quote.Price,
			PercentageChange: quote.ChangePercent,
			Timestamp:        f.clock.Now(),
		}
		if err := f.repo.Save(ctx, stored); err != nil {
			log.Error("failed to store quote", zap.Error(err))
			metrics.ObserveQuoteFetch(idx.Name, "error")
			report.Skipped = append(report.Skipped, idx.Name)
			continue
		}

		log.Info("stored quote",
			zap.String("latest_value", stored.LatestValue),
			zap.String("percentage_change", stored.PercentageChange))
		metrics.ObserveQuoteFetch(idx.Name, "stored")
		report.Stored = append(report.Stored, idx.Name)
	}

	f.publishUpdated(ctx, report)
	return report, nil
}

func (f *Fetcher) publishUpdated(ctx context.Context, report RunReport) {
	if f.publisher == nil || len(report.Stored) == 0 {
		return
	}
	evt := UpdatedEvent{Indices: report.Stored, FetchedAt: f.clock.Now().UTC()}
	if _, err := f.publisher.Publish(ctx, EventQuotesUpdated, evt); err != nil {
		f.logger.Warn("publish quotes event failed", zap.Error(err))
	}
}
