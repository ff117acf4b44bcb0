// Package market holds the domain types shared by the signup service, the quote
// fetcher and the digest mailer.
package market

import (
	"context"
	"io"
	"time"
)

const (
	// QuotePartition is the partition every index quote lives under.
	QuotePartition = "StockData"
	// NotAvailable is stored when the quote API omits a field.
	NotAvailable = "N/A"
)

// Quote property names as persisted in the quote table.
const (
	PropLatestValue      = "LatestValue"
	PropPercentageChange = "PercentageChange"
	PropTimestamp        = "Timestamp"
	PropSubscribedAt     = "SubscribedAt"
)

// Index maps a display name (used as the row key) to the ticker queried upstream.
type Index struct {
	Name   string
	Symbol string
}

// Quote is the raw price data returned by the quote API. Values are kept as the
// API's strings so they reach subscribers verbatim.
type Quote struct {
	Price         string
	ChangePercent string
}

// IndexQuote is the persisted latest quote for one index.
type IndexQuote struct {
	Index            Index
	LatestValue      string
	PercentageChange string
	Timestamp        time.Time
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Publisher sends domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives rendered artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
