// Package quotes fetches index quotes from the Alpha Vantage GLOBAL_QUOTE endpoint and
// keeps the latest value per index in the quote table.
package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/JakeFAU/market-update/internal/httpx"
	"github.com/JakeFAU/market-update/internal/market"
)

// DefaultBaseURL is the Alpha Vantage query endpoint.
const DefaultBaseURL = "https://www.alphavantage.co/query"

// ErrQuoteMissing is returned when the reply carries no "Global Quote" data, which is
// how the API signals unknown symbols and rate limiting.
var ErrQuoteMissing = errors.New("global quote missing from response")

// Client calls the quote API.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

type globalQuoteResponse struct {
	GlobalQuote  map[string]string `json:"Global Quote"`
	Note         string            `json:"Note"`
	Information  string            `json:"Information"`
	ErrorMessage string            `json:"Error Message"`
}

// NewClient builds a Client. An empty baseURL selects DefaultBaseURL.
func NewClient(client *httpx.Client, baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: client, baseURL: baseURL, apiKey: apiKey}
}

// GlobalQuote fetches the latest price and change percent for symbol. Fields absent
// from an otherwise valid reply come back as market.NotAvailable.
func (c *Client) GlobalQuote(ctx context.Context, symbol string) (market.Quote, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return market.Quote{}, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return market.Quote{}, fmt.Errorf("build quote request: %w", err)
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return market.Quote{}, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	body, err := httpx.ReadBody(resp)
	if err != nil {
		return market.Quote{}, err
	}
	if err := httpx.CheckStatus(resp, body); err != nil {
		return market.Quote{}, fmt.Errorf("fetch %s: %w", symbol, err)
	}

	var out globalQuoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return market.Quote{}, fmt.Errorf("decode quote for %s: %w", symbol, err)
	}
	if len(out.GlobalQuote) == 0 {
		if msg := firstNonEmpty(out.ErrorMessage, out.Note, out.Information); msg != "" {
			return market.Quote{}, fmt.Errorf("%s: %w: %s", symbol, ErrQuoteMissing, msg)
		}
		return market.Quote{}, fmt.Errorf("%s: %w", symbol, ErrQuoteMissing)
	}

	return market.Quote{
		Price:         fieldOrNA(out.GlobalQuote, "05. price"),
		ChangePercent: fieldOrNA(out.GlobalQuote, "10. change percent"),
	}, nil
}

func fieldOrNA(fields map[string]string, key string) string {
	if v, ok := fields[key]; ok {
		return v
	}
	return market.NotAvailable
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
