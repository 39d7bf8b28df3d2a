// Package marketdata fetches RSI readings for tickers from an external
// screener in bounded concurrent batches.
package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one instrument snapshot returned by a provider.
type Quote struct {
	Symbol   string
	RSI      decimal.Decimal
	Close    decimal.Decimal
	DataDate string // YYYY-MM-DD trading day of the reading
}

// Provider fetches quotes for a batch of symbols. Missing symbols are simply
// absent from the returned map; a non-nil error means the whole batch failed.
type Provider interface {
	Name() string
	FetchBatch(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// SlugResolver maps a ticker to the screener's EXCHANGE:SYMBOL slug.
type SlugResolver interface {
	Lookup(ticker string) (slug string, ok bool)
}

// ScreenerProvider fetches RSI(14) and close from a TradingView-style
// scanner endpoint.
type ScreenerProvider struct {
	url      string
	client   *http.Client
	resolver SlugResolver
}

// NewScreenerProvider creates a provider against the given scan URL.
func NewScreenerProvider(url string, timeout time.Duration, resolver SlugResolver) *ScreenerProvider {
	return &ScreenerProvider{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		resolver: resolver,
	}
}

func (p *ScreenerProvider) Name() string {
	return "tradingview-screener"
}

type scanRequest struct {
	Symbols scanSymbols `json:"symbols"`
	Columns []string    `json:"columns"`
}

type scanSymbols struct {
	Tickers []string `json:"tickers"`
}

type scanResponse struct {
	Data []struct {
		Symbol string        `json:"s"`
		Values []interface{} `json:"d"`
	} `json:"data"`
}

// FetchBatch posts one scan request for the batch. Tickers without a
// resolvable slug or with incomplete data are omitted from the result rather
// than failing the batch.
func (p *ScreenerProvider) FetchBatch(ctx context.Context, symbols []string) (map[string]Quote, error) {
	slugs := make([]string, 0, len(symbols))
	bySlug := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		slug, ok := p.resolver.Lookup(sym)
		if !ok || slug == "" {
			log.Printf("No screener slug for %s, skipping", sym)
			continue
		}
		slugs = append(slugs, slug)
		bySlug[slug] = sym
	}
	if len(slugs) == 0 {
		return map[string]Quote{}, nil
	}

	payload := scanRequest{
		Symbols: scanSymbols{Tickers: slugs},
		Columns: []string{"RSI", "close"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode scan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scan request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scan returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode scan response: %w", err)
	}

	dataDate := time.Now().UTC().Format("2006-01-02")
	quotes := make(map[string]Quote, len(parsed.Data))
	for _, row := range parsed.Data {
		sym, ok := bySlug[row.Symbol]
		if !ok {
			continue
		}
		rsi, ok := toDecimal(row.Values, 0)
		if !ok {
			log.Printf("Screener returned no RSI for %s", sym)
			continue
		}
		closePrice, _ := toDecimal(row.Values, 1)
		quotes[sym] = Quote{
			Symbol:   sym,
			RSI:      rsi,
			Close:    closePrice,
			DataDate: dataDate,
		}
	}
	return quotes, nil
}

func toDecimal(values []interface{}, idx int) (decimal.Decimal, bool) {
	if idx >= len(values) {
		return decimal.Zero, false
	}
	f, ok := values[idx].(float64)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}
