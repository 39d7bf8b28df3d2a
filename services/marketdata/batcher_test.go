package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// fakeProvider answers batches from a fixed quote table and can be told to
// fail whole batches, optionally only on the first attempt.
type fakeProvider struct {
	mu         sync.Mutex
	quotes     map[string]Quote
	failFor    map[string]int // ticker in batch -> remaining failures
	batchCalls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) FetchBatch(ctx context.Context, symbols []string) (map[string]Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchCalls++

	for _, sym := range symbols {
		if remaining, ok := p.failFor[sym]; ok && remaining > 0 {
			p.failFor[sym] = remaining - 1
			return nil, errors.New("upstream unavailable")
		}
	}

	out := make(map[string]Quote)
	for _, sym := range symbols {
		if q, ok := p.quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}

func makeTickers(n int) []string {
	tickers := make([]string, n)
	for i := range tickers {
		tickers[i] = fmt.Sprintf("T%03d", i)
	}
	return tickers
}

func makeQuotes(tickers []string) map[string]Quote {
	quotes := make(map[string]Quote, len(tickers))
	for i, t := range tickers {
		quotes[t] = Quote{
			Symbol:   t,
			RSI:      decimal.NewFromInt(int64(i % 100)),
			Close:    decimal.NewFromInt(100),
			DataDate: "2026-08-26",
		}
	}
	return quotes
}

func TestFetchReadingsPartitionsIntoBatches(t *testing.T) {
	tickers := makeTickers(250)
	provider := &fakeProvider{quotes: makeQuotes(tickers)}
	fetcher := NewBatchFetcher(provider, 100, 4, time.Second)

	readings, summary := fetcher.FetchReadings(context.Background(), tickers)

	if summary.Batches != 3 {
		t.Fatalf("expected 3 batches for 250 tickers, got %d", summary.Batches)
	}
	if len(readings) != 250 {
		t.Fatalf("expected 250 readings, got %d", len(readings))
	}
	if summary.Succeeded != 250 || summary.Failed != 0 {
		t.Fatalf("expected 250 ok / 0 failed, got %d / %d", summary.Succeeded, summary.Failed)
	}
}

func TestFetchReadingsKeepsFailedTickers(t *testing.T) {
	tickers := makeTickers(250)
	provider := &fakeProvider{
		quotes: makeQuotes(tickers),
		// T000 sits in the first batch; fail that batch on both attempts.
		failFor: map[string]int{"T000": 2},
	}
	fetcher := NewBatchFetcher(provider, 100, 2, time.Second)

	readings, summary := fetcher.FetchReadings(context.Background(), tickers)

	if len(readings) != 250 {
		t.Fatalf("failed batch must not drop tickers: got %d readings", len(readings))
	}
	if summary.FailedBatches != 1 {
		t.Fatalf("expected 1 failed batch, got %d", summary.FailedBatches)
	}
	if summary.Failed != 100 || summary.Succeeded != 150 {
		t.Fatalf("expected 100 failed / 150 ok, got %d / %d", summary.Failed, summary.Succeeded)
	}
	r, ok := readings["T000"]
	if !ok {
		t.Fatal("T000 missing from readings")
	}
	if r.OK() {
		t.Fatal("T000 should carry a failure marker")
	}
	if r.Err == "" {
		t.Fatal("failure marker should carry the error text")
	}
}

func TestFetchReadingsRetriesFailedBatchOnce(t *testing.T) {
	tickers := makeTickers(50)
	provider := &fakeProvider{
		quotes:  makeQuotes(tickers),
		failFor: map[string]int{"T000": 1}, // first attempt fails, retry succeeds
	}
	fetcher := NewBatchFetcher(provider, 100, 1, time.Second)

	readings, summary := fetcher.FetchReadings(context.Background(), tickers)

	if summary.FailedBatches != 0 {
		t.Fatalf("retry should have recovered the batch, got %d failed batches", summary.FailedBatches)
	}
	if summary.Succeeded != 50 {
		t.Fatalf("expected 50 ok after retry, got %d", summary.Succeeded)
	}
	if !readings["T000"].OK() {
		t.Fatal("T000 should have data after retry")
	}
	if provider.batchCalls != 2 {
		t.Fatalf("expected 2 provider calls (fail + retry), got %d", provider.batchCalls)
	}
}

func TestFetchReadingsMarksMissingTickers(t *testing.T) {
	tickers := []string{"AAA", "BBB"}
	provider := &fakeProvider{quotes: makeQuotes([]string{"AAA"})}
	fetcher := NewBatchFetcher(provider, 100, 1, time.Second)

	readings, summary := fetcher.FetchReadings(context.Background(), tickers)

	if !readings["AAA"].OK() {
		t.Fatal("AAA should have data")
	}
	if readings["BBB"].OK() {
		t.Fatal("BBB was not returned by the provider and must be marked failed")
	}
	if summary.Failed != 1 {
		t.Fatalf("expected 1 failed ticker, got %d", summary.Failed)
	}
	if len(summary.FailedTickers) != 1 || summary.FailedTickers[0] != "BBB" {
		t.Fatalf("expected FailedTickers [BBB], got %v", summary.FailedTickers)
	}
}

func TestFetchReadingsDeduplicatesInput(t *testing.T) {
	provider := &fakeProvider{quotes: makeQuotes([]string{"AAA"})}
	fetcher := NewBatchFetcher(provider, 100, 1, time.Second)

	readings, summary := fetcher.FetchReadings(context.Background(), []string{"AAA", "AAA", "AAA"})

	if len(readings) != 1 {
		t.Fatalf("expected 1 reading for duplicated input, got %d", len(readings))
	}
	if summary.Succeeded != 1 {
		t.Fatalf("expected 1 ok, got %d", summary.Succeeded)
	}
}
