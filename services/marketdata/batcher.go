package marketdata

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Reading is the per-ticker outcome of a fetch cycle. Exactly one Reading
// exists for every requested ticker: either a quote or a failure marker.
type Reading struct {
	Ticker    string
	RSI       decimal.Decimal
	Close     decimal.Decimal
	DataDate  string
	FetchedAt time.Time
	Err       string
}

// OK reports whether the reading carries usable data.
func (r Reading) OK() bool {
	return r.Err == ""
}

// Summary describes one complete fetch cycle.
type Summary struct {
	Batches       int
	FailedBatches int
	Succeeded     int
	Failed        int
	FailedTickers []string
	Duration      time.Duration
}

// BatchFetcher splits a ticker list into batches and fetches them with a
// bounded worker pool. Each failed batch is retried once before its tickers
// are marked failed.
type BatchFetcher struct {
	provider    Provider
	batchSize   int
	concurrency int
	timeout     time.Duration
}

// NewBatchFetcher creates a fetcher. Non-positive sizes fall back to sane
// values.
func NewBatchFetcher(provider Provider, batchSize, concurrency int, timeout time.Duration) *BatchFetcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BatchFetcher{
		provider:    provider,
		batchSize:   batchSize,
		concurrency: concurrency,
		timeout:     timeout,
	}
}

type batchResult struct {
	symbols []string
	quotes  map[string]Quote
	err     error
}

// FetchReadings fetches every ticker and returns one Reading per input
// ticker plus a cycle summary. Results are merged only after all batches
// finish, so callers never observe a partial cycle.
func (f *BatchFetcher) FetchReadings(ctx context.Context, tickers []string) (map[string]Reading, Summary) {
	started := time.Now()

	unique := dedupeSorted(tickers)
	batches := partition(unique, f.batchSize)

	results := make([]batchResult, len(batches))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < f.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = f.fetchBatch(ctx, batches[idx])
			}
		}()
	}
	for idx := range batches {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	readings := make(map[string]Reading, len(unique))
	summary := Summary{Batches: len(batches)}
	fetchedAt := time.Now()

	for _, res := range results {
		if res.err != nil {
			summary.FailedBatches++
			for _, sym := range res.symbols {
				readings[sym] = Reading{Ticker: sym, FetchedAt: fetchedAt, Err: res.err.Error()}
			}
			continue
		}
		for _, sym := range res.symbols {
			quote, ok := res.quotes[sym]
			if !ok {
				readings[sym] = Reading{Ticker: sym, FetchedAt: fetchedAt, Err: "no data returned"}
				continue
			}
			readings[sym] = Reading{
				Ticker:    sym,
				RSI:       quote.RSI,
				Close:     quote.Close,
				DataDate:  quote.DataDate,
				FetchedAt: fetchedAt,
			}
		}
	}

	for _, sym := range unique {
		r := readings[sym]
		if r.OK() {
			summary.Succeeded++
		} else {
			summary.Failed++
			summary.FailedTickers = append(summary.FailedTickers, sym)
		}
	}
	sort.Strings(summary.FailedTickers)
	summary.Duration = time.Since(started)

	log.Printf("Fetch cycle: %d tickers in %d batches, %d ok, %d failed (%s)",
		len(unique), summary.Batches, summary.Succeeded, summary.Failed, summary.Duration.Round(time.Millisecond))
	return readings, summary
}

// fetchBatch runs one batch with a single immediate retry on failure.
func (f *BatchFetcher) fetchBatch(ctx context.Context, symbols []string) batchResult {
	quotes, err := f.tryBatch(ctx, symbols)
	if err != nil {
		log.Printf("Batch of %d failed, retrying: %v", len(symbols), err)
		quotes, err = f.tryBatch(ctx, symbols)
	}
	return batchResult{symbols: symbols, quotes: quotes, err: err}
}

func (f *BatchFetcher) tryBatch(ctx context.Context, symbols []string) (map[string]Quote, error) {
	batchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.provider.FetchBatch(batchCtx, symbols)
}

func dedupeSorted(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	unique := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}
	sort.Strings(unique)
	return unique
}

func partition(tickers []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(tickers); start += size {
		end := start + size
		if end > len(tickers) {
			end = len(tickers)
		}
		batches = append(batches, tickers[start:end])
	}
	return batches
}
