// Package catalog loads and serves the instrument catalog (tickers.csv),
// the single source of truth for which tickers the service knows about.
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

const chartURLTemplate = "https://www.tradingview.com/chart/?symbol=%s&interval=1D"

// Instrument is one catalog entry.
type Instrument struct {
	Ticker    string `json:"ticker"`
	Name      string `json:"name"`
	ChartSlug string `json:"chart_slug"` // EXCHANGE:SYMBOL
}

// ChartURL returns the chart link for the instrument, empty when no slug is
// known.
func (i Instrument) ChartURL() string {
	if i.ChartSlug == "" {
		return ""
	}
	return fmt.Sprintf(chartURLTemplate, i.ChartSlug)
}

// Catalog is an in-memory instrument catalog, reloadable from its CSV file.
// Reads during a scan cycle see a consistent snapshot.
type Catalog struct {
	path string

	mu          sync.RWMutex
	instruments map[string]Instrument
}

// New creates a catalog bound to a CSV file. Call Load before use.
func New(path string) *Catalog {
	return &Catalog{
		path:        path,
		instruments: make(map[string]Instrument),
	}
}

// Load reads the CSV file. The file must have a header row containing at
// least ticker, name and chart_slug columns. Rows without ticker or name are
// skipped with a warning.
func (c *Catalog) Load() error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("open catalog %s: %w", c.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("catalog has no header row: %w", err)
	}

	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"ticker", "name", "chart_slug"} {
		if _, ok := col[required]; !ok {
			return fmt.Errorf("catalog missing column %q", required)
		}
	}

	instruments := make(map[string]Instrument)
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			log.Printf("Skipping catalog line %d: %v", line, err)
			continue
		}

		ticker := strings.ToUpper(strings.TrimSpace(record[col["ticker"]]))
		name := strings.TrimSpace(record[col["name"]])
		slug := strings.TrimSpace(record[col["chart_slug"]])

		if ticker == "" || name == "" {
			log.Printf("Skipping catalog line %d: missing ticker or name", line)
			continue
		}
		if slug == "" {
			log.Printf("Catalog ticker %s has no chart_slug", ticker)
		}

		instruments[ticker] = Instrument{Ticker: ticker, Name: name, ChartSlug: slug}
	}

	c.mu.Lock()
	c.instruments = instruments
	c.mu.Unlock()

	log.Printf("Loaded %d instruments from catalog", len(instruments))
	return nil
}

// Reload re-reads the catalog from disk.
func (c *Catalog) Reload() error {
	return c.Load()
}

// Lookup returns the instrument for a ticker.
func (c *Catalog) Lookup(ticker string) (Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instruments[strings.ToUpper(ticker)]
	return inst, ok
}

// Name returns the display name for a ticker, falling back to the ticker
// itself when unknown.
func (c *Catalog) Name(ticker string) string {
	if inst, ok := c.Lookup(ticker); ok {
		return inst.Name
	}
	return strings.ToUpper(ticker)
}

// ChartURL returns the chart link for a ticker, empty when unknown.
func (c *Catalog) ChartURL(ticker string) string {
	if inst, ok := c.Lookup(ticker); ok {
		return inst.ChartURL()
	}
	return ""
}

// AllTickers returns every catalog ticker, sorted.
func (c *Catalog) AllTickers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tickers := make([]string, 0, len(c.instruments))
	for t := range c.instruments {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// Search matches a query against ticker symbols and display names.
func (c *Catalog) Search(query string, limit int) []Instrument {
	query = strings.ToUpper(strings.TrimSpace(query))
	c.mu.RLock()
	defer c.mu.RUnlock()

	var results []Instrument
	for _, ticker := range c.sortedTickersLocked() {
		inst := c.instruments[ticker]
		if strings.Contains(ticker, query) || strings.Contains(strings.ToUpper(inst.Name), query) {
			results = append(results, inst)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	return results
}

// Len returns the number of instruments loaded.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instruments)
}

func (c *Catalog) sortedTickersLocked() []string {
	tickers := make([]string, 0, len(c.instruments))
	for t := range c.instruments {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}
