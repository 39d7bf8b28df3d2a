package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCatalog(t *testing.T, content string) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickers.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return New(path)
}

const sampleCSV = `ticker,name,chart_slug
EQNR.OL,Equinor,OSL:EQNR
aapl,Apple Inc.,NASDAQ:AAPL
TEL.OL,Telenor,
`

func TestLoadAndLookup(t *testing.T) {
	c := writeCatalog(t, sampleCSV)
	if err := c.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 instruments, got %d", c.Len())
	}

	inst, ok := c.Lookup("EQNR.OL")
	if !ok || inst.Name != "Equinor" {
		t.Fatalf("lookup EQNR.OL: %+v ok=%v", inst, ok)
	}

	// Tickers are normalized to upper case on load and lookup.
	if _, ok := c.Lookup("aapl"); !ok {
		t.Fatal("lower case lookup should resolve")
	}
	if _, ok := c.Lookup("AAPL"); !ok {
		t.Fatal("upper case ticker should be stored")
	}
}

func TestChartURL(t *testing.T) {
	c := writeCatalog(t, sampleCSV)
	if err := c.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	url := c.ChartURL("EQNR.OL")
	if url != "https://www.tradingview.com/chart/?symbol=OSL:EQNR&interval=1D" {
		t.Fatalf("unexpected chart url: %s", url)
	}

	// No slug means no link, not a broken one.
	if got := c.ChartURL("TEL.OL"); got != "" {
		t.Fatalf("ticker without slug should have empty chart url, got %s", got)
	}
	if got := c.ChartURL("UNKNOWN"); got != "" {
		t.Fatalf("unknown ticker should have empty chart url, got %s", got)
	}
}

func TestNameFallsBackToTicker(t *testing.T) {
	c := writeCatalog(t, sampleCSV)
	if err := c.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.Name("EQNR.OL"); got != "Equinor" {
		t.Fatalf("Name(EQNR.OL) = %s", got)
	}
	if got := c.Name("missing"); got != "MISSING" {
		t.Fatalf("unknown ticker should fall back to the symbol, got %s", got)
	}
}

func TestAllTickersSorted(t *testing.T) {
	c := writeCatalog(t, sampleCSV)
	if err := c.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	tickers := c.AllTickers()
	if len(tickers) != 3 {
		t.Fatalf("expected 3 tickers, got %v", tickers)
	}
	for i := 1; i < len(tickers); i++ {
		if tickers[i-1] >= tickers[i] {
			t.Fatalf("tickers not sorted: %v", tickers)
		}
	}
}

func TestSearchMatchesTickerAndName(t *testing.T) {
	c := writeCatalog(t, sampleCSV)
	if err := c.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	byTicker := c.Search("eqnr", 0)
	if len(byTicker) != 1 || byTicker[0].Ticker != "EQNR.OL" {
		t.Fatalf("search by ticker: %v", byTicker)
	}

	byName := c.Search("apple", 0)
	if len(byName) != 1 || byName[0].Ticker != "AAPL" {
		t.Fatalf("search by name: %v", byName)
	}

	if got := c.Search(".OL", 1); len(got) != 1 {
		t.Fatalf("limit should cap results, got %v", got)
	}
}

func TestLoadRejectsMissingColumns(t *testing.T) {
	c := writeCatalog(t, "ticker,name\nAAPL,Apple\n")
	if err := c.Load(); err == nil {
		t.Fatal("catalog without chart_slug column should fail to load")
	}
}

func TestLoadSkipsIncompleteRows(t *testing.T) {
	c := writeCatalog(t, "ticker,name,chart_slug\nAAPL,Apple,NASDAQ:AAPL\n,NoTicker,X:Y\nMSFT,,X:Z\n")
	if err := c.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("rows without ticker or name should be skipped, got %d", c.Len())
	}
}

func TestReloadReplacesInstruments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickers.csv")
	if err := os.WriteFile(path, []byte("ticker,name,chart_slug\nAAPL,Apple,NASDAQ:AAPL\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := os.WriteFile(path, []byte("ticker,name,chart_slug\nMSFT,Microsoft,NASDAQ:MSFT\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := c.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if _, ok := c.Lookup("AAPL"); ok {
		t.Fatal("reload should replace the old instrument set")
	}
	if _, ok := c.Lookup("MSFT"); !ok {
		t.Fatal("reload should load the new instrument set")
	}
}
