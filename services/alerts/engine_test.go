package alerts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rsi-alert-service/models"
	"rsi-alert-service/services/catalog"
	"rsi-alert-service/services/marketdata"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickers.csv")
	content := "ticker,name,chart_slug\nEQNR.OL,Equinor,OSL:EQNR\nAAPL,Apple Inc.,NASDAQ:AAPL\nMSFT,Microsoft,NASDAQ:MSFT\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c := catalog.New(path)
	if err := c.Load(); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func reading(ticker string, rsi float64) marketdata.Reading {
	return marketdata.Reading{
		Ticker:    ticker,
		RSI:       decimal.NewFromFloat(rsi),
		Close:     decimal.NewFromInt(100),
		DataDate:  "2026-08-24",
		FetchedAt: time.Now(),
	}
}

func mustCreateSub(t *testing.T, db *gorm.DB, guildID int64, ticker, condition string, threshold float64) models.Subscription {
	t.Helper()
	sub := models.Subscription{
		GuildID:         guildID,
		Ticker:          ticker,
		Condition:       condition,
		Threshold:       decimal.NewFromFloat(threshold),
		Enabled:         true,
		CreatedByUserID: 7,
	}
	if err := models.CreateSubscription(db, &sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func TestEvaluateGuildFiresAndPersistsState(t *testing.T) {
	db := testDB(t)
	engine := NewEngine(db, testCatalog(t))
	now := time.Date(2026, 8, 24, 18, 30, 0, 0, time.UTC)

	sub := mustCreateSub(t, db, 1, "EQNR.OL", models.ConditionUnder, 30)
	cfg := models.NewGuildConfig(1)

	readings := map[string]marketdata.Reading{
		"EQNR.OL": reading("EQNR.OL", 25),
	}

	fired, err := engine.EvaluateGuild(1, cfg, readings, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(fired))
	}
	a := fired[0]
	if a.Ticker != "EQNR.OL" || a.Name != "Equinor" || a.RuleText != "< 30" || a.DayLabel != "just crossed" {
		t.Fatalf("unexpected alert: %+v", a)
	}
	if a.ChartURL == "" {
		t.Fatal("alert should carry a chart link for a known ticker")
	}

	var state models.SubscriptionState
	if err := db.First(&state, "subscription_id = ?", sub.ID).Error; err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.Armed || !state.InZone || state.LastAlertAt == nil || state.DaysInZone != 1 {
		t.Fatalf("persisted state wrong: %+v", state)
	}

	// A second cycle with the same reading must not fire in crossing mode.
	fired, err = engine.EvaluateGuild(1, cfg, readings, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(fired) != 0 {
		t.Fatal("crossing alert fired twice without re-arming")
	}
}

func TestEvaluateGuildCountsFetchFailures(t *testing.T) {
	db := testDB(t)
	engine := NewEngine(db, testCatalog(t))
	now := time.Now()

	sub := mustCreateSub(t, db, 1, "EQNR.OL", models.ConditionUnder, 30)
	cfg := models.NewGuildConfig(1)

	failed := map[string]marketdata.Reading{
		"EQNR.OL": {Ticker: "EQNR.OL", Err: "upstream unavailable", FetchedAt: now},
	}
	if _, err := engine.EvaluateGuild(1, cfg, failed, now); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var state models.SubscriptionState
	if err := db.First(&state, "subscription_id = ?", sub.ID).Error; err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.FetchFailures != 1 {
		t.Fatalf("fetch failures = %d, want 1", state.FetchFailures)
	}
	if !state.Armed {
		t.Fatal("a failed fetch must not change arming")
	}

	// A successful reading resets the failure counter.
	ok := map[string]marketdata.Reading{"EQNR.OL": reading("EQNR.OL", 50)}
	if _, err := engine.EvaluateGuild(1, cfg, ok, now); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if err := db.First(&state, "subscription_id = ?", sub.ID).Error; err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.FetchFailures != 0 {
		t.Fatalf("fetch failures should reset on success, got %d", state.FetchFailures)
	}
}

func TestEvaluateGuildIgnoresTickersOutsideCycle(t *testing.T) {
	db := testDB(t)
	engine := NewEngine(db, testCatalog(t))
	now := time.Now()

	// AAPL was never requested in this cycle: the readings map only
	// carries another ticker. The subscription's state must stay
	// untouched, in particular the failure counter.
	sub := mustCreateSub(t, db, 1, "AAPL", models.ConditionUnder, 30)
	cfg := models.NewGuildConfig(1)

	readings := map[string]marketdata.Reading{
		"EQNR.OL": reading("EQNR.OL", 50),
	}
	fired, err := engine.EvaluateGuild(1, cfg, readings, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("expected no alerts, got %d", len(fired))
	}

	var state models.SubscriptionState
	if err := db.First(&state, "subscription_id = ?", sub.ID).Error; err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.FetchFailures != 0 {
		t.Fatalf("out-of-cycle ticker must not count a fetch failure, got %d", state.FetchFailures)
	}
	if !state.Armed || state.InZone || state.LastRSI != nil {
		t.Fatalf("out-of-cycle ticker must leave state untouched: %+v", state)
	}
}

func TestEvaluateGuildSortsAlerts(t *testing.T) {
	db := testDB(t)
	engine := NewEngine(db, testCatalog(t))
	now := time.Now()

	mustCreateSub(t, db, 1, "EQNR.OL", models.ConditionUnder, 40)
	mustCreateSub(t, db, 1, "MSFT", models.ConditionUnder, 40)
	mustCreateSub(t, db, 1, "AAPL", models.ConditionOver, 60)

	cfg := models.NewGuildConfig(1)
	readings := map[string]marketdata.Reading{
		"EQNR.OL": reading("EQNR.OL", 35),
		"MSFT":    reading("MSFT", 20),
		"AAPL":    reading("AAPL", 80),
	}

	fired, err := engine.EvaluateGuild(1, cfg, readings, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(fired) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(fired))
	}
	// UNDER alerts lead, most oversold first, then OVER.
	if fired[0].Ticker != "MSFT" || fired[1].Ticker != "EQNR.OL" || fired[2].Ticker != "AAPL" {
		t.Fatalf("unexpected order: %s, %s, %s", fired[0].Ticker, fired[1].Ticker, fired[2].Ticker)
	}
}

func TestQualifyingSetsClassifyAndSort(t *testing.T) {
	db := testDB(t)
	engine := NewEngine(db, testCatalog(t))

	cfg := models.NewGuildConfig(1) // oversold < 34, overbought > 70
	readings := map[string]marketdata.Reading{
		"EQNR.OL": reading("EQNR.OL", 30),
		"MSFT":    reading("MSFT", 20),
		"AAPL":    reading("AAPL", 80),
		"FAIL":    {Ticker: "FAIL", Err: "no data returned"},
	}

	oversold, overbought := engine.QualifyingSets(cfg, readings)

	if len(oversold) != 2 || oversold[0].Ticker != "MSFT" || oversold[1].Ticker != "EQNR.OL" {
		t.Fatalf("oversold = %v", oversold)
	}
	if len(overbought) != 1 || overbought[0].Ticker != "AAPL" {
		t.Fatalf("overbought = %v", overbought)
	}

	LabelEntries(oversold, []string{"MSFT"})
	if oversold[0].DayLabel != "still qualifying" || oversold[1].DayLabel != "new today" {
		t.Fatalf("labels = %q, %q", oversold[0].DayLabel, oversold[1].DayLabel)
	}
}

func TestRuleForInheritsGuildCooldown(t *testing.T) {
	cfg := models.NewGuildConfig(1)
	cfg.DefaultCooldownHours = 12

	sub := models.Subscription{Condition: models.ConditionUnder, Threshold: decimal.NewFromInt(30)}
	if got := ruleFor(sub, cfg).Cooldown; got != 12*time.Hour {
		t.Fatalf("cooldown = %v, want guild default 12h", got)
	}

	sub.CooldownHours = 48
	if got := ruleFor(sub, cfg).Cooldown; got != 48*time.Hour {
		t.Fatalf("cooldown = %v, want subscription override 48h", got)
	}
}
