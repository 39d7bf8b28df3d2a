package alerts

import (
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"rsi-alert-service/models"
	"rsi-alert-service/services/catalog"
	"rsi-alert-service/services/marketdata"
)

// Engine evaluates subscriptions against a cycle's readings and persists
// the resulting state transitions.
type Engine struct {
	db      *gorm.DB
	catalog *catalog.Catalog
}

// NewEngine creates an evaluation engine.
func NewEngine(db *gorm.DB, cat *catalog.Catalog) *Engine {
	return &Engine{db: db, catalog: cat}
}

// ruleFor resolves the effective rule for a subscription under a guild
// config. A subscription cooldown of 0 inherits the guild default.
func ruleFor(sub models.Subscription, cfg models.GuildConfig) Rule {
	cooldownHours := sub.CooldownHours
	if cooldownHours <= 0 {
		cooldownHours = cfg.DefaultCooldownHours
	}
	return Rule{
		Condition:  sub.Condition,
		Threshold:  sub.Threshold,
		Hysteresis: cfg.Hysteresis,
		AlertMode:  cfg.AlertMode,
		Cooldown:   time.Duration(cooldownHours) * time.Hour,
	}
}

// EvaluateGuild runs every enabled subscription of a guild against the
// readings map and returns the fired alerts, oversold ascending then
// overbought descending by RSI. The readings map carries one entry per
// ticker the cycle actually requested, so a ticker absent from the map was
// simply outside this cycle's scope (another region's scan) and its
// subscription state is left untouched. Subscriptions whose ticker was
// requested but failed to fetch are skipped with their failure counter
// bumped; state changes are saved per subscription so one bad row cannot
// void the whole cycle.
func (e *Engine) EvaluateGuild(guildID int64, cfg models.GuildConfig, readings map[string]marketdata.Reading, now time.Time) ([]Alert, error) {
	subs, err := models.EnabledSubscriptions(e.db, guildID)
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	for _, sub := range subs {
		state := models.NewSubscriptionState(sub.ID)
		if sub.State != nil {
			state = *sub.State
		}

		reading, ok := readings[sub.Ticker]
		if !ok {
			continue
		}
		if !reading.OK() {
			state.FetchFailures++
			state.UpdatedAt = now
			if err := e.db.Save(&state).Error; err != nil {
				log.Printf("Failed to save state for subscription %d: %v", sub.ID, err)
			}
			continue
		}

		out := Evaluate(state, reading.RSI, reading.DataDate, ruleFor(sub, cfg), now)
		out.Next.FetchFailures = 0
		if err := e.db.Save(&out.Next).Error; err != nil {
			log.Printf("Failed to save state for subscription %d: %v", sub.ID, err)
			continue
		}

		if out.Fired {
			alerts = append(alerts, Alert{
				SubscriptionID: sub.ID,
				GuildID:        sub.GuildID,
				Ticker:         sub.Ticker,
				Name:           e.catalog.Name(sub.Ticker),
				Condition:      sub.Condition,
				Threshold:      sub.Threshold,
				RSI:            reading.RSI,
				ChartURL:       e.catalog.ChartURL(sub.Ticker),
				Subscriber:     sub.CreatedByUserID,
				RuleText:       sub.RuleText(),
				DayLabel:       out.DayLabel(),
				DaysInZone:     out.Next.DaysInZone,
			})
		}
	}

	sortAlerts(alerts)
	return alerts, nil
}

// sortAlerts orders UNDER alerts by ascending RSI and OVER alerts by
// descending RSI, UNDER before OVER, so the most extreme readings lead.
func sortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Condition != b.Condition {
			return a.Condition == models.ConditionUnder
		}
		if a.Condition == models.ConditionUnder {
			return a.RSI.LessThan(b.RSI)
		}
		return a.RSI.GreaterThan(b.RSI)
	})
}

// QualifyingSets classifies readings into the guild's oversold and
// overbought bands, oversold ascending and overbought descending by RSI.
// Day labels are applied afterwards via LabelEntries once the previous
// qualifying set is known.
func (e *Engine) QualifyingSets(cfg models.GuildConfig, readings map[string]marketdata.Reading) (oversold, overbought []ScanEntry) {
	for _, r := range readings {
		if !r.OK() {
			continue
		}
		entry := ScanEntry{
			Ticker:   r.Ticker,
			Name:     e.catalog.Name(r.Ticker),
			RSI:      r.RSI,
			ChartURL: e.catalog.ChartURL(r.Ticker),
		}
		switch {
		case r.RSI.LessThan(cfg.AutoOversold):
			oversold = append(oversold, entry)
		case r.RSI.GreaterThan(cfg.AutoOverbought):
			overbought = append(overbought, entry)
		}
	}

	sort.Slice(oversold, func(i, j int) bool { return oversold[i].RSI.LessThan(oversold[j].RSI) })
	sort.Slice(overbought, func(i, j int) bool { return overbought[i].RSI.GreaterThan(overbought[j].RSI) })
	return oversold, overbought
}

// EntryTickers extracts the ticker list of a qualifying set.
func EntryTickers(entries []ScanEntry) []string {
	tickers := make([]string, len(entries))
	for i, e := range entries {
		tickers[i] = e.Ticker
	}
	return tickers
}

// LabelEntries marks each entry "still qualifying" when it was already in
// the previous scan's set and "new today" otherwise.
func LabelEntries(entries []ScanEntry, previous []string) {
	prev := make(map[string]bool, len(previous))
	for _, t := range previous {
		prev[t] = true
	}
	for i := range entries {
		if prev[entries[i].Ticker] {
			entries[i].DayLabel = "still qualifying"
		} else {
			entries[i].DayLabel = "new today"
		}
	}
}
