package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rsi-alert-service/services/marketdata"
)

// Alert is one fired subscription alert, ready for delivery.
type Alert struct {
	SubscriptionID uint            `json:"subscription_id"`
	GuildID        int64           `json:"guild_id"`
	Ticker         string          `json:"ticker"`
	Name           string          `json:"name"`
	Condition      string          `json:"condition"`
	Threshold      decimal.Decimal `json:"threshold"`
	RSI            decimal.Decimal `json:"rsi"`
	ChartURL       string          `json:"chart_url,omitempty"`
	Subscriber     int64           `json:"subscriber"`
	RuleText       string          `json:"rule_text"`  // e.g. "< 30"
	DayLabel       string          `json:"day_label"`  // "just crossed" or "day N"
	DaysInZone     int             `json:"days_in_zone"`
}

// ScanEntry is one ticker in an auto-scan report.
type ScanEntry struct {
	Ticker   string          `json:"ticker"`
	Name     string          `json:"name"`
	RSI      decimal.Decimal `json:"rsi"`
	ChartURL string          `json:"chart_url,omitempty"`
	DayLabel string          `json:"day_label"` // "new today" or "still qualifying"
}

// CycleResult is everything one evaluation cycle produced for one guild.
// It is the payload handed to the notification and archive layers.
type CycleResult struct {
	Trigger    string    `json:"trigger"` // "scheduled", "daily" or "manual"
	Region     string    `json:"region,omitempty"`
	GuildID    int64     `json:"guild_id"`
	ScanDate   string    `json:"scan_date"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Qualifying sets, oversold sorted ascending and overbought descending
	// so the most extreme readings lead.
	Oversold   []ScanEntry `json:"oversold"`
	Overbought []ScanEntry `json:"overbought"`

	// Whether change detection decided each class should be posted.
	PostedOversold   bool `json:"posted_oversold"`
	PostedOverbought bool `json:"posted_overbought"`

	SubscriptionAlerts []Alert `json:"subscription_alerts"`

	Fetch marketdata.Summary `json:"fetch"`

	// StatusSummary is a one-line human status for the cycle.
	StatusSummary string `json:"status_summary"`
}

// BuildStatusSummary renders the one-line cycle status: fetch counts,
// qualifying set sizes with new-entry counts, fired alerts and posted flags.
func (r *CycleResult) BuildStatusSummary() {
	parts := []string{
		fmt.Sprintf("fetched %d/%d in %s",
			r.Fetch.Succeeded, r.Fetch.Succeeded+r.Fetch.Failed,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)),
		fmt.Sprintf("%d oversold (%d new)%s", len(r.Oversold), countNew(r.Oversold), postedMark(r.PostedOversold)),
		fmt.Sprintf("%d overbought (%d new)%s", len(r.Overbought), countNew(r.Overbought), postedMark(r.PostedOverbought)),
		fmt.Sprintf("%d alerts", len(r.SubscriptionAlerts)),
	}
	if r.Fetch.Failed > 0 {
		parts = append(parts, fmt.Sprintf("failed: %s", previewTickers(r.Fetch.FailedTickers, 5)))
	}
	r.StatusSummary = fmt.Sprintf("Scan %s (%s): %s", r.ScanDate, r.Trigger, strings.Join(parts, ", "))
}

func countNew(entries []ScanEntry) int {
	n := 0
	for _, e := range entries {
		if e.DayLabel == "new today" {
			n++
		}
	}
	return n
}

func postedMark(posted bool) string {
	if posted {
		return " [posted]"
	}
	return ""
}

func previewTickers(tickers []string, max int) string {
	if len(tickers) <= max {
		return strings.Join(tickers, " ")
	}
	return fmt.Sprintf("%s +%d more", strings.Join(tickers[:max], " "), len(tickers)-max)
}
