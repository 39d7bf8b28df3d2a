package scheduler

import (
	"strings"
	"time"
)

// Market regions
const (
	RegionEurope   = "europe"
	RegionUSCanada = "us_canada"
	RegionOther    = "other"
)

// europeanSuffixes are Yahoo Finance ticker suffixes for European exchanges.
var europeanSuffixes = []string{
	".OL", // Oslo
	".ST", // Stockholm
	".CO", // Copenhagen
	".HE", // Helsinki
	".AS", // Amsterdam
	".PA", // Paris
	".DE", // Frankfurt
	".L",  // London
	".MI", // Milan
	".MC", // Madrid
	".SW", // Zurich
	".VI", // Vienna
	".BR", // Brussels
	".LS", // Lisbon
	".AT", // Athens
	".WA", // Warsaw
	".PR", // Prague
}

// usCanadaSuffixes are Yahoo Finance ticker suffixes for Canadian exchanges.
// Tickers with no suffix at all are treated as US listings.
var usCanadaSuffixes = []string{
	".TO", // Toronto
	".V",  // TSX Venture
	".NE", // NEO Exchange
	".CN", // Canadian Securities Exchange
}

// ClassifyRegion maps a ticker symbol to its market region by exchange
// suffix.
func ClassifyRegion(ticker string) string {
	upper := strings.ToUpper(ticker)
	for _, suffix := range europeanSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return RegionEurope
		}
	}
	for _, suffix := range usCanadaSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return RegionUSCanada
		}
	}
	if !strings.Contains(upper, ".") {
		return RegionUSCanada
	}
	return RegionOther
}

// ScanWindow describes the hourly auto-scan slots for one market region:
// every weekday at minute :30 from StartHour:30 through EndHour:30, in the
// service timezone.
type ScanWindow struct {
	Region    string
	Label     string
	StartHour int
	EndHour   int
	Minute    int
}

// DefaultWindows returns the scan windows: Europe 09:30-17:30 and US/Canada
// 15:30-22:30, both expressed in the service timezone.
func DefaultWindows() []ScanWindow {
	return []ScanWindow{
		{Region: RegionEurope, Label: "Europe market hours", StartHour: 9, EndHour: 17, Minute: 30},
		{Region: RegionUSCanada, Label: "US/Canada market hours", StartHour: 15, EndHour: 22, Minute: 30},
	}
}

// Due reports whether the window has a scan slot at the given local time.
func (w ScanWindow) Due(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	if t.Minute() != w.Minute {
		return false
	}
	return t.Hour() >= w.StartHour && t.Hour() <= w.EndHour
}
