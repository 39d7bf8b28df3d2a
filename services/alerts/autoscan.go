package alerts

import (
	"sort"
	"time"

	"gorm.io/gorm"

	"rsi-alert-service/models"
)

// ChangeDetector decides whether an auto-scan result should be posted,
// keyed by (guild, class, scan date). The first scan of a day posts only
// when the set is non-empty; later scans post only when the set differs
// from the stored one. A set shrinking to empty is a change and posts.
type ChangeDetector struct {
	db *gorm.DB
}

// NewChangeDetector creates a detector.
func NewChangeDetector(db *gorm.DB) *ChangeDetector {
	return &ChangeDetector{db: db}
}

// DetectChange compares today's qualifying set against the stored one and
// persists the new set either way. It returns whether the set should be
// posted and the previously stored set.
func (d *ChangeDetector) DetectChange(guildID int64, class string, tickers []string, scanDate string, now time.Time) (shouldPost bool, previous []string, err error) {
	state, err := models.GetAutoScanState(d.db, guildID, class, scanDate)
	if err != nil {
		return false, nil, err
	}

	current := append([]string(nil), tickers...)
	sort.Strings(current)

	if state == nil {
		shouldPost = len(current) > 0
		state = &models.AutoScanState{
			GuildID:  guildID,
			Class:    class,
			ScanDate: scanDate,
		}
	} else {
		previous = state.Tickers()
		shouldPost = !sameSet(previous, current)
	}

	state.SetTickers(current)
	state.LastScanAt = now
	if shouldPost {
		state.PostCount++
	}
	if err := d.db.Save(state).Error; err != nil {
		return false, previous, err
	}
	return shouldPost, previous, nil
}

// sameSet compares two sorted ticker lists as sets.
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
