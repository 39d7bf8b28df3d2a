package models

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AutoScanState tracks, per guild and condition class, which tickers
// qualified on the most recent scan of a given day. It backs the change
// detection that keeps hourly auto-scans from reposting unchanged sets.
// Rows are superseded by the date rollover and purged after a retention
// window rather than deleted eagerly.
type AutoScanState struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	GuildID     int64     `gorm:"uniqueIndex:idx_scan_guild_date_class" json:"guild_id"`
	Class       string    `gorm:"uniqueIndex:idx_scan_guild_date_class" json:"class"` // OVERSOLD or OVERBOUGHT
	ScanDate    string    `gorm:"uniqueIndex:idx_scan_guild_date_class" json:"scan_date"`
	TickersJSON string    `gorm:"type:text" json:"-"`
	PostCount   int       `json:"post_count"`
	LastScanAt  time.Time `json:"last_scan_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tickers decodes the stored qualifying set.
func (s *AutoScanState) Tickers() []string {
	if s.TickersJSON == "" {
		return nil
	}
	var tickers []string
	if err := json.Unmarshal([]byte(s.TickersJSON), &tickers); err != nil {
		return nil
	}
	return tickers
}

// SetTickers stores the qualifying set sorted, so equal sets always encode
// identically.
func (s *AutoScanState) SetTickers(tickers []string) {
	sorted := append([]string(nil), tickers...)
	sort.Strings(sorted)
	raw, _ := json.Marshal(sorted)
	s.TickersJSON = string(raw)
}

// GetAutoScanState loads the state row for (guild, class, date). Returns
// nil when this is the first scan of the day.
func GetAutoScanState(db *gorm.DB, guildID int64, class, scanDate string) (*AutoScanState, error) {
	var state AutoScanState
	err := db.Where("guild_id = ? AND class = ? AND scan_date = ?", guildID, class, scanDate).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// PurgeAutoScanStates removes state rows older than the cutoff date
// (exclusive, YYYY-MM-DD).
func PurgeAutoScanStates(db *gorm.DB, cutoffDate string) (int64, error) {
	res := db.Where("scan_date < ?", cutoffDate).Delete(&AutoScanState{})
	return res.RowsAffected, res.Error
}

// TickerRSI is the persisted latest RSI snapshot for a ticker, upserted for
// every ticker that fetches successfully during any scan.
type TickerRSI struct {
	Ticker    string          `gorm:"primaryKey" json:"ticker"`
	RSI14     decimal.Decimal `gorm:"type:decimal(10,4)" json:"rsi_14"`
	Close     decimal.Decimal `gorm:"type:decimal(15,4)" json:"close"`
	DataDate  string          `json:"data_date"`
	FetchedAt time.Time       `json:"fetched_at"`
	UpdatedAt time.Time       `gorm:"index" json:"updated_at"`
}

// UpsertTickerRSI writes the latest snapshots in one transaction.
func UpsertTickerRSI(db *gorm.DB, snapshots []TickerRSI) error {
	if len(snapshots) == 0 {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for i := range snapshots {
			if err := tx.Save(&snapshots[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeTickerRSI removes snapshots not refreshed since the cutoff.
func PurgeTickerRSI(db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.Where("updated_at < ?", cutoff).Delete(&TickerRSI{})
	return res.RowsAffected, res.Error
}

// MigrateScanModels runs database migrations for scan state models
func MigrateScanModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&AutoScanState{},
		&TickerRSI{},
	)
}
