package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Alert modes
const (
	ModeCrossing = "CROSSING"
	ModeLevel    = "LEVEL"
)

// Subscription conditions
const (
	ConditionUnder = "UNDER"
	ConditionOver  = "OVER"
)

// Auto-scan condition classes
const (
	ClassOversold   = "OVERSOLD"
	ClassOverbought = "OVERBOUGHT"
)

// Defaults applied when a guild is first seen
const (
	DefaultScheduleTime  = "18:30"
	DefaultCooldownHours = 24
	DefaultAlertMode     = ModeCrossing
)

var (
	DefaultHysteresis     = decimal.NewFromInt(2)
	DefaultAutoOversold   = decimal.NewFromInt(34)
	DefaultAutoOverbought = decimal.NewFromInt(70)
)

// GuildConfig holds per-guild alerting configuration. It is read fresh at
// the start of every scheduled cycle, never cached across cycles.
type GuildConfig struct {
	GuildID              int64           `gorm:"primaryKey" json:"guild_id"`
	ScheduleTime         string          `json:"schedule_time"` // HH:MM, local time
	DefaultCooldownHours int             `json:"default_cooldown_hours"`
	AlertMode            string          `json:"alert_mode"` // CROSSING or LEVEL
	Hysteresis           decimal.Decimal `gorm:"type:decimal(10,4)" json:"hysteresis"`
	AutoOversold         decimal.Decimal `gorm:"type:decimal(10,4)" json:"auto_oversold"`
	AutoOverbought       decimal.Decimal `gorm:"type:decimal(10,4)" json:"auto_overbought"`
	ScheduleEnabled      bool            `json:"schedule_enabled"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// NewGuildConfig returns a config populated with server defaults.
func NewGuildConfig(guildID int64) GuildConfig {
	return GuildConfig{
		GuildID:              guildID,
		ScheduleTime:         DefaultScheduleTime,
		DefaultCooldownHours: DefaultCooldownHours,
		AlertMode:            DefaultAlertMode,
		Hysteresis:           DefaultHysteresis,
		AutoOversold:         DefaultAutoOversold,
		AutoOverbought:       DefaultAutoOverbought,
		ScheduleEnabled:      true,
	}
}

// GetOrCreateGuildConfig loads a guild's configuration, creating the default
// row on first access.
func GetOrCreateGuildConfig(db *gorm.DB, guildID int64) (GuildConfig, error) {
	var cfg GuildConfig
	err := db.Where("guild_id = ?", guildID).First(&cfg).Error
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return GuildConfig{}, err
	}

	cfg = NewGuildConfig(guildID)
	if err := db.Create(&cfg).Error; err != nil {
		return GuildConfig{}, err
	}
	return cfg, nil
}

// AllGuildIDs returns every guild that has a configuration row.
func AllGuildIDs(db *gorm.DB) ([]int64, error) {
	var ids []int64
	err := db.Model(&GuildConfig{}).Distinct("guild_id").Pluck("guild_id", &ids).Error
	return ids, err
}

// MigrateGuildModels runs database migrations for guild configuration
func MigrateGuildModels(db *gorm.DB) error {
	return db.AutoMigrate(&GuildConfig{})
}
