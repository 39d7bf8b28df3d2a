package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Subscription is a user-created RSI alert rule. Many subscriptions may
// reference the same ticker.
type Subscription struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	GuildID         int64           `gorm:"index:idx_sub_guild" json:"guild_id"`
	Ticker          string          `gorm:"index:idx_sub_ticker;not null" json:"ticker"`
	Condition       string          `gorm:"not null" json:"condition"` // UNDER or OVER
	Threshold       decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"threshold"`
	CooldownHours   int             `json:"cooldown_hours"`
	Enabled         bool            `gorm:"default:true;index:idx_sub_enabled" json:"enabled"`
	CreatedByUserID int64           `json:"created_by_user_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	State *SubscriptionState `gorm:"foreignKey:SubscriptionID" json:"state,omitempty"`
}

// RuleText renders the rule as "< 30" / "> 70" for alert payloads.
func (s Subscription) RuleText() string {
	symbol := "<"
	if s.Condition == ConditionOver {
		symbol = ">"
	}
	return symbol + " " + s.Threshold.String()
}

// SubscriptionState is the one-to-one evaluation state of a subscription.
// Created alongside its subscription, updated every evaluation cycle and
// removed only with the subscription itself.
type SubscriptionState struct {
	SubscriptionID uint             `gorm:"primaryKey" json:"subscription_id"`
	LastRSI        *decimal.Decimal `gorm:"type:decimal(10,4)" json:"last_rsi"`
	InZone         bool             `json:"in_zone"`
	// Armed enables the next crossing to fire. A fresh state starts armed so
	// a subscription already in zone on its first evaluation alerts once.
	Armed         bool       `json:"armed"`
	LastAlertAt   *time.Time `json:"last_alert_at"`
	DaysInZone    int        `json:"days_in_zone"`
	LastDataDate  string     `json:"last_data_date"` // YYYY-MM-DD of last reading
	FetchFailures int        `json:"fetch_failures"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewSubscriptionState returns the initial state for a subscription.
func NewSubscriptionState(subscriptionID uint) SubscriptionState {
	return SubscriptionState{
		SubscriptionID: subscriptionID,
		Armed:          true,
	}
}

// CreateSubscription inserts a subscription together with its initial state
// in one transaction, preserving the one-subscription-one-state invariant.
func CreateSubscription(db *gorm.DB, sub *Subscription) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		state := NewSubscriptionState(sub.ID)
		return tx.Create(&state).Error
	})
}

// DeleteSubscription removes a subscription and its state. Returns the
// number of subscriptions removed (0 when id/guild did not match).
func DeleteSubscription(db *gorm.DB, id uint, guildID int64) (int64, error) {
	var deleted int64
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND guild_id = ?", id, guildID).Delete(&Subscription{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		if deleted == 0 {
			return nil
		}
		return tx.Where("subscription_id = ?", id).Delete(&SubscriptionState{}).Error
	})
	return deleted, err
}

// DeleteUserSubscriptions removes every subscription a user created in a
// guild, states included.
func DeleteUserSubscriptions(db *gorm.DB, guildID, userID int64) (int64, error) {
	var deleted int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&Subscription{}).
			Where("guild_id = ? AND created_by_user_id = ?", guildID, userID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("subscription_id IN ?", ids).Delete(&SubscriptionState{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&Subscription{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}

// SubscriptionExists reports whether an identical rule already exists.
func SubscriptionExists(db *gorm.DB, guildID int64, ticker, condition string, threshold decimal.Decimal) (bool, error) {
	var count int64
	err := db.Model(&Subscription{}).
		Where("guild_id = ? AND ticker = ? AND condition = ? AND threshold = ?",
			guildID, ticker, condition, threshold).
		Count(&count).Error
	return count > 0, err
}

// EnabledSubscriptions returns enabled subscriptions with state preloaded,
// optionally filtered by guild (guildID = 0 means all guilds).
func EnabledSubscriptions(db *gorm.DB, guildID int64) ([]Subscription, error) {
	q := db.Preload("State").Where("enabled = ?", true)
	if guildID != 0 {
		q = q.Where("guild_id = ?", guildID)
	}
	var subs []Subscription
	err := q.Order("ticker, condition, threshold").Find(&subs).Error
	return subs, err
}

// DistinctSubscribedTickers returns the distinct tickers of enabled
// subscriptions, optionally for a single guild.
func DistinctSubscribedTickers(db *gorm.DB, guildID int64) ([]string, error) {
	q := db.Model(&Subscription{}).Where("enabled = ?", true)
	if guildID != 0 {
		q = q.Where("guild_id = ?", guildID)
	}
	var tickers []string
	err := q.Distinct("ticker").Pluck("ticker", &tickers).Error
	return tickers, err
}

// MigrateSubscriptionModels runs database migrations for subscription models
func MigrateSubscriptionModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Subscription{},
		&SubscriptionState{},
	)
}
