package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rsi-alert-service/models"
	"rsi-alert-service/services/catalog"
)

// SubscriptionController handles subscription CRUD requests
type SubscriptionController struct {
	db      *gorm.DB
	catalog *catalog.Catalog
}

// NewSubscriptionController creates a new subscription controller
func NewSubscriptionController(db *gorm.DB, cat *catalog.Catalog) *SubscriptionController {
	return &SubscriptionController{db: db, catalog: cat}
}

func guildIDParam(c *gin.Context) (int64, bool) {
	guildID, err := strconv.ParseInt(c.Param("guild_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid guild id"})
		return 0, false
	}
	return guildID, true
}

type createSubscriptionRequest struct {
	Ticker        string  `json:"ticker" binding:"required"`
	Condition     string  `json:"condition" binding:"required"`
	Threshold     float64 `json:"threshold"`
	CooldownHours *int    `json:"cooldown_hours"`
	UserID        int64   `json:"user_id"`
}

type createBandRequest struct {
	Ticker        string  `json:"ticker" binding:"required"`
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	CooldownHours *int    `json:"cooldown_hours"`
	UserID        int64   `json:"user_id"`
}

// CreateSubscription creates a single-condition subscription
// POST /api/v1/guilds/:guild_id/subscriptions
func (sc *SubscriptionController) CreateSubscription(c *gin.Context) {
	guildID, ok := guildIDParam(c)
	if !ok {
		return
	}

	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	condition := strings.ToUpper(strings.TrimSpace(req.Condition))

	if condition != models.ConditionUnder && condition != models.ConditionOver {
		c.JSON(http.StatusBadRequest, gin.H{"error": "condition must be UNDER or OVER"})
		return
	}
	if req.Threshold <= 0 || req.Threshold >= 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be between 0 and 100"})
		return
	}
	if _, ok := sc.catalog.Lookup(ticker); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown ticker: " + ticker})
		return
	}
	if req.CooldownHours != nil && *req.CooldownHours < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cooldown_hours must not be negative"})
		return
	}

	// Scheduled cycles iterate guilds by config row, so make sure one
	// exists before the first subscription.
	if _, err := models.GetOrCreateGuildConfig(sc.db, guildID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to initialize guild configuration"})
		return
	}

	threshold := decimal.NewFromFloat(req.Threshold)
	exists, err := models.SubscriptionExists(sc.db, guildID, ticker, condition, threshold)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check existing subscriptions"})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, gin.H{"error": "An identical subscription already exists"})
		return
	}

	sub := models.Subscription{
		GuildID:         guildID,
		Ticker:          ticker,
		Condition:       condition,
		Threshold:       threshold,
		Enabled:         true,
		CreatedByUserID: req.UserID,
	}
	if req.CooldownHours != nil {
		sub.CooldownHours = *req.CooldownHours
	}

	if err := models.CreateSubscription(sc.db, &sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create subscription"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": sub})
}

// CreateBand creates the UNDER/OVER subscription pair of a band
// POST /api/v1/guilds/:guild_id/subscriptions/bands
func (sc *SubscriptionController) CreateBand(c *gin.Context) {
	guildID, ok := guildIDParam(c)
	if !ok {
		return
	}

	var req createBandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if req.Lower <= 0 || req.Lower >= 100 || req.Upper <= 0 || req.Upper >= 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "band thresholds must be between 0 and 100"})
		return
	}
	if req.Lower >= req.Upper {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lower threshold must be below upper threshold"})
		return
	}
	if _, ok := sc.catalog.Lookup(ticker); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown ticker: " + ticker})
		return
	}

	cooldown := 0
	if req.CooldownHours != nil {
		if *req.CooldownHours < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cooldown_hours must not be negative"})
			return
		}
		cooldown = *req.CooldownHours
	}

	if _, err := models.GetOrCreateGuildConfig(sc.db, guildID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to initialize guild configuration"})
		return
	}

	var created []models.Subscription
	err := sc.db.Transaction(func(tx *gorm.DB) error {
		for _, leg := range []struct {
			condition string
			threshold float64
		}{
			{models.ConditionUnder, req.Lower},
			{models.ConditionOver, req.Upper},
		} {
			sub := models.Subscription{
				GuildID:         guildID,
				Ticker:          ticker,
				Condition:       leg.condition,
				Threshold:       decimal.NewFromFloat(leg.threshold),
				CooldownHours:   cooldown,
				Enabled:         true,
				CreatedByUserID: req.UserID,
			}
			if err := models.CreateSubscription(tx, &sub); err != nil {
				return err
			}
			created = append(created, sub)
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create band subscriptions"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": created})
}

// ListSubscriptions returns a guild's enabled subscriptions with state,
// optionally filtered by ticker
// GET /api/v1/guilds/:guild_id/subscriptions?ticker=...
func (sc *SubscriptionController) ListSubscriptions(c *gin.Context) {
	guildID, ok := guildIDParam(c)
	if !ok {
		return
	}

	subs, err := models.EnabledSubscriptions(sc.db, guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch subscriptions"})
		return
	}

	if ticker := strings.ToUpper(strings.TrimSpace(c.Query("ticker"))); ticker != "" {
		filtered := subs[:0]
		for _, sub := range subs {
			if sub.Ticker == ticker {
				filtered = append(filtered, sub)
			}
		}
		subs = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  subs,
		"count": len(subs),
	})
}

// DeleteSubscription removes one subscription by id
// DELETE /api/v1/guilds/:guild_id/subscriptions/:id
func (sc *SubscriptionController) DeleteSubscription(c *gin.Context) {
	guildID, ok := guildIDParam(c)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}

	deleted, err := models.DeleteSubscription(sc.db, uint(id), guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete subscription"})
		return
	}
	if deleted == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// DeleteUserSubscriptions removes all of a user's subscriptions in a guild
// DELETE /api/v1/guilds/:guild_id/subscriptions?user_id=...
func (sc *SubscriptionController) DeleteUserSubscriptions(c *gin.Context) {
	guildID, ok := guildIDParam(c)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter required"})
		return
	}

	deleted, err := models.DeleteUserSubscriptions(sc.db, guildID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete subscriptions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
