package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rsi-alert-service/models"
)

// ConfigController handles guild configuration requests
type ConfigController struct {
	db *gorm.DB
}

// NewConfigController creates a new config controller
func NewConfigController(db *gorm.DB) *ConfigController {
	return &ConfigController{db: db}
}

// GetConfig returns a guild's configuration, creating defaults on first
// access
// GET /api/v1/guilds/:guild_id/config
func (cc *ConfigController) GetConfig(c *gin.Context) {
	guildID, err := strconv.ParseInt(c.Param("guild_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid guild id"})
		return
	}

	cfg, err := models.GetOrCreateGuildConfig(cc.db, guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load configuration"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cfg})
}

type updateConfigRequest struct {
	ScheduleTime    *string  `json:"schedule_time"`
	CooldownHours   *int     `json:"cooldown_hours"`
	AlertMode       *string  `json:"alert_mode"`
	Hysteresis      *float64 `json:"hysteresis"`
	AutoOversold    *float64 `json:"auto_oversold"`
	AutoOverbought  *float64 `json:"auto_overbought"`
	ScheduleEnabled *bool    `json:"schedule_enabled"`
}

// UpdateConfig applies a partial configuration update
// PATCH /api/v1/guilds/:guild_id/config
func (cc *ConfigController) UpdateConfig(c *gin.Context) {
	guildID, err := strconv.ParseInt(c.Param("guild_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid guild id"})
		return
	}

	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := models.GetOrCreateGuildConfig(cc.db, guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load configuration"})
		return
	}

	if req.ScheduleTime != nil {
		if !validScheduleTime(*req.ScheduleTime) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "schedule_time must be HH:MM"})
			return
		}
		cfg.ScheduleTime = *req.ScheduleTime
	}
	if req.CooldownHours != nil {
		if *req.CooldownHours < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cooldown_hours must not be negative"})
			return
		}
		cfg.DefaultCooldownHours = *req.CooldownHours
	}
	if req.AlertMode != nil {
		mode := strings.ToUpper(*req.AlertMode)
		if mode != models.ModeCrossing && mode != models.ModeLevel {
			c.JSON(http.StatusBadRequest, gin.H{"error": "alert_mode must be CROSSING or LEVEL"})
			return
		}
		cfg.AlertMode = mode
	}
	if req.Hysteresis != nil {
		if *req.Hysteresis < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hysteresis must not be negative"})
			return
		}
		cfg.Hysteresis = decimal.NewFromFloat(*req.Hysteresis)
	}
	if req.AutoOversold != nil {
		if *req.AutoOversold <= 0 || *req.AutoOversold >= 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "auto_oversold must be between 0 and 100"})
			return
		}
		cfg.AutoOversold = decimal.NewFromFloat(*req.AutoOversold)
	}
	if req.AutoOverbought != nil {
		if *req.AutoOverbought <= 0 || *req.AutoOverbought >= 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "auto_overbought must be between 0 and 100"})
			return
		}
		cfg.AutoOverbought = decimal.NewFromFloat(*req.AutoOverbought)
	}
	if cfg.AutoOversold.GreaterThanOrEqual(cfg.AutoOverbought) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "auto_oversold must be below auto_overbought"})
		return
	}
	if req.ScheduleEnabled != nil {
		cfg.ScheduleEnabled = *req.ScheduleEnabled
	}

	if err := cc.db.Save(&cfg).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save configuration"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cfg})
}

// validScheduleTime checks HH:MM in 24-hour time.
func validScheduleTime(v string) bool {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return false
	}
	// Normalized form only: "9:5" is rejected, "09:05" accepted.
	return len(parts[0]) == 2 && len(parts[1]) == 2
}
