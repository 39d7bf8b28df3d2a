package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rsi-alert-service/scheduler"
)

// ScanController handles manual scan triggers
type ScanController struct {
	scheduler *scheduler.Scheduler
}

// NewScanController creates a new scan controller
func NewScanController(s *scheduler.Scheduler) *ScanController {
	return &ScanController{scheduler: s}
}

// TriggerScan runs a full scan cycle for a guild immediately. Manual scans
// run even when the guild's schedule is disabled, but share the per-guild
// lock with scheduled cycles.
// POST /api/v1/guilds/:guild_id/scan
func (sc *ScanController) TriggerScan(c *gin.Context) {
	guildID, err := strconv.ParseInt(c.Param("guild_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid guild id"})
		return
	}

	result, err := sc.scheduler.RunNow(guildID)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrCycleBusy):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, scheduler.ErrStoreUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
