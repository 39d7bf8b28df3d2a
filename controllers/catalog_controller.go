package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"rsi-alert-service/models"
	"rsi-alert-service/scheduler"
	"rsi-alert-service/services/catalog"
	"rsi-alert-service/services/history"
)

// CatalogController handles instrument catalog and snapshot requests
type CatalogController struct {
	db       *gorm.DB
	catalog  *catalog.Catalog
	archiver *history.Archiver
}

// NewCatalogController creates a new catalog controller
func NewCatalogController(db *gorm.DB, cat *catalog.Catalog, archiver *history.Archiver) *CatalogController {
	return &CatalogController{db: db, catalog: cat, archiver: archiver}
}

// GetStats returns catalog size and archive status
// GET /api/v1/catalog
func (cc *CatalogController) GetStats(c *gin.Context) {
	var snapshots int64
	if err := cc.db.Model(&models.TickerRSI{}).Count(&snapshots).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count snapshots"})
		return
	}

	archive := "disabled"
	if cc.archiver != nil {
		archive = cc.archiver.Status()
	}

	c.JSON(http.StatusOK, gin.H{
		"instruments":   cc.catalog.Len(),
		"rsi_snapshots": snapshots,
		"cycle_archive": archive,
	})
}

// Search looks up instruments by ticker or name
// GET /api/v1/catalog/search?q=...
func (cc *CatalogController) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q query parameter required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))

	results := cc.catalog.Search(query, limit)
	c.JSON(http.StatusOK, gin.H{
		"data":  results,
		"count": len(results),
	})
}

// GetInstrument returns one instrument with its latest RSI snapshot
// GET /api/v1/catalog/:ticker
func (cc *CatalogController) GetInstrument(c *gin.Context) {
	ticker := strings.ToUpper(c.Param("ticker"))

	inst, ok := cc.catalog.Lookup(ticker)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown ticker: " + ticker})
		return
	}

	response := gin.H{
		"ticker":    inst.Ticker,
		"name":      inst.Name,
		"chart_url": inst.ChartURL(),
		"region":    scheduler.ClassifyRegion(inst.Ticker),
	}

	var snapshot models.TickerRSI
	err := cc.db.Where("ticker = ?", ticker).First(&snapshot).Error
	if err == nil {
		response["rsi"] = snapshot
	} else if err != gorm.ErrRecordNotFound {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load snapshot"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": response})
}

// Reload re-reads the catalog CSV from disk
// POST /api/v1/catalog/reload
func (cc *CatalogController) Reload(c *gin.Context) {
	if err := cc.catalog.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instruments": cc.catalog.Len()})
}

// GetSnapshots returns persisted RSI snapshots, most recently updated first
// GET /api/v1/rsi?limit=...
func (cc *CatalogController) GetSnapshots(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var snapshots []models.TickerRSI
	if err := cc.db.Order("updated_at desc").Limit(limit).Find(&snapshots).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load snapshots"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  snapshots,
		"count": len(snapshots),
	})
}

// GetSnapshot returns the persisted RSI snapshot for one ticker
// GET /api/v1/rsi/:ticker
func (cc *CatalogController) GetSnapshot(c *gin.Context) {
	ticker := strings.ToUpper(c.Param("ticker"))

	var snapshot models.TickerRSI
	if err := cc.db.Where("ticker = ?", ticker).First(&snapshot).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "No snapshot for ticker: " + ticker})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load snapshot"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshot})
}

// GetHistory returns recently archived cycle results
// GET /api/v1/history?guild_id=...&limit=...
func (cc *CatalogController) GetHistory(c *gin.Context) {
	if cc.archiver == nil || !cc.archiver.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cycle archive not available"})
		return
	}

	guildID, _ := strconv.ParseInt(c.Query("guild_id"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	results, err := cc.archiver.Recent(c.Request.Context(), guildID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  results,
		"count": len(results),
	})
}
