package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"rsi-alert-service/controllers"
	"rsi-alert-service/scheduler"
	"rsi-alert-service/services/catalog"
	"rsi-alert-service/services/history"
	"rsi-alert-service/services/notify"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, cat *catalog.Catalog, sched *scheduler.Scheduler, hub *notify.Hub, archiver *history.Archiver) {
	// Initialize controllers
	subscriptionController := controllers.NewSubscriptionController(db, cat)
	configController := controllers.NewConfigController(db)
	scanController := controllers.NewScanController(sched)
	catalogController := controllers.NewCatalogController(db, cat, archiver)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Guild routes: subscriptions, configuration and manual scans
		guilds := api.Group("/guilds/:guild_id")
		{
			guilds.GET("/subscriptions", subscriptionController.ListSubscriptions)
			guilds.POST("/subscriptions", subscriptionController.CreateSubscription)
			guilds.POST("/subscriptions/bands", subscriptionController.CreateBand)
			guilds.DELETE("/subscriptions", subscriptionController.DeleteUserSubscriptions)
			guilds.DELETE("/subscriptions/:id", subscriptionController.DeleteSubscription)

			guilds.GET("/config", configController.GetConfig)
			guilds.PATCH("/config", configController.UpdateConfig)

			guilds.POST("/scan", scanController.TriggerScan)
		}

		// Catalog routes
		catalogGroup := api.Group("/catalog")
		{
			catalogGroup.GET("", catalogController.GetStats)
			catalogGroup.GET("/search", catalogController.Search)
			catalogGroup.POST("/reload", catalogController.Reload)
			catalogGroup.GET("/:ticker", catalogController.GetInstrument)
		}

		// Persisted RSI snapshots
		rsi := api.Group("/rsi")
		{
			rsi.GET("", catalogController.GetSnapshots)
			rsi.GET("/:ticker", catalogController.GetSnapshot)
		}

		// Archived cycle results
		api.GET("/history", catalogController.GetHistory)
	}

	// WebSocket alert stream
	router.GET("/ws/alerts", func(c *gin.Context) {
		hub.HandleWebSocket(c.Writer, c.Request)
	})
}
