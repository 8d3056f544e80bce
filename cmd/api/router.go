package api

import (
	"net/http"

	providerDelivery "fintrack-backend/internal/provider/delivery"
	providerUsecasePkg "fintrack-backend/internal/provider/usecase"
	receiptDelivery "fintrack-backend/internal/receipt/delivery"
	receiptUsecasePkg "fintrack-backend/internal/receipt/usecase"
	syncDelivery "fintrack-backend/internal/sync/delivery"
	syncUsecasePkg "fintrack-backend/internal/sync/usecase"
	"fintrack-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, providerUc providerUsecasePkg.ProviderUsecase, syncUc syncUsecasePkg.SyncUsecase, ingestSvc receiptUsecasePkg.IngestService, cfg *config.Config) {
	providerHandler := providerDelivery.NewProviderHandler(providerUc)
	syncHandler := syncDelivery.NewSyncHandler(syncUc)
	receiptHandler := receiptDelivery.NewReceiptHandler(ingestSvc)

	authRequired := providerDelivery.AuthMiddleware(cfg.JWTSecret)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Provider routes
		providers := api.Group("/providers")
		{
			// The OAuth vendor redirects here directly; identity rides in the
			// signed state, so no session auth.
			providers.GET("/callback", providerHandler.HandleCallback)

			providers.GET("/connect/:type", authRequired, providerHandler.GetAuthURL)
			providers.POST("/imap", authRequired, providerHandler.ConnectIMAP)
			providers.GET("", authRequired, providerHandler.ListProviders)
			providers.DELETE("/:id", authRequired, providerHandler.Disconnect)
		}

		// Sync routes (protected)
		sync := api.Group("/sync")
		sync.Use(authRequired)
		{
			sync.POST("", syncHandler.StartSync)
			sync.GET("/jobs", syncHandler.ListJobs)
			sync.GET("/jobs/:id", syncHandler.GetJob)
			sync.POST("/jobs/:id/cancel", syncHandler.CancelJob)
		}

		// Receipt routes (protected)
		receipts := api.Group("/receipts")
		receipts.Use(authRequired)
		{
			receipts.GET("", receiptHandler.ListReceipts)
		}
	}
}
