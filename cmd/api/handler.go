package api

import (
	providerUsecasePkg "fintrack-backend/internal/provider/usecase"
	receiptUsecasePkg "fintrack-backend/internal/receipt/usecase"
	syncUsecasePkg "fintrack-backend/internal/sync/usecase"
	"fintrack-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	providerUsecase providerUsecasePkg.ProviderUsecase
	syncUsecase     syncUsecasePkg.SyncUsecase
	ingestService   receiptUsecasePkg.IngestService
	config          *config.Config
}

func NewHandler(providerUc providerUsecasePkg.ProviderUsecase, syncUc syncUsecasePkg.SyncUsecase, ingestSvc receiptUsecasePkg.IngestService, cfg *config.Config) *Handler {
	return &Handler{
		providerUsecase: providerUc,
		syncUsecase:     syncUc,
		ingestService:   ingestSvc,
		config:          cfg,
	}
}

func (h *Handler) Start(addr string) error {
	r := gin.Default()
	gin.SetMode(gin.ReleaseMode)

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Setup routes
	SetupRoutes(r, h.providerUsecase, h.syncUsecase, h.ingestService, h.config)

	return r.Run(addr)
}
