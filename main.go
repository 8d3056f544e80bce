package main

import (
	"log"

	api "fintrack-backend/cmd/api"
	providerdomain "fintrack-backend/internal/provider/domain"
	providerRepo "fintrack-backend/internal/provider/repository"
	providerUsecase "fintrack-backend/internal/provider/usecase"
	receiptdomain "fintrack-backend/internal/receipt/domain"
	receiptRepo "fintrack-backend/internal/receipt/repository"
	receiptUsecase "fintrack-backend/internal/receipt/usecase"
	syncdomain "fintrack-backend/internal/sync/domain"
	syncRepo "fintrack-backend/internal/sync/repository"
	syncUsecase "fintrack-backend/internal/sync/usecase"
	"fintrack-backend/pkg/ai"
	"fintrack-backend/pkg/config"
	"fintrack-backend/pkg/database"
	"fintrack-backend/pkg/gemini"
	"fintrack-backend/pkg/gmail"
	"fintrack-backend/pkg/imapmail"
	"fintrack-backend/pkg/tokencrypt"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(
		&providerdomain.EmailProvider{},
		&syncdomain.SyncJob{},
		&receiptdomain.Receipt{},
		&receiptdomain.ReceiptItem{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	if cfg.TokenCryptKey == "" {
		log.Println("Warning: TOKEN_CRYPT_KEY not set, provider tokens will be stored unencrypted")
	}
	cipher := tokencrypt.New(cfg.TokenCryptKey)

	// Initialize repositories (dependency injection)
	providerRepository := providerRepo.NewProviderRepository(db, cipher)
	jobRepository := syncRepo.NewJobRepository(db)
	receiptRepository := receiptRepo.NewReceiptRepository(db)

	// Initialize mailbox adapters
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI, cfg.SyncPageSize)
	imapService := imapmail.NewService(cfg.SyncPageSize)

	registry := providerdomain.NewRegistry()
	registry.Register(providerdomain.ProviderGmail, gmailService)
	registry.Register(providerdomain.ProviderIMAP, imapService)

	// Gmail is the only adapter with a token refresh flow
	tokenManager := providerUsecase.NewTokenManager(providerRepository, map[providerdomain.ProviderType]providerdomain.TokenRefresher{
		providerdomain.ProviderGmail: gmailService,
	})

	// Initialize AI extractor
	extractor, err := ai.NewExtractorService(ai.Config{
		Provider:      ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:  cfg.GeminiAPIKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
	}, func(apiKey string) ai.ExtractorService {
		return gemini.NewGeminiService(apiKey)
	})
	if err != nil {
		log.Fatal("Failed to initialize AI extractor:", err)
	}
	log.Printf("AI extractor initialized with provider: %s", cfg.AIProvider)

	// Initialize usecases
	ingestService := receiptUsecase.NewIngestService(receiptRepository)
	syncUc := syncUsecase.NewSyncUsecase(
		jobRepository,
		providerRepository,
		registry,
		tokenManager,
		extractor,
		ingestService,
		cfg.ExtractTimeout,
	)
	providerUc := providerUsecase.NewProviderUsecase(providerRepository, jobRepository, registry, cfg.JWTSecret)

	// Jobs left non-terminal by a previous process have no runner; fail them
	// before the API starts so they never block a provider.
	if _, err := syncUc.RecoverInterrupted(); err != nil {
		log.Fatal("Failed to recover interrupted sync jobs:", err)
	}

	// Initialize HTTP handler and start server
	handler := api.NewHandler(providerUc, syncUc, ingestService, cfg)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
