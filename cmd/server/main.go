package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"inkwell/internal/api"
	"inkwell/internal/api/handlers"
	"inkwell/internal/api/middleware"
	"inkwell/internal/capabilities"
	"inkwell/internal/engine/delivery"
	"inkwell/internal/engine/ledger"
	"inkwell/internal/engine/scheduler"
	"inkwell/internal/pkg/logger"
	"inkwell/internal/platform/auth"
	"inkwell/internal/platform/config"
	"inkwell/internal/platform/database"
	"inkwell/internal/platform/repositories"
	"inkwell/internal/queue"
)

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("opening database")
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrating database")
	}

	// Repositories and services
	accountRepo := repositories.NewAccountRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	jobRepo := repositories.NewJobRepository(db)
	campaignRepo := repositories.NewCampaignRepository(db)
	integrationRepo := repositories.NewIntegrationRepository(db)
	titleRepo := repositories.NewTitleRepository(db)

	credits := ledger.New(db)
	tokenSvc := auth.NewTokenService(cfg.JWT)
	poster := delivery.NewPoster(jobRepo, campaignRepo, integrationRepo, cfg.Posting.BatchSize)

	generator := capabilities.NewLLMClient(
		cfg.Capabilities.LLMBaseURL, cfg.Capabilities.LLMModel,
		cfg.Capabilities.LLMAPIKey, cfg.Capabilities.Timeout)

	jobQueue, err := openQueue(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("opening queue")
	}
	defer jobQueue.Close()

	sched := scheduler.New(campaignRepo, jobRepo, credits, generator, jobQueue)

	// Handlers
	jobHandler := handlers.NewJobHandler(jobRepo, credits, jobQueue)
	deps := &api.Dependencies{
		AuthHandler:        handlers.NewAuthHandler(accountRepo, credits, tokenSvc),
		APIKeyHandler:      handlers.NewAPIKeyHandler(apiKeyRepo),
		JobHandler:         jobHandler,
		TitleHandler:       handlers.NewTitleHandler(titleRepo, generator, jobHandler, credits),
		CampaignHandler:    handlers.NewCampaignHandler(campaignRepo, sched),
		CreditHandler:      handlers.NewCreditHandler(credits),
		IntegrationHandler: handlers.NewIntegrationHandler(integrationRepo, poster),
		InternalHandler:    handlers.NewInternalHandler(jobRepo, credits, poster),
		HealthHandler:      handlers.NewHealthHandler(db),
		AuthMiddleware:     middleware.NewAuthMiddleware(tokenSvc, apiKeyRepo, accountRepo),
		InternalMiddleware: middleware.NewInternalMiddleware(cfg.Internal.Secret),
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Info().Str("addr", addr).Msg("server starting")
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func openQueue(cfg *config.Config) (queue.Queue, error) {
	if cfg.Queue.Driver == "memory" {
		return queue.NewMemory(0, cfg.Queue.MaxRedeliver), nil
	}
	return queue.NewAMQP(cfg.Queue.URL, cfg.Queue.Name)
}
