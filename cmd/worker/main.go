package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"inkwell/internal/capabilities"
	"inkwell/internal/engine/delivery"
	"inkwell/internal/engine/ledger"
	"inkwell/internal/engine/pipeline"
	"inkwell/internal/engine/scheduler"
	"inkwell/internal/pkg/logger"
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

	jobRepo := repositories.NewJobRepository(db)
	campaignRepo := repositories.NewCampaignRepository(db)
	integrationRepo := repositories.NewIntegrationRepository(db)
	credits := ledger.New(db)

	researcher := capabilities.NewSearchClient(
		cfg.Capabilities.SearchURL, cfg.Capabilities.SearchRateLimit, cfg.Capabilities.Timeout)
	fetcher := capabilities.NewExtractClient(cfg.Capabilities.ExtractURL, cfg.Capabilities.Timeout)
	generator := capabilities.NewLLMClient(
		cfg.Capabilities.LLMBaseURL, cfg.Capabilities.LLMModel,
		cfg.Capabilities.LLMAPIKey, cfg.Capabilities.Timeout)
	notifier := capabilities.NewInternalNotifier(cfg.Internal.APIURL, cfg.Internal.Secret, 30*time.Second)

	runner := pipeline.NewRunner(jobRepo, researcher, fetcher, generator, notifier,
		cfg.Worker.StageTimeout, cfg.Worker.FetchParallel)

	jobQueue, err := openQueue(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("opening queue")
	}
	defer jobQueue.Close()

	sched := scheduler.New(campaignRepo, jobRepo, credits, generator, jobQueue)
	poster := delivery.NewPoster(jobRepo, campaignRepo, integrationRepo, cfg.Posting.BatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runScheduler(ctx, sched, cfg.Scheduler.Interval)
	go runPostingSweep(ctx, poster, cfg.Posting.Interval)

	log.Info().Int("workers", cfg.Worker.Count).Msg("worker pool starting")
	if err := jobQueue.Consume(ctx, cfg.Worker.Count, runner.Process); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("queue consumer failed")
	}
	log.Info().Msg("worker shut down")
}

// runScheduler fires campaign batches on an interval far shorter than a
// day; per-campaign daily idempotence lives in the scheduler itself.
func runScheduler(ctx context.Context, sched *scheduler.Scheduler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sched.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("scheduler run failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func runPostingSweep(ctx context.Context, poster *delivery.Poster, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := poster.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("posting sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func openQueue(cfg *config.Config) (queue.Queue, error) {
	if cfg.Queue.Driver == "memory" {
		return queue.NewMemory(0, cfg.Queue.MaxRedeliver), nil
	}
	return queue.NewAMQP(cfg.Queue.URL, cfg.Queue.Name)
}
