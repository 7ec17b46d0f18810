package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"inkwell/internal/pkg/metrics"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
	"inkwell/internal/queue"
)

// Runner drives one job through the ordered stages
// Search -> Scrape -> Analyze -> Write -> Finalize. Hard input failures
// mark the job failed and acknowledge the message; only infrastructure
// errors propagate to the queue for redelivery, so every persistence
// step is idempotent per job id.
type Runner struct {
	jobs       *repositories.JobRepository
	researcher SourceResearcher
	fetcher    SourceFetcher
	generator  ContentGenerator
	notifier   CompletionNotifier

	stageTimeout  time.Duration
	fetchParallel int
	now           func() time.Time
}

func NewRunner(
	jobs *repositories.JobRepository,
	researcher SourceResearcher,
	fetcher SourceFetcher,
	generator ContentGenerator,
	notifier CompletionNotifier,
	stageTimeout time.Duration,
	fetchParallel int,
) *Runner {
	if stageTimeout <= 0 {
		stageTimeout = 2 * time.Minute
	}
	if fetchParallel <= 0 {
		fetchParallel = 4
	}
	return &Runner{
		jobs:          jobs,
		researcher:    researcher,
		fetcher:       fetcher,
		generator:     generator,
		notifier:      notifier,
		stageTimeout:  stageTimeout,
		fetchParallel: fetchParallel,
		now:           time.Now,
	}
}

// Process handles one queue delivery. The returned error is reserved
// for transient infrastructure failures; job-level failures are
// recorded on the job and absorbed.
func (r *Runner) Process(ctx context.Context, msg queue.Message) error {
	job, err := r.jobs.GetByID(msg.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", msg.JobID, err)
	}
	if job == nil {
		log.Warn().Str("job_id", msg.JobID).Msg("message for unknown job, dropping")
		return nil
	}
	if !runnable(job.Status) {
		// Redelivery of a message whose job already finished or failed.
		log.Info().Str("job_id", job.ID).Str("status", job.Status).
			Msg("skipping job outside pipeline states")
		return nil
	}

	logger := log.With().Str("job_id", job.ID).Str("topic", msg.Topic).Logger()

	// Search
	if err := r.jobs.AdvanceStatus(job.ID, models.StatusResearching); err != nil {
		return err
	}
	results, failure, err := r.search(ctx, msg)
	if err != nil {
		return err
	}
	if failure != "" {
		return r.fail(job.ID, failure)
	}
	logger.Info().Int("sources", len(results)).Msg("research complete")

	// Scrape
	if err := r.jobs.AdvanceStatus(job.ID, models.StatusScraping); err != nil {
		return err
	}
	scraped := r.scrape(ctx, results)
	if len(scraped) == 0 {
		return r.fail(job.ID, "failed to extract content from all sources")
	}
	if err := r.persistSources(job.ID, scraped); err != nil {
		return err
	}
	logger.Info().Int("scraped", len(scraped)).Int("dropped", len(results)-len(scraped)).
		Msg("scraping complete")

	// Analyze + Write
	if err := r.jobs.AdvanceStatus(job.ID, models.StatusWriting); err != nil {
		return err
	}
	brief := r.analyze(ctx, msg, scraped)

	written, writeErr := r.write(ctx, msg, brief, scraped)
	if writeErr != nil {
		return r.fail(job.ID, fmt.Sprintf("content generation failed: %v", writeErr))
	}

	// Finalize
	if err := r.finalize(ctx, job, brief, written); err != nil {
		return err
	}
	metrics.JobsProcessed.WithLabelValues("success").Inc()
	logger.Info().Int("tokens", written.TokensUsed).Msg("job complete")
	return nil
}

// search returns a non-empty failure string for the hard zero-result
// case; capability errors also fail the job rather than requeue, since
// redelivering the same topic would hit the same wall.
func (r *Runner) search(ctx context.Context, msg queue.Message) ([]SourceResult, string, error) {
	defer observeStage("search")()
	ctx, cancel := context.WithTimeout(ctx, r.stageTimeout)
	defer cancel()

	results, err := r.researcher.Search(ctx, msg.Topic, msg.SourceCount)
	if err != nil {
		return nil, fmt.Sprintf("source research failed: %v", err), nil
	}
	if len(results) == 0 {
		return nil, fmt.Sprintf("no sources found for %q", msg.Topic), nil
	}
	if len(results) > msg.SourceCount {
		results = results[:msg.SourceCount]
	}
	return results, "", nil
}

// scrape fetches all candidates concurrently and drops the ones that
// fail. Order of survivors follows the research ranking.
func (r *Runner) scrape(ctx context.Context, results []SourceResult) []ScrapedSource {
	defer observeStage("scrape")()
	ctx, cancel := context.WithTimeout(ctx, r.stageTimeout)
	defer cancel()

	contents := make([]string, len(results))
	var mu sync.Mutex
	ok := make([]bool, len(results))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fetchParallel)
	for i, res := range results {
		i, res := i, res
		g.Go(func() error {
			text, err := r.fetcher.Fetch(ctx, res.URL)
			if err != nil || text == "" {
				log.Warn().Err(err).Str("url", res.URL).Msg("dropping source, fetch failed")
				return nil
			}
			mu.Lock()
			contents[i] = text
			ok[i] = true
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	var scraped []ScrapedSource
	for i, res := range results {
		if !ok[i] {
			continue
		}
		scraped = append(scraped, ScrapedSource{
			URL:         res.URL,
			Title:       res.Title,
			FullContent: contents[i],
			Origin:      res.Origin,
		})
	}
	return scraped
}

// persistSources writes survivors before later stages run, so partial
// research survives a downstream failure.
func (r *Runner) persistSources(jobID string, scraped []ScrapedSource) error {
	rows := make([]models.SourceContent, len(scraped))
	for i, s := range scraped {
		rows[i] = models.SourceContent{
			JobID:       jobID,
			URL:         s.URL,
			Title:       s.Title,
			FullContent: s.FullContent,
			Origin:      s.Origin,
		}
	}
	return r.jobs.ReplaceSources(jobID, rows)
}

// analyze never fails the job: a malformed or unavailable brief is
// replaced with an empty one and writing proceeds with degraded
// guidance.
func (r *Runner) analyze(ctx context.Context, msg queue.Message, scraped []ScrapedSource) BriefDraft {
	defer observeStage("analyze")()
	ctx, cancel := context.WithTimeout(ctx, r.stageTimeout)
	defer cancel()

	draft, err := r.generator.Analyze(ctx, AnalyzeRequest{
		Topic:        msg.Topic,
		Category:     msg.Category,
		TargetLength: msg.TargetLength,
		Sources:      scraped,
	})
	if err != nil || draft == nil {
		log.Warn().Err(err).Str("job_id", msg.JobID).Msg("brief generation failed, continuing with empty brief")
		return BriefDraft{Keywords: []string{}, Outline: "[]"}
	}
	return *draft
}

func (r *Runner) write(ctx context.Context, msg queue.Message, brief BriefDraft, scraped []ScrapedSource) (*WriteResult, error) {
	defer observeStage("write")()
	ctx, cancel := context.WithTimeout(ctx, r.stageTimeout)
	defer cancel()

	return r.generator.Write(ctx, WriteRequest{
		Topic:        msg.Topic,
		Category:     msg.Category,
		TargetLength: msg.TargetLength,
		Brief:        brief,
		Sources:      scraped,
	})
}

func (r *Runner) finalize(ctx context.Context, job *models.Job, brief BriefDraft, written *WriteResult) error {
	defer observeStage("finalize")()

	if err := r.jobs.SaveBrief(&models.Brief{
		JobID:    job.ID,
		Keywords: brief.Keywords,
		Outline:  brief.Outline,
		Strategy: brief.Strategy,
	}); err != nil {
		return err
	}

	status := models.StatusCompleted
	if job.ScheduledAt != nil && *job.ScheduledAt > r.now().Unix() {
		status = models.StatusScheduled
	}
	if err := r.jobs.Finalize(job.ID, written.Content, status); err != nil {
		return err
	}

	if err := r.notifier.JobComplete(ctx, job.ID, written.TokensUsed); err != nil {
		// The job itself is done; the control plane sweep will pick
		// up delivery even if this notification is lost.
		log.Warn().Err(err).Str("job_id", job.ID).Msg("completion notification failed")
	}
	return nil
}

func (r *Runner) fail(jobID, message string) error {
	metrics.JobsProcessed.WithLabelValues("failed").Inc()
	log.Error().Str("job_id", jobID).Str("reason", message).Msg("job failed")
	return r.jobs.MarkFailed(jobID, message)
}

// runnable reports whether a job is in a state the pipeline may
// process: freshly queued or abandoned mid-flight by a crashed worker.
func runnable(status string) bool {
	switch models.NormalizeStatus(status) {
	case models.StatusQueued, models.StatusResearching, models.StatusScraping, models.StatusWriting:
		return true
	}
	return false
}

func observeStage(stage string) func() {
	start := time.Now()
	return func() {
		metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
