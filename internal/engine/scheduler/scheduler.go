package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"inkwell/internal/engine/ledger"
	"inkwell/internal/pkg/metrics"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
	"inkwell/internal/queue"
)

// TitleGenerator produces candidate article titles for a campaign topic.
type TitleGenerator interface {
	GenerateTitles(ctx context.Context, topic string, count int) ([]string, error)
}

// Scheduler turns each active campaign into at most one batch of jobs
// per calendar day. Credits are reserved title by title before any job
// exists, the campaign counters move in a single commit, and messages
// are enqueued only after that commit so a crash never double-bills a
// day.
type Scheduler struct {
	campaigns *repositories.CampaignRepository
	jobs      *repositories.JobRepository
	credits   *ledger.Ledger
	titles    TitleGenerator
	queue     queue.Queue

	now func() time.Time
}

func New(
	campaigns *repositories.CampaignRepository,
	jobs *repositories.JobRepository,
	credits *ledger.Ledger,
	titles TitleGenerator,
	q queue.Queue,
) *Scheduler {
	return &Scheduler{
		campaigns: campaigns,
		jobs:      jobs,
		credits:   credits,
		titles:    titles,
		queue:     q,
		now:       time.Now,
	}
}

// RunOnce processes every campaign due today. Called from a ticker; a
// campaign that already ran today is skipped, so the tick interval can
// be much shorter than a day.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	today := s.now().UTC().Format("2006-01-02")
	campaigns, err := s.campaigns.Active(today)
	if err != nil {
		return fmt.Errorf("list active campaigns: %w", err)
	}

	for _, c := range campaigns {
		if err := s.RunCampaign(ctx, c); err != nil {
			log.Error().Err(err).Str("campaign_id", c.ID).Msg("campaign batch failed")
		}
	}
	return nil
}

// RunCampaign generates one day's batch for a single campaign. Also
// called directly when a campaign is created, so its first batch does
// not wait for the next tick.
func (s *Scheduler) RunCampaign(ctx context.Context, c *models.Campaign) error {
	now := s.now().UTC()
	today := now.Format("2006-01-02")

	if c.LastRunAt != nil && time.Unix(*c.LastRunAt, 0).UTC().Format("2006-01-02") == today {
		return nil
	}

	quota := c.ArticlesPerDay
	if c.TotalArticles != nil {
		remaining := *c.TotalArticles - c.ArticlesGenerated
		if remaining <= 0 {
			log.Info().Str("campaign_id", c.ID).Msg("campaign reached its article cap")
			return s.campaigns.UpdateStatus(c.ID, models.CampaignCompleted)
		}
		if remaining < quota {
			quota = remaining
		}
	}

	// A campaign that cannot afford a full day pauses rather than
	// producing partial batches day after day.
	balance, err := s.credits.Balance(ctx, c.AccountID)
	if err != nil {
		return fmt.Errorf("check balance: %w", err)
	}
	if balance < c.ArticlesPerDay {
		log.Warn().Str("campaign_id", c.ID).Int("balance", balance).
			Int("needed", c.ArticlesPerDay).Msg("insufficient credits, pausing campaign")
		return s.campaigns.UpdateStatus(c.ID, models.CampaignPaused)
	}

	titles, err := s.titles.GenerateTitles(ctx, c.Topic, quota)
	if err != nil {
		return fmt.Errorf("generate titles: %w", err)
	}
	titles, err = s.dedupe(c.ID, titles)
	if err != nil {
		return err
	}
	if len(titles) > quota {
		titles = titles[:quota]
	}
	if len(titles) == 0 {
		log.Info().Str("campaign_id", c.ID).Msg("no fresh titles for campaign today")
		return s.campaigns.CommitRun(c.ID, 0, 0, now.Unix())
	}

	var created []*models.Job
	for i, title := range titles {
		ok, err := s.credits.Reserve(ctx, c.AccountID, 1, ledger.Ref{
			Type:        "campaign",
			ID:          c.ID,
			Description: fmt.Sprintf("campaign article: %s", title),
		})
		if err != nil {
			return fmt.Errorf("reserve credit: %w", err)
		}
		if !ok {
			log.Warn().Str("campaign_id", c.ID).Int("created", len(created)).
				Msg("credits ran out mid-batch")
			break
		}

		scheduledAt := s.slotFor(c, i, now).Unix()
		job := &models.Job{
			AccountID:     c.AccountID,
			CampaignID:    &c.ID,
			IntegrationID: c.IntegrationID,
			RawQuery:      c.Topic,
			Topic:         title,
			Category:      c.Category,
			TargetLength:  c.TargetLength,
			SourceCount:   c.SourceCount,
			ScheduledAt:   &scheduledAt,
			Timezone:      "UTC",
			IsRecurring:   true,
		}
		if err := s.jobs.Create(job); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		created = append(created, job)
	}

	if err := s.campaigns.CommitRun(c.ID, len(created), len(created), now.Unix()); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	metrics.CampaignBatches.Inc()

	// Enqueue after the commit. A publish failure leaves the job
	// failed and retryable instead of silently stuck in queued.
	for _, job := range created {
		if err := s.queue.Publish(ctx, queue.Message{
			JobID:        job.ID,
			Topic:        job.Topic,
			Category:     job.Category,
			TargetLength: job.TargetLength,
			SourceCount:  job.SourceCount,
		}); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
			if ferr := s.jobs.MarkFailed(job.ID, "could not enqueue generation job"); ferr != nil {
				log.Error().Err(ferr).Str("job_id", job.ID).Msg("marking job failed")
			}
		}
	}

	log.Info().Str("campaign_id", c.ID).Int("jobs", len(created)).Msg("campaign batch committed")
	return nil
}

// dedupe drops titles the campaign has already generated, preserving
// order. Comparison is case-insensitive.
func (s *Scheduler) dedupe(campaignID string, titles []string) ([]string, error) {
	existing, err := s.jobs.TopicsByCampaign(campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign topics: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[strings.ToLower(strings.TrimSpace(t))] = true
	}

	var fresh []string
	for _, t := range titles {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		fresh = append(fresh, t)
	}
	return fresh, nil
}

// slotFor maps the i-th article of the batch to the campaign's posting
// times for today. Articles beyond the configured slots reuse the first
// slot, and a campaign with no slots posts at midnight.
func (s *Scheduler) slotFor(c *models.Campaign, i int, now time.Time) time.Time {
	slot := "00:00"
	if len(c.PostingTimes) > 0 {
		if i < len(c.PostingTimes) {
			slot = c.PostingTimes[i]
		} else {
			slot = c.PostingTimes[0]
		}
	}

	t, err := time.Parse("15:04", slot)
	if err != nil {
		log.Warn().Str("campaign_id", c.ID).Str("slot", slot).Msg("unparseable posting time, using midnight")
		t = time.Time{}
	}
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}
