package delivery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"inkwell/internal/pkg/metrics"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
)

const (
	// MaxPostingAttempts bounds webhook retries per article. A job
	// that exhausts them stays completed and visible in the API, it
	// just stops being swept.
	MaxPostingAttempts = 3

	userAgent     = "inkwell-webhook/1.0"
	timestampISO  = "2006-01-02T15:04:05"
	signatureHdr  = "X-Webhook-Signature"
	deliverWindow = 30 * time.Second
)

// Poster pushes finished articles to their account's webhook receiver
// and sweeps the backlog of articles whose publish time has arrived.
type Poster struct {
	jobs         *repositories.JobRepository
	campaigns    *repositories.CampaignRepository
	integrations *repositories.IntegrationRepository
	httpClient   *http.Client
	batchSize    int

	now func() time.Time
}

func NewPoster(
	jobs *repositories.JobRepository,
	campaigns *repositories.CampaignRepository,
	integrations *repositories.IntegrationRepository,
	batchSize int,
) *Poster {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Poster{
		jobs:         jobs,
		campaigns:    campaigns,
		integrations: integrations,
		httpClient:   &http.Client{Timeout: deliverWindow},
		batchSize:    batchSize,
		now:          time.Now,
	}
}

// Sweep delivers every due article once. Failures are recorded on the
// job and retried on the next sweep until the attempt cap.
func (p *Poster) Sweep(ctx context.Context) error {
	due, err := p.jobs.DuePosting(p.now().Unix(), MaxPostingAttempts, p.batchSize)
	if err != nil {
		return fmt.Errorf("list due articles: %w", err)
	}

	for _, job := range due {
		if err := p.Deliver(ctx, job); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("webhook delivery failed")
		}
	}
	return nil
}

// Deliver posts one article to its integration. Only a 200 counts as
// accepted; every other outcome increments the job's attempt counter.
func (p *Poster) Deliver(ctx context.Context, job *models.Job) error {
	if job.IntegrationID == nil {
		return fmt.Errorf("job %s has no integration", job.ID)
	}
	integration, err := p.integrations.GetActive(*job.IntegrationID)
	if err != nil {
		return err
	}
	if integration == nil {
		return p.recordFailure(job, "integration missing or disabled")
	}

	payload, err := p.payload(job)
	if err != nil {
		return p.recordFailure(job, fmt.Sprintf("building payload: %v", err))
	}

	status, err := p.post(ctx, integration, payload)
	if err != nil {
		return p.recordFailure(job, err.Error())
	}
	if status != http.StatusOK {
		return p.recordFailure(job, fmt.Sprintf("receiver returned status %d", status))
	}

	now := p.now().Unix()
	if err := p.jobs.MarkPosted(job.ID, now); err != nil {
		return err
	}
	if job.CampaignID != nil {
		if err := p.campaigns.IncrementPosted(*job.CampaignID); err != nil {
			log.Warn().Err(err).Str("campaign_id", *job.CampaignID).Msg("incrementing posted counter")
		}
	}
	metrics.WebhookDeliveries.WithLabelValues("success").Inc()
	log.Info().Str("job_id", job.ID).Str("integration_id", integration.ID).Msg("article posted")
	return nil
}

// TestConnection sends a signed test event and records the result on
// the integration.
func (p *Poster) TestConnection(ctx context.Context, integration *models.WebhookIntegration) error {
	payload := map[string]interface{}{
		"test":      true,
		"timestamp": p.now().UTC().Format(timestampISO),
	}

	status, err := p.post(ctx, integration, payload)
	result := "success"
	if err != nil || status != http.StatusOK {
		result = "failed"
	}
	if rerr := p.integrations.RecordTest(integration.ID, result, p.now().Unix()); rerr != nil {
		return rerr
	}
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("receiver returned status %d", status)
	}
	return nil
}

// payload builds the delivery document. seo_keywords come from the
// job's brief when one survived the pipeline.
func (p *Poster) payload(job *models.Job) (map[string]interface{}, error) {
	keywords := []string{}
	brief, err := p.jobs.BriefByJob(job.ID)
	if err != nil {
		return nil, err
	}
	if brief != nil && brief.Keywords != nil {
		keywords = brief.Keywords
	}

	payload := map[string]interface{}{
		"job_id":       job.ID,
		"campaign_id":  nil,
		"title":        job.Topic,
		"content":      job.Content,
		"category":     job.Category,
		"seo_keywords": keywords,
		"scheduled_at": nil,
		"created_at":   time.Unix(job.CreatedAt, 0).UTC().Format(timestampISO),
	}
	if job.CampaignID != nil {
		payload["campaign_id"] = *job.CampaignID
	}
	if job.ScheduledAt != nil {
		payload["scheduled_at"] = time.Unix(*job.ScheduledAt, 0).UTC().Format(timestampISO)
	}
	return payload, nil
}

func (p *Poster) post(ctx context.Context, integration *models.WebhookIntegration, payload map[string]interface{}) (int, error) {
	body, err := Canonical(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, integration.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(signatureHdr, Sign(integration.Secret, body))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (p *Poster) recordFailure(job *models.Job, reason string) error {
	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	log.Warn().Str("job_id", job.ID).Str("reason", reason).
		Int("attempt", job.PostingAttempts+1).Msg("webhook delivery attempt failed")
	return p.jobs.RecordPostingFailure(job.ID, reason)
}
