package models

const (
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

// Campaign is a recurring configuration that spawns a bounded batch of
// jobs once per eligible calendar day. Campaigns are never hard-deleted;
// cancellation is a status change.
type Campaign struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Topic          string   `json:"topic"`
	Category       string   `json:"category"`
	ArticlesPerDay int      `json:"articles_per_day"`
	PostingTimes   []string `json:"posting_times"` // "HH:MM", stored as JSON
	StartDate      string   `json:"start_date"`    // ISO date, inclusive
	EndDate        string   `json:"end_date,omitempty"`
	TotalArticles  *int     `json:"total_articles,omitempty"`
	TargetLength   int      `json:"target_length"`
	SourceCount    int      `json:"source_count"`
	IntegrationID  *string  `json:"integration_id,omitempty"`

	Status            string `json:"status"`
	ArticlesGenerated int    `json:"articles_generated"`
	ArticlesPosted    int    `json:"articles_posted"`
	CreditsUsed       int    `json:"credits_used"`

	LastRunAt *int64 `json:"last_run_at,omitempty"`
	NextRunAt *int64 `json:"next_run_at,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// WebhookIntegration is an externally configured receiver for completed
// articles.
type WebhookIntegration struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	Name           string `json:"name"`
	URL            string `json:"webhook_url"`
	Secret         string `json:"-"`
	PlatformType   string `json:"platform_type,omitempty"`
	IsActive       bool   `json:"is_active"`
	LastTestAt     *int64 `json:"last_test_at,omitempty"`
	LastTestStatus string `json:"last_test_status,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}
