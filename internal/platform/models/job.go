package models

// Job is one article-generation request and its tracked lifecycle.
// Status moves along the graph in status.go; posting fields are owned
// exclusively by the delivery subsystem.
type Job struct {
	ID            string  `json:"id"`
	AccountID     string  `json:"account_id"`
	CampaignID    *string `json:"campaign_id,omitempty"`
	IntegrationID *string `json:"integration_id,omitempty"`

	RawQuery     string `json:"raw_query"`
	Topic        string `json:"topic"`
	Category     string `json:"category"`
	TargetLength int    `json:"target_length"`
	SourceCount  int    `json:"source_count"`

	Status       string `json:"status"`
	ScheduledAt  *int64 `json:"scheduled_at,omitempty"`
	Timezone     string `json:"timezone"`
	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
	IsRecurring  bool   `json:"is_recurring"`

	PostedAt         *int64 `json:"posted_at,omitempty"`
	PostingAttempts  int    `json:"posting_attempt_count"`
	LastPostingError string `json:"last_posting_error,omitempty"`

	TokensUsed int    `json:"tokens_used"`
	Content    string `json:"content,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// SourceContent is one fetched source for a job. Immutable once written;
// rows cascade with their parent job.
type SourceContent struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	FullContent string `json:"full_content"`
	Origin      string `json:"source_origin"`
}

// Brief is the keyword/outline/strategy artifact produced by the
// analyze stage, 1:1 with its job.
type Brief struct {
	ID       string   `json:"id"`
	JobID    string   `json:"job_id"`
	Keywords []string `json:"keywords"`
	Outline  string   `json:"outline"` // JSON document as produced by the generator
	Strategy string   `json:"strategy"`
}

// JobTitle is a generated title candidate awaiting user review.
type JobTitle struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"` // generated, approved, rejected
	CreatedAt   int64  `json:"created_at"`
}
