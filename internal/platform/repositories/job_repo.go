package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/platform/models"
)

// ErrInvalidTransition is returned when a status write would leave the
// job state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrRetryLimit is returned when a failed job has exhausted its
// lifetime retry budget.
var ErrRetryLimit = errors.New("retry limit reached")

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, account_id, campaign_id, integration_id, raw_query, topic, category,
	target_length, source_count, status, scheduled_at, timezone, error_message, retry_count,
	is_recurring, posted_at, posting_attempt_count, last_posting_error, tokens_used, content,
	created_at, updated_at`

func (r *JobRepository) Create(job *models.Job) error {
	now := time.Now().Unix()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.StatusQueued
	}
	if job.Timezone == "" {
		job.Timezone = "UTC"
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.AccountID, job.CampaignID, job.IntegrationID, job.RawQuery, job.Topic,
		job.Category, job.TargetLength, job.SourceCount, job.Status, job.ScheduledAt,
		job.Timezone, job.ErrorMessage, job.RetryCount, job.IsRecurring, job.PostedAt,
		job.PostingAttempts, job.LastPostingError, job.TokensUsed, job.Content,
		job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *JobRepository) GetByID(id string) (*models.Job, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (r *JobRepository) List(accountID string, limit, offset int) ([]*models.Job, error) {
	rows, err := r.db.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// UpdateStatus moves a job along the state machine, rejecting edges
// outside the transition graph.
func (r *JobRepository) UpdateStatus(id, to string) error {
	return r.transition(id, to, "")
}

// Pipeline stage ordering used by AdvanceStatus to make redelivered
// messages repeat-safe.
var stageOrder = map[string]int{
	models.StatusQueued:      0,
	models.StatusResearching: 1,
	models.StatusScraping:    2,
	models.StatusWriting:     3,
}

// AdvanceStatus moves a job forward to a pipeline stage. If the job
// already reached (or passed) that stage — a redelivered message
// re-running earlier stages — it is a no-op instead of an invalid
// backward edge.
func (r *JobRepository) AdvanceStatus(id, to string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&current); err != nil {
		return err
	}
	cur, curOK := stageOrder[models.NormalizeStatus(current)]
	target, targetOK := stageOrder[models.NormalizeStatus(to)]
	if curOK && targetOK && cur >= target {
		return nil
	}
	if !models.ValidTransition(current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
	}

	if _, err := tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		to, time.Now().Unix(), id); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkFailed transitions the job to failed and records the reason.
func (r *JobRepository) MarkFailed(id, message string) error {
	return r.transition(id, models.StatusFailed, message)
}

func (r *JobRepository) transition(id, to, errorMessage string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&current); err != nil {
		return err
	}
	if !models.ValidTransition(current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
	}

	if errorMessage != "" {
		_, err = tx.Exec(`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			to, errorMessage, time.Now().Unix(), id)
	} else {
		_, err = tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
			to, time.Now().Unix(), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Finalize stores the generated content and moves the job to its
// terminal generation state (completed or scheduled).
func (r *JobRepository) Finalize(id, content, to string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&current); err != nil {
		return err
	}
	if !models.ValidTransition(current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
	}

	_, err = tx.Exec(`
		UPDATE jobs SET content = ?, status = ?, error_message = NULL, updated_at = ?
		WHERE id = ?
	`, content, to, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceSources persists the surviving research sources for a job.
// Delete-then-insert keyed by job id keeps redelivered messages from
// duplicating rows.
func (r *JobRepository) ReplaceSources(jobID string, sources []models.SourceContent) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM source_contents WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	for _, src := range sources {
		id := src.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.Exec(`
			INSERT INTO source_contents (id, job_id, url, title, full_content, source_origin)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, jobID, src.URL, src.Title, src.FullContent, src.Origin)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *JobRepository) SourcesByJob(jobID string) ([]*models.SourceContent, error) {
	rows, err := r.db.Query(`
		SELECT id, job_id, url, title, full_content, source_origin
		FROM source_contents WHERE job_id = ?
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*models.SourceContent
	for rows.Next() {
		var s models.SourceContent
		var title, content, origin sql.NullString
		if err := rows.Scan(&s.ID, &s.JobID, &s.URL, &title, &content, &origin); err != nil {
			return nil, err
		}
		s.Title = title.String
		s.FullContent = content.String
		s.Origin = origin.String
		sources = append(sources, &s)
	}
	return sources, rows.Err()
}

// SaveBrief upserts the 1:1 brief for a job.
func (r *JobRepository) SaveBrief(brief *models.Brief) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM briefs WHERE job_id = ?`, brief.JobID); err != nil {
		return err
	}
	if brief.ID == "" {
		brief.ID = uuid.New().String()
	}
	keywords, err := marshalStrings(brief.Keywords)
	if err != nil {
		return err
	}
	outline := brief.Outline
	if outline == "" {
		outline = "[]"
	}
	_, err = tx.Exec(`
		INSERT INTO briefs (id, job_id, keywords, outline, strategy)
		VALUES (?, ?, ?, ?, ?)
	`, brief.ID, brief.JobID, keywords, outline, brief.Strategy)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *JobRepository) BriefByJob(jobID string) (*models.Brief, error) {
	var b models.Brief
	var keywords string
	var strategy sql.NullString
	err := r.db.QueryRow(`
		SELECT id, job_id, keywords, outline, strategy FROM briefs WHERE job_id = ?
	`, jobID).Scan(&b.ID, &b.JobID, &keywords, &b.Outline, &strategy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	b.Strategy = strategy.String
	if err := unmarshalStrings(keywords, &b.Keywords); err != nil {
		return nil, err
	}
	return &b, nil
}

// TopicsByCampaign returns the topics of every job a campaign has
// produced, used for duplicate-title filtering.
func (r *JobRepository) TopicsByCampaign(campaignID string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT topic FROM jobs WHERE campaign_id = ? AND topic IS NOT NULL AND topic != ''
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// DuePosting returns jobs eligible for webhook delivery: generation
// finished, receiver attached, not posted, scheduled time passed, and
// still under the attempt ceiling.
func (r *JobRepository) DuePosting(now int64, maxAttempts, limit int) ([]*models.Job, error) {
	rows, err := r.db.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN (?, ?)
		  AND integration_id IS NOT NULL
		  AND posted_at IS NULL
		  AND posting_attempt_count < ?
		  AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY created_at
		LIMIT ?
	`, models.StatusCompleted, models.StatusScheduled, maxAttempts, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// MarkPosted records a confirmed delivery.
func (r *JobRepository) MarkPosted(id string, postedAt int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&current); err != nil {
		return err
	}
	if !models.ValidTransition(current, models.StatusPosted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, models.StatusPosted)
	}

	_, err = tx.Exec(`
		UPDATE jobs SET status = ?, posted_at = ?, last_posting_error = NULL, updated_at = ?
		WHERE id = ?
	`, models.StatusPosted, postedAt, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RecordPostingFailure bumps the attempt counter and keeps the error.
// The job's lifecycle status is left untouched.
func (r *JobRepository) RecordPostingFailure(id, message string) error {
	_, err := r.db.Exec(`
		UPDATE jobs
		SET posting_attempt_count = posting_attempt_count + 1, last_posting_error = ?, updated_at = ?
		WHERE id = ?
	`, message, time.Now().Unix(), id)
	return err
}

func (r *JobRepository) SetTokensUsed(id string, tokens int) error {
	_, err := r.db.Exec(`UPDATE jobs SET tokens_used = ?, updated_at = ? WHERE id = ?`,
		tokens, time.Now().Unix(), id)
	return err
}

// RequeueForRetry re-arms a failed job for another pipeline run. Only
// failed jobs under the lifetime retry cap qualify.
func (r *JobRepository) RequeueForRetry(id string, maxRetries int) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	var retries int
	if err := tx.QueryRow(`SELECT status, retry_count FROM jobs WHERE id = ?`, id).Scan(&status, &retries); err != nil {
		return err
	}
	if status != models.StatusFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, models.StatusQueued)
	}
	if retries >= maxRetries {
		return fmt.Errorf("%w (%d)", ErrRetryLimit, maxRetries)
	}

	_, err = tx.Exec(`
		UPDATE jobs
		SET status = ?, error_message = NULL, retry_count = retry_count + 1, updated_at = ?
		WHERE id = ?
	`, models.StatusQueued, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateEditable writes the user-editable fields (topic, category,
// content). Status changes go through UpdateStatus.
func (r *JobRepository) UpdateEditable(job *models.Job) error {
	_, err := r.db.Exec(`
		UPDATE jobs SET topic = ?, category = ?, content = ?, updated_at = ?
		WHERE id = ?
	`, job.Topic, job.Category, job.Content, time.Now().Unix(), job.ID)
	return err
}

func (r *JobRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	return err
}

type JobStats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Completed int `json:"completed"`
	Posted    int `json:"posted"`
	Failed    int `json:"failed"`
}

func (r *JobRepository) Stats(accountID string) (*JobStats, error) {
	rows, err := r.db.Query(`
		SELECT status, COUNT(*) FROM jobs WHERE account_id = ? GROUP BY status
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &JobStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch status {
		case models.StatusQueued:
			stats.Queued = count
		case models.StatusCompleted:
			stats.Completed = count
		case models.StatusPosted:
			stats.Posted = count
		case models.StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var campaignID, integrationID sql.NullString
	var topic, category, errorMessage, lastPostingError, content sql.NullString
	var scheduledAt, postedAt sql.NullInt64

	err := row.Scan(&j.ID, &j.AccountID, &campaignID, &integrationID, &j.RawQuery, &topic,
		&category, &j.TargetLength, &j.SourceCount, &j.Status, &scheduledAt, &j.Timezone,
		&errorMessage, &j.RetryCount, &j.IsRecurring, &postedAt, &j.PostingAttempts,
		&lastPostingError, &j.TokensUsed, &content, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if campaignID.Valid {
		j.CampaignID = &campaignID.String
	}
	if integrationID.Valid {
		j.IntegrationID = &integrationID.String
	}
	if scheduledAt.Valid {
		j.ScheduledAt = &scheduledAt.Int64
	}
	if postedAt.Valid {
		j.PostedAt = &postedAt.Int64
	}
	j.Topic = topic.String
	j.Category = category.String
	j.ErrorMessage = errorMessage.String
	j.LastPostingError = lastPostingError.String
	j.Content = content.String
	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
