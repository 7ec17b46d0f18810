package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/platform/models"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, account_id, name, description, topic, category, articles_per_day,
	posting_times, start_date, end_date, total_articles, target_length, source_count,
	integration_id, status, articles_generated, articles_posted, credits_used,
	last_run_at, next_run_at, created_at, updated_at`

func (r *CampaignRepository) Create(c *models.Campaign) error {
	now := time.Now().Unix()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CampaignActive
	}
	if len(c.PostingTimes) == 0 {
		c.PostingTimes = []string{"09:00"}
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	times, err := marshalStrings(c.PostingTimes)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.AccountID, c.Name, c.Description, c.Topic, c.Category, c.ArticlesPerDay,
		times, c.StartDate, nullIfEmpty(c.EndDate), c.TotalArticles, c.TargetLength,
		c.SourceCount, c.IntegrationID, c.Status, c.ArticlesGenerated, c.ArticlesPosted,
		c.CreditsUsed, c.LastRunAt, c.NextRunAt, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	row := r.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *CampaignRepository) ListByAccount(accountID string) ([]*models.Campaign, error) {
	rows, err := r.db.Query(`
		SELECT `+campaignColumns+` FROM campaigns
		WHERE account_id = ? ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

// Active returns campaigns the scheduler should consider: status
// active and inside their date window. ISO date strings compare
// correctly as text.
func (r *CampaignRepository) Active(today string) ([]*models.Campaign, error) {
	rows, err := r.db.Query(`
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = ? AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
	`, models.CampaignActive, today, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

func (r *CampaignRepository) UpdateStatus(id, status string) error {
	_, err := r.db.Exec(`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().Unix(), id)
	return err
}

func (r *CampaignRepository) Update(c *models.Campaign) error {
	times, err := marshalStrings(c.PostingTimes)
	if err != nil {
		return err
	}
	c.UpdatedAt = time.Now().Unix()
	_, err = r.db.Exec(`
		UPDATE campaigns
		SET name = ?, description = ?, topic = ?, category = ?, articles_per_day = ?,
		    posting_times = ?, start_date = ?, end_date = ?, total_articles = ?,
		    target_length = ?, source_count = ?, integration_id = ?, updated_at = ?
		WHERE id = ?
	`, c.Name, c.Description, c.Topic, c.Category, c.ArticlesPerDay, times, c.StartDate,
		nullIfEmpty(c.EndDate), c.TotalArticles, c.TargetLength, c.SourceCount,
		c.IntegrationID, c.UpdatedAt, c.ID)
	return err
}

// CommitRun records a batch's bookkeeping in one statement, so either
// all of a run's counters and its last_run_at become visible or none do.
func (r *CampaignRepository) CommitRun(id string, generated, creditsUsed int, ranAt int64) error {
	_, err := r.db.Exec(`
		UPDATE campaigns
		SET articles_generated = articles_generated + ?,
		    credits_used = credits_used + ?,
		    last_run_at = ?,
		    updated_at = ?
		WHERE id = ?
	`, generated, creditsUsed, ranAt, time.Now().Unix(), id)
	return err
}

func (r *CampaignRepository) IncrementPosted(id string) error {
	_, err := r.db.Exec(`
		UPDATE campaigns SET articles_posted = articles_posted + 1, updated_at = ? WHERE id = ?
	`, time.Now().Unix(), id)
	return err
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var c models.Campaign
	var description, endDate, status sql.NullString
	var times string
	var totalArticles sql.NullInt64
	var integrationID sql.NullString
	var lastRunAt, nextRunAt sql.NullInt64

	err := row.Scan(&c.ID, &c.AccountID, &c.Name, &description, &c.Topic, &c.Category,
		&c.ArticlesPerDay, &times, &c.StartDate, &endDate, &totalArticles, &c.TargetLength,
		&c.SourceCount, &integrationID, &status, &c.ArticlesGenerated, &c.ArticlesPosted,
		&c.CreditsUsed, &lastRunAt, &nextRunAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Description = description.String
	c.EndDate = endDate.String
	c.Status = status.String
	if totalArticles.Valid {
		total := int(totalArticles.Int64)
		c.TotalArticles = &total
	}
	if integrationID.Valid {
		c.IntegrationID = &integrationID.String
	}
	if lastRunAt.Valid {
		c.LastRunAt = &lastRunAt.Int64
	}
	if nextRunAt.Valid {
		c.NextRunAt = &nextRunAt.Int64
	}
	if err := unmarshalStrings(times, &c.PostingTimes); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCampaigns(rows *sql.Rows) ([]*models.Campaign, error) {
	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
