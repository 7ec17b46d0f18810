package repositories

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/platform/models"
)

type TitleRepository struct {
	db *sql.DB
}

func NewTitleRepository(db *sql.DB) *TitleRepository {
	return &TitleRepository{db: db}
}

func (r *TitleRepository) Create(t *models.JobTitle) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = "generated"
	}
	t.CreatedAt = time.Now().Unix()

	_, err := r.db.Exec(`
		INSERT INTO job_titles (id, account_id, title, description, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.AccountID, t.Title, t.Description, t.Status, t.CreatedAt)
	return err
}

func (r *TitleRepository) GetByID(id, accountID string) (*models.JobTitle, error) {
	t := &models.JobTitle{}
	err := r.db.QueryRow(`
		SELECT id, account_id, title, description, status, created_at
		FROM job_titles WHERE id = ? AND account_id = ?
	`, id, accountID).Scan(&t.ID, &t.AccountID, &t.Title, &t.Description, &t.Status, &t.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *TitleRepository) GetByIDs(ids []string, accountID string) ([]*models.JobTitle, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, accountID)

	rows, err := r.db.Query(`
		SELECT id, account_id, title, description, status, created_at
		FROM job_titles WHERE id IN (`+placeholders+`) AND account_id = ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []*models.JobTitle
	for rows.Next() {
		t := &models.JobTitle{}
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Title, &t.Description, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

func (r *TitleRepository) UpdateVerification(id, title, status string) error {
	_, err := r.db.Exec(`UPDATE job_titles SET title = ?, status = ? WHERE id = ?`,
		title, status, id)
	return err
}
