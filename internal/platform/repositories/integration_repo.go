package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/platform/models"
)

type IntegrationRepository struct {
	db *sql.DB
}

func NewIntegrationRepository(db *sql.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

const integrationColumns = `id, account_id, name, webhook_url, webhook_secret, platform_type,
	is_active, last_test_at, last_test_status, created_at, updated_at`

func (r *IntegrationRepository) Create(in *models.WebhookIntegration) error {
	now := time.Now().Unix()
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	in.IsActive = true
	in.CreatedAt = now
	in.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO webhook_integrations (`+integrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, in.ID, in.AccountID, in.Name, in.URL, in.Secret, in.PlatformType, in.IsActive,
		in.LastTestAt, in.LastTestStatus, in.CreatedAt, in.UpdatedAt)
	return err
}

func (r *IntegrationRepository) GetByID(id string) (*models.WebhookIntegration, error) {
	row := r.db.QueryRow(`SELECT `+integrationColumns+` FROM webhook_integrations WHERE id = ?`, id)
	in, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return in, err
}

// GetActive returns the integration only if it is still enabled.
func (r *IntegrationRepository) GetActive(id string) (*models.WebhookIntegration, error) {
	row := r.db.QueryRow(`
		SELECT `+integrationColumns+` FROM webhook_integrations WHERE id = ? AND is_active = 1
	`, id)
	in, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return in, err
}

func (r *IntegrationRepository) ListByAccount(accountID string) ([]*models.WebhookIntegration, error) {
	rows, err := r.db.Query(`
		SELECT `+integrationColumns+` FROM webhook_integrations
		WHERE account_id = ? ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var integrations []*models.WebhookIntegration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, in)
	}
	return integrations, rows.Err()
}

func (r *IntegrationRepository) Update(in *models.WebhookIntegration) error {
	in.UpdatedAt = time.Now().Unix()
	_, err := r.db.Exec(`
		UPDATE webhook_integrations
		SET name = ?, webhook_url = ?, webhook_secret = ?, platform_type = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, in.Name, in.URL, in.Secret, in.PlatformType, in.IsActive, in.UpdatedAt, in.ID)
	return err
}

func (r *IntegrationRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM webhook_integrations WHERE id = ?`, id)
	return err
}

// RecordTest stores the outcome of the latest delivery or connectivity
// test against this receiver.
func (r *IntegrationRepository) RecordTest(id, status string, at int64) error {
	_, err := r.db.Exec(`
		UPDATE webhook_integrations SET last_test_at = ?, last_test_status = ?, updated_at = ?
		WHERE id = ?
	`, at, status, time.Now().Unix(), id)
	return err
}

func scanIntegration(row rowScanner) (*models.WebhookIntegration, error) {
	var in models.WebhookIntegration
	var name, secret, platform, lastStatus sql.NullString
	var lastTestAt sql.NullInt64

	err := row.Scan(&in.ID, &in.AccountID, &name, &in.URL, &secret, &platform,
		&in.IsActive, &lastTestAt, &lastStatus, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	in.Name = name.String
	in.Secret = secret.String
	in.PlatformType = platform.String
	in.LastTestStatus = lastStatus.String
	if lastTestAt.Valid {
		in.LastTestAt = &lastTestAt.Int64
	}
	return &in, nil
}
