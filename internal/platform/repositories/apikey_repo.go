package repositories

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/platform/models"
)

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// HashKey is the storage form of a raw key. Raw keys are shown once at
// creation and never persisted.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (r *APIKeyRepository) Create(k *models.APIKey) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	k.CreatedAt = time.Now().Unix()

	_, err := r.db.Exec(`
		INSERT INTO api_keys (id, account_id, key_hash, name, prefix, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, k.ID, k.AccountID, k.KeyHash, k.Name, k.Prefix, k.CreatedAt)
	return err
}

// GetByRawKey resolves an unrevoked key by hashing the presented value.
func (r *APIKeyRepository) GetByRawKey(raw string) (*models.APIKey, error) {
	row := r.db.QueryRow(`
		SELECT id, account_id, key_hash, name, prefix, last_used_at, created_at, revoked_at
		FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL
	`, HashKey(raw))

	var k models.APIKey
	var lastUsed, revoked sql.NullInt64
	err := row.Scan(&k.ID, &k.AccountID, &k.KeyHash, &k.Name, &k.Prefix, &lastUsed, &k.CreatedAt, &revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Int64
	}
	if revoked.Valid {
		k.RevokedAt = &revoked.Int64
	}
	return &k, nil
}

func (r *APIKeyRepository) ListByAccount(accountID string) ([]*models.APIKey, error) {
	rows, err := r.db.Query(`
		SELECT id, account_id, key_hash, name, prefix, last_used_at, created_at, revoked_at
		FROM api_keys WHERE account_id = ? ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		var lastUsed, revoked sql.NullInt64
		if err := rows.Scan(&k.ID, &k.AccountID, &k.KeyHash, &k.Name, &k.Prefix, &lastUsed, &k.CreatedAt, &revoked); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			k.LastUsedAt = &lastUsed.Int64
		}
		if revoked.Valid {
			k.RevokedAt = &revoked.Int64
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) TouchLastUsed(id string) error {
	_, err := r.db.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}

func (r *APIKeyRepository) Revoke(id, accountID string) error {
	_, err := r.db.Exec(`
		UPDATE api_keys SET revoked_at = ? WHERE id = ? AND account_id = ? AND revoked_at IS NULL
	`, time.Now().Unix(), id, accountID)
	return err
}
