package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/platform/models"
)

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(a *models.Account) error {
	now := time.Now().Unix()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Plan == "" {
		a.Plan = "free"
	}
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO accounts (id, username, email, password_hash, credits, plan, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Username, a.Email, a.PasswordHash, a.Credits, a.Plan, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *AccountRepository) GetByID(id string) (*models.Account, error) {
	return r.getBy(`id = ?`, id)
}

func (r *AccountRepository) GetByEmail(email string) (*models.Account, error) {
	return r.getBy(`email = ?`, email)
}

func (r *AccountRepository) getBy(where string, arg interface{}) (*models.Account, error) {
	a := &models.Account{}
	err := r.db.QueryRow(`
		SELECT id, username, email, password_hash, credits, plan, created_at, updated_at
		FROM accounts WHERE `+where, arg).
		Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Credits, &a.Plan,
			&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}
