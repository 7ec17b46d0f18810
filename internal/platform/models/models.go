package models

type Account struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Credits      int    `json:"credits"`
	Plan         string `json:"plan"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

type APIKey struct {
	ID         string `json:"id"`
	AccountID  string `json:"account_id"`
	KeyHash    string `json:"-"`
	Name       string `json:"name"`
	Prefix     string `json:"prefix"`
	LastUsedAt *int64 `json:"last_used_at,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	RevokedAt  *int64 `json:"revoked_at,omitempty"`
}

// CreditTransaction is an append-only ledger entry. Rows are never
// updated or deleted; summing amounts per account always equals the
// account's current balance.
type CreditTransaction struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	Amount         int    `json:"amount"`
	BalanceAfter   int    `json:"balance_after"`
	Type           string `json:"type"` // usage, purchase
	ReferenceType  string `json:"reference_type,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
	Description    string `json:"description,omitempty"`
	TokensConsumed int    `json:"tokens_consumed,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}
