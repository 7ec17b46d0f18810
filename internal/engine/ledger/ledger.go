package ledger

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/platform/models"
)

// TokensPerCredit is the token-to-credit exchange rate for usage
// charges.
const TokensPerCredit = 2000

const (
	TypeUsage    = "usage"
	TypePurchase = "purchase"
)

// CreditsForTokens rounds token consumption up to whole credits, with a
// minimum charge of one.
func CreditsForTokens(tokens int) int {
	credits := (tokens + TokensPerCredit - 1) / TokensPerCredit
	if credits < 1 {
		return 1
	}
	return credits
}

// Ref ties a ledger entry to the job or campaign that caused it.
type Ref struct {
	Type        string
	ID          string
	Description string
}

// Ledger owns every balance mutation. Each mutation pairs the balance
// update with exactly one transaction row in the same database
// transaction, and mutations for one account are serialized so
// concurrent reservations cannot overdraw.
type Ledger struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, locks: make(map[string]*sync.Mutex)}
}

func (l *Ledger) accountLock(accountID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[accountID] = lock
	}
	return lock
}

// Reserve debits amount if and only if the balance covers it. Returns
// false with no state change otherwise.
func (l *Ledger) Reserve(ctx context.Context, accountID string, amount int, ref Ref) (bool, error) {
	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET credits = credits - ?, updated_at = ?
		WHERE id = ? AND credits >= ?
	`, amount, time.Now().Unix(), accountID, amount)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if err := l.appendEntry(ctx, tx, accountID, -amount, TypeUsage, ref, 0); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Credit adds amount to the balance unconditionally.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int, txType string, ref Ref) error {
	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `UPDATE accounts SET credits = credits + ?, updated_at = ? WHERE id = ?`,
		amount, time.Now().Unix(), accountID)
	if err != nil {
		return err
	}
	if err := l.appendEntry(ctx, tx, accountID, amount, txType, ref, 0); err != nil {
		return err
	}
	return tx.Commit()
}

// ChargeTokens debits the credits corresponding to tokens consumed by a
// finished job. Unlike Reserve this is unconditional: the work already
// happened, so the balance may go negative until topped up.
func (l *Ledger) ChargeTokens(ctx context.Context, accountID string, tokens int, ref Ref) (int, error) {
	credits := CreditsForTokens(tokens)

	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `UPDATE accounts SET credits = credits - ?, updated_at = ? WHERE id = ?`,
		credits, time.Now().Unix(), accountID)
	if err != nil {
		return 0, err
	}
	if err := l.appendEntry(ctx, tx, accountID, -credits, TypeUsage, ref, tokens); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return credits, nil
}

func (l *Ledger) appendEntry(ctx context.Context, tx *sql.Tx, accountID string, amount int, txType string, ref Ref, tokens int) error {
	var balanceAfter int
	if err := tx.QueryRowContext(ctx, `SELECT credits FROM accounts WHERE id = ?`, accountID).Scan(&balanceAfter); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions
			(id, account_id, amount, balance_after, type, reference_type, reference_id, description, tokens_consumed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), accountID, amount, balanceAfter, txType,
		ref.Type, ref.ID, ref.Description, tokens, time.Now().Unix())
	return err
}

func (l *Ledger) Balance(ctx context.Context, accountID string) (int, error) {
	var balance int
	err := l.db.QueryRowContext(ctx, `SELECT credits FROM accounts WHERE id = ?`, accountID).Scan(&balance)
	return balance, err
}

func (l *Ledger) Transactions(ctx context.Context, accountID string, limit int) ([]*models.CreditTransaction, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, account_id, amount, balance_after, type, reference_type, reference_id,
		       description, tokens_consumed, created_at
		FROM credit_transactions
		WHERE account_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*models.CreditTransaction
	for rows.Next() {
		t := &models.CreditTransaction{}
		var refType, refID, description sql.NullString
		var tokens sql.NullInt64
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.BalanceAfter, &t.Type,
			&refType, &refID, &description, &tokens, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.ReferenceType = refType.String
		t.ReferenceID = refID.String
		t.Description = description.String
		t.TokensConsumed = int(tokens.Int64)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
