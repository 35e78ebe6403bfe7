package store

import (
	"context"
	"time"
)

type AccountStore struct {
	db DB
}

type Account struct {
	ID           string    `db:"id"`
	Phone        string    `db:"phone"`
	PasswordHash string    `db:"password_hash"`
	Balance      int64     `db:"balance"`
	ReferredBy   *string   `db:"referred_by"`
	Country      string    `db:"country"`
	CreatedAt    time.Time `db:"created_at"`
}

// ReferredAccount is an account as seen on its referrer's invite page.
type ReferredAccount struct {
	ID        string    `db:"id"`
	Phone     string    `db:"phone"`
	CreatedAt time.Time `db:"created_at"`
}

type AccountBalanceSummary struct {
	ID                string    `db:"id"`
	Phone             string    `db:"phone"`
	StoredBalance     int64     `db:"stored_balance"`
	CalculatedBalance int64     `db:"calculated_balance"`
	Difference        int64     `db:"difference"`
	CreatedAt         time.Time `db:"created_at"`
}

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) Create(ctx context.Context, tx Execer, acc Account) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, phone, password_hash, balance, referred_by, country)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, acc.ID, acc.Phone, acc.PasswordHash, acc.Balance, acc.ReferredBy, acc.Country)
	return err
}

const accountColumns = `id, phone, password_hash, balance, referred_by, country, created_at`

func (s *AccountStore) GetByID(ctx context.Context, accountID string) (Account, error) {
	var row Account
	err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return Account{}, err
	}
	return row, nil
}

func (s *AccountStore) GetByPhone(ctx context.Context, phone string) (Account, error) {
	var row Account
	err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE phone = $1`, phone)
	if err != nil {
		return Account{}, err
	}
	return row, nil
}

func (s *AccountStore) GetForUpdate(ctx context.Context, tx Getter, accountID string) (Account, error) {
	var row Account
	err := tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID)
	if err != nil {
		return Account{}, err
	}
	return row, nil
}

// AdjustBalance applies delta and returns the resulting balance. The
// balance >= 0 check constraint rejects overdrafts that slip past callers.
func (s *AccountStore) AdjustBalance(ctx context.Context, tx Getter, accountID string, delta int64) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance
	`, delta, accountID)
	return balance, err
}

func (s *AccountStore) ListReferred(ctx context.Context, referrerID string) ([]ReferredAccount, error) {
	var rows []ReferredAccount
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, phone, created_at
		FROM accounts
		WHERE referred_by = $1
		ORDER BY created_at DESC
	`, referrerID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListBalanceSummaries compares every stored balance with the sum of its
// ledger entries.
func (s *AccountStore) ListBalanceSummaries(ctx context.Context, onlyMismatched bool) ([]AccountBalanceSummary, error) {
	var rows []AccountBalanceSummary
	query := `
		SELECT a.id,
		       a.phone,
		       a.balance AS stored_balance,
		       COALESCE(SUM(l.amount), 0) AS calculated_balance,
		       (a.balance - COALESCE(SUM(l.amount), 0)) AS difference,
		       a.created_at
		FROM accounts a
		LEFT JOIN ledger_entries l ON l.account_id = a.id
		GROUP BY a.id, a.phone, a.balance, a.created_at
	`
	if onlyMismatched {
		query += ` HAVING a.balance <> COALESCE(SUM(l.amount), 0)`
	}
	query += ` ORDER BY a.created_at DESC`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}
