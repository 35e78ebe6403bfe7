package store

import (
	"context"
	"time"
)

type WithdrawalStore struct {
	db DB
}

type Withdrawal struct {
	ID         string     `db:"id"`
	AccountID  string     `db:"account_id"`
	Amount     int64      `db:"amount"`
	Status     string     `db:"status"`
	CreatedAt  time.Time  `db:"created_at"`
	ReviewedAt *time.Time `db:"reviewed_at"`
	ReviewedBy *string    `db:"reviewed_by"`
}

type WithdrawalWithAccount struct {
	Withdrawal
	Phone string `db:"phone"`
}

func NewWithdrawalStore(db DB) *WithdrawalStore {
	return &WithdrawalStore{db: db}
}

const withdrawalColumns = `id, account_id, amount, status, created_at, reviewed_at, reviewed_by`

func (s *WithdrawalStore) Create(ctx context.Context, tx Execer, w Withdrawal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO withdrawals (id, account_id, amount, status)
		VALUES ($1, $2, $3, 'PENDING')
	`, w.ID, w.AccountID, w.Amount)
	return err
}

func (s *WithdrawalStore) GetForUpdate(ctx context.Context, tx Getter, withdrawalID string) (Withdrawal, error) {
	var row Withdrawal
	err := tx.GetContext(ctx, &row, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, withdrawalID)
	if err != nil {
		return Withdrawal{}, err
	}
	return row, nil
}

func (s *WithdrawalStore) Transition(ctx context.Context, tx Execer, withdrawalID, from, to, reviewerID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = $1, reviewed_at = NOW(), reviewed_by = $2
		WHERE id = $3 AND status = $4
	`, to, reviewerID, withdrawalID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *WithdrawalStore) ListByStatus(ctx context.Context, status string, limit, offset int) ([]WithdrawalWithAccount, error) {
	var rows []WithdrawalWithAccount
	query := `
		SELECT w.id, w.account_id, w.amount, w.status, w.created_at, w.reviewed_at, w.reviewed_by, a.phone
		FROM withdrawals w
		JOIN accounts a ON a.id = w.account_id
	`
	args := []any{limit, offset}
	if status != "" {
		query += ` WHERE w.status = $3`
		args = append(args, status)
	}
	query += ` ORDER BY w.created_at DESC LIMIT $1 OFFSET $2`
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *WithdrawalStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]Withdrawal, error) {
	var rows []Withdrawal
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
