package store

import (
	"context"
	"time"
)

const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

type DepositStore struct {
	db DB
}

type Deposit struct {
	ID            string     `db:"id"`
	AccountID     string     `db:"account_id"`
	Method        string     `db:"method"`
	Amount        int64      `db:"amount"`
	DepositorName string     `db:"depositor_name"`
	ProofRef      string     `db:"proof_ref"`
	Status        string     `db:"status"`
	CreatedAt     time.Time  `db:"created_at"`
	ReviewedAt    *time.Time `db:"reviewed_at"`
	ReviewedBy    *string    `db:"reviewed_by"`
}

// DepositWithAccount joins the depositor's phone for the review queue.
type DepositWithAccount struct {
	Deposit
	Phone string `db:"phone"`
}

func NewDepositStore(db DB) *DepositStore {
	return &DepositStore{db: db}
}

const depositColumns = `id, account_id, method, amount, depositor_name, proof_ref, status, created_at, reviewed_at, reviewed_by`

func (s *DepositStore) Create(ctx context.Context, tx Execer, d Deposit) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deposits (id, account_id, method, amount, depositor_name, proof_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')
	`, d.ID, d.AccountID, d.Method, d.Amount, d.DepositorName, d.ProofRef)
	return err
}

func (s *DepositStore) GetForUpdate(ctx context.Context, tx Getter, depositID string) (Deposit, error) {
	var row Deposit
	err := tx.GetContext(ctx, &row, `SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, depositID)
	if err != nil {
		return Deposit{}, err
	}
	return row, nil
}

// Transition moves a deposit from one status to another. It reports false
// when the stored status was not from.
func (s *DepositStore) Transition(ctx context.Context, tx Execer, depositID, from, to, reviewerID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE deposits
		SET status = $1, reviewed_at = NOW(), reviewed_by = $2
		WHERE id = $3 AND status = $4
	`, to, reviewerID, depositID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *DepositStore) ListByStatus(ctx context.Context, status string, limit, offset int) ([]DepositWithAccount, error) {
	var rows []DepositWithAccount
	query := `
		SELECT d.id, d.account_id, d.method, d.amount, d.depositor_name, d.proof_ref, d.status,
		       d.created_at, d.reviewed_at, d.reviewed_by, a.phone
		FROM deposits d
		JOIN accounts a ON a.id = d.account_id
	`
	args := []any{limit, offset}
	if status != "" {
		query += ` WHERE d.status = $3`
		args = append(args, status)
	}
	query += ` ORDER BY d.created_at DESC LIMIT $1 OFFSET $2`
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *DepositStore) ListPendingIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM deposits WHERE status = 'PENDING' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *DepositStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]Deposit, error) {
	var rows []Deposit
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
