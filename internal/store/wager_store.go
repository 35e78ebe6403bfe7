package store

import (
	"context"
	"time"
)

const (
	ResultWon  = "won"
	ResultLost = "lost"
)

type WagerStore struct {
	db DB
}

type Wager struct {
	ID        string     `db:"id"`
	AccountID string     `db:"account_id"`
	RoundID   string     `db:"round_id"`
	Choice    int        `db:"choice"`
	Stake     int64      `db:"stake"`
	Result    *string    `db:"result"`
	Payout    int64      `db:"payout"`
	CreatedAt time.Time  `db:"created_at"`
	SettledAt *time.Time `db:"settled_at"`
}

func (w Wager) Settled() bool {
	return w.Result != nil
}

func NewWagerStore(db DB) *WagerStore {
	return &WagerStore{db: db}
}

const wagerColumns = `id, account_id, round_id, choice, stake, result, payout, created_at, settled_at`

func (s *WagerStore) Create(ctx context.Context, tx Execer, w Wager) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wagers (id, account_id, round_id, choice, stake)
		VALUES ($1, $2, $3, $4, $5)
	`, w.ID, w.AccountID, w.RoundID, w.Choice, w.Stake)
	return err
}

func (s *WagerStore) GetByID(ctx context.Context, wagerID string) (Wager, error) {
	var row Wager
	err := s.db.GetContext(ctx, &row, `SELECT `+wagerColumns+` FROM wagers WHERE id = $1`, wagerID)
	if err != nil {
		return Wager{}, err
	}
	return row, nil
}

func (s *WagerStore) ListByRound(ctx context.Context, tx Selecter, roundID string) ([]Wager, error) {
	var rows []Wager
	err := tx.SelectContext(ctx, &rows, `
		SELECT `+wagerColumns+`
		FROM wagers
		WHERE round_id = $1
		ORDER BY created_at, id
	`, roundID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkResult sets the result once. It reports false when the wager was
// already settled, in which case nothing changed.
func (s *WagerStore) MarkResult(ctx context.Context, tx Execer, wagerID, result string, payout int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE wagers
		SET result = $1, payout = $2, settled_at = NOW()
		WHERE id = $3 AND result IS NULL
	`, result, payout, wagerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *WagerStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]Wager, error) {
	var rows []Wager
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+wagerColumns+`
		FROM wagers
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TotalStakes is the sum of every stake ever placed.
func (s *WagerStore) TotalStakes(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(stake), 0) FROM wagers`)
	return total, err
}
