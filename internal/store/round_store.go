package store

import (
	"context"
	"time"
)

type RoundStore struct {
	db DB
}

type Round struct {
	ID        string     `db:"id"`
	Cycle     int64      `db:"cycle"`
	Outcome   *int       `db:"outcome"`
	Active    bool       `db:"active"`
	CreatedAt time.Time  `db:"created_at"`
	ClosedAt  *time.Time `db:"closed_at"`
}

type RoundSummary struct {
	Round
	WagerCount int   `db:"wager_count"`
	TotalStake int64 `db:"total_stake"`
	TotalPaid  int64 `db:"total_paid"`
}

func NewRoundStore(db DB) *RoundStore {
	return &RoundStore{db: db}
}

const roundColumns = `id, cycle, outcome, active, created_at, closed_at`

// GetActive returns sql.ErrNoRows when no round is open.
func (s *RoundStore) GetActive(ctx context.Context) (Round, error) {
	var row Round
	err := s.db.GetContext(ctx, &row, `SELECT `+roundColumns+` FROM rounds WHERE active`)
	if err != nil {
		return Round{}, err
	}
	return row, nil
}

func (s *RoundStore) GetByID(ctx context.Context, roundID string) (Round, error) {
	var row Round
	err := s.db.GetContext(ctx, &row, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, roundID)
	if err != nil {
		return Round{}, err
	}
	return row, nil
}

func (s *RoundStore) GetForUpdate(ctx context.Context, tx Getter, roundID string) (Round, error) {
	var row Round
	err := tx.GetContext(ctx, &row, `SELECT `+roundColumns+` FROM rounds WHERE id = $1 FOR UPDATE`, roundID)
	if err != nil {
		return Round{}, err
	}
	return row, nil
}

// GetForShare blocks settlement of the round until the caller's transaction ends.
func (s *RoundStore) GetForShare(ctx context.Context, tx Getter, roundID string) (Round, error) {
	var row Round
	err := tx.GetContext(ctx, &row, `SELECT `+roundColumns+` FROM rounds WHERE id = $1 FOR SHARE`, roundID)
	if err != nil {
		return Round{}, err
	}
	return row, nil
}

// Open inserts an active round for cycle. It reports false when another
// writer already holds the active slot or the cycle.
func (s *RoundStore) Open(ctx context.Context, tx Execer, roundID string, cycle int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO rounds (id, cycle, active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT DO NOTHING
	`, roundID, cycle)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Close records the outcome. It reports false if the round was not active.
func (s *RoundStore) Close(ctx context.Context, tx Execer, roundID string, outcome int) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE rounds
		SET outcome = $1, active = FALSE, closed_at = NOW()
		WHERE id = $2 AND active
	`, outcome, roundID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *RoundStore) List(ctx context.Context, limit, offset int) ([]RoundSummary, error) {
	var rows []RoundSummary
	err := s.db.SelectContext(ctx, &rows, `
		SELECT r.id, r.cycle, r.outcome, r.active, r.created_at, r.closed_at,
		       COUNT(w.id) AS wager_count,
		       COALESCE(SUM(w.stake), 0) AS total_stake,
		       COALESCE(SUM(w.payout), 0) AS total_paid
		FROM rounds r
		LEFT JOIN wagers w ON w.round_id = r.id
		GROUP BY r.id
		ORDER BY r.cycle DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
