package store

import (
	"context"
	"time"
)

const (
	MethodBank      = "BANK"
	MethodExpress   = "EXPRESS"
	MethodReference = "REFERENCE"
)

type PaymentMethodStore struct {
	db DB
}

// PaymentMethod holds operator-configured payment details. Number is an
// IBAN for BANK, a phone for EXPRESS and the entity for REFERENCE.
type PaymentMethod struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Label     string    `db:"label"`
	Holder    string    `db:"holder"`
	Number    string    `db:"number"`
	Reference string    `db:"reference"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func NewPaymentMethodStore(db DB) *PaymentMethodStore {
	return &PaymentMethodStore{db: db}
}

func (s *PaymentMethodStore) Create(ctx context.Context, tx Execer, m PaymentMethod) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_methods (id, kind, label, holder, number, reference, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.Kind, m.Label, m.Holder, m.Number, m.Reference, m.Active)
	return err
}

// FirstActivePerKind returns at most one method per kind: the oldest active one.
func (s *PaymentMethodStore) FirstActivePerKind(ctx context.Context) ([]PaymentMethod, error) {
	var rows []PaymentMethod
	err := s.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (kind) id, kind, label, holder, number, reference, active, created_at
		FROM payment_methods
		WHERE active
		ORDER BY kind, created_at, id
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PaymentMethodStore) List(ctx context.Context) ([]PaymentMethod, error) {
	var rows []PaymentMethod
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, kind, label, holder, number, reference, active, created_at
		FROM payment_methods
		ORDER BY kind, created_at
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PaymentMethodStore) SetActive(ctx context.Context, tx Execer, methodID string, active bool) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payment_methods SET active = $1 WHERE id = $2`, active, methodID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
