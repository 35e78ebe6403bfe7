package store

import "context"

// Ledger entry kinds. Every balance change writes exactly one entry.
const (
	KindWagerDebit         = "wager_debit"
	KindWagerPayout        = "wager_payout"
	KindDepositCredit      = "deposit_credit"
	KindReferralCommission = "referral_commission"
	KindWithdrawalDebit    = "withdrawal_debit"
)

type LedgerStore struct {
	db DB
}

type LedgerEntryInput struct {
	ID          string
	AccountID   string
	Amount      int64
	Kind        string
	ReferenceID string
	Description string
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) InsertEntries(ctx context.Context, tx Execer, entries []LedgerEntryInput) error {
	query := `
		INSERT INTO ledger_entries (id, account_id, amount, kind, reference_id, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, query, entry.ID, entry.AccountID, entry.Amount, entry.Kind, entry.ReferenceID, entry.Description); err != nil {
			return err
		}
	}
	return nil
}

func (s *LedgerStore) SumByKind(ctx context.Context, accountID, kind string) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND kind = $2
	`, accountID, kind)
	return sum, err
}
