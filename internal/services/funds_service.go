package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"dicebet/internal/db"
	"dicebet/internal/logger"
	"dicebet/internal/money"
	"dicebet/internal/store"
	"dicebet/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// FundsService handles manually reviewed deposits and withdrawals. Deposit
// approval is where referral commission is paid.
type FundsService struct {
	txRunner      db.TxRunner
	accounts      AccountStore
	deposits      DepositStore
	withdrawals   WithdrawalStore
	ledger        LedgerStore
	audit         AuditStore
	hub           Broadcaster
	referralRate  decimal.Decimal
	minWithdrawal int64
}

func NewFundsService(txRunner db.TxRunner, accounts AccountStore, deposits DepositStore, withdrawals WithdrawalStore, ledger LedgerStore, audit AuditStore, hub Broadcaster, referralRate decimal.Decimal, minWithdrawal int64) *FundsService {
	return &FundsService{
		txRunner:      txRunner,
		accounts:      accounts,
		deposits:      deposits,
		withdrawals:   withdrawals,
		ledger:        ledger,
		audit:         audit,
		hub:           hub,
		referralRate:  referralRate,
		minWithdrawal: minWithdrawal,
	}
}

func (s *FundsService) MinWithdrawal() int64 {
	return s.minWithdrawal
}

// ValidMethod reports whether method names a supported deposit channel.
func ValidMethod(method string) bool {
	switch method {
	case store.MethodBank, store.MethodExpress, store.MethodReference:
		return true
	}
	return false
}

type DepositRequest struct {
	AccountID     string
	Method        string
	Amount        int64
	DepositorName string
	ProofRef      string
}

// SubmitDeposit queues a deposit for operator review. Nothing is credited yet.
func (s *FundsService) SubmitDeposit(ctx context.Context, req DepositRequest) (string, error) {
	if req.Amount <= 0 {
		return "", ErrInvalidAmount
	}
	if !ValidMethod(req.Method) {
		return "", ErrInvalidMethod
	}
	depositID := uuid.NewString()
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.deposits.Create(ctx, tx, store.Deposit{
			ID:            depositID,
			AccountID:     req.AccountID,
			Method:        req.Method,
			Amount:        req.Amount,
			DepositorName: req.DepositorName,
			ProofRef:      req.ProofRef,
		}); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]any{
			"amount": req.Amount,
			"method": req.Method,
		})
		return s.audit.Log(ctx, tx, req.AccountID, "submit_deposit", "deposit", depositID, string(data))
	})
	if err != nil {
		return "", err
	}
	return depositID, nil
}

type DepositApproval struct {
	DepositID  string
	AccountID  string
	Amount     int64
	Balance    int64
	ReferrerID string
	Commission int64
}

// ApproveDeposit moves a PENDING deposit to APPROVED, credits the depositor
// and pays the referrer its commission. It succeeds at most once per deposit.
func (s *FundsService) ApproveDeposit(ctx context.Context, operatorID, depositID string) (DepositApproval, error) {
	var approval DepositApproval
	var referrerBalance int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		approval = DepositApproval{DepositID: depositID}

		deposit, err := s.deposits.GetForUpdate(ctx, tx, depositID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrDepositNotFound
			}
			return err
		}
		if deposit.Status != store.StatusPending {
			return ErrDepositNotPending
		}
		moved, err := s.deposits.Transition(ctx, tx, depositID, store.StatusPending, store.StatusApproved, operatorID)
		if err != nil {
			return err
		}
		if !moved {
			return ErrDepositNotPending
		}
		approval.AccountID = deposit.AccountID
		approval.Amount = deposit.Amount

		// referred_by never changes, so it can be read before locking
		account, err := s.accounts.GetByID(ctx, deposit.AccountID)
		if err != nil {
			return err
		}
		if account.ReferredBy != nil && *account.ReferredBy != account.ID {
			approval.ReferrerID = *account.ReferredBy
			approval.Commission = money.ApplyRate(deposit.Amount, s.referralRate)
		}
		if err := lockAccounts(ctx, tx, s.accounts, deposit.AccountID, approval.ReferrerID); err != nil {
			return err
		}

		entries := []store.LedgerEntryInput{{
			ID:          uuid.NewString(),
			AccountID:   deposit.AccountID,
			Amount:      deposit.Amount,
			Kind:        store.KindDepositCredit,
			ReferenceID: depositID,
			Description: "Deposit via " + deposit.Method,
		}}
		approval.Balance, err = s.accounts.AdjustBalance(ctx, tx, deposit.AccountID, deposit.Amount)
		if err != nil {
			return err
		}
		if approval.Commission > 0 {
			referrerBalance, err = s.accounts.AdjustBalance(ctx, tx, approval.ReferrerID, approval.Commission)
			if err != nil {
				return err
			}
			entries = append(entries, store.LedgerEntryInput{
				ID:          uuid.NewString(),
				AccountID:   approval.ReferrerID,
				Amount:      approval.Commission,
				Kind:        store.KindReferralCommission,
				ReferenceID: depositID,
				Description: "Referral commission",
			})
		}
		if err := s.ledger.InsertEntries(ctx, tx, entries); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]any{
			"account_id":  deposit.AccountID,
			"amount":      deposit.Amount,
			"referrer_id": approval.ReferrerID,
			"commission":  approval.Commission,
		})
		return s.audit.Log(ctx, tx, operatorID, "approve_deposit", "deposit", depositID, string(data))
	})
	if err != nil {
		return DepositApproval{}, err
	}

	logger.Info(ctx).
		Str("deposit_id", depositID).
		Str("operator_id", operatorID).
		Int64("amount", approval.Amount).
		Int64("commission", approval.Commission).
		Msg("deposit approved")
	s.hub.BroadcastBalance(approval.AccountID, websocket.BalanceUpdate{
		Balance: money.FormatMinor(approval.Balance),
		Reason:  store.KindDepositCredit,
	})
	if approval.Commission > 0 {
		s.hub.BroadcastBalance(approval.ReferrerID, websocket.BalanceUpdate{
			Balance: money.FormatMinor(referrerBalance),
			Reason:  store.KindReferralCommission,
		})
	}
	return approval, nil
}

// ApprovePendingDeposits approves every deposit still pending. Deposits that
// another operator handled in the meantime are skipped.
func (s *FundsService) ApprovePendingDeposits(ctx context.Context, operatorID string) (int, error) {
	ids, err := s.deposits.ListPendingIDs(ctx)
	if err != nil {
		return 0, err
	}
	approved := 0
	for _, id := range ids {
		if _, err := s.ApproveDeposit(ctx, operatorID, id); err != nil {
			if errors.Is(err, ErrDepositNotPending) {
				continue
			}
			return approved, err
		}
		approved++
	}
	return approved, nil
}

func (s *FundsService) RejectDeposit(ctx context.Context, operatorID, depositID string) error {
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		deposit, err := s.deposits.GetForUpdate(ctx, tx, depositID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrDepositNotFound
			}
			return err
		}
		if deposit.Status != store.StatusPending {
			return ErrDepositNotPending
		}
		moved, err := s.deposits.Transition(ctx, tx, depositID, store.StatusPending, store.StatusRejected, operatorID)
		if err != nil {
			return err
		}
		if !moved {
			return ErrDepositNotPending
		}
		return s.audit.Log(ctx, tx, operatorID, "reject_deposit", "deposit", depositID, "{}")
	})
}

type WithdrawalResult struct {
	WithdrawalID string
	Balance      int64
}

// RequestWithdrawal debits the amount immediately; the payout itself is
// done by an operator outside the system.
func (s *FundsService) RequestWithdrawal(ctx context.Context, accountID string, amount int64) (WithdrawalResult, error) {
	if amount <= 0 {
		return WithdrawalResult{}, ErrInvalidAmount
	}
	if amount < s.minWithdrawal {
		return WithdrawalResult{}, ErrBelowMinimumWithdrawal
	}
	var result WithdrawalResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.accounts.GetForUpdate(ctx, tx, accountID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
		if account.Balance < amount {
			return ErrInsufficientFunds
		}
		withdrawalID := uuid.NewString()
		if err := s.withdrawals.Create(ctx, tx, store.Withdrawal{
			ID:        withdrawalID,
			AccountID: accountID,
			Amount:    amount,
		}); err != nil {
			return err
		}
		balance, err := s.accounts.AdjustBalance(ctx, tx, accountID, -amount)
		if err != nil {
			return err
		}
		if err := s.ledger.InsertEntries(ctx, tx, []store.LedgerEntryInput{{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			Amount:      -amount,
			Kind:        store.KindWithdrawalDebit,
			ReferenceID: withdrawalID,
			Description: "Withdrawal request",
		}}); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]any{"amount": amount})
		if err := s.audit.Log(ctx, tx, accountID, "request_withdrawal", "withdrawal", withdrawalID, string(data)); err != nil {
			return err
		}
		result = WithdrawalResult{WithdrawalID: withdrawalID, Balance: balance}
		return nil
	})
	if err != nil {
		return WithdrawalResult{}, err
	}
	s.hub.BroadcastBalance(accountID, websocket.BalanceUpdate{
		Balance: money.FormatMinor(result.Balance),
		Reason:  store.KindWithdrawalDebit,
	})
	return result, nil
}

func (s *FundsService) ApproveWithdrawal(ctx context.Context, operatorID, withdrawalID string) error {
	return s.reviewWithdrawal(ctx, operatorID, withdrawalID, store.StatusApproved, "approve_withdrawal")
}

// RejectWithdrawal marks the request rejected. The debited amount is not
// returned automatically; operators settle it by hand.
func (s *FundsService) RejectWithdrawal(ctx context.Context, operatorID, withdrawalID string) error {
	return s.reviewWithdrawal(ctx, operatorID, withdrawalID, store.StatusRejected, "reject_withdrawal")
}

func (s *FundsService) reviewWithdrawal(ctx context.Context, operatorID, withdrawalID, status, action string) error {
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		w, err := s.withdrawals.GetForUpdate(ctx, tx, withdrawalID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrWithdrawalNotFound
			}
			return err
		}
		if w.Status != store.StatusPending {
			return ErrWithdrawalNotPending
		}
		moved, err := s.withdrawals.Transition(ctx, tx, withdrawalID, store.StatusPending, status, operatorID)
		if err != nil {
			return err
		}
		if !moved {
			return ErrWithdrawalNotPending
		}
		return s.audit.Log(ctx, tx, operatorID, action, "withdrawal", withdrawalID, "{}")
	})
}
