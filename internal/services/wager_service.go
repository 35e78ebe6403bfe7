package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"dicebet/internal/db"
	"dicebet/internal/game"
	"dicebet/internal/logger"
	"dicebet/internal/money"
	"dicebet/internal/store"
	"dicebet/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// RoundLifecycle is the part of RoundService the wager ledger depends on.
type RoundLifecycle interface {
	ActiveRound(ctx context.Context, now time.Time) (store.Round, error)
	SettleDue(ctx context.Context, now time.Time) (bool, error)
}

type WagerService struct {
	txRunner  db.TxRunner
	clock     game.Clock
	lifecycle RoundLifecycle
	rounds    RoundStore
	wagers    WagerStore
	accounts  AccountStore
	ledger    LedgerStore
	audit     AuditStore
	hub       Broadcaster
}

func NewWagerService(txRunner db.TxRunner, clock game.Clock, lifecycle RoundLifecycle, rounds RoundStore, wagers WagerStore, accounts AccountStore, ledger LedgerStore, audit AuditStore, hub Broadcaster) *WagerService {
	return &WagerService{
		txRunner:  txRunner,
		clock:     clock,
		lifecycle: lifecycle,
		rounds:    rounds,
		wagers:    wagers,
		accounts:  accounts,
		ledger:    ledger,
		audit:     audit,
		hub:       hub,
	}
}

type PlaceWagerRequest struct {
	AccountID string
	Choice    int
	Stake     int64
	Now       time.Time
}

type PlaceWagerResult struct {
	WagerID string
	RoundID string
	Balance int64
}

// PlaceWager records a bet on the active round and debits the stake.
func (s *WagerService) PlaceWager(ctx context.Context, req PlaceWagerRequest) (PlaceWagerResult, error) {
	if req.Stake <= 0 {
		return PlaceWagerResult{}, ErrInvalidStake
	}
	if !game.ValidOutcome(req.Choice) {
		return PlaceWagerResult{}, ErrInvalidChoice
	}
	if s.clock.Phase(req.Now.Unix()) != game.PhaseBetting {
		return PlaceWagerResult{}, ErrBettingClosed
	}
	round, err := s.lifecycle.ActiveRound(ctx, req.Now)
	if err != nil {
		return PlaceWagerResult{}, err
	}

	result := PlaceWagerResult{RoundID: round.ID}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		// round before account, the same order settlement locks in
		locked, err := s.rounds.GetForShare(ctx, tx, round.ID)
		if err != nil {
			return err
		}
		if !locked.Active {
			return ErrRoundClosed
		}
		account, err := s.accounts.GetForUpdate(ctx, tx, req.AccountID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
		if account.Balance < req.Stake {
			return ErrInsufficientFunds
		}
		wagerID := uuid.NewString()
		if err := s.wagers.Create(ctx, tx, store.Wager{
			ID:        wagerID,
			AccountID: req.AccountID,
			RoundID:   round.ID,
			Choice:    req.Choice,
			Stake:     req.Stake,
		}); err != nil {
			return err
		}
		balance, err := s.accounts.AdjustBalance(ctx, tx, req.AccountID, -req.Stake)
		if err != nil {
			return err
		}
		if err := s.ledger.InsertEntries(ctx, tx, []store.LedgerEntryInput{{
			ID:          uuid.NewString(),
			AccountID:   req.AccountID,
			Amount:      -req.Stake,
			Kind:        store.KindWagerDebit,
			ReferenceID: wagerID,
			Description: "Stake on round " + round.ID,
		}}); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]any{
			"round_id": round.ID,
			"choice":   req.Choice,
			"stake":    req.Stake,
		})
		if err := s.audit.Log(ctx, tx, req.AccountID, "place_wager", "wager", wagerID, string(data)); err != nil {
			return err
		}
		result.WagerID = wagerID
		result.Balance = balance
		return nil
	})
	if err != nil {
		return PlaceWagerResult{}, err
	}
	s.hub.BroadcastBalance(req.AccountID, websocket.BalanceUpdate{
		Balance: money.FormatMinor(result.Balance),
		Reason:  store.KindWagerDebit,
	})
	return result, nil
}

type ConfirmRequest struct {
	AccountID string
	WagerID   string
	// Claimed is the outcome the client displayed. It is only compared
	// against the stored outcome, never applied.
	Claimed *int
	Now     time.Time
}

type ConfirmResult struct {
	WagerID string
	Won     bool
	Outcome int
	Payout  int64
	Balance int64
}

// ConfirmOutcome reports the result of a wager to its owner, settling the
// round first when it is overdue. Repeated calls never credit twice.
func (s *WagerService) ConfirmOutcome(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	wager, err := s.getWager(ctx, req.WagerID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if wager.AccountID != req.AccountID {
		return ConfirmResult{}, ErrWagerNotOwned
	}

	if !wager.Settled() {
		if _, err := s.lifecycle.SettleDue(ctx, req.Now); err != nil {
			return ConfirmResult{}, err
		}
	}
	round, err := s.rounds.GetByID(ctx, wager.RoundID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConfirmResult{}, ErrRoundNotFound
		}
		return ConfirmResult{}, err
	}
	if round.Active || round.Outcome == nil {
		return ConfirmResult{}, ErrRoundOpen
	}
	outcome := *round.Outcome

	if !wager.Settled() {
		if wager, err = s.getWager(ctx, req.WagerID); err != nil {
			return ConfirmResult{}, err
		}
	}
	if !wager.Settled() {
		if err := s.settleOne(ctx, wager, outcome); err != nil {
			return ConfirmResult{}, err
		}
		if wager, err = s.getWager(ctx, req.WagerID); err != nil {
			return ConfirmResult{}, err
		}
	}

	if req.Claimed != nil && *req.Claimed != outcome {
		logger.Warn(ctx).
			Str("wager_id", wager.ID).
			Int("claimed", *req.Claimed).
			Int("outcome", outcome).
			Msg("client reported a different outcome")
	}

	account, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConfirmResult{}, ErrAccountNotFound
		}
		return ConfirmResult{}, err
	}
	return ConfirmResult{
		WagerID: wager.ID,
		Won:     wager.Result != nil && *wager.Result == store.ResultWon,
		Outcome: outcome,
		Payout:  wager.Payout,
		Balance: account.Balance,
	}, nil
}

func (s *WagerService) getWager(ctx context.Context, wagerID string) (store.Wager, error) {
	wager, err := s.wagers.GetByID(ctx, wagerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Wager{}, ErrWagerNotFound
		}
		return store.Wager{}, err
	}
	return wager, nil
}

// settleOne judges a single wager of an already closed round, under the
// same write-once guard batch settlement uses.
func (s *WagerService) settleOne(ctx context.Context, wager store.Wager, outcome int) error {
	var balance int64
	var credited bool
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		credited = false
		if _, err := s.rounds.GetForShare(ctx, tx, wager.RoundID); err != nil {
			return err
		}
		if _, err := s.accounts.GetForUpdate(ctx, tx, wager.AccountID); err != nil {
			return err
		}
		verdict, payout := judge(wager, outcome)
		updated, err := s.wagers.MarkResult(ctx, tx, wager.ID, verdict, payout)
		if err != nil || !updated || payout == 0 {
			return err
		}
		balance, err = s.accounts.AdjustBalance(ctx, tx, wager.AccountID, payout)
		if err != nil {
			return err
		}
		credited = true
		return s.ledger.InsertEntries(ctx, tx, []store.LedgerEntryInput{{
			ID:          uuid.NewString(),
			AccountID:   wager.AccountID,
			Amount:      payout,
			Kind:        store.KindWagerPayout,
			ReferenceID: wager.ID,
			Description: "Late payout",
		}})
	})
	if err != nil {
		return err
	}
	if credited {
		s.hub.BroadcastBalance(wager.AccountID, websocket.BalanceUpdate{
			Balance: money.FormatMinor(balance),
			Reason:  store.KindWagerPayout,
		})
	}
	return nil
}
