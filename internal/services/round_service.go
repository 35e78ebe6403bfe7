package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"dicebet/internal/db"
	"dicebet/internal/game"
	"dicebet/internal/logger"
	"dicebet/internal/money"
	"dicebet/internal/store"
	"dicebet/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/singleflight"
)

// RoundService owns the round lifecycle: opening the active round for the
// current cycle and settling it once its betting window has passed.
type RoundService struct {
	txRunner db.TxRunner
	clock    game.Clock
	rounds   RoundStore
	wagers   WagerStore
	accounts AccountStore
	ledger   LedgerStore
	audit    AuditStore
	hub      Broadcaster
	opening  singleflight.Group
}

// Settlement summarises a settled round.
type Settlement struct {
	RoundID     string
	Cycle       int64
	Outcome     int
	Wagers      int
	Winners     int
	TotalStake  int64
	TotalPayout int64
}

func NewRoundService(txRunner db.TxRunner, clock game.Clock, rounds RoundStore, wagers WagerStore, accounts AccountStore, ledger LedgerStore, audit AuditStore, hub Broadcaster) *RoundService {
	return &RoundService{
		txRunner: txRunner,
		clock:    clock,
		rounds:   rounds,
		wagers:   wagers,
		accounts: accounts,
		ledger:   ledger,
		audit:    audit,
		hub:      hub,
	}
}

func (s *RoundService) Clock() game.Clock {
	return s.clock
}

// ActiveRound returns the round that accepts bets for the cycle current at
// now, settling an overdue round and opening a fresh one as needed.
func (s *RoundService) ActiveRound(ctx context.Context, now time.Time) (store.Round, error) {
	if _, err := s.SettleDue(ctx, now); err != nil {
		return store.Round{}, err
	}
	cycle := s.clock.TargetCycle(now.Unix())
	v, err, _ := s.opening.Do(strconv.FormatInt(cycle, 10), func() (any, error) {
		return s.getOrOpen(ctx, cycle)
	})
	if err != nil {
		return store.Round{}, err
	}
	return v.(store.Round), nil
}

func (s *RoundService) getOrOpen(ctx context.Context, cycle int64) (store.Round, error) {
	round, err := s.rounds.GetActive(ctx)
	if err == nil {
		return round, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Round{}, err
	}
	roundID := uuid.NewString()
	var created bool
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		created, err = s.rounds.Open(ctx, tx, roundID, cycle)
		return err
	})
	if err != nil {
		return store.Round{}, err
	}
	if created {
		logger.Info(ctx).Str("round_id", roundID).Int64("cycle", cycle).Msg("round opened")
	}
	// on conflict another writer opened it first
	round, err = s.rounds.GetActive(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Round{}, ErrRoundClosed
	}
	return round, err
}

// SettleDue settles the active round when its betting window is over. It
// reports whether this call did the settling.
func (s *RoundService) SettleDue(ctx context.Context, now time.Time) (bool, error) {
	round, err := s.rounds.GetActive(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.clock.Due(round.Cycle, now.Unix()) {
		return false, nil
	}
	if _, err := s.SettleRound(ctx, round.ID); err != nil {
		if errors.Is(err, ErrRoundClosed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type payoutCredit struct {
	accountID string
	balance   int64
}

// SettleRound draws the house-optimal outcome, closes the round and judges
// every wager in one transaction. The round is closed before any wager is
// judged, and each wager result is written at most once.
func (s *RoundService) SettleRound(ctx context.Context, roundID string) (Settlement, error) {
	var result Settlement
	var credits []payoutCredit
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = Settlement{RoundID: roundID}
		credits = nil

		round, err := s.rounds.GetForUpdate(ctx, tx, roundID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRoundNotFound
			}
			return err
		}
		if !round.Active {
			return ErrRoundClosed
		}
		result.Cycle = round.Cycle

		wagers, err := s.wagers.ListByRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		stakes := make([]game.Stake, 0, len(wagers))
		for _, w := range wagers {
			stakes = append(stakes, game.Stake{Choice: w.Choice, Amount: w.Stake})
		}
		outcome := game.SelectHouseOptimal(stakes)
		result.Outcome = outcome

		closed, err := s.rounds.Close(ctx, tx, roundID, outcome)
		if err != nil {
			return err
		}
		if !closed {
			return ErrRoundClosed
		}

		payouts := make(map[string]int64)
		var entries []store.LedgerEntryInput
		for _, w := range wagers {
			verdict, payout := judge(w, outcome)
			updated, err := s.wagers.MarkResult(ctx, tx, w.ID, verdict, payout)
			if err != nil {
				return err
			}
			if !updated {
				continue
			}
			result.Wagers++
			result.TotalStake += w.Stake
			if payout == 0 {
				continue
			}
			result.Winners++
			result.TotalPayout += payout
			payouts[w.AccountID] += payout
			entries = append(entries, store.LedgerEntryInput{
				ID:          uuid.NewString(),
				AccountID:   w.AccountID,
				Amount:      payout,
				Kind:        store.KindWagerPayout,
				ReferenceID: w.ID,
				Description: "Payout for outcome " + strconv.Itoa(outcome),
			})
		}

		accountIDs := make([]string, 0, len(payouts))
		for id := range payouts {
			accountIDs = append(accountIDs, id)
		}
		sort.Strings(accountIDs)
		if err := lockAccounts(ctx, tx, s.accounts, accountIDs...); err != nil {
			return err
		}
		for _, id := range accountIDs {
			balance, err := s.accounts.AdjustBalance(ctx, tx, id, payouts[id])
			if err != nil {
				return err
			}
			credits = append(credits, payoutCredit{accountID: id, balance: balance})
		}
		if err := s.ledger.InsertEntries(ctx, tx, entries); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]any{
			"cycle":        round.Cycle,
			"outcome":      outcome,
			"wagers":       result.Wagers,
			"winners":      result.Winners,
			"total_stake":  result.TotalStake,
			"total_payout": result.TotalPayout,
		})
		return s.audit.Log(ctx, tx, "", "settle_round", "round", roundID, string(data))
	})
	if err != nil {
		return Settlement{}, err
	}

	logger.Info(ctx).
		Str("round_id", roundID).
		Int64("cycle", result.Cycle).
		Int("outcome", result.Outcome).
		Int("wagers", result.Wagers).
		Int("winners", result.Winners).
		Int64("total_stake", result.TotalStake).
		Int64("total_payout", result.TotalPayout).
		Msg("round settled")

	for _, c := range credits {
		s.hub.BroadcastBalance(c.accountID, websocket.BalanceUpdate{
			Balance: money.FormatMinor(c.balance),
			Reason:  store.KindWagerPayout,
		})
	}
	s.hub.BroadcastRoundResult(websocket.RoundResult{
		RoundID: roundID,
		Cycle:   result.Cycle,
		Outcome: result.Outcome,
	})
	return result, nil
}

// CloseRound settles a specific round on operator request, regardless of
// whether its betting window has elapsed.
func (s *RoundService) CloseRound(ctx context.Context, operatorID, roundID string) (Settlement, error) {
	settlement, err := s.SettleRound(ctx, roundID)
	if err != nil {
		return Settlement{}, err
	}
	logger.Warn(ctx).Str("operator_id", operatorID).Str("round_id", roundID).Msg("round closed by operator")
	return settlement, nil
}

// lockAccounts takes row locks on the given accounts in id order so that
// concurrent transactions touching the same accounts cannot deadlock.
// Empty ids are skipped.
func lockAccounts(ctx context.Context, tx store.Getter, accounts AccountStore, ids ...string) error {
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			ordered = append(ordered, id)
		}
	}
	sort.Strings(ordered)
	for i, id := range ordered {
		if i > 0 && ordered[i-1] == id {
			continue
		}
		if _, err := accounts.GetForUpdate(ctx, tx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
	}
	return nil
}

// judge applies the payout rule: a matching choice wins stake*outcome, or
// the stake back when the outcome is 0. Everything else loses.
func judge(w store.Wager, outcome int) (string, int64) {
	if w.Choice != outcome {
		return store.ResultLost, 0
	}
	return store.ResultWon, game.Payout(w.Stake, outcome)
}
