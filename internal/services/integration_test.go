//go:build integration

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dicebet/internal/db"
	"dicebet/internal/game"
	"dicebet/internal/store"
	"dicebet/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type pgStack struct {
	accounts  *store.AccountStore
	rounds    *RoundService
	wagers    *WagerService
	funds     *FundsService
	txRunner  db.TxRunner
	newRounds func() *RoundService
}

func setupPostgres(t *testing.T) pgStack {
	t.Helper()
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("dicebet_test"),
		postgres.WithUsername("dicebet"),
		postgres.WithPassword("dicebet"),
		postgres.BasicWaitStrategies(),
		testcontainers.WithLabels(map[string]string{"test": t.Name()}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	database, err := db.Connect(url)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	_, err = db.MigrateUp(database.DB)
	require.NoError(t, err)

	accounts := store.NewAccountStore(database)
	roundStore := store.NewRoundStore(database)
	wagerStore := store.NewWagerStore(database)
	ledger := store.NewLedgerStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()
	clock := game.DefaultClock()

	newRounds := func() *RoundService {
		return NewRoundService(txRunner, clock, roundStore, wagerStore, accounts, ledger, audit, hub)
	}
	rounds := newRounds()
	wagers := NewWagerService(txRunner, clock, rounds, roundStore, wagerStore, accounts, ledger, audit, hub)
	deposits := store.NewDepositStore(database)
	withdrawals := store.NewWithdrawalStore(database)
	funds := NewFundsService(txRunner, accounts, deposits, withdrawals, ledger, audit, hub, decimal.RequireFromString("0.15"), 250000)
	return pgStack{
		accounts:  accounts,
		rounds:    rounds,
		wagers:    wagers,
		funds:     funds,
		txRunner:  txRunner,
		newRounds: newRounds,
	}
}

func (s pgStack) register(t *testing.T, id, phone string, referredBy *string) {
	t.Helper()
	err := s.txRunner.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return s.accounts.Create(context.Background(), tx, store.Account{
			ID:           id,
			Phone:        phone,
			PasswordHash: "x",
			ReferredBy:   referredBy,
			Country:      "Angola",
		})
	})
	require.NoError(t, err)
}

func (s pgStack) fund(t *testing.T, accountID string, amount int64) DepositApproval {
	t.Helper()
	ctx := context.Background()
	depositID, err := s.funds.SubmitDeposit(ctx, DepositRequest{
		AccountID:     accountID,
		Method:        store.MethodBank,
		Amount:        amount,
		DepositorName: "test",
		ProofRef:      "proof.png",
	})
	require.NoError(t, err)
	approval, err := s.funds.ApproveDeposit(ctx, "operator", depositID)
	require.NoError(t, err)
	return approval
}

func (s pgStack) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	acc, err := s.accounts.GetByID(context.Background(), accountID)
	require.NoError(t, err)
	return acc.Balance
}

func TestRoundLifecycleAgainstPostgres(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	s.register(t, "alice", "923000001", nil)
	alice := "alice"
	s.register(t, "bob", "923000002", &alice)

	s.fund(t, "alice", 100000)
	approval := s.fund(t, "bob", 200000)
	assert.Equal(t, "alice", approval.ReferrerID)
	assert.Equal(t, int64(30000), approval.Commission)
	require.Equal(t, int64(130000), s.balance(t, "alice"))

	now := time.Unix(40*1_000_000, 0)
	won, err := s.wagers.PlaceWager(ctx, PlaceWagerRequest{AccountID: "alice", Choice: 3, Stake: 20000, Now: now})
	require.NoError(t, err)
	for _, st := range []struct {
		choice int
		stake  int64
	}{{0, 70000}, {2, 40000}, {4, 20000}, {5, 20000}, {6, 20000}} {
		_, err := s.wagers.PlaceWager(ctx, PlaceWagerRequest{AccountID: "bob", Choice: st.choice, Stake: st.stake, Now: now})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(30000), s.balance(t, "bob"))

	_, err = s.wagers.ConfirmOutcome(ctx, ConfirmRequest{AccountID: "alice", WagerID: won.WagerID, Now: now.Add(5 * time.Second)})
	assert.ErrorIs(t, err, ErrRoundOpen)

	settled, err := s.rounds.SettleDue(ctx, now.Add(30*time.Second))
	require.NoError(t, err)
	require.True(t, settled)

	// concurrent confirms credit nothing twice
	var wg sync.WaitGroup
	results := make([]ConfirmResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.wagers.ConfirmOutcome(ctx, ConfirmRequest{AccountID: "alice", WagerID: won.WagerID, Now: now.Add(31 * time.Second)})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()
	for _, res := range results {
		assert.True(t, res.Won)
		assert.Equal(t, 3, res.Outcome)
		assert.Equal(t, int64(60000), res.Payout)
	}
	assert.Equal(t, int64(170000), s.balance(t, "alice"))
	assert.Equal(t, int64(30000), s.balance(t, "bob"))

	mismatched, err := s.accounts.ListBalanceSummaries(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, mismatched, "every balance must equal its ledger sum")

	// the next cycle opens a fresh round
	next, err := s.rounds.ActiveRound(ctx, now.Add(40*time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, won.RoundID, next.ID)
}

func TestConcurrentWagersCannotOverdraw(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	s.register(t, "dave", "923000004", nil)
	s.fund(t, "dave", 100000)

	const (
		bettors = 10
		stake   = int64(30000)
	)
	now := time.Unix(40*1_000_000, 0)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		refused  int
	)
	for i := 0; i < bettors; i++ {
		wg.Add(1)
		go func(choice int) {
			defer wg.Done()
			_, err := s.wagers.PlaceWager(ctx, PlaceWagerRequest{AccountID: "dave", Choice: choice, Stake: stake, Now: now})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrInsufficientFunds):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(game.Outcomes[i%len(game.Outcomes)])
	}
	wg.Wait()

	assert.Equal(t, int(100000/stake), accepted)
	assert.Equal(t, bettors-int(100000/stake), refused)
	final := s.balance(t, "dave")
	assert.GreaterOrEqual(t, final, int64(0))
	assert.Equal(t, int64(100000)-int64(accepted)*stake, final)

	mismatched, err := s.accounts.ListBalanceSummaries(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, mismatched, "every balance must equal its ledger sum")
}

func TestConcurrentOpenersShareOneRound(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	now := time.Unix(40*1_000_000, 0)

	// separate services so only the database keeps openers apart
	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int, rounds *RoundService) {
			defer wg.Done()
			round, err := rounds.ActiveRound(ctx, now)
			if assert.NoError(t, err) {
				ids[i] = round.ID
			}
		}(i, s.newRounds())
	}
	wg.Wait()

	for _, id := range ids {
		assert.NotEmpty(t, id)
		assert.Equal(t, ids[0], id)
	}
}

func TestWithdrawalAgainstPostgres(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	s.register(t, "carol", "923000003", nil)
	s.fund(t, "carol", 300000)

	_, err := s.funds.RequestWithdrawal(ctx, "carol", 100000)
	assert.ErrorIs(t, err, ErrBelowMinimumWithdrawal)

	res, err := s.funds.RequestWithdrawal(ctx, "carol", 250000)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), res.Balance)

	require.NoError(t, s.funds.ApproveWithdrawal(ctx, "operator", res.WithdrawalID))
	assert.ErrorIs(t, s.funds.RejectWithdrawal(ctx, "operator", res.WithdrawalID), ErrWithdrawalNotPending)
	assert.Equal(t, int64(50000), s.balance(t, "carol"))
}
