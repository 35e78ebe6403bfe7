package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"dicebet/internal/store"
	"dicebet/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

// serialTxRunner runs transactions one at a time and rolls the memory
// backend back when fn fails, which is what SERIALIZABLE gives the real code.
type serialTxRunner struct {
	mu  sync.Mutex
	mem *memBackend
}

func (r *serialTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.mem.snapshot()
	if err := fn(nil); err != nil {
		r.mem.restore(snap)
		return err
	}
	return nil
}

// memBackend implements every store interface the services use.
type memBackend struct {
	mu          sync.Mutex
	accounts    map[string]store.Account
	rounds      map[string]store.Round
	wagers      map[string]store.Wager
	wagerOrder  []string
	deposits    map[string]store.Deposit
	withdrawals map[string]store.Withdrawal
	ledger      []store.LedgerEntryInput
	audit       []string
	locked      []string
	auditErr    error
}

type memSnapshot struct {
	accounts    map[string]store.Account
	rounds      map[string]store.Round
	wagers      map[string]store.Wager
	wagerOrder  []string
	deposits    map[string]store.Deposit
	withdrawals map[string]store.Withdrawal
	ledger      []store.LedgerEntryInput
	audit       []string
}

func newMemBackend() *memBackend {
	return &memBackend{
		accounts:    map[string]store.Account{},
		rounds:      map[string]store.Round{},
		wagers:      map[string]store.Wager{},
		deposits:    map[string]store.Deposit{},
		withdrawals: map[string]store.Withdrawal{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *memBackend) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memSnapshot{
		accounts:    copyMap(m.accounts),
		rounds:      copyMap(m.rounds),
		wagers:      copyMap(m.wagers),
		wagerOrder:  append([]string(nil), m.wagerOrder...),
		deposits:    copyMap(m.deposits),
		withdrawals: copyMap(m.withdrawals),
		ledger:      append([]store.LedgerEntryInput(nil), m.ledger...),
		audit:       append([]string(nil), m.audit...),
	}
}

func (m *memBackend) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = s.accounts
	m.rounds = s.rounds
	m.wagers = s.wagers
	m.wagerOrder = s.wagerOrder
	m.deposits = s.deposits
	m.withdrawals = s.withdrawals
	m.ledger = s.ledger
	m.audit = s.audit
}

func (m *memBackend) addAccount(id string, balance int64, referredBy *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = store.Account{ID: id, Phone: "9" + id, Balance: balance, ReferredBy: referredBy}
}

func (m *memBackend) balance(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Balance
}

func (m *memBackend) wager(id string) store.Wager {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wagers[id]
}

func (m *memBackend) ledgerSum(accountID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.ledger {
		if e.AccountID == accountID {
			sum += e.Amount
		}
	}
	return sum
}

// accounts

func (m *memBackend) GetByID(ctx context.Context, accountID string) (store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return store.Account{}, sql.ErrNoRows
	}
	return acc, nil
}

func (m *memBackend) GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (store.Account, error) {
	m.mu.Lock()
	m.locked = append(m.locked, accountID)
	m.mu.Unlock()
	return m.GetByID(ctx, accountID)
}

func (m *memBackend) AdjustBalance(ctx context.Context, tx store.Getter, accountID string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	if acc.Balance+delta < 0 {
		return 0, errCheckViolation
	}
	acc.Balance += delta
	m.accounts[accountID] = acc
	return acc.Balance, nil
}

type memError string

func (e memError) Error() string { return string(e) }

const errCheckViolation = memError("balance check violated")

// rounds, adapted to RoundStore through memRounds since method names clash

type memRounds struct{ m *memBackend }

func (r memRounds) GetActive(ctx context.Context) (store.Round, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, round := range r.m.rounds {
		if round.Active {
			return round, nil
		}
	}
	return store.Round{}, sql.ErrNoRows
}

func (r memRounds) GetByID(ctx context.Context, roundID string) (store.Round, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	round, ok := r.m.rounds[roundID]
	if !ok {
		return store.Round{}, sql.ErrNoRows
	}
	return round, nil
}

func (r memRounds) GetForUpdate(ctx context.Context, tx store.Getter, roundID string) (store.Round, error) {
	return r.GetByID(ctx, roundID)
}

func (r memRounds) GetForShare(ctx context.Context, tx store.Getter, roundID string) (store.Round, error) {
	return r.GetByID(ctx, roundID)
}

func (r memRounds) Open(ctx context.Context, tx store.Execer, roundID string, cycle int64) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, round := range r.m.rounds {
		if round.Active || round.Cycle == cycle {
			return false, nil
		}
	}
	r.m.rounds[roundID] = store.Round{ID: roundID, Cycle: cycle, Active: true, CreatedAt: time.Now()}
	return true, nil
}

func (r memRounds) Close(ctx context.Context, tx store.Execer, roundID string, outcome int) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	round, ok := r.m.rounds[roundID]
	if !ok || !round.Active {
		return false, nil
	}
	round.Active = false
	round.Outcome = &outcome
	now := time.Now()
	round.ClosedAt = &now
	r.m.rounds[roundID] = round
	return true, nil
}

func (r memRounds) count() int {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return len(r.m.rounds)
}

// wagers

type memWagers struct{ m *memBackend }

func (w memWagers) Create(ctx context.Context, tx store.Execer, wager store.Wager) error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	wager.CreatedAt = time.Now()
	w.m.wagers[wager.ID] = wager
	w.m.wagerOrder = append(w.m.wagerOrder, wager.ID)
	return nil
}

func (w memWagers) GetByID(ctx context.Context, wagerID string) (store.Wager, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	wager, ok := w.m.wagers[wagerID]
	if !ok {
		return store.Wager{}, sql.ErrNoRows
	}
	return wager, nil
}

func (w memWagers) ListByRound(ctx context.Context, tx store.Selecter, roundID string) ([]store.Wager, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	var out []store.Wager
	for _, id := range w.m.wagerOrder {
		if w.m.wagers[id].RoundID == roundID {
			out = append(out, w.m.wagers[id])
		}
	}
	return out, nil
}

func (w memWagers) MarkResult(ctx context.Context, tx store.Execer, wagerID, result string, payout int64) (bool, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	wager, ok := w.m.wagers[wagerID]
	if !ok || wager.Result != nil {
		return false, nil
	}
	wager.Result = &result
	wager.Payout = payout
	w.m.wagers[wagerID] = wager
	return true, nil
}

// deposits and withdrawals

type memDeposits struct{ m *memBackend }

func (d memDeposits) Create(ctx context.Context, tx store.Execer, deposit store.Deposit) error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	deposit.Status = store.StatusPending
	d.m.deposits[deposit.ID] = deposit
	return nil
}

func (d memDeposits) GetForUpdate(ctx context.Context, tx store.Getter, depositID string) (store.Deposit, error) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	deposit, ok := d.m.deposits[depositID]
	if !ok {
		return store.Deposit{}, sql.ErrNoRows
	}
	return deposit, nil
}

func (d memDeposits) Transition(ctx context.Context, tx store.Execer, depositID, from, to, reviewerID string) (bool, error) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	deposit, ok := d.m.deposits[depositID]
	if !ok || deposit.Status != from {
		return false, nil
	}
	deposit.Status = to
	deposit.ReviewedBy = &reviewerID
	d.m.deposits[depositID] = deposit
	return true, nil
}

func (d memDeposits) ListPendingIDs(ctx context.Context) ([]string, error) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	var ids []string
	for id, deposit := range d.m.deposits {
		if deposit.Status == store.StatusPending {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memWithdrawals struct{ m *memBackend }

func (w memWithdrawals) Create(ctx context.Context, tx store.Execer, wd store.Withdrawal) error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	wd.Status = store.StatusPending
	w.m.withdrawals[wd.ID] = wd
	return nil
}

func (w memWithdrawals) GetForUpdate(ctx context.Context, tx store.Getter, withdrawalID string) (store.Withdrawal, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	wd, ok := w.m.withdrawals[withdrawalID]
	if !ok {
		return store.Withdrawal{}, sql.ErrNoRows
	}
	return wd, nil
}

func (w memWithdrawals) Transition(ctx context.Context, tx store.Execer, withdrawalID, from, to, reviewerID string) (bool, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	wd, ok := w.m.withdrawals[withdrawalID]
	if !ok || wd.Status != from {
		return false, nil
	}
	wd.Status = to
	w.m.withdrawals[withdrawalID] = wd
	return true, nil
}

// ledger and audit

func (m *memBackend) InsertEntries(ctx context.Context, tx store.Execer, entries []store.LedgerEntryInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = append(m.ledger, entries...)
	return nil
}

func (m *memBackend) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auditErr != nil {
		return m.auditErr
	}
	m.audit = append(m.audit, action)
	return nil
}

type stubHub struct {
	mu       sync.Mutex
	balances []websocket.BalanceUpdate
	results  []websocket.RoundResult
}

func (h *stubHub) BroadcastBalance(accountID string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	update.AccountID = accountID
	h.balances = append(h.balances, update)
}

func (h *stubHub) BroadcastRoundResult(result websocket.RoundResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, result)
}

func stringPtr(value string) *string {
	return &value
}

func intPtr(value int) *int {
	return &value
}
