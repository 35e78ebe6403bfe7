package services

import (
	"context"

	"dicebet/internal/store"
	"dicebet/internal/websocket"
)

type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (store.Account, error)
	GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (store.Account, error)
	AdjustBalance(ctx context.Context, tx store.Getter, accountID string, delta int64) (int64, error)
}

type RoundStore interface {
	GetActive(ctx context.Context) (store.Round, error)
	GetByID(ctx context.Context, roundID string) (store.Round, error)
	GetForUpdate(ctx context.Context, tx store.Getter, roundID string) (store.Round, error)
	GetForShare(ctx context.Context, tx store.Getter, roundID string) (store.Round, error)
	Open(ctx context.Context, tx store.Execer, roundID string, cycle int64) (bool, error)
	Close(ctx context.Context, tx store.Execer, roundID string, outcome int) (bool, error)
}

type WagerStore interface {
	Create(ctx context.Context, tx store.Execer, w store.Wager) error
	GetByID(ctx context.Context, wagerID string) (store.Wager, error)
	ListByRound(ctx context.Context, tx store.Selecter, roundID string) ([]store.Wager, error)
	MarkResult(ctx context.Context, tx store.Execer, wagerID, result string, payout int64) (bool, error)
}

type DepositStore interface {
	Create(ctx context.Context, tx store.Execer, d store.Deposit) error
	GetForUpdate(ctx context.Context, tx store.Getter, depositID string) (store.Deposit, error)
	Transition(ctx context.Context, tx store.Execer, depositID, from, to, reviewerID string) (bool, error)
	ListPendingIDs(ctx context.Context) ([]string, error)
}

type WithdrawalStore interface {
	Create(ctx context.Context, tx store.Execer, w store.Withdrawal) error
	GetForUpdate(ctx context.Context, tx store.Getter, withdrawalID string) (store.Withdrawal, error)
	Transition(ctx context.Context, tx store.Execer, withdrawalID, from, to, reviewerID string) (bool, error)
}

type LedgerStore interface {
	InsertEntries(ctx context.Context, tx store.Execer, entries []store.LedgerEntryInput) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type Broadcaster interface {
	BroadcastBalance(accountID string, update websocket.BalanceUpdate)
	BroadcastRoundResult(result websocket.RoundResult)
}
