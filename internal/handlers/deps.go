package handlers

import (
	"context"
	"io"
	"os"
	"time"

	"dicebet/internal/game"
	"dicebet/internal/services"
	"dicebet/internal/store"
)

type AccountStore interface {
	Create(ctx context.Context, tx store.Execer, acc store.Account) error
	GetByID(ctx context.Context, accountID string) (store.Account, error)
	GetByPhone(ctx context.Context, phone string) (store.Account, error)
	ListReferred(ctx context.Context, referrerID string) ([]store.ReferredAccount, error)
	ListBalanceSummaries(ctx context.Context, onlyMismatched bool) ([]store.AccountBalanceSummary, error)
}

type WagerStore interface {
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]store.Wager, error)
	TotalStakes(ctx context.Context) (int64, error)
}

type RoundStore interface {
	List(ctx context.Context, limit, offset int) ([]store.RoundSummary, error)
}

type DepositStore interface {
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]store.DepositWithAccount, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]store.Deposit, error)
}

type WithdrawalStore interface {
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]store.WithdrawalWithAccount, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]store.Withdrawal, error)
}

type PaymentMethodStore interface {
	Create(ctx context.Context, tx store.Execer, m store.PaymentMethod) error
	FirstActivePerKind(ctx context.Context) ([]store.PaymentMethod, error)
	List(ctx context.Context) ([]store.PaymentMethod, error)
	SetActive(ctx context.Context, tx store.Execer, methodID string, active bool) (bool, error)
}

type SettingsStore interface {
	Get(ctx context.Context) (store.Settings, error)
	Update(ctx context.Context, tx store.Execer, settings store.Settings) error
}

type LedgerStore interface {
	SumByKind(ctx context.Context, accountID, kind string) (int64, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
	UpsertAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	List(ctx context.Context, entityType string, limit, offset int) ([]store.AuditLog, error)
}

type ProofStore interface {
	Save(ctx context.Context, r io.Reader) (string, error)
	Open(ref string) (*os.File, error)
	Remove(ref string) error
}

type RoundService interface {
	Clock() game.Clock
	ActiveRound(ctx context.Context, now time.Time) (store.Round, error)
	CloseRound(ctx context.Context, operatorID, roundID string) (services.Settlement, error)
}

type WagerService interface {
	PlaceWager(ctx context.Context, req services.PlaceWagerRequest) (services.PlaceWagerResult, error)
	ConfirmOutcome(ctx context.Context, req services.ConfirmRequest) (services.ConfirmResult, error)
}

type FundsService interface {
	MinWithdrawal() int64
	SubmitDeposit(ctx context.Context, req services.DepositRequest) (string, error)
	ApproveDeposit(ctx context.Context, operatorID, depositID string) (services.DepositApproval, error)
	ApprovePendingDeposits(ctx context.Context, operatorID string) (int, error)
	RejectDeposit(ctx context.Context, operatorID, depositID string) error
	RequestWithdrawal(ctx context.Context, accountID string, amount int64) (services.WithdrawalResult, error)
	ApproveWithdrawal(ctx context.Context, operatorID, withdrawalID string) error
	RejectWithdrawal(ctx context.Context, operatorID, withdrawalID string) error
}
