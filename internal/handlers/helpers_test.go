package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"dicebet/internal/auth"
	"dicebet/internal/config"
	"dicebet/internal/game"
	"dicebet/internal/services"
	"dicebet/internal/store"
	"dicebet/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubAccountStore struct {
	createFn        func(ctx context.Context, tx store.Execer, acc store.Account) error
	getByIDFn       func(ctx context.Context, accountID string) (store.Account, error)
	getByPhoneFn    func(ctx context.Context, phone string) (store.Account, error)
	listReferredFn  func(ctx context.Context, referrerID string) ([]store.ReferredAccount, error)
	listSummariesFn func(ctx context.Context, onlyMismatched bool) ([]store.AccountBalanceSummary, error)
}

func (s stubAccountStore) Create(ctx context.Context, tx store.Execer, acc store.Account) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, acc)
}

func (s stubAccountStore) GetByID(ctx context.Context, accountID string) (store.Account, error) {
	if s.getByIDFn == nil {
		return store.Account{ID: accountID}, nil
	}
	return s.getByIDFn(ctx, accountID)
}

func (s stubAccountStore) GetByPhone(ctx context.Context, phone string) (store.Account, error) {
	if s.getByPhoneFn == nil {
		return store.Account{}, nil
	}
	return s.getByPhoneFn(ctx, phone)
}

func (s stubAccountStore) ListReferred(ctx context.Context, referrerID string) ([]store.ReferredAccount, error) {
	if s.listReferredFn == nil {
		return nil, nil
	}
	return s.listReferredFn(ctx, referrerID)
}

func (s stubAccountStore) ListBalanceSummaries(ctx context.Context, onlyMismatched bool) ([]store.AccountBalanceSummary, error) {
	if s.listSummariesFn == nil {
		return nil, nil
	}
	return s.listSummariesFn(ctx, onlyMismatched)
}

type stubWagerStore struct {
	listByAccountFn func(ctx context.Context, accountID string, limit, offset int) ([]store.Wager, error)
	totalStakesFn   func(ctx context.Context) (int64, error)
}

func (s stubWagerStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]store.Wager, error) {
	if s.listByAccountFn == nil {
		return nil, nil
	}
	return s.listByAccountFn(ctx, accountID, limit, offset)
}

func (s stubWagerStore) TotalStakes(ctx context.Context) (int64, error) {
	if s.totalStakesFn == nil {
		return 0, nil
	}
	return s.totalStakesFn(ctx)
}

type stubRoundStore struct {
	listFn func(ctx context.Context, limit, offset int) ([]store.RoundSummary, error)
}

func (s stubRoundStore) List(ctx context.Context, limit, offset int) ([]store.RoundSummary, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubDepositStore struct {
	listByStatusFn  func(ctx context.Context, status string, limit, offset int) ([]store.DepositWithAccount, error)
	listByAccountFn func(ctx context.Context, accountID string, limit, offset int) ([]store.Deposit, error)
}

func (s stubDepositStore) ListByStatus(ctx context.Context, status string, limit, offset int) ([]store.DepositWithAccount, error) {
	if s.listByStatusFn == nil {
		return nil, nil
	}
	return s.listByStatusFn(ctx, status, limit, offset)
}

func (s stubDepositStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]store.Deposit, error) {
	if s.listByAccountFn == nil {
		return nil, nil
	}
	return s.listByAccountFn(ctx, accountID, limit, offset)
}

type stubWithdrawalStore struct {
	listByStatusFn  func(ctx context.Context, status string, limit, offset int) ([]store.WithdrawalWithAccount, error)
	listByAccountFn func(ctx context.Context, accountID string, limit, offset int) ([]store.Withdrawal, error)
}

func (s stubWithdrawalStore) ListByStatus(ctx context.Context, status string, limit, offset int) ([]store.WithdrawalWithAccount, error) {
	if s.listByStatusFn == nil {
		return nil, nil
	}
	return s.listByStatusFn(ctx, status, limit, offset)
}

func (s stubWithdrawalStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]store.Withdrawal, error) {
	if s.listByAccountFn == nil {
		return nil, nil
	}
	return s.listByAccountFn(ctx, accountID, limit, offset)
}

type stubPaymentMethodStore struct {
	createFn    func(ctx context.Context, tx store.Execer, m store.PaymentMethod) error
	firstFn     func(ctx context.Context) ([]store.PaymentMethod, error)
	listFn      func(ctx context.Context) ([]store.PaymentMethod, error)
	setActiveFn func(ctx context.Context, tx store.Execer, methodID string, active bool) (bool, error)
}

func (s stubPaymentMethodStore) Create(ctx context.Context, tx store.Execer, m store.PaymentMethod) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, m)
}

func (s stubPaymentMethodStore) FirstActivePerKind(ctx context.Context) ([]store.PaymentMethod, error) {
	if s.firstFn == nil {
		return nil, nil
	}
	return s.firstFn(ctx)
}

func (s stubPaymentMethodStore) List(ctx context.Context) ([]store.PaymentMethod, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx)
}

func (s stubPaymentMethodStore) SetActive(ctx context.Context, tx store.Execer, methodID string, active bool) (bool, error) {
	if s.setActiveFn == nil {
		return true, nil
	}
	return s.setActiveFn(ctx, tx, methodID, active)
}

type stubSettingsStore struct {
	getFn    func(ctx context.Context) (store.Settings, error)
	updateFn func(ctx context.Context, tx store.Execer, settings store.Settings) error
}

func (s stubSettingsStore) Get(ctx context.Context) (store.Settings, error) {
	if s.getFn == nil {
		return store.Settings{PresetStakes: "1000, 2000, 5000"}, nil
	}
	return s.getFn(ctx)
}

func (s stubSettingsStore) Update(ctx context.Context, tx store.Execer, settings store.Settings) error {
	if s.updateFn == nil {
		return nil
	}
	return s.updateFn(ctx, tx, settings)
}

type stubLedgerStore struct {
	sumByKindFn func(ctx context.Context, accountID, kind string) (int64, error)
}

func (s stubLedgerStore) SumByKind(ctx context.Context, accountID, kind string) (int64, error) {
	if s.sumByKindFn == nil {
		return 0, nil
	}
	return s.sumByKindFn(ctx, accountID, kind)
}

type stubAdminStore struct {
	isAdminFn     func(ctx context.Context, userID string) (bool, bool, error)
	hasRoleFn     func(ctx context.Context, userID, role string) (bool, error)
	upsertAdminFn func(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	grantRoleFn   func(ctx context.Context, tx store.Execer, adminUserID, role string) error
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if s.hasRoleFn == nil {
		return false, nil
	}
	return s.hasRoleFn(ctx, userID, role)
}

func (s stubAdminStore) UpsertAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error {
	if s.upsertAdminFn == nil {
		return nil
	}
	return s.upsertAdminFn(ctx, tx, userID, isSuper, createdBy)
}

func (s stubAdminStore) GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error {
	if s.grantRoleFn == nil {
		return nil
	}
	return s.grantRoleFn(ctx, tx, adminUserID, role)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	listFn func(ctx context.Context, entityType string, limit, offset int) ([]store.AuditLog, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, entityType string, limit, offset int) ([]store.AuditLog, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, entityType, limit, offset)
}

type stubProofStore struct {
	saveFn   func(ctx context.Context, r io.Reader) (string, error)
	openFn   func(ref string) (*os.File, error)
	removeFn func(ref string) error
}

func (s stubProofStore) Save(ctx context.Context, r io.Reader) (string, error) {
	if s.saveFn == nil {
		return "proof.png", nil
	}
	return s.saveFn(ctx, r)
}

func (s stubProofStore) Open(ref string) (*os.File, error) {
	if s.openFn == nil {
		return nil, os.ErrNotExist
	}
	return s.openFn(ref)
}

func (s stubProofStore) Remove(ref string) error {
	if s.removeFn == nil {
		return nil
	}
	return s.removeFn(ref)
}

type stubRoundService struct {
	activeRoundFn func(ctx context.Context, now time.Time) (store.Round, error)
	closeRoundFn  func(ctx context.Context, operatorID, roundID string) (services.Settlement, error)
}

func (s stubRoundService) Clock() game.Clock {
	return game.DefaultClock()
}

func (s stubRoundService) ActiveRound(ctx context.Context, now time.Time) (store.Round, error) {
	if s.activeRoundFn == nil {
		return store.Round{ID: "round-1", Active: true}, nil
	}
	return s.activeRoundFn(ctx, now)
}

func (s stubRoundService) CloseRound(ctx context.Context, operatorID, roundID string) (services.Settlement, error) {
	if s.closeRoundFn == nil {
		return services.Settlement{RoundID: roundID}, nil
	}
	return s.closeRoundFn(ctx, operatorID, roundID)
}

type stubWagerService struct {
	placeFn   func(ctx context.Context, req services.PlaceWagerRequest) (services.PlaceWagerResult, error)
	confirmFn func(ctx context.Context, req services.ConfirmRequest) (services.ConfirmResult, error)
}

func (s stubWagerService) PlaceWager(ctx context.Context, req services.PlaceWagerRequest) (services.PlaceWagerResult, error) {
	if s.placeFn == nil {
		return services.PlaceWagerResult{}, nil
	}
	return s.placeFn(ctx, req)
}

func (s stubWagerService) ConfirmOutcome(ctx context.Context, req services.ConfirmRequest) (services.ConfirmResult, error) {
	if s.confirmFn == nil {
		return services.ConfirmResult{}, nil
	}
	return s.confirmFn(ctx, req)
}

type stubFundsService struct {
	submitFn          func(ctx context.Context, req services.DepositRequest) (string, error)
	approveFn         func(ctx context.Context, operatorID, depositID string) (services.DepositApproval, error)
	approvePendingFn  func(ctx context.Context, operatorID string) (int, error)
	rejectFn          func(ctx context.Context, operatorID, depositID string) error
	withdrawFn        func(ctx context.Context, accountID string, amount int64) (services.WithdrawalResult, error)
	approveWithdrawFn func(ctx context.Context, operatorID, withdrawalID string) error
	rejectWithdrawFn  func(ctx context.Context, operatorID, withdrawalID string) error
}

func (s stubFundsService) MinWithdrawal() int64 {
	return 250000
}

func (s stubFundsService) SubmitDeposit(ctx context.Context, req services.DepositRequest) (string, error) {
	if s.submitFn == nil {
		return "dep-1", nil
	}
	return s.submitFn(ctx, req)
}

func (s stubFundsService) ApproveDeposit(ctx context.Context, operatorID, depositID string) (services.DepositApproval, error) {
	if s.approveFn == nil {
		return services.DepositApproval{DepositID: depositID}, nil
	}
	return s.approveFn(ctx, operatorID, depositID)
}

func (s stubFundsService) ApprovePendingDeposits(ctx context.Context, operatorID string) (int, error) {
	if s.approvePendingFn == nil {
		return 0, nil
	}
	return s.approvePendingFn(ctx, operatorID)
}

func (s stubFundsService) RejectDeposit(ctx context.Context, operatorID, depositID string) error {
	if s.rejectFn == nil {
		return nil
	}
	return s.rejectFn(ctx, operatorID, depositID)
}

func (s stubFundsService) RequestWithdrawal(ctx context.Context, accountID string, amount int64) (services.WithdrawalResult, error) {
	if s.withdrawFn == nil {
		return services.WithdrawalResult{}, nil
	}
	return s.withdrawFn(ctx, accountID, amount)
}

func (s stubFundsService) ApproveWithdrawal(ctx context.Context, operatorID, withdrawalID string) error {
	if s.approveWithdrawFn == nil {
		return nil
	}
	return s.approveWithdrawFn(ctx, operatorID, withdrawalID)
}

func (s stubFundsService) RejectWithdrawal(ctx context.Context, operatorID, withdrawalID string) error {
	if s.rejectWithdrawFn == nil {
		return nil
	}
	return s.rejectWithdrawFn(ctx, operatorID, withdrawalID)
}

// testClockStart is the first second of a betting window.
var testClockStart = time.Unix(40*1_000_000, 0)

// newTestHandler fills every dependency left nil in deps with an empty stub.
func newTestHandler(deps Dependencies) *Handler {
	if deps.TxRunner == nil {
		deps.TxRunner = fakeTxRunner{}
	}
	if deps.Accounts == nil {
		deps.Accounts = stubAccountStore{}
	}
	if deps.Wagers == nil {
		deps.Wagers = stubWagerStore{}
	}
	if deps.Rounds == nil {
		deps.Rounds = stubRoundStore{}
	}
	if deps.Deposits == nil {
		deps.Deposits = stubDepositStore{}
	}
	if deps.Withdrawals == nil {
		deps.Withdrawals = stubWithdrawalStore{}
	}
	if deps.PaymentMethods == nil {
		deps.PaymentMethods = stubPaymentMethodStore{}
	}
	if deps.Settings == nil {
		deps.Settings = stubSettingsStore{}
	}
	if deps.Ledger == nil {
		deps.Ledger = stubLedgerStore{}
	}
	if deps.Admin == nil {
		deps.Admin = stubAdminStore{}
	}
	if deps.Audit == nil {
		deps.Audit = stubAuditStore{}
	}
	if deps.Proofs == nil {
		deps.Proofs = stubProofStore{}
	}
	if deps.RoundService == nil {
		deps.RoundService = stubRoundService{}
	}
	if deps.WagerService == nil {
		deps.WagerService = stubWagerService{}
	}
	if deps.FundsService == nil {
		deps.FundsService = stubFundsService{}
	}
	if deps.Hub == nil {
		deps.Hub = websocket.NewHub()
	}
	cfg := config.Config{
		AppEnv:         "test",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
	}
	h := New(cfg, deps)
	h.now = func() time.Time { return testClockStart }
	return h
}

// doRequest sends a request through the full router, authenticated as
// accountID unless it is empty.
func doRequest(t *testing.T, h *Handler, method, path string, body any, accountID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		token, err := auth.GenerateToken("secret", accountID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json body %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["error"]; got != code {
		t.Fatalf("expected error %q, got %v", code, got)
	}
}

func stringPtr(value string) *string {
	return &value
}

func intPtr(value int) *int {
	return &value
}
