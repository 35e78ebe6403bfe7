package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"dicebet/internal/middleware"
	"dicebet/internal/money"
	"dicebet/internal/services"
	"dicebet/internal/storage"
	"dicebet/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

func (h *Handler) AdminListDeposits(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	rows, err := h.deposits.ListByStatus(r.Context(), strings.ToUpper(r.URL.Query().Get("status")), limit, offset)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		item := formatDeposit(row.Deposit)
		item["account_id"] = row.AccountID
		item["phone"] = row.Phone
		normalized = append(normalized, item)
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) AdminApproveDeposit(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	approval, err := h.fundsService.ApproveDeposit(r.Context(), operatorID, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deposit_id":  approval.DepositID,
		"account_id":  approval.AccountID,
		"amount":      money.FormatMinor(approval.Amount),
		"balance":     money.FormatMinor(approval.Balance),
		"referrer_id": approval.ReferrerID,
		"commission":  money.FormatMinor(approval.Commission),
		"status":      store.StatusApproved,
	})
}

func (h *Handler) AdminApprovePendingDeposits(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	approved, err := h.fundsService.ApprovePendingDeposits(r.Context(), operatorID)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"approved": approved})
}

func (h *Handler) AdminRejectDeposit(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	if err := h.fundsService.RejectDeposit(r.Context(), operatorID, chi.URLParam(r, "id")); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": store.StatusRejected})
}

func (h *Handler) AdminDepositProof(w http.ResponseWriter, r *http.Request) {
	f, err := h.proofs.Open(chi.URLParam(r, "ref"))
	if err != nil {
		if errors.Is(err, storage.ErrInvalidProofRef) || errors.Is(err, fs.ErrNotExist) {
			respondError(w, http.StatusNotFound, "proof_not_found")
			return
		}
		respondServiceError(r.Context(), w, err)
		return
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	w.Header().Set("Content-Type", http.DetectContentType(head[:n]))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(head[:n])
	_, _ = io.Copy(w, f)
}

func (h *Handler) AdminListWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	rows, err := h.withdrawals.ListByStatus(r.Context(), strings.ToUpper(r.URL.Query().Get("status")), limit, offset)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		item := formatWithdrawal(row.Withdrawal)
		item["account_id"] = row.AccountID
		item["phone"] = row.Phone
		normalized = append(normalized, item)
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) AdminApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	if err := h.fundsService.ApproveWithdrawal(r.Context(), operatorID, chi.URLParam(r, "id")); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": store.StatusApproved})
}

func (h *Handler) AdminRejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	if err := h.fundsService.RejectWithdrawal(r.Context(), operatorID, chi.URLParam(r, "id")); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": store.StatusRejected})
}

func (h *Handler) AdminListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.paymentMethods.List(r.Context())
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	normalized := make([]map[string]any, 0, len(methods))
	for _, m := range methods {
		normalized = append(normalized, formatPaymentMethod(m))
	}
	respondJSON(w, http.StatusOK, normalized)
}

type paymentMethodRequest struct {
	Kind      string `json:"kind" validate:"required,oneof=BANK EXPRESS REFERENCE"`
	Label     string `json:"label" validate:"required,max=100"`
	Holder    string `json:"holder" validate:"max=100"`
	Number    string `json:"number" validate:"required,max=64"`
	Reference string `json:"reference" validate:"max=64"`
}

func (h *Handler) AdminCreatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req paymentMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	method := store.PaymentMethod{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Label:     req.Label,
		Holder:    req.Holder,
		Number:    req.Number,
		Reference: req.Reference,
		Active:    true,
	}
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.paymentMethods.Create(r.Context(), tx, method); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{"kind": method.Kind, "label": method.Label})
		return h.audit.Log(r.Context(), tx, operatorID, "create_payment_method", "payment_method", method.ID, string(data))
	})
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusCreated, formatPaymentMethod(method))
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) AdminSetPaymentMethodActive(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	methodID := chi.URLParam(r, "id")
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		updated, err := h.paymentMethods.SetActive(r.Context(), tx, methodID, *req.Active)
		if err != nil {
			return err
		}
		if !updated {
			return services.ErrPaymentMethodNotFound
		}
		data, _ := json.Marshal(map[string]bool{"active": *req.Active})
		return h.audit.Log(r.Context(), tx, operatorID, "set_payment_method_active", "payment_method", methodID, string(data))
	})
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": methodID, "active": *req.Active})
}

type settingsRequest struct {
	SupportLink  string `json:"support_link" validate:"omitempty,url,max=500"`
	Instructions string `json:"instructions" validate:"max=4000"`
	PresetStakes string `json:"preset_stakes" validate:"max=200"`
}

func (h *Handler) AdminUpdateSettings(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	settings := store.Settings{
		SupportLink:  req.SupportLink,
		Instructions: req.Instructions,
		PresetStakes: req.PresetStakes,
	}
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.settings.Update(r.Context(), tx, settings); err != nil {
			return err
		}
		data, _ := json.Marshal(req)
		return h.audit.Log(r.Context(), tx, operatorID, "update_settings", "settings", "1", string(data))
	})
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"support_link": settings.SupportLink,
		"instructions": settings.Instructions,
		"presets":      formatAmounts(settings.Presets()),
	})
}

func (h *Handler) AdminListRounds(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	rows, err := h.rounds.List(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"id":          row.ID,
			"cycle":       row.Cycle,
			"outcome":     row.Outcome,
			"active":      row.Active,
			"created_at":  row.CreatedAt,
			"closed_at":   row.ClosedAt,
			"wager_count": row.WagerCount,
			"total_stake": money.FormatMinor(row.TotalStake),
			"total_paid":  money.FormatMinor(row.TotalPaid),
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) AdminCloseRound(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	settlement, err := h.roundService.CloseRound(r.Context(), operatorID, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"round_id":     settlement.RoundID,
		"cycle":        settlement.Cycle,
		"outcome":      settlement.Outcome,
		"wagers":       settlement.Wagers,
		"winners":      settlement.Winners,
		"total_stake":  money.FormatMinor(settlement.TotalStake),
		"total_payout": money.FormatMinor(settlement.TotalPayout),
	})
}

func (h *Handler) AdminWagerTotals(w http.ResponseWriter, r *http.Request) {
	total, err := h.wagers.TotalStakes(r.Context())
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"total_stake": money.FormatMinor(total)})
}

func (h *Handler) AdminListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	rows, err := h.audit.List(r.Context(), r.URL.Query().Get("entity_type"), limit, offset)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	if rows == nil {
		rows = []store.AuditLog{}
	}
	respondJSON(w, http.StatusOK, rows)
}

// AdminReconcile compares stored balances with their ledger sums. Balances
// that predate the ledger show up as a difference.
func (h *Handler) AdminReconcile(w http.ResponseWriter, r *http.Request) {
	rows, err := h.accounts.ListBalanceSummaries(r.Context(), isTrue(r.URL.Query().Get("mismatched")))
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"account_id":      row.ID,
			"phone":           row.Phone,
			"ledger_sum":      money.FormatMinor(row.CalculatedBalance),
			"account_balance": money.FormatMinor(row.StoredBalance),
			"difference":      money.FormatMinor(row.Difference),
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

type promoteRequest struct {
	Phone string `json:"phone" validate:"required,phone"`
}

func (h *Handler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := h.requireSuper(w, r)
	if !ok {
		return
	}
	var req promoteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	target, err := h.accounts.GetByPhone(r.Context(), req.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondServiceError(r.Context(), w, services.ErrAccountNotFound)
			return
		}
		respondServiceError(r.Context(), w, err)
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.UpsertAdmin(r.Context(), tx, target.ID, false, &operatorID); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{"target_account_id": target.ID})
		return h.audit.Log(r.Context(), tx, operatorID, "promote_admin", "admin", target.ID, string(data))
	})
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "promoted", "account_id": target.ID})
}

type grantRoleRequest struct {
	AdminUserID string `json:"admin_user_id" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=CanReviewFunds CanManageGame CanViewAudit"`
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := h.requireSuper(w, r)
	if !ok {
		return
	}
	var req grantRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), req.AdminUserID)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	if !isAdmin {
		respondError(w, http.StatusBadRequest, "target_not_admin")
		return
	}
	if isSuper {
		respondError(w, http.StatusBadRequest, "target_is_super_admin")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.GrantRole(r.Context(), tx, req.AdminUserID, req.Role); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{
			"admin_user_id": req.AdminUserID,
			"role":          req.Role,
		})
		return h.audit.Log(r.Context(), tx, operatorID, "grant_role", "admin_role", req.AdminUserID, string(data))
	})
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "role_granted"})
}

func (h *Handler) requireSuper(w http.ResponseWriter, r *http.Request) (string, bool) {
	operatorID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	_, isSuper, err := h.admin.IsAdmin(r.Context(), operatorID)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return "", false
	}
	if !isSuper {
		respondError(w, http.StatusForbidden, "super_admin_required")
		return "", false
	}
	return operatorID, true
}
