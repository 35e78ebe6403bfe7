package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"dicebet/internal/logger"
	"dicebet/internal/money"
	"dicebet/internal/services"
	"dicebet/internal/storage"
	"dicebet/internal/store"
)

func (h *Handler) DepositOptions(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAccount(w, r); !ok {
		return
	}
	methods, err := h.paymentMethods.FirstActivePerKind(r.Context())
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	settings, err := h.settings.Get(r.Context())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		respondServiceError(r.Context(), w, err)
		return
	}
	normalized := make([]map[string]any, 0, len(methods))
	for _, m := range methods {
		normalized = append(normalized, formatPaymentMethod(m))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"methods":      normalized,
		"presets":      formatAmounts(settings.Presets()),
		"instructions": settings.Instructions,
		"support_link": settings.SupportLink,
	})
}

// SubmitDeposit takes a multipart form with amount, method, depositor_name
// and the proof file.
func (h *Handler) SubmitDeposit(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxProofSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_form")
		return
	}
	amount, err := money.ParseMinor(r.FormValue("amount"))
	if err != nil || amount <= 0 {
		respondServiceError(r.Context(), w, services.ErrInvalidAmount)
		return
	}
	method := strings.ToUpper(strings.TrimSpace(r.FormValue("method")))
	if !services.ValidMethod(method) {
		respondServiceError(r.Context(), w, services.ErrInvalidMethod)
		return
	}
	depositor := strings.TrimSpace(r.FormValue("depositor_name"))
	if depositor == "" {
		respondError(w, http.StatusBadRequest, "invalid_depositor_name")
		return
	}
	file, _, err := r.FormFile("proof")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing_proof")
		return
	}
	defer file.Close()

	ref, err := h.proofs.Save(r.Context(), file)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrProofTooLarge):
			respondError(w, http.StatusRequestEntityTooLarge, "proof_too_large")
		case errors.Is(err, storage.ErrProofType), errors.Is(err, storage.ErrProofEmpty):
			respondError(w, http.StatusBadRequest, "invalid_proof")
		default:
			respondServiceError(r.Context(), w, err)
		}
		return
	}

	depositID, err := h.fundsService.SubmitDeposit(r.Context(), services.DepositRequest{
		AccountID:     accountID,
		Method:        method,
		Amount:        amount,
		DepositorName: depositor,
		ProofRef:      ref,
	})
	if err != nil {
		if rmErr := h.proofs.Remove(ref); rmErr != nil {
			logger.Warn(r.Context()).Err(rmErr).Str("proof_ref", ref).Msg("failed to remove rejected proof")
		}
		respondServiceError(r.Context(), w, err)
		return
	}
	logger.Info(r.Context()).Str("deposit_id", depositID).Int64("amount", amount).Msg("deposit submitted")
	respondJSON(w, http.StatusCreated, map[string]string{
		"deposit_id": depositID,
		"status":     store.StatusPending,
	})
}

type withdrawalRequest struct {
	Amount string `json:"amount" validate:"required"`
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req withdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	amount, err := money.ParseMinor(req.Amount)
	if err != nil {
		respondServiceError(r.Context(), w, services.ErrInvalidAmount)
		return
	}
	result, err := h.fundsService.RequestWithdrawal(r.Context(), accountID, amount)
	if err != nil {
		if errors.Is(err, services.ErrBelowMinimumWithdrawal) {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "below_minimum_withdrawal",
				"minimum": money.FormatMinor(h.fundsService.MinWithdrawal()),
			})
			return
		}
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"withdrawal_id": result.WithdrawalID,
		"status":        store.StatusPending,
		"balance":       money.FormatMinor(result.Balance),
	})
}

// Invite lists the accounts this one referred. The invite code is the phone.
func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.GetByID(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondServiceError(r.Context(), w, services.ErrAccountNotFound)
			return
		}
		respondServiceError(r.Context(), w, err)
		return
	}
	referred, err := h.accounts.ListReferred(r.Context(), accountID)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	earned, err := h.ledger.SumByKind(r.Context(), accountID, store.KindReferralCommission)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	members := make([]map[string]any, 0, len(referred))
	for _, ref := range referred {
		members = append(members, map[string]any{
			"phone":      ref.Phone,
			"created_at": ref.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"invite_code": account.Phone,
		"count":       len(referred),
		"referred":    members,
		"commission":  money.FormatMinor(earned),
	})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	wagers, err := h.wagers.ListByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	deposits, err := h.deposits.ListByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	withdrawals, err := h.withdrawals.ListByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}

	wagerRows := make([]map[string]any, 0, len(wagers))
	for _, wager := range wagers {
		wagerRows = append(wagerRows, formatWager(wager))
	}
	depositRows := make([]map[string]any, 0, len(deposits))
	for _, d := range deposits {
		depositRows = append(depositRows, formatDeposit(d))
	}
	withdrawalRows := make([]map[string]any, 0, len(withdrawals))
	for _, wd := range withdrawals {
		withdrawalRows = append(withdrawalRows, formatWithdrawal(wd))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"wagers":      wagerRows,
		"deposits":    depositRows,
		"withdrawals": withdrawalRows,
	})
}

func formatPaymentMethod(m store.PaymentMethod) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"kind":      m.Kind,
		"label":     m.Label,
		"holder":    m.Holder,
		"number":    m.Number,
		"reference": m.Reference,
		"active":    m.Active,
	}
}

func formatDeposit(d store.Deposit) map[string]any {
	return map[string]any{
		"id":             d.ID,
		"method":         d.Method,
		"amount":         money.FormatMinor(d.Amount),
		"depositor_name": d.DepositorName,
		"proof_ref":      d.ProofRef,
		"status":         d.Status,
		"created_at":     d.CreatedAt,
		"reviewed_at":    d.ReviewedAt,
	}
}

func formatWithdrawal(wd store.Withdrawal) map[string]any {
	return map[string]any{
		"id":          wd.ID,
		"amount":      money.FormatMinor(wd.Amount),
		"status":      wd.Status,
		"created_at":  wd.CreatedAt,
		"reviewed_at": wd.ReviewedAt,
	}
}
