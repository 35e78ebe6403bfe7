package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"dicebet/internal/db"
	"dicebet/internal/logger"
	"dicebet/internal/middleware"
	"dicebet/internal/services"
	"dicebet/internal/validator"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// serviceErrors is checked in order, so specific errors come before the
// kinds they wrap.
var serviceErrors = []errorMapping{
	{services.ErrPhoneTaken, http.StatusConflict, "phone_taken"},
	{services.ErrInvalidStake, http.StatusBadRequest, "invalid_stake"},
	{services.ErrInvalidChoice, http.StatusBadRequest, "invalid_choice"},
	{services.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{services.ErrInvalidMethod, http.StatusBadRequest, "invalid_method"},
	{services.ErrBelowMinimumWithdrawal, http.StatusBadRequest, "below_minimum_withdrawal"},
	{services.ErrInsufficientFunds, http.StatusBadRequest, "insufficient_funds"},
	{services.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{services.ErrWagerNotFound, http.StatusNotFound, "wager_not_found"},
	{services.ErrRoundNotFound, http.StatusNotFound, "round_not_found"},
	{services.ErrDepositNotFound, http.StatusNotFound, "deposit_not_found"},
	{services.ErrWithdrawalNotFound, http.StatusNotFound, "withdrawal_not_found"},
	{services.ErrPaymentMethodNotFound, http.StatusNotFound, "payment_method_not_found"},
	{services.ErrWagerNotOwned, http.StatusForbidden, "wager_not_owned"},
	{services.ErrBettingClosed, http.StatusConflict, "betting_closed"},
	{services.ErrRoundClosed, http.StatusConflict, "round_closed"},
	{services.ErrRoundOpen, http.StatusConflict, "round_open"},
	{services.ErrDepositNotPending, http.StatusConflict, "deposit_not_pending"},
	{services.ErrWithdrawalNotPending, http.StatusConflict, "withdrawal_not_pending"},
	{services.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{services.ErrNotFound, http.StatusNotFound, "not_found"},
	{services.ErrUnauthorized, http.StatusForbidden, "forbidden"},
	{services.ErrInvalidState, http.StatusConflict, "invalid_state"},
}

// respondServiceError maps domain errors to status codes. Anything unknown
// is logged and reported as internal_error.
func respondServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			respondError(w, m.status, m.code)
			return
		}
	}
	var fieldErr *validator.FieldError
	if errors.As(err, &fieldErr) {
		respondError(w, http.StatusBadRequest, "invalid_"+fieldErr.Field)
		return
	}
	if db.IsUniqueViolation(err) {
		respondError(w, http.StatusConflict, "conflict")
		return
	}
	logger.Error(ctx).Err(err).Msg("request failed")
	respondError(w, http.StatusInternalServerError, "internal_error")
}

// decodeJSON reads the body into dst and runs its validate tags.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return services.ErrInvalidInput
	}
	return validator.Struct(dst)
}

func requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return accountID, true
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func pageParams(r *http.Request) (int, int) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	if limit > 200 {
		limit = 200
	}
	page := parseInt(query.Get("page"), 1)
	return limit, (page - 1) * limit
}

func isTrue(raw string) bool {
	switch strings.ToLower(raw) {
	case "1", "true", "yes":
		return true
	}
	return false
}
