package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"dicebet/internal/auth"
	"dicebet/internal/db"
	"dicebet/internal/logger"
	"dicebet/internal/money"
	"dicebet/internal/services"
	"dicebet/internal/store"
	"dicebet/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const defaultCountry = "Angola"

type registerRequest struct {
	Phone      string `json:"phone" validate:"required,phone"`
	Password   string `json:"password" validate:"required,min=6,max=72"`
	Country    string `json:"country" validate:"omitempty,max=64"`
	InviteCode string `json:"invite_code" validate:"omitempty,max=32"`
}

// Register creates an account with a zero balance. The invite code is the
// referrer's phone; unknown codes are ignored rather than rejected.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	country := strings.TrimSpace(req.Country)
	if country == "" {
		country = defaultCountry
	}

	account := store.Account{
		ID:           uuid.NewString(),
		Phone:        req.Phone,
		PasswordHash: passwordHash,
		Country:      country,
	}
	if code := strings.TrimSpace(req.InviteCode); code != "" && code != req.Phone {
		referrer, err := h.accounts.GetByPhone(r.Context(), code)
		switch {
		case err == nil:
			account.ReferredBy = &referrer.ID
		case errors.Is(err, sql.ErrNoRows):
			logger.Info(r.Context()).Str("invite_code", code).Msg("unknown invite code ignored")
		default:
			respondServiceError(r.Context(), w, err)
			return
		}
	}

	bootstrap := h.cfg.BootstrapAdminPhone != "" && h.cfg.BootstrapAdminPhone == req.Phone
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.accounts.Create(r.Context(), tx, account); err != nil {
			return err
		}
		if bootstrap {
			if err := h.admin.UpsertAdmin(r.Context(), tx, account.ID, true, nil); err != nil {
				return err
			}
		}
		data, _ := json.Marshal(map[string]any{
			"referred_by": account.ReferredBy,
			"ip":          r.RemoteAddr,
			"user_agent":  r.UserAgent(),
		})
		return h.audit.Log(r.Context(), tx, account.ID, "register", "account", account.ID, string(data))
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			respondServiceError(r.Context(), w, services.ErrPhoneTaken)
			return
		}
		respondServiceError(r.Context(), w, err)
		return
	}
	if bootstrap {
		logger.Warn(r.Context()).Str("account_id", account.ID).Msg("bootstrap admin registered")
	}

	token, err := auth.GenerateToken(h.cfg.JWTSecret, account.ID, h.cfg.TokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"token":      token,
		"account_id": account.ID,
	})
}

type loginRequest struct {
	Phone    string `json:"phone" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	if err := validator.ValidatePhone(req.Phone); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	account, err := h.accounts.GetByPhone(r.Context(), req.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		respondServiceError(r.Context(), w, err)
		return
	}
	if !auth.CheckPassword(account.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		data, _ := json.Marshal(map[string]string{
			"ip":         r.RemoteAddr,
			"user_agent": r.UserAgent(),
		})
		return h.audit.Log(r.Context(), tx, account.ID, "login", "account", account.ID, string(data))
	}); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	token, err := auth.GenerateToken(h.cfg.JWTSecret, account.ID, h.cfg.TokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"account_id": account.ID,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
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
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), accountID)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":          account.ID,
		"phone":       account.Phone,
		"country":     account.Country,
		"balance":     money.FormatMinor(account.Balance),
		"is_admin":    isAdmin,
		"is_super":    isSuper,
		"created_at":  account.CreatedAt,
		"invite_code": account.Phone,
	})
}
