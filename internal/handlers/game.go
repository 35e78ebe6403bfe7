package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"dicebet/internal/game"
	"dicebet/internal/money"
	"dicebet/internal/services"
	"dicebet/internal/store"
	"dicebet/internal/websocket"
)

// Status is the public loading endpoint: just the clock, no account data.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.roundService.Clock().At(h.now())
	respondJSON(w, http.StatusOK, map[string]any{
		"server_time": snap.Unix,
		"phase":       snap.Phase,
		"remaining":   snap.Remaining,
		"cycle":       snap.Cycle,
	})
}

func (h *Handler) GameState(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	now := h.now()
	account, err := h.accounts.GetByID(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondServiceError(r.Context(), w, services.ErrAccountNotFound)
			return
		}
		respondServiceError(r.Context(), w, err)
		return
	}
	// an operator-closed cycle has no round until the next one starts
	roundID := ""
	round, err := h.roundService.ActiveRound(r.Context(), now)
	switch {
	case err == nil:
		roundID = round.ID
	case !errors.Is(err, services.ErrRoundClosed):
		respondServiceError(r.Context(), w, err)
		return
	}
	settings, err := h.settings.Get(r.Context())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		respondServiceError(r.Context(), w, err)
		return
	}

	snap := h.roundService.Clock().At(now)
	respondJSON(w, http.StatusOK, map[string]any{
		"round_id":     roundID,
		"phase":        snap.Phase,
		"remaining":    snap.Remaining,
		"cycle":        snap.Cycle,
		"server_time":  snap.Unix,
		"balance":      money.FormatMinor(account.Balance),
		"presets":      formatAmounts(settings.Presets()),
		"instructions": settings.Instructions,
		"support_link": settings.SupportLink,
		"outcomes":     game.Outcomes,
	})
}

type placeWagerRequest struct {
	Stake  string `json:"stake" validate:"required"`
	Choice *int   `json:"choice" validate:"required,outcome"`
}

func (h *Handler) PlaceWager(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req placeWagerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	stake, err := money.ParseMinor(req.Stake)
	if err != nil {
		respondServiceError(r.Context(), w, services.ErrInvalidStake)
		return
	}
	result, err := h.wagerService.PlaceWager(r.Context(), services.PlaceWagerRequest{
		AccountID: accountID,
		Choice:    *req.Choice,
		Stake:     stake,
		Now:       h.now(),
	})
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"wager_id": result.WagerID,
		"round_id": result.RoundID,
		"balance":  money.FormatMinor(result.Balance),
	})
}

type confirmRequest struct {
	WagerID string `json:"wager_id" validate:"required"`
	Outcome *int   `json:"outcome"`
}

// ConfirmOutcome answers from the stored round outcome. The outcome the
// client sends is only logged when it disagrees.
func (h *Handler) ConfirmOutcome(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	result, err := h.wagerService.ConfirmOutcome(r.Context(), services.ConfirmRequest{
		AccountID: accountID,
		WagerID:   req.WagerID,
		Claimed:   req.Outcome,
		Now:       h.now(),
	})
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"wager_id": result.WagerID,
		"won":      result.Won,
		"outcome":  result.Outcome,
		"payout":   money.FormatMinor(result.Payout),
		"balance":  money.FormatMinor(result.Balance),
	})
}

// WSGame upgrades to the push channel and greets the client with the clock.
func (h *Handler) WSGame(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	snap := h.roundService.Clock().At(h.now())
	hello, _ := json.Marshal(websocket.ClockSync{
		Type:       websocket.EventClock,
		ServerTime: snap.Unix,
		Phase:      string(snap.Phase),
		Remaining:  snap.Remaining,
		Cycle:      snap.Cycle,
	})
	websocket.ServeWS(w, r, h.hub, accountID, hello)
}

func formatAmounts(amounts []int64) []string {
	out := make([]string, 0, len(amounts))
	for _, a := range amounts {
		out = append(out, money.FormatMinor(a))
	}
	return out
}

func formatWager(wager store.Wager) map[string]any {
	result := "pending"
	if wager.Result != nil {
		result = *wager.Result
	}
	return map[string]any{
		"id":         wager.ID,
		"round_id":   wager.RoundID,
		"choice":     wager.Choice,
		"stake":      money.FormatMinor(wager.Stake),
		"result":     result,
		"payout":     money.FormatMinor(wager.Payout),
		"created_at": wager.CreatedAt,
		"settled_at": wager.SettledAt,
	}
}
