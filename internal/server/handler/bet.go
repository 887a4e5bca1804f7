package handler

import (
	"log/slog"
	"net/http"
)

// BetHandler serves bet placement and listing.
type BetHandler struct {
	markets MarketService
	amounts Amounts
	logger  *slog.Logger
}

func NewBetHandler(markets MarketService, amounts Amounts, logger *slog.Logger) *BetHandler {
	return &BetHandler{markets: markets, amounts: amounts, logger: logger}
}

type placeBetRequest struct {
	Participant string `json:"participant"`
	Outcome     string `json:"outcome"`
	Amount      int64  `json:"amount"`
}

// PlaceBet stakes amount minor units on an outcome.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bet, err := h.markets.PlaceBet(r.Context(), r.PathValue("id"), req.Participant, req.Outcome, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"bet":            bet,
		"amount_display": h.amounts.Format(bet.Amount),
	})
}

// ListBets returns a market's bets, optionally for one participant.
// GET /api/markets/{id}/bets?participant=alice
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.markets.Bets(r.PathValue("id"), r.URL.Query().Get("participant"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list bets", err)
		return
	}
	var total int64
	for _, b := range bets {
		total += b.Amount
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bets":          bets,
		"total":         total,
		"total_display": h.amounts.Format(total),
	})
}
