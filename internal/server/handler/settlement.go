package handler

import (
	"log/slog"
	"net/http"
)

// SettlementHandler serves settlement, withdrawal and fee endpoints.
type SettlementHandler struct {
	markets MarketService
	amounts Amounts
	logger  *slog.Logger
}

func NewSettlementHandler(markets MarketService, amounts Amounts, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{markets: markets, amounts: amounts, logger: logger}
}

// Settle authorizes payouts. Repeating it returns the same settlement.
// POST /api/markets/{id}/settle
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	res, err := h.markets.Settle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "settle market", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetSettlement returns the stored settlement.
// GET /api/markets/{id}/settlement
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	res, err := h.markets.Settlement(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type withdrawRequest struct {
	Participant string `json:"participant"`
	// Amount of zero withdraws the whole remaining entitlement.
	Amount int64 `json:"amount"`
}

// Withdraw pays out part or all of a participant's entitlement.
// POST /api/markets/{id}/withdrawals
func (h *SettlementHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Participant == "" {
		writeError(w, http.StatusBadRequest, "participant is required")
		return
	}
	res, err := h.markets.Withdraw(r.Context(), r.PathValue("id"), req.Participant, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetEntitlement returns authorized, withdrawn and remaining amounts.
// GET /api/markets/{id}/entitlements/{participant}
func (h *SettlementHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	e, err := h.markets.Entitlement(r.PathValue("id"), r.PathValue("participant"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get entitlement", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":         e.MarketID,
		"participant":       e.Participant,
		"authorized":        e.Authorized,
		"withdrawn":         e.Withdrawn,
		"remaining":         e.Remaining(),
		"remaining_display": h.amounts.Format(e.Remaining()),
	})
}

// ClaimFees moves the retained fee to the operator.
// POST /api/markets/{id}/fees/claim
func (h *SettlementHandler) ClaimFees(w http.ResponseWriter, r *http.Request) {
	entry, err := h.markets.ClaimFees(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "claim fees", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
