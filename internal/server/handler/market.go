package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/service"
)

// MarketService is what the market, bet and settlement handlers need from
// the service layer.
type MarketService interface {
	CreateMarket(ctx context.Context, spec domain.MarketSpec) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(f domain.MarketFilter) []domain.Market
	Outcomes(id string) ([]domain.OutcomeAggregate, domain.Market, error)
	LockMarket(ctx context.Context, id string) (domain.Market, error)
	ResolveMarket(ctx context.Context, id, outcome string) (service.Resolution, error)
	VoidMarket(ctx context.Context, id, reason string) (service.Resolution, error)
	Reconcile(ctx context.Context, id string) (domain.Market, error)
	Entries(id string) ([]domain.LedgerEntry, error)

	PlaceBet(ctx context.Context, id, participant, outcome string, amount int64) (domain.Bet, error)
	Bets(id, participant string) ([]domain.Bet, error)

	Settle(ctx context.Context, id string) (service.SettlementResult, error)
	Settlement(ctx context.Context, id string) (service.SettlementResult, error)
	Withdraw(ctx context.Context, id, participant string, amount int64) (service.WithdrawalResult, error)
	Entitlement(id, participant string) (domain.Entitlement, error)
	ClaimFees(ctx context.Context, id string) (domain.LedgerEntry, error)
}

// MarketHandler serves market lifecycle endpoints.
type MarketHandler struct {
	markets MarketService
	amounts Amounts
	logger  *slog.Logger
}

func NewMarketHandler(markets MarketService, amounts Amounts, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, amounts: amounts, logger: logger}
}

// marketView adds display strings to a market snapshot.
type marketView struct {
	domain.Market
	PoolDisplay   string `json:"pool_display"`
	StakedDisplay string `json:"staked_display"`
}

func (h *MarketHandler) view(m domain.Market) marketView {
	return marketView{
		Market:        m,
		PoolDisplay:   h.amounts.Format(m.Pool),
		StakedDisplay: h.amounts.Format(m.Staked),
	}
}

type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets in creation order.
// GET /api/markets?state=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	f := domain.MarketFilter{ListOpts: opts}
	if s := r.URL.Query().Get("state"); s != "" {
		state, err := domain.ParseMarketState(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.State = state
	}

	total := len(h.markets.ListMarkets(domain.MarketFilter{State: f.State}))
	page := h.markets.ListMarkets(f)
	views := make([]marketView, len(page))
	for i, m := range page {
		views[i] = h.view(m)
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var spec domain.MarketSpec
	if err := decodeJSON(w, r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.markets.CreateMarket(r.Context(), spec)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(m))
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(m))
}

type outcomeView struct {
	Outcome      string `json:"outcome"`
	Total        int64  `json:"total"`
	TotalDisplay string `json:"total_display"`
	Count        int64  `json:"count"`
	Share        string `json:"share"`
}

// Outcomes returns per-outcome stake totals and their share of the pool.
// GET /api/markets/{id}/outcomes
func (h *MarketHandler) Outcomes(w http.ResponseWriter, r *http.Request) {
	aggs, m, err := h.markets.Outcomes(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get outcomes", err)
		return
	}
	out := make([]outcomeView, len(aggs))
	for i, a := range aggs {
		out[i] = outcomeView{
			Outcome:      a.Outcome,
			Total:        a.Total,
			TotalDisplay: h.amounts.Format(a.Total),
			Count:        a.Count,
			Share:        h.amounts.Share(a.Total, m.Staked),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":      m.ID,
		"state":          m.State,
		"staked":         m.Staked,
		"staked_display": h.amounts.Format(m.Staked),
		"outcomes":       out,
	})
}

// LockMarket closes betting.
// POST /api/markets/{id}/lock
func (h *MarketHandler) LockMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.LockMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "lock market", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(m))
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// ResolveMarket records the oracle outcome.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.markets.ResolveMarket(r.Context(), r.PathValue("id"), req.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type voidRequest struct {
	Reason string `json:"reason"`
}

// VoidMarket cancels the market.
// POST /api/markets/{id}/void
func (h *MarketHandler) VoidMarket(w http.ResponseWriter, r *http.Request) {
	var req voidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}
	res, err := h.markets.VoidMarket(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, "void market", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reconcile replays a market's journal and resumes it if it was halted.
// POST /api/markets/{id}/reconcile
func (h *MarketHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.Reconcile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "reconcile market", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(m))
}

// Ledger returns the escrow movements of a market.
// GET /api/markets/{id}/ledger
func (h *MarketHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.markets.Entries(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
