package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/engine"
)

// SettlementResult is a settlement with one signed payout voucher per
// entitled participant. Vouchers is empty without a signer.
type SettlementResult struct {
	Settlement domain.Settlement `json:"settlement"`
	Vouchers   []domain.Voucher  `json:"vouchers,omitempty"`
}

// Resolution is the result of resolving or voiding a market. Settlement is
// set when auto-settle is on. SettleError reports an auto-settle failure;
// the resolution stands and settlement can be retried.
type Resolution struct {
	Market      domain.Market     `json:"market"`
	Settlement  *SettlementResult `json:"settlement,omitempty"`
	SettleError string            `json:"settle_error,omitempty"`
}

// WithdrawalResult is a withdrawal entry and its signed receipt.
type WithdrawalResult struct {
	Entry   domain.LedgerEntry `json:"entry"`
	Receipt *domain.Voucher    `json:"receipt,omitempty"`
}

// MarketService is the application entry point for market operations. It
// drives the engine and decorates results with signed vouchers; event
// fan-out happens in EventPublisher.
type MarketService struct {
	engine     *engine.Engine
	cache      domain.MarketCache
	markets    domain.MarketStore
	signer     domain.VoucherSigner
	autoSettle bool
	signers    int
	logger     *slog.Logger
}

// MarketServiceConfig configures optional MarketService behaviour.
type MarketServiceConfig struct {
	AutoSettle bool
	// SignConcurrency bounds parallel voucher signing. Zero means 8.
	SignConcurrency int
}

// NewMarketService creates a MarketService. cache, markets and signer may
// be nil.
func NewMarketService(
	eng *engine.Engine,
	cache domain.MarketCache,
	markets domain.MarketStore,
	signer domain.VoucherSigner,
	cfg MarketServiceConfig,
	logger *slog.Logger,
) *MarketService {
	if cfg.SignConcurrency <= 0 {
		cfg.SignConcurrency = 8
	}
	return &MarketService{
		engine:     eng,
		cache:      cache,
		markets:    markets,
		signer:     signer,
		autoSettle: cfg.AutoSettle,
		signers:    cfg.SignConcurrency,
		logger:     logger.With(slog.String("component", "market_service")),
	}
}

func (s *MarketService) CreateMarket(ctx context.Context, spec domain.MarketSpec) (domain.Market, error) {
	m, err := s.engine.CreateMarket(ctx, spec)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market: %w", err)
	}
	return m, nil
}

func (s *MarketService) PlaceBet(ctx context.Context, marketID, participant, outcome string, amount int64) (domain.Bet, error) {
	b, err := s.engine.PlaceBet(ctx, marketID, participant, outcome, amount)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("market_service: place bet: %w", err)
	}
	return b, nil
}

func (s *MarketService) LockMarket(ctx context.Context, marketID string) (domain.Market, error) {
	m, err := s.engine.LockMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: lock market: %w", err)
	}
	return m, nil
}

// ResolveMarket records the oracle's outcome and, with auto-settle on,
// settles the market right away.
func (s *MarketService) ResolveMarket(ctx context.Context, marketID, outcome string) (Resolution, error) {
	m, err := s.engine.ResolveMarket(ctx, marketID, outcome)
	if err != nil {
		return Resolution{}, fmt.Errorf("market_service: resolve market: %w", err)
	}
	return s.maybeSettle(ctx, m)
}

// VoidMarket cancels the market; with auto-settle on every stake is
// refunded at once.
func (s *MarketService) VoidMarket(ctx context.Context, marketID, reason string) (Resolution, error) {
	m, err := s.engine.VoidMarket(ctx, marketID, reason)
	if err != nil {
		return Resolution{}, fmt.Errorf("market_service: void market: %w", err)
	}
	return s.maybeSettle(ctx, m)
}

func (s *MarketService) maybeSettle(ctx context.Context, m domain.Market) (Resolution, error) {
	res := Resolution{Market: m}
	if !s.autoSettle {
		return res, nil
	}
	sr, err := s.Settle(ctx, m.ID)
	if sr.Settlement.MarketID != "" {
		res.Settlement = &sr
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "auto-settle failed",
			slog.String("market_id", m.ID),
			slog.String("state", m.State.String()),
			slog.String("error", err.Error()),
		)
		res.SettleError = err.Error()
	}
	if cur, err := s.engine.Market(m.ID); err == nil {
		res.Market = cur
	}
	return res, nil
}

// Settle authorizes the settlement (idempotently) and signs one payout
// voucher per entitled participant.
func (s *MarketService) Settle(ctx context.Context, marketID string) (SettlementResult, error) {
	st, err := s.engine.Settle(ctx, marketID)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("market_service: settle: %w", err)
	}
	vouchers, err := s.payoutVouchers(ctx, st)
	if err != nil {
		return SettlementResult{Settlement: st}, err
	}
	return SettlementResult{Settlement: st, Vouchers: vouchers}, nil
}

// Settlement returns a stored settlement with freshly signed vouchers.
func (s *MarketService) Settlement(ctx context.Context, marketID string) (SettlementResult, error) {
	st, err := s.engine.Settlement(marketID)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("market_service: settlement: %w", err)
	}
	vouchers, err := s.payoutVouchers(ctx, st)
	if err != nil {
		return SettlementResult{Settlement: st}, err
	}
	return SettlementResult{Settlement: st, Vouchers: vouchers}, nil
}

func (s *MarketService) payoutVouchers(ctx context.Context, st domain.Settlement) ([]domain.Voucher, error) {
	if s.signer == nil || len(st.Entitlements) == 0 {
		return nil, nil
	}
	participants := st.Participants()
	out := make([]domain.Voucher, len(participants))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.signers)
	for i, p := range participants {
		g.Go(func() error {
			v, err := s.signer.Sign(domain.Voucher{
				Kind:        domain.VoucherPayout,
				MarketID:    st.MarketID,
				Participant: p,
				Amount:      st.Entitlements[p],
				Seq:         st.Seq,
			})
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("market_service: sign vouchers for %s: %w", st.MarketID, err)
	}
	return out, nil
}

// Withdraw pays out amount of participant's entitlement; zero withdraws
// everything that remains.
func (s *MarketService) Withdraw(ctx context.Context, marketID, participant string, amount int64) (WithdrawalResult, error) {
	var (
		entry domain.LedgerEntry
		err   error
	)
	if amount == 0 {
		entry, err = s.engine.Withdraw(ctx, marketID, participant)
	} else {
		entry, err = s.engine.WithdrawAmount(ctx, marketID, participant, amount)
	}
	if err != nil {
		return WithdrawalResult{}, fmt.Errorf("market_service: withdraw: %w", err)
	}

	res := WithdrawalResult{Entry: entry}
	if s.signer != nil {
		v, err := s.signer.Sign(domain.Voucher{
			Kind:        domain.VoucherReceipt,
			MarketID:    marketID,
			Participant: participant,
			Amount:      entry.Amount,
			Seq:         entry.Seq,
		})
		if err != nil {
			// The withdrawal is journaled; the receipt can be re-requested.
			s.logger.ErrorContext(ctx, "sign receipt failed",
				slog.String("market_id", marketID),
				slog.String("participant", participant),
				slog.String("error", err.Error()),
			)
			return res, nil
		}
		res.Receipt = &v
	}
	return res, nil
}

func (s *MarketService) ClaimFees(ctx context.Context, marketID string) (domain.LedgerEntry, error) {
	e, err := s.engine.ClaimFees(ctx, marketID)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("market_service: claim fees: %w", err)
	}
	return e, nil
}

func (s *MarketService) Reconcile(ctx context.Context, marketID string) (domain.Market, error) {
	m, err := s.engine.Reconcile(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: reconcile: %w", err)
	}
	return m, nil
}

// GetMarket returns the live snapshot. Markets this process does not hold
// are looked up in the cache, then in the market store.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := s.engine.Market(id)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return m, err
	}

	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}
	if s.markets == nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %s: %w", id, domain.ErrNotFound)
	}
	m, err = s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %s: %w", id, err)
	}
	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

func (s *MarketService) ListMarkets(f domain.MarketFilter) []domain.Market {
	return s.engine.ListMarkets(f)
}

func (s *MarketService) Outcomes(id string) ([]domain.OutcomeAggregate, domain.Market, error) {
	return s.engine.Aggregates(id)
}

func (s *MarketService) Bets(id, participant string) ([]domain.Bet, error) {
	return s.engine.Bets(id, participant)
}

func (s *MarketService) Entitlement(id, participant string) (domain.Entitlement, error) {
	return s.engine.Entitlement(id, participant)
}

func (s *MarketService) Entries(id string) ([]domain.LedgerEntry, error) {
	return s.engine.Entries(id)
}

// SyncSnapshots writes every live market snapshot to the store in one
// batch. It runs after Restore so listings match the journal.
func (s *MarketService) SyncSnapshots(ctx context.Context) (int, error) {
	if s.markets == nil {
		return 0, nil
	}
	all := s.engine.ListMarkets(domain.MarketFilter{})
	if len(all) == 0 {
		return 0, nil
	}
	if err := s.markets.UpsertBatch(ctx, all); err != nil {
		return 0, fmt.Errorf("market_service: sync snapshots: %w", err)
	}
	s.logger.InfoContext(ctx, "market snapshots synced", slog.Int("count", len(all)))
	return len(all), nil
}
