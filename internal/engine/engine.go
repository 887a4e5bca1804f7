// Package engine is the market ledger core. It owns every market, routes
// each mutation through the journal before applying it in memory, and halts
// a market as soon as one of its invariants fails.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/market"
	"github.com/alanyoungcy/parimutuel/internal/settlement"
)

// Config holds the defaults applied to markets that do not set their own
// limits.
type Config struct {
	DefaultFeeBps          int64
	MinBet                 int64
	MaxBet                 int64
	MaxStakePerParticipant int64
	RestoreConcurrency     int
}

// Observer receives every committed event together with the market
// snapshot right after it. It is called with the market lock held and must
// not block.
type Observer func(ev domain.LedgerEvent, snapshot domain.Market)

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs overrides the uuid generator used for market, bet and entry IDs.
func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithObserver registers fn to receive committed events.
func WithObserver(fn Observer) Option {
	return func(e *Engine) { e.observer = fn }
}

// Engine manages all markets of one process.
type Engine struct {
	cfg      Config
	journal  domain.Journal
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	observer Observer

	mu    sync.RWMutex
	books map[string]*book
}

// New creates an Engine backed by journal.
func New(cfg Config, journal domain.Journal, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.MinBet <= 0 {
		cfg.MinBet = 1
	}
	if cfg.RestoreConcurrency <= 0 {
		cfg.RestoreConcurrency = 8
	}
	e := &Engine{
		cfg:     cfg,
		journal: journal,
		logger:  logger.With(slog.String("component", "engine")),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
		books:   make(map[string]*book),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CreateMarket validates spec, journals the new market and returns it in
// the Open state.
func (e *Engine) CreateMarket(ctx context.Context, spec domain.MarketSpec) (domain.Market, error) {
	now := e.now()
	def, err := e.define(spec, now)
	if err != nil {
		return domain.Market{}, err
	}

	ev := domain.LedgerEvent{
		MarketID:   def.ID,
		Seq:        1,
		Kind:       domain.EventMarketCreated,
		RecordedAt: now,
		Market:     &def,
	}
	if err := e.journal.Append(ctx, ev); err != nil {
		return domain.Market{}, fmt.Errorf("engine: journal %s: %w", ev.Kind, err)
	}
	b, err := newBook(ev)
	if err != nil {
		return domain.Market{}, err
	}

	e.mu.Lock()
	e.books[def.ID] = b
	e.mu.Unlock()

	snap := b.snapshot()
	e.emit(ev, snap)
	e.logger.InfoContext(ctx, "market created",
		slog.String("market_id", def.ID),
		slog.Int("outcomes", len(def.Outcomes)),
		slog.Time("deadline", def.Deadline),
	)
	return snap, nil
}

func (e *Engine) define(spec domain.MarketSpec, now time.Time) (domain.Market, error) {
	if err := market.ValidateOutcomes(spec.Outcomes); err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", err)
	}
	if spec.Deadline.IsZero() || !spec.Deadline.After(now) {
		return domain.Market{}, fmt.Errorf("engine: deadline %s is not in the future: %w",
			spec.Deadline.Format(time.RFC3339), domain.ErrInvalidMarket)
	}

	fee := e.cfg.DefaultFeeBps
	if spec.FeeBps != nil {
		fee = *spec.FeeBps
	}
	if fee < 0 || fee > settlement.BpsDenominator {
		return domain.Market{}, fmt.Errorf("engine: fee %d bps: %w", fee, domain.ErrInvalidMarket)
	}

	minBet := pick(spec.MinBet, e.cfg.MinBet)
	maxBet := pick(spec.MaxBet, e.cfg.MaxBet)
	maxStake := pick(spec.MaxStakePerParticipant, e.cfg.MaxStakePerParticipant)
	switch {
	case minBet < 1:
		return domain.Market{}, fmt.Errorf("engine: min bet %d: %w", minBet, domain.ErrInvalidMarket)
	case maxBet < 0 || (maxBet > 0 && maxBet <= minBet):
		return domain.Market{}, fmt.Errorf("engine: max bet %d with min bet %d: %w", maxBet, minBet, domain.ErrInvalidMarket)
	case maxStake < 0 || (maxStake > 0 && maxStake < minBet):
		return domain.Market{}, fmt.Errorf("engine: max stake %d with min bet %d: %w", maxStake, minBet, domain.ErrInvalidMarket)
	}

	return domain.Market{
		ID:                     e.newID(),
		Title:                  strings.TrimSpace(spec.Title),
		Outcomes:               append([]string(nil), spec.Outcomes...),
		State:                  domain.MarketOpen,
		CreatedAt:              now,
		Deadline:               spec.Deadline.UTC(),
		FeeBps:                 fee,
		MinBet:                 minBet,
		MaxBet:                 maxBet,
		MaxStakePerParticipant: maxStake,
		Version:                1,
	}, nil
}

func pick(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

// PlaceBet records a stake of amount on outcome and deposits it into the
// market's escrow.
func (e *Engine) PlaceBet(ctx context.Context, marketID, participant, outcome string, amount int64) (domain.Bet, error) {
	if strings.TrimSpace(participant) == "" {
		return domain.Bet{}, fmt.Errorf("engine: place bet: %w", domain.ErrInvalidParticipant)
	}
	b, err := e.lookup(marketID)
	if err != nil {
		return domain.Bet{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := e.writable(b); err != nil {
		return domain.Bet{}, err
	}

	state := b.machine.State()
	if err := b.ledger.Check(state, outcome, amount); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: place bet: %w", err)
	}
	if err := checkLimits(b, participant, outcome, amount); err != nil {
		return domain.Bet{}, err
	}
	if err := b.escrow.CheckDeposit(state, amount); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: place bet: %w", err)
	}

	now := e.now()
	seq := b.seq + 1
	bet := domain.Bet{
		ID:          e.newID(),
		MarketID:    marketID,
		Participant: participant,
		Outcome:     outcome,
		Amount:      amount,
		PlacedAt:    now,
		Seq:         seq,
	}
	receipt := domain.LedgerEntry{
		ID:          e.newID(),
		MarketID:    marketID,
		Kind:        domain.EntryDeposit,
		Participant: participant,
		Amount:      amount,
		BetID:       bet.ID,
		Seq:         seq,
		CreatedAt:   now,
	}
	ev := domain.LedgerEvent{Kind: domain.EventBetPlaced, Bet: &bet, Entry: &receipt}
	if err := e.commit(ctx, b, ev); err != nil {
		return domain.Bet{}, err
	}
	return bet, nil
}

func checkLimits(b *book, participant, outcome string, amount int64) error {
	if amount < b.def.MinBet {
		return fmt.Errorf("engine: bet %d below minimum %d: %w", amount, b.def.MinBet, domain.ErrBetLimit)
	}
	if b.def.MaxBet > 0 && amount > b.def.MaxBet {
		return fmt.Errorf("engine: bet %d above maximum %d: %w", amount, b.def.MaxBet, domain.ErrBetLimit)
	}
	if limit := b.def.MaxStakePerParticipant; limit > 0 {
		if staked := b.ledger.Stake(participant, outcome); staked > limit-amount {
			return fmt.Errorf("engine: %s has %d on %q, bet %d exceeds limit %d: %w",
				participant, staked, outcome, amount, limit, domain.ErrBetLimit)
		}
	}
	return nil
}

// LockMarket closes the market to new bets. Once it returns, every later
// PlaceBet fails with ErrMarketClosed.
func (e *Engine) LockMarket(ctx context.Context, marketID string) (domain.Market, error) {
	return e.transition(ctx, marketID, func(b *book) (domain.LedgerEvent, error) {
		if err := b.machine.CheckLock(); err != nil {
			return domain.LedgerEvent{}, err
		}
		return domain.LedgerEvent{Kind: domain.EventMarketLocked}, nil
	})
}

// ResolveMarket fixes the winning outcome. Only the first resolution of a
// market succeeds; later ones fail with ErrAlreadyResolved. An outcome
// outside the market's set fails with ErrInvalidOutcome and changes nothing.
func (e *Engine) ResolveMarket(ctx context.Context, marketID, outcome string) (domain.Market, error) {
	return e.transition(ctx, marketID, func(b *book) (domain.LedgerEvent, error) {
		if err := b.machine.CheckResolve(outcome); err != nil {
			return domain.LedgerEvent{}, err
		}
		return domain.LedgerEvent{Kind: domain.EventMarketResolved, Outcome: outcome}, nil
	})
}

// VoidMarket cancels the market; settlement will refund every stake.
func (e *Engine) VoidMarket(ctx context.Context, marketID, reason string) (domain.Market, error) {
	return e.transition(ctx, marketID, func(b *book) (domain.LedgerEvent, error) {
		if err := b.machine.CheckVoid(); err != nil {
			return domain.LedgerEvent{}, err
		}
		return domain.LedgerEvent{Kind: domain.EventMarketVoided, Reason: reason}, nil
	})
}

func (e *Engine) transition(ctx context.Context, marketID string, build func(*book) (domain.LedgerEvent, error)) (domain.Market, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := e.writable(b); err != nil {
		return domain.Market{}, err
	}

	ev, err := build(b)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: market %s: %w", marketID, err)
	}
	if err := e.commit(ctx, b, ev); err != nil {
		return domain.Market{}, err
	}
	e.logger.InfoContext(ctx, "market transition",
		slog.String("market_id", marketID),
		slog.String("event", string(ev.Kind)),
		slog.String("state", b.machine.State().String()),
	)
	return b.snapshot(), nil
}

// Settle computes and authorizes the entitlements of a Resolved or Void
// market and moves it to Settled. Settling a Settled market returns the
// stored settlement unchanged.
func (e *Engine) Settle(ctx context.Context, marketID string) (domain.Settlement, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return domain.Settlement{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := e.writable(b); err != nil {
		return domain.Settlement{}, err
	}
	if b.settlement != nil {
		return b.settlement.Clone(), nil
	}
	if err := b.machine.CheckSettle(); err != nil {
		return domain.Settlement{}, fmt.Errorf("engine: settle %s: %w", marketID, err)
	}
	if err := b.verify(); err != nil {
		return domain.Settlement{}, e.halt(ctx, b, err.Error(), true)
	}

	var s domain.Settlement
	if b.machine.State() == domain.MarketVoid {
		s, err = settlement.Refund(marketID, b.ledger)
	} else {
		s, err = settlement.Resolve(marketID, b.ledger, b.machine.Outcome(), b.def.FeeBps)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInconsistentLedger) {
			return domain.Settlement{}, e.halt(ctx, b, err.Error(), true)
		}
		return domain.Settlement{}, fmt.Errorf("engine: settle %s: %w", marketID, err)
	}
	s.Seq = b.seq + 1
	s.ComputedAt = e.now()

	ev := domain.LedgerEvent{Kind: domain.EventSettlementAuthorized, Settlement: &s}
	if err := e.commit(ctx, b, ev); err != nil {
		return domain.Settlement{}, err
	}
	e.logger.InfoContext(ctx, "market settled",
		slog.String("market_id", marketID),
		slog.String("kind", string(s.Kind)),
		slog.Int64("pool", s.Pool),
		slog.Int64("fee", s.Fee),
		slog.Int("participants", len(s.Entitlements)),
	)
	return s.Clone(), nil
}

// Withdraw pays participant the whole remaining entitlement.
func (e *Engine) Withdraw(ctx context.Context, marketID, participant string) (domain.LedgerEntry, error) {
	return e.withdraw(ctx, marketID, participant, 0)
}

// WithdrawAmount pays part of participant's remaining entitlement.
func (e *Engine) WithdrawAmount(ctx context.Context, marketID, participant string, amount int64) (domain.LedgerEntry, error) {
	if amount <= 0 {
		return domain.LedgerEntry{}, fmt.Errorf("engine: withdraw %d: %w", amount, domain.ErrInvalidAmount)
	}
	return e.withdraw(ctx, marketID, participant, amount)
}

// withdraw pays amount, or everything remaining when amount is zero.
func (e *Engine) withdraw(ctx context.Context, marketID, participant string, amount int64) (domain.LedgerEntry, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := e.writable(b); err != nil {
		return domain.LedgerEntry{}, err
	}

	state := b.machine.State()
	if amount == 0 {
		if amount, err = b.escrow.CheckWithdrawAll(state, participant); err != nil {
			return domain.LedgerEntry{}, fmt.Errorf("engine: withdraw: %w", err)
		}
	} else if err := b.escrow.CheckWithdraw(state, participant, amount); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("engine: withdraw: %w", err)
	}

	seq := b.seq + 1
	entry := domain.LedgerEntry{
		ID:          e.newID(),
		MarketID:    marketID,
		Kind:        domain.EntryWithdrawal,
		Participant: participant,
		Amount:      amount,
		Seq:         seq,
		CreatedAt:   e.now(),
	}
	if err := e.commit(ctx, b, domain.LedgerEvent{Kind: domain.EventWithdrawal, Entry: &entry}); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

// ClaimFees releases the fee retained at settlement to the operator.
func (e *Engine) ClaimFees(ctx context.Context, marketID string) (domain.LedgerEntry, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := e.writable(b); err != nil {
		return domain.LedgerEntry{}, err
	}

	amount, err := b.escrow.CheckClaimFee(b.machine.State())
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("engine: claim fees: %w", err)
	}
	entry := domain.LedgerEntry{
		ID:        e.newID(),
		MarketID:  marketID,
		Kind:      domain.EntryFeeClaimed,
		Amount:    amount,
		Seq:       b.seq + 1,
		CreatedAt: e.now(),
	}
	if err := e.commit(ctx, b, domain.LedgerEvent{Kind: domain.EventFeeClaimed, Entry: &entry}); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

// commit journals ev at the next sequence number, then applies it. b.mu
// must be held for writing. A journal failure leaves b untouched; a
// sequence conflict or a failed apply halts the market.
func (e *Engine) commit(ctx context.Context, b *book, ev domain.LedgerEvent) error {
	ev.MarketID = b.def.ID
	ev.Seq = b.seq + 1
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = e.now()
	}

	if err := e.journal.Append(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return e.halt(ctx, b, fmt.Sprintf("journal seq %d already taken", ev.Seq), false)
		}
		return fmt.Errorf("engine: journal %s: %w", ev.Kind, err)
	}
	if err := b.apply(ev); err != nil {
		return e.halt(ctx, b, err.Error(), true)
	}
	if err := b.check(); err != nil {
		return e.halt(ctx, b, err.Error(), true)
	}
	e.emit(ev, b.snapshot())
	return nil
}

// halt stops all mutation of b until Reconcile. When record is set the halt
// is journaled so it survives a restart. The returned error always matches
// ErrInconsistentLedger.
func (e *Engine) halt(ctx context.Context, b *book, reason string, record bool) error {
	b.halted = true
	b.haltReason = reason
	e.logger.ErrorContext(ctx, "market halted",
		slog.String("market_id", b.def.ID),
		slog.String("reason", reason),
	)

	ev := domain.LedgerEvent{
		MarketID:   b.def.ID,
		Seq:        b.seq + 1,
		Kind:       domain.EventMarketHalted,
		RecordedAt: e.now(),
		Reason:     reason,
	}
	if record {
		if err := e.journal.Append(ctx, ev); err != nil {
			e.logger.ErrorContext(ctx, "journal halt failed",
				slog.String("market_id", b.def.ID),
				slog.String("error", err.Error()),
			)
		} else {
			b.seq = ev.Seq
		}
	}
	e.emit(ev, b.snapshot())
	return fmt.Errorf("engine: market %s halted: %s: %w", b.def.ID, reason, domain.ErrInconsistentLedger)
}

func (e *Engine) writable(b *book) error {
	if b.halted {
		return fmt.Errorf("engine: market %s halted: %s: %w", b.def.ID, b.haltReason, domain.ErrInconsistentLedger)
	}
	return nil
}

func (e *Engine) emit(ev domain.LedgerEvent, snap domain.Market) {
	if e.observer != nil {
		e.observer(ev, snap)
	}
}

func (e *Engine) lookup(marketID string) (*book, error) {
	e.mu.RLock()
	b, ok := e.books[marketID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: market %s: %w", marketID, domain.ErrNotFound)
	}
	return b, nil
}

// Restore rebuilds every market from the journal. Markets whose journal
// cannot be replayed are loaded halted. It must run before the engine
// serves requests.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	ids, err := e.journal.MarketIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: restore: %w", err)
	}

	var (
		mu       sync.Mutex
		restored = make(map[string]*book, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.RestoreConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			events, err := e.journal.Load(gctx, id)
			if err != nil {
				return fmt.Errorf("engine: restore %s: %w", id, err)
			}
			b, err := replay(events)
			if b == nil {
				e.logger.ErrorContext(gctx, "market journal unusable",
					slog.String("market_id", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if err != nil {
				e.logger.ErrorContext(gctx, "market restored halted",
					slog.String("market_id", id),
					slog.String("error", err.Error()),
				)
			}
			mu.Lock()
			restored[id] = b
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	e.mu.Lock()
	for id, b := range restored {
		e.books[id] = b
	}
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "markets restored", slog.Int("count", len(restored)))
	return len(restored), nil
}

// Reconcile replays a market's journal, verifies every invariant of the
// rebuilt state and swaps it in. A halted market that verifies cleanly is
// resumed.
func (e *Engine) Reconcile(ctx context.Context, marketID string) (domain.Market, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	events, err := e.journal.Load(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: reconcile %s: %w", marketID, err)
	}
	fresh, err := replay(events)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: reconcile %s: %w", marketID, err)
	}
	if err := fresh.verify(); err != nil {
		return domain.Market{}, fmt.Errorf("engine: reconcile %s: %w", marketID, err)
	}

	wasHalted := b.halted || fresh.halted
	b.replaceWith(fresh)
	if wasHalted {
		ev := domain.LedgerEvent{Kind: domain.EventMarketResumed, Reason: "reconciled"}
		if err := e.commit(ctx, b, ev); err != nil {
			return domain.Market{}, err
		}
		e.logger.InfoContext(ctx, "market resumed", slog.String("market_id", marketID))
	}
	return b.snapshot(), nil
}

// Market returns the current snapshot of a market.
func (e *Engine) Market(marketID string) (domain.Market, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot(), nil
}

// ListMarkets returns market snapshots ordered by creation time.
func (e *Engine) ListMarkets(f domain.MarketFilter) []domain.Market {
	e.mu.RLock()
	books := make([]*book, 0, len(e.books))
	for _, b := range e.books {
		books = append(books, b)
	}
	e.mu.RUnlock()

	out := make([]domain.Market, 0, len(books))
	for _, b := range books {
		b.mu.RLock()
		m := b.snapshot()
		b.mu.RUnlock()
		if f.State != 0 && m.State != f.State {
			continue
		}
		if f.Since != nil && m.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && !m.CreatedAt.Before(*f.Until) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []domain.Market{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}

// Aggregates returns the per-outcome totals of a market. The totals and
// the market snapshot come from the same instant.
func (e *Engine) Aggregates(marketID string) ([]domain.OutcomeAggregate, domain.Market, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return nil, domain.Market{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ledger.Aggregates(), b.snapshot(), nil
}

// Bets returns a market's bets in placement order, limited to participant
// when it is not empty.
func (e *Engine) Bets(marketID, participant string) ([]domain.Bet, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if participant == "" {
		return b.ledger.Bets(), nil
	}
	return b.ledger.BetsFor(participant), nil
}

// Entitlement returns participant's authorized and withdrawn amounts. It is
// zero until the market settles.
func (e *Engine) Entitlement(marketID, participant string) (domain.Entitlement, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return domain.Entitlement{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.escrow.Entitlement(participant), nil
}

// Entitlements returns every entitlement of a settled market.
func (e *Engine) Entitlements(marketID string) ([]domain.Entitlement, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.escrow.Entitlements(), nil
}

// Entries returns the escrow movements of a market in order.
func (e *Engine) Entries(marketID string) ([]domain.LedgerEntry, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.escrow.Entries(), nil
}

// Settlement returns the authorized settlement of a market.
func (e *Engine) Settlement(marketID string) (domain.Settlement, error) {
	b, err := e.lookup(marketID)
	if err != nil {
		return domain.Settlement{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.settlement == nil {
		return domain.Settlement{}, fmt.Errorf("engine: settlement of %s: %w", marketID, domain.ErrNotFound)
	}
	return b.settlement.Clone(), nil
}
