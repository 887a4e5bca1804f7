// Package ledger records bets and maintains per-outcome aggregates.
//
// Bets are append-only. Aggregates are a materialized view over the bet log
// and can be recomputed from it at any time with Verify.
package ledger

import (
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/market"
)

// Ledger is the bet log of one market. It is not safe for concurrent use;
// the engine holds the market lock around every call.
type Ledger struct {
	marketID string
	outcomes []string
	index    map[string]int

	bets  []domain.Bet
	aggs  []domain.OutcomeAggregate
	byKey map[stakeKey]int64
	byWho map[string][]int
	total int64
}

type stakeKey struct {
	participant string
	outcome     string
}

// New returns an empty ledger for the given outcome set.
func New(marketID string, outcomes []string) *Ledger {
	l := &Ledger{
		marketID: marketID,
		outcomes: append([]string(nil), outcomes...),
		index:    make(map[string]int, len(outcomes)),
		aggs:     make([]domain.OutcomeAggregate, len(outcomes)),
		byKey:    make(map[stakeKey]int64),
		byWho:    make(map[string][]int),
	}
	for i, o := range outcomes {
		l.index[o] = i
		l.aggs[i].Outcome = o
	}
	return l
}

// Check reports the error Record would return for a bet on outcome while
// the market is in state.
func (l *Ledger) Check(state domain.MarketState, outcome string, amount int64) error {
	if !market.AcceptsBets(state) {
		return fmt.Errorf("ledger: market %s is %s: %w", l.marketID, state, domain.ErrMarketClosed)
	}
	if _, ok := l.index[outcome]; !ok {
		return fmt.Errorf("ledger: outcome %q: %w", outcome, domain.ErrUnknownOutcome)
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: amount %d: %w", amount, domain.ErrInvalidAmount)
	}
	// Every aggregate and per-participant stake is bounded by the pool.
	if amount > math.MaxInt64-l.total {
		return fmt.Errorf("ledger: amount %d would overflow pool %d: %w", amount, l.total, domain.ErrBetLimit)
	}
	return nil
}

// Record appends bet and updates its outcome aggregate.
func (l *Ledger) Record(state domain.MarketState, bet domain.Bet) error {
	if err := l.Check(state, bet.Outcome, bet.Amount); err != nil {
		return err
	}
	i := l.index[bet.Outcome]

	l.bets = append(l.bets, bet)
	l.aggs[i].Total += bet.Amount
	l.aggs[i].Count++
	l.byKey[stakeKey{bet.Participant, bet.Outcome}] += bet.Amount
	l.byWho[bet.Participant] = append(l.byWho[bet.Participant], len(l.bets)-1)
	l.total += bet.Amount
	return nil
}

// Aggregates returns a copy of the per-outcome totals in outcome order.
func (l *Ledger) Aggregates() []domain.OutcomeAggregate {
	return append([]domain.OutcomeAggregate(nil), l.aggs...)
}

// Total is the pool: the sum of every recorded stake.
func (l *Ledger) Total() int64 { return l.total }

// OutcomeTotal is the total staked on one outcome.
func (l *Ledger) OutcomeTotal(outcome string) int64 {
	i, ok := l.index[outcome]
	if !ok {
		return 0
	}
	return l.aggs[i].Total
}

// Stake returns what participant has staked on outcome so far.
func (l *Ledger) Stake(participant, outcome string) int64 {
	return l.byKey[stakeKey{participant, outcome}]
}

// BetsFor returns participant's bets in placement order.
func (l *Ledger) BetsFor(participant string) []domain.Bet {
	idx := l.byWho[participant]
	out := make([]domain.Bet, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.bets[i])
	}
	return out
}

// Bets returns every bet in placement order.
func (l *Ledger) Bets() []domain.Bet {
	return append([]domain.Bet(nil), l.bets...)
}

// StakesOn returns participant -> stake on outcome, for participants with a
// positive stake.
func (l *Ledger) StakesOn(outcome string) map[string]int64 {
	out := make(map[string]int64)
	for k, v := range l.byKey {
		if k.outcome == outcome && v > 0 {
			out[k.participant] = v
		}
	}
	return out
}

// StakesByParticipant returns participant -> total stake across outcomes.
func (l *Ledger) StakesByParticipant() map[string]int64 {
	out := make(map[string]int64, len(l.byWho))
	for k, v := range l.byKey {
		out[k.participant] += v
	}
	return out
}

// Participants returns every participant with a bet, sorted.
func (l *Ledger) Participants() []string {
	out := make([]string, 0, len(l.byWho))
	for p := range l.byWho {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Verify recomputes the aggregates from the bet log and compares them with
// the materialized view.
func (l *Ledger) Verify() error {
	fresh := New(l.marketID, l.outcomes)
	for _, b := range l.bets {
		if err := fresh.Record(domain.MarketOpen, b); err != nil {
			return fmt.Errorf("ledger: replay bet %s: %v: %w", b.ID, err, domain.ErrInconsistentLedger)
		}
	}
	for i := range l.aggs {
		if l.aggs[i] != fresh.aggs[i] {
			return fmt.Errorf("ledger: outcome %q aggregate %+v, replay gives %+v: %w",
				l.aggs[i].Outcome, l.aggs[i], fresh.aggs[i], domain.ErrInconsistentLedger)
		}
	}
	if l.total != fresh.total {
		return fmt.Errorf("ledger: pool %d, replay gives %d: %w", l.total, fresh.total, domain.ErrInconsistentLedger)
	}
	var sum int64
	for _, a := range l.aggs {
		sum += a.Total
	}
	if sum != l.total {
		return fmt.Errorf("ledger: aggregates sum %d != pool %d: %w", sum, l.total, domain.ErrInconsistentLedger)
	}
	return nil
}

// Replay builds a ledger from a bet log.
func Replay(marketID string, outcomes []string, bets []domain.Bet) (*Ledger, error) {
	l := New(marketID, outcomes)
	for _, b := range bets {
		if err := l.Record(domain.MarketOpen, b); err != nil {
			return nil, fmt.Errorf("ledger: replay bet %s: %w", b.ID, err)
		}
	}
	return l, nil
}
