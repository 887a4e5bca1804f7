// Package settlement computes pari-mutuel entitlements.
//
// Winners split the pool, less the fee, in proportion to their stake on the
// winning outcome. Division is exact; the units left over after flooring
// every share go one at a time to the largest fractional remainders, so the
// entitlements plus the fee always equal the pool.
package settlement

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// BpsDenominator is the number of basis points in one whole.
const BpsDenominator = 10_000

// Stakes is the read-only view of a market's bets used for settlement.
// ledger.Ledger implements it.
type Stakes interface {
	Total() int64
	OutcomeTotal(outcome string) int64
	StakesOn(outcome string) map[string]int64
	StakesByParticipant() map[string]int64
}

// Fee returns floor(pool * feeBps / 10000).
func Fee(pool, feeBps int64) int64 {
	if pool <= 0 || feeBps <= 0 {
		return 0
	}
	q, _ := decimal.NewFromInt(pool).
		Mul(decimal.NewFromInt(feeBps)).
		QuoRem(decimal.NewFromInt(BpsDenominator), 0)
	return q.IntPart()
}

// Resolve computes the settlement of a market resolved to outcome. When
// nobody staked the winning outcome every stake is refunded and no fee is
// retained.
func Resolve(marketID string, st Stakes, outcome string, feeBps int64) (domain.Settlement, error) {
	if feeBps < 0 || feeBps > BpsDenominator {
		return domain.Settlement{}, fmt.Errorf("settlement: fee %d bps out of range: %w", feeBps, domain.ErrInvalidAmount)
	}
	if st.OutcomeTotal(outcome) == 0 {
		s, err := Refund(marketID, st)
		s.Outcome = outcome
		return s, err
	}

	pool := st.Total()
	fee := Fee(pool, feeBps)
	shares, err := Distribute(st.StakesOn(outcome), pool-fee)
	if err != nil {
		return domain.Settlement{}, err
	}

	s := domain.Settlement{
		MarketID:     marketID,
		Kind:         domain.SettlementPayout,
		Outcome:      outcome,
		Pool:         pool,
		Fee:          fee,
		Entitlements: shares,
	}
	return s, Conserves(s)
}

// Refund returns every participant's total stake. Used for voided markets
// and for resolutions nobody bet on.
func Refund(marketID string, st Stakes) (domain.Settlement, error) {
	s := domain.Settlement{
		MarketID:     marketID,
		Kind:         domain.SettlementRefund,
		Pool:         st.Total(),
		Entitlements: st.StakesByParticipant(),
	}
	return s, Conserves(s)
}

// Conserves checks that the entitlements plus the fee equal the pool.
func Conserves(s domain.Settlement) error {
	if got := s.Total() + s.Fee; got != s.Pool {
		return fmt.Errorf("settlement: entitlements %d + fee %d != pool %d: %w",
			s.Total(), s.Fee, s.Pool, domain.ErrInconsistentLedger)
	}
	return nil
}

type share struct {
	participant string
	floor       int64
	remainder   decimal.Decimal
}

// Distribute splits amount across weights proportionally using the largest
// remainder method. Ties go to the lexicographically smaller participant.
func Distribute(weights map[string]int64, amount int64) (map[string]int64, error) {
	out := make(map[string]int64, len(weights))
	if amount < 0 {
		return nil, fmt.Errorf("settlement: negative amount %d: %w", amount, domain.ErrInvalidAmount)
	}

	var total int64
	for p, w := range weights {
		if w <= 0 {
			return nil, fmt.Errorf("settlement: weight %d for %s: %w", w, p, domain.ErrInvalidAmount)
		}
		total += w
	}
	if total == 0 {
		if amount != 0 {
			return nil, fmt.Errorf("settlement: %d to distribute with no weights: %w", amount, domain.ErrInconsistentLedger)
		}
		return out, nil
	}

	div := decimal.NewFromInt(total)
	amt := decimal.NewFromInt(amount)
	shares := make([]share, 0, len(weights))
	var floored int64
	for p, w := range weights {
		q, r := decimal.NewFromInt(w).Mul(amt).QuoRem(div, 0)
		shares = append(shares, share{participant: p, floor: q.IntPart(), remainder: r})
		floored += q.IntPart()
	}

	sort.Slice(shares, func(i, j int) bool {
		if c := shares[i].remainder.Cmp(shares[j].remainder); c != 0 {
			return c > 0
		}
		return shares[i].participant < shares[j].participant
	})

	leftover := amount - floored
	if leftover < 0 || leftover > int64(len(shares)) {
		return nil, fmt.Errorf("settlement: leftover %d across %d shares: %w", leftover, len(shares), domain.ErrInconsistentLedger)
	}
	for i := range shares {
		v := shares[i].floor
		if int64(i) < leftover {
			v++
		}
		out[shares[i].participant] = v
	}
	return out, nil
}
