// Package market implements the market lifecycle state machine:
//
//	Open -> Locked -> {Resolved, Void} -> Settled
//
// Open may also move straight to Resolved or Void. Transition functions are
// pure; a Machine applies them to one market and rejects illegal moves
// without changing anything.
package market

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Transition is a lifecycle trigger.
type Transition uint8

const (
	Lock Transition = iota + 1
	Resolve
	Void
	Settle
)

func (t Transition) String() string {
	switch t {
	case Lock:
		return "lock"
	case Resolve:
		return "resolve"
	case Void:
		return "void"
	case Settle:
		return "settle"
	default:
		return fmt.Sprintf("Transition(%d)", uint8(t))
	}
}

// Next returns the state reached by applying t to s. Resolve and Void on a
// market that already has a result fail with domain.ErrAlreadyResolved; any
// other disallowed move fails with domain.ErrIllegalTransition.
func Next(s domain.MarketState, t Transition) (domain.MarketState, error) {
	switch t {
	case Lock:
		if s == domain.MarketOpen {
			return domain.MarketLocked, nil
		}
	case Resolve, Void:
		switch s {
		case domain.MarketOpen, domain.MarketLocked:
			if t == Resolve {
				return domain.MarketResolved, nil
			}
			return domain.MarketVoid, nil
		case domain.MarketResolved, domain.MarketVoid, domain.MarketSettled:
			return s, fmt.Errorf("%s from %s: %w", t, s, domain.ErrAlreadyResolved)
		}
	case Settle:
		if s == domain.MarketResolved || s == domain.MarketVoid {
			return domain.MarketSettled, nil
		}
	}
	return s, fmt.Errorf("%s from %s: %w", t, s, domain.ErrIllegalTransition)
}

// AcceptsBets reports whether bets may be recorded in s.
func AcceptsBets(s domain.MarketState) bool {
	return s == domain.MarketOpen
}

// AllowsWithdrawal reports whether escrow may pay out in s.
func AllowsWithdrawal(s domain.MarketState) bool {
	return s == domain.MarketResolved || s == domain.MarketVoid || s == domain.MarketSettled
}

// ValidateOutcomes checks an outcome set: at least two labels, none blank,
// no duplicates.
func ValidateOutcomes(outcomes []string) error {
	if len(outcomes) < 2 {
		return fmt.Errorf("need at least 2 outcomes, got %d: %w", len(outcomes), domain.ErrInvalidMarket)
	}
	seen := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("blank outcome label: %w", domain.ErrInvalidMarket)
		}
		if seen[o] {
			return fmt.Errorf("duplicate outcome %q: %w", o, domain.ErrInvalidMarket)
		}
		seen[o] = true
	}
	return nil
}
