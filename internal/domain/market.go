package domain

import (
	"fmt"
	"time"
)

// MarketState is the lifecycle state of a market. The zero value is not a
// valid state.
type MarketState uint8

const (
	MarketOpen MarketState = iota + 1
	MarketLocked
	MarketResolved
	MarketVoid
	MarketSettled
)

var marketStateNames = map[MarketState]string{
	MarketOpen:     "open",
	MarketLocked:   "locked",
	MarketResolved: "resolved",
	MarketVoid:     "void",
	MarketSettled:  "settled",
}

func (s MarketState) String() string {
	if n, ok := marketStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("MarketState(%d)", uint8(s))
}

// ParseMarketState maps a state name back to its value.
func ParseMarketState(name string) (MarketState, error) {
	for s, n := range marketStateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown market state %q", name)
}

// MarshalText encodes the state by name so JSON payloads stay readable.
func (s MarketState) MarshalText() ([]byte, error) {
	if _, ok := marketStateNames[s]; !ok {
		return nil, fmt.Errorf("invalid market state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *MarketState) UnmarshalText(text []byte) error {
	v, err := ParseMarketState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Market is a single prediction event with a fixed outcome set.
type Market struct {
	ID                     string      `json:"id"`
	Title                  string      `json:"title"`
	Outcomes               []string    `json:"outcomes"`
	State                  MarketState `json:"state"`
	CreatedAt              time.Time   `json:"created_at"`
	Deadline               time.Time   `json:"deadline"`
	ResolvedOutcome        string      `json:"resolved_outcome,omitempty"`
	ResolvedAt             *time.Time  `json:"resolved_at,omitempty"`
	VoidReason             string      `json:"void_reason,omitempty"`
	SettledAt              *time.Time  `json:"settled_at,omitempty"`
	Pool                   int64       `json:"pool"`
	Staked                 int64       `json:"staked"`
	FeeBps                 int64       `json:"fee_bps"`
	RetainedFee            int64       `json:"retained_fee"`
	MinBet                 int64       `json:"min_bet"`
	MaxBet                 int64       `json:"max_bet,omitempty"`
	MaxStakePerParticipant int64       `json:"max_stake_per_participant,omitempty"`
	Version                int64       `json:"version"`
	Halted                 bool        `json:"halted,omitempty"`
	HaltReason             string      `json:"halt_reason,omitempty"`
}

// HasOutcome reports whether label is one of the market's outcomes.
func (m Market) HasOutcome(label string) bool {
	for _, o := range m.Outcomes {
		if o == label {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no mutable state with m.
func (m Market) Clone() Market {
	out := m
	out.Outcomes = append([]string(nil), m.Outcomes...)
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		out.ResolvedAt = &t
	}
	if m.SettledAt != nil {
		t := *m.SettledAt
		out.SettledAt = &t
	}
	return out
}

// MarketSpec is the input for creating a market. Zero limits fall back to
// the engine defaults.
type MarketSpec struct {
	Title                  string    `json:"title"`
	Outcomes               []string  `json:"outcomes"`
	Deadline               time.Time `json:"deadline"`
	FeeBps                 *int64    `json:"fee_bps,omitempty"`
	MinBet                 int64     `json:"min_bet,omitempty"`
	MaxBet                 int64     `json:"max_bet,omitempty"`
	MaxStakePerParticipant int64     `json:"max_stake_per_participant,omitempty"`
}
