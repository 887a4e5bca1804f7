package domain

import (
	"sort"
	"time"
)

// SettlementKind distinguishes a pari-mutuel payout from a full refund.
type SettlementKind string

const (
	SettlementPayout SettlementKind = "payout"
	SettlementRefund SettlementKind = "refund"
)

// Settlement is the authoritative entitlement mapping of a market. Once
// authorized it never changes.
type Settlement struct {
	MarketID     string           `json:"market_id"`
	Kind         SettlementKind   `json:"kind"`
	Outcome      string           `json:"outcome,omitempty"`
	Pool         int64            `json:"pool"`
	Fee          int64            `json:"fee"`
	Entitlements map[string]int64 `json:"entitlements"`
	ComputedAt   time.Time        `json:"computed_at"`
	Seq          int64            `json:"seq"`
}

// Total returns the sum of all entitlements.
func (s Settlement) Total() int64 {
	var sum int64
	for _, v := range s.Entitlements {
		sum += v
	}
	return sum
}

// Participants returns the participants with an entitlement, sorted.
func (s Settlement) Participants() []string {
	out := make([]string, 0, len(s.Entitlements))
	for p := range s.Entitlements {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (s Settlement) Clone() Settlement {
	out := s
	out.Entitlements = make(map[string]int64, len(s.Entitlements))
	for k, v := range s.Entitlements {
		out.Entitlements[k] = v
	}
	return out
}
