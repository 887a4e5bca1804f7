package domain

import "time"

// Bet is a participant's stake on one outcome. It is never mutated after
// being recorded.
type Bet struct {
	ID          string    `json:"id"`
	MarketID    string    `json:"market_id"`
	Participant string    `json:"participant"`
	Outcome     string    `json:"outcome"`
	Amount      int64     `json:"amount"`
	PlacedAt    time.Time `json:"placed_at"`
	Seq         int64     `json:"seq"`
}

// OutcomeAggregate is the running total for one outcome of a market.
type OutcomeAggregate struct {
	Outcome string `json:"outcome"`
	Total   int64  `json:"total"`
	Count   int64  `json:"count"`
}

// EntryKind classifies an escrow movement.
type EntryKind string

const (
	EntryDeposit     EntryKind = "deposit"
	EntryWithdrawal  EntryKind = "withdrawal"
	EntryFeeRetained EntryKind = "fee_retained"
	EntryFeeClaimed  EntryKind = "fee_claimed"
)

// LedgerEntry is an immutable escrow movement. BetID is set for deposits.
type LedgerEntry struct {
	ID          string    `json:"id"`
	MarketID    string    `json:"market_id"`
	Kind        EntryKind `json:"kind"`
	Participant string    `json:"participant,omitempty"`
	Amount      int64     `json:"amount"`
	BetID       string    `json:"bet_id,omitempty"`
	Seq         int64     `json:"seq"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entitlement is a participant's authorized and withdrawn amounts after
// settlement.
type Entitlement struct {
	MarketID    string `json:"market_id"`
	Participant string `json:"participant"`
	Authorized  int64  `json:"authorized"`
	Withdrawn   int64  `json:"withdrawn"`
}

// Remaining is the amount still available for withdrawal.
func (e Entitlement) Remaining() int64 {
	return e.Authorized - e.Withdrawn
}
