package domain

import "time"

// EventKind names a journaled market mutation.
type EventKind string

const (
	EventMarketCreated        EventKind = "market_created"
	EventBetPlaced            EventKind = "bet_placed"
	EventMarketLocked         EventKind = "market_locked"
	EventMarketResolved       EventKind = "market_resolved"
	EventMarketVoided         EventKind = "market_voided"
	EventSettlementAuthorized EventKind = "settlement_authorized"
	EventWithdrawal           EventKind = "withdrawal"
	EventFeeClaimed           EventKind = "fee_claimed"
	EventMarketHalted         EventKind = "market_halted"
	EventMarketResumed        EventKind = "market_resumed"
)

// LedgerEvent is one entry of a market's append-only journal. Seq starts at
// 1 for market_created and increases by exactly one per event, so replaying
// the journal in Seq order rebuilds the market.
type LedgerEvent struct {
	MarketID   string    `json:"market_id"`
	Seq        int64     `json:"seq"`
	Kind       EventKind `json:"kind"`
	RecordedAt time.Time `json:"recorded_at"`

	Market     *Market      `json:"market,omitempty"`
	Bet        *Bet         `json:"bet,omitempty"`
	Entry      *LedgerEntry `json:"entry,omitempty"`
	Settlement *Settlement  `json:"settlement,omitempty"`
	Outcome    string       `json:"outcome,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

// EventMessage is the payload published on the market_events channel and
// the per-market streams.
type EventMessage struct {
	Event  LedgerEvent `json:"event"`
	Market Market      `json:"market"`
}
