package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketFilter narrows market listings to one state.
type MarketFilter struct {
	ListOpts
	State MarketState // zero means any state
}

// Journal is the durable append-only store for market events.
type Journal interface {
	// Append stores ev. It returns ErrAlreadyExists when an event with the
	// same market and sequence number is already stored.
	Append(ctx context.Context, ev LedgerEvent) error
	// Load returns every event of a market ordered by Seq.
	Load(ctx context.Context, marketID string) ([]LedgerEvent, error)
	// MarketIDs lists every market that has at least one event.
	MarketIDs(ctx context.Context) ([]string, error)
}

// MarketStore persists market snapshots for listing and archival queries.
// The journal stays the source of truth.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, f MarketFilter) ([]Market, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Market, error)
	Count(ctx context.Context, state MarketState) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditFilter narrows audit listings to one market's trail.
type AuditFilter struct {
	ListOpts
	MarketID string // matches detail.market_id; empty means every market
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}
