package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// JournalStore implements domain.Journal on the ledger_events table. The
// (market_id, seq) primary key is the uniqueness guarantee the engine
// relies on to detect a second writer.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a JournalStore backed by the given pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Append inserts ev only if it directly follows the market's last event.
func (s *JournalStore) Append(ctx context.Context, ev domain.LedgerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %s/%d: %w", ev.MarketID, ev.Seq, err)
	}

	const query = `
		INSERT INTO ledger_events (market_id, seq, kind, payload, recorded_at)
		SELECT $1, $2::bigint, $3, $4, $5
		WHERE $2::bigint = 1 + COALESCE(
			(SELECT MAX(seq) FROM ledger_events WHERE market_id = $1), 0)`

	tag, err := s.pool.Exec(ctx, query, ev.MarketID, ev.Seq, string(ev.Kind), payload, ev.RecordedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: append %s/%d: %w", ev.MarketID, ev.Seq, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: append %s/%d: %w", ev.MarketID, ev.Seq, err)
	}
	if tag.RowsAffected() == 0 {
		// Either an earlier seq is taken or the caller skipped one; both mean
		// the caller's view of the journal is stale.
		return fmt.Errorf("postgres: append %s/%d out of order: %w", ev.MarketID, ev.Seq, domain.ErrAlreadyExists)
	}
	return nil
}

// Load returns a market's events ordered by seq.
func (s *JournalStore) Load(ctx context.Context, marketID string) ([]domain.LedgerEvent, error) {
	const query = `SELECT payload FROM ledger_events WHERE market_id = $1 ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load journal %s: %w", marketID, err)
	}
	defer rows.Close()

	var events []domain.LedgerEvent
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var ev domain.LedgerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("postgres: decode event of %s: %w", marketID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load journal %s rows: %w", marketID, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("postgres: journal %s: %w", marketID, domain.ErrNotFound)
	}
	return events, nil
}

// MarketIDs lists every market with a journal.
func (s *JournalStore) MarketIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT market_id FROM ledger_events ORDER BY market_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal markets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan market id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list journal markets rows: %w", err)
	}
	return ids, nil
}

// Compile-time interface check.
var _ domain.Journal = (*JournalStore)(nil)
