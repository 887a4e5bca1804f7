package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// MarketStore implements domain.MarketStore. Rows carry the queryable
// columns plus the full snapshot as JSONB.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// upsertMarketSQL never replaces a snapshot with an older version.
const upsertMarketSQL = `
	INSERT INTO markets (
		id, title, outcomes, state, pool, staked, fee_bps,
		version, halted, created_at, deadline, settled_at, snapshot, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10, $11, $12, $13, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		title      = EXCLUDED.title,
		state      = EXCLUDED.state,
		pool       = EXCLUDED.pool,
		staked     = EXCLUDED.staked,
		version    = EXCLUDED.version,
		halted     = EXCLUDED.halted,
		settled_at = EXCLUDED.settled_at,
		snapshot   = EXCLUDED.snapshot,
		updated_at = NOW()
	WHERE markets.version <= EXCLUDED.version`

func marketArgs(m domain.Market) ([]any, error) {
	snap, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal market %s: %w", m.ID, err)
	}
	return []any{
		m.ID, m.Title, m.Outcomes, m.State.String(), m.Pool, m.Staked, m.FeeBps,
		m.Version, m.Halted, m.CreatedAt, m.Deadline, m.SettledAt, snap,
	}, nil
}

// Upsert inserts or updates a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	args, err := marketArgs(m)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, upsertMarketSQL, args...); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// UpsertBatch writes many snapshots in one round trip.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range markets {
		args, err := marketArgs(m)
		if err != nil {
			return err
		}
		batch.Queue(upsertMarketSQL, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

func scanSnapshot(row pgx.Row) (domain.Market, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return domain.Market{}, err
	}
	var m domain.Market
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: decode market snapshot: %w", err)
	}
	return m, nil
}

// GetByID returns the latest snapshot of a market.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT snapshot FROM markets WHERE id = $1`, id)
	m, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns snapshots newest first.
func (s *MarketStore) List(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	query := `SELECT snapshot FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.State != 0 {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, f.State.String())
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, *f.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC, id"
	query, args = paginate(query, args, argIdx, f.Limit, f.Offset)

	return s.query(ctx, "list markets", query, args...)
}

// ListSettledBefore returns markets settled strictly before the cutoff,
// oldest first.
func (s *MarketStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Market, error) {
	const query = `
		SELECT snapshot FROM markets
		WHERE state = 'settled' AND settled_at < $1
		ORDER BY settled_at`
	return s.query(ctx, "list settled markets", query, before)
}

// Count returns the number of markets in state, or all markets when state
// is zero.
func (s *MarketStore) Count(ctx context.Context, state domain.MarketState) (int64, error) {
	var (
		n   int64
		err error
	)
	if state == 0 {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets WHERE state = $1`, state.String()).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

func (s *MarketStore) query(ctx context.Context, what, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", what, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", what, err)
	}
	return out, nil
}

// paginate appends LIMIT and OFFSET placeholders starting at argIdx.
func paginate(query string, args []any, argIdx, limit, offset int) (string, []any) {
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
		argIdx++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, offset)
	}
	return query, args
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
