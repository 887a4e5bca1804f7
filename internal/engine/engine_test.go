package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/store/memstore"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type flakyJournal struct {
	*memstore.Journal
	fail atomic.Bool
}

func (f *flakyJournal) Append(ctx context.Context, ev domain.LedgerEvent) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.Journal.Append(ctx, ev)
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *flakyJournal) {
	t.Helper()
	j := &flakyJournal{Journal: memstore.NewJournal()}
	var n atomic.Int64
	base := []Option{
		WithClock(func() time.Time { return t0 }),
		WithIDs(func() string { return fmt.Sprintf("id-%d", n.Add(1)) }),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, j, logger, append(base, opts...)...), j
}

func createMarket(t *testing.T, e *Engine, outcomes ...string) domain.Market {
	t.Helper()
	m, err := e.CreateMarket(context.Background(), domain.MarketSpec{
		Title:    "test market",
		Outcomes: outcomes,
		Deadline: t0.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return m
}

func mustBet(t *testing.T, e *Engine, id, who, outcome string, amount int64) domain.Bet {
	t.Helper()
	b, err := e.PlaceBet(context.Background(), id, who, outcome, amount)
	if err != nil {
		t.Fatalf("PlaceBet(%s, %s, %d): %v", who, outcome, amount, err)
	}
	return b
}

func TestLifecycle_PariMutuelPayout(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, Config{})
	m := createMarket(t, e, "A", "B")

	mustBet(t, e, m.ID, "P1", "A", 5000)
	mustBet(t, e, m.ID, "P2", "A", 3000)
	mustBet(t, e, m.ID, "P3", "B", 2000)

	if _, err := e.LockMarket(ctx, m.ID); err != nil {
		t.Fatalf("LockMarket: %v", err)
	}
	if _, err := e.ResolveMarket(ctx, m.ID, "A"); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}
	s, err := e.Settle(ctx, m.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if s.Entitlements["P1"] != 6250 || s.Entitlements["P2"] != 3750 {
		t.Fatalf("entitlements = %v, want P1 6250 and P2 3750", s.Entitlements)
	}

	for p, want := range map[string]int64{"P1": 6250, "P2": 3750} {
		entry, err := e.Withdraw(ctx, m.ID, p)
		if err != nil {
			t.Fatalf("Withdraw(%s): %v", p, err)
		}
		if entry.Amount != want {
			t.Errorf("Withdraw(%s) = %d, want %d", p, entry.Amount, want)
		}
		if _, err := e.Withdraw(ctx, m.ID, p); !errors.Is(err, domain.ErrInsufficientEntitlement) {
			t.Errorf("second Withdraw(%s) error = %v, want ErrInsufficientEntitlement", p, err)
		}
	}
	if _, err := e.Withdraw(ctx, m.ID, "P3"); !errors.Is(err, domain.ErrInsufficientEntitlement) {
		t.Errorf("loser Withdraw error = %v, want ErrInsufficientEntitlement", err)
	}

	got, _ := e.Market(m.ID)
	if got.State != domain.MarketSettled || got.Pool != 0 || got.Staked != 10000 {
		t.Errorf("market after payout = %+v", got)
	}
}

func TestResolve_InvalidOutcomeLeavesMarketLocked(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, Config{})
	m := createMarket(t, e, "A", "B")
	mustBet(t, e, m.ID, "P1", "A", 50)
	if _, err := e.LockMarket(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	before, _ := e.Market(m.ID)

	if _, err := e.ResolveMarket(ctx, m.ID, "C"); !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Fatalf("ResolveMarket(C) error = %v, want ErrInvalidOutcome", err)
	}
	after, _ := e.Market(m.ID)
	if after.State != domain.MarketLocked || after.Version != before.Version || after.ResolvedOutcome != "" {
		t.Fatalf("market changed: before %+v after %+v", before, after)
	}
}

func TestPlaceBet_LateBetsRejectedAfterLock(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, Config{})
	m := createMarket(t, e, "YES", "NO")

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		accepted atomic.Int64
		locked   atomic.Bool
		late     atomic.Int64
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			for k := 0; k < 50; k++ {
				wasLocked := locked.Load()
				_, err := e.PlaceBet(ctx, m.ID, fmt.Sprintf("p%d", i), "YES", 1)
				switch {
				case err == nil:
					if wasLocked {
						late.Add(1)
					}
					accepted.Add(1)
				case errors.Is(err, domain.ErrMarketClosed):
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(i)
	}
	close(start)
	time.Sleep(time.Millisecond)
	if _, err := e.LockMarket(ctx, m.ID); err != nil {
		t.Fatalf("LockMarket: %v", err)
	}
	locked.Store(true)
	wg.Wait()

	if late.Load() != 0 {
		t.Fatalf("%d bets accepted after LockMarket returned", late.Load())
	}
	aggs, snap, err := e.Aggregates(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if aggs[0].Total != accepted.Load() || snap.Staked != accepted.Load() {
		t.Fatalf("aggregate %d, staked %d, accepted %d", aggs[0].Total, snap.Staked, accepted.Load())
	}
	if _, err := e.PlaceBet(ctx, m.ID, "late", "YES", 1); !errors.Is(err, domain.ErrMarketClosed) {
		t.Fatalf("bet after lock error = %v, want ErrMarketClosed", err)
	}
}

func TestResolve_ExactlyOneConcurrentWinner(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, Config{})
	m := createMarket(t, e, "A", "B")
	if _, err := e.LockMarket(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		already   atomic.Int64
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := "A"
			if i%2 == 1 {
				outcome = "B"
			}
			_, err := e.ResolveMarket(ctx, m.ID, outcome)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrAlreadyResolved):
				already.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes.Load() != 1 || already.Load() != 15 {
		t.Fatalf("successes = %d, already resolved = %d", successes.Load(), already.Load())
	}
	if _, err := e.VoidMarket(ctx, m.ID, "late cancel"); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("void after resolve error = %v, want ErrAlreadyResolved", err)
	}
}

func TestSettle_Idempotent(t *testing.T) {
	ctx := context.Background()
	e, j := newTestEngine(t, Config{DefaultFeeBps: 250})
	m := createMarket(t, e, "A", "B")
	mustBet(t, e, m.ID, "P1", "A", 333)
	mustBet(t, e, m.ID, "P2", "A", 334)
	mustBet(t, e, m.ID, "P3", "B", 333)
	if _, err := e.ResolveMarket(ctx, m.ID, "A"); err != nil {
		t.Fatal(err)
	}

	first, err := e.Settle(ctx, m.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	second, err := e.Settle(ctx, m.ID)
	if err != nil {
		t.Fatalf("second Settle: %v", err)
	}
	if first.Seq != second.Seq || first.Fee != second.Fee || len(first.Entitlements) != len(second.Entitlements) {
		t.Fatalf("settlements differ: %+v vs %+v", first, second)
	}
	for p, v := range first.Entitlements {
		if second.Entitlements[p] != v {
			t.Fatalf("entitlement %s differs: %d vs %d", p, v, second.Entitlements[p])
		}
	}
	if first.Total()+first.Fee != 1000 {
		t.Fatalf("total %d + fee %d != 1000", first.Total(), first.Fee)
	}

	evs, _ := j.Load(ctx, m.ID)
	var authorized int
	for _, ev := range evs {
		if ev.Kind == domain.EventSettlementAuthorized {
			authorized++
		}
	}
	if authorized != 1 {
		t.Fatalf("journal has %d settlement events, want 1", authorized)
	}

	fee, err := e.ClaimFees(ctx, m.ID)
	if err != nil || fee.Amount != first.Fee {
		t.Fatalf("ClaimFees = %+v, %v; want %d", fee, err, first.Fee)
	}
}

func TestVoid_RefundsEveryStake(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, Config{DefaultFeeBps: 500})
	m := createMarket(t, e, "A", "B", "C")
	mustBet(t, e, m.ID, "P1", "A", 700)
	mustBet(t, e, m.ID, "P1", "B", 300)
	mustBet(t, e, m.ID, "P2", "B", 250)

	if _, err := e.VoidMarket(ctx, m.ID, "event cancelled"); err != nil {
		t.Fatalf("VoidMarket: %v", err)
	}
	if _, err := e.Withdraw(ctx, m.ID, "P1"); !errors.Is(err, domain.ErrInsufficientEntitlement) {
		t.Fatalf("withdraw before settle error = %v, want ErrInsufficientEntitlement", err)
	}
	s, err := e.Settle(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != domain.SettlementRefund || s.Fee != 0 {
		t.Fatalf("settlement = %+v, want fee-free refund", s)
	}
	if s.Entitlements["P1"] != 1000 || s.Entitlements["P2"] != 250 {
		t.Fatalf("refunds = %v", s.Entitlements)
	}
	if _, err := e.ClaimFees(ctx, m.ID); !errors.Is(err, domain.ErrInsufficientEntitlement) {
		t.Fatalf("ClaimFees on refund error = %v, want ErrInsufficientEntitlement", err)
	}
}

func TestPlaceBet_Validation(t *testing.T) {
	e, _ := newTestEngine(t, Config{MaxStakePerParticipant: 100})
	m, err := e.CreateMarket(context.Background(), domain.MarketSpec{
		Outcomes: []string{"A", "B"},
		Deadline: t0.Add(time.Hour),
		MinBet:   5,
		MaxBet:   60,
	})
	if err != nil {
		t.Fatal(err)
	}
	mustBet(t, e, m.ID, "p", "A", 60)

	tests := []struct {
		name        string
		participant string
		outcome     string
		amount      int64
		wantErr     error
	}{
		{"unknown outcome", "p", "Z", 10, domain.ErrUnknownOutcome},
		{"zero amount", "p", "A", 0, domain.ErrInvalidAmount},
		{"below minimum", "p", "A", 4, domain.ErrBetLimit},
		{"above maximum", "p", "A", 61, domain.ErrBetLimit},
		{"over stake cap", "p", "A", 41, domain.ErrBetLimit},
		{"blank participant", " ", "A", 10, domain.ErrInvalidParticipant},
		{"unknown market", "p", "A", 10, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := m.ID
			if tt.wantErr == domain.ErrNotFound {
				id = "missing"
			}
			_, err := e.PlaceBet(context.Background(), id, tt.participant, tt.outcome, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	mustBet(t, e, m.ID, "p", "B", 60)
}

func TestCreateMarket_Validation(t *testing.T) {
	neg := int64(-1)
	tests := []struct {
		name string
		spec domain.MarketSpec
	}{
		{"one outcome", domain.MarketSpec{Outcomes: []string{"A"}, Deadline: t0.Add(time.Hour)}},
		{"duplicate outcome", domain.MarketSpec{Outcomes: []string{"A", "A"}, Deadline: t0.Add(time.Hour)}},
		{"past deadline", domain.MarketSpec{Outcomes: []string{"A", "B"}, Deadline: t0.Add(-time.Hour)}},
		{"negative fee", domain.MarketSpec{Outcomes: []string{"A", "B"}, Deadline: t0.Add(time.Hour), FeeBps: &neg}},
		{"max below min", domain.MarketSpec{Outcomes: []string{"A", "B"}, Deadline: t0.Add(time.Hour), MinBet: 10, MaxBet: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, Config{})
			if _, err := e.CreateMarket(context.Background(), tt.spec); !errors.Is(err, domain.ErrInvalidMarket) {
				t.Fatalf("error = %v, want ErrInvalidMarket", err)
			}
			if len(e.ListMarkets(domain.MarketFilter{})) != 0 {
				t.Fatal("rejected market was registered")
			}
		})
	}
}

func TestPlaceBet_PoolOverflowRejectedBeforeJournal(t *testing.T) {
	ctx := context.Background()
	e, j := newTestEngine(t, Config{})
	m := createMarket(t, e, "A", "B")
	mustBet(t, e, m.ID, "P1", "A", math.MaxInt64)

	if _, err := e.PlaceBet(ctx, m.ID, "P2", "B", 1); !errors.Is(err, domain.ErrBetLimit) {
		t.Fatalf("overflowing bet error = %v, want ErrBetLimit", err)
	}
	snap, _ := e.Market(m.ID)
	if snap.Halted || snap.Pool != math.MaxInt64 || snap.Staked != math.MaxInt64 {
		t.Fatalf("market after rejected bet = %+v", snap)
	}
	events, err := j.Load(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("journal has %d events, want create and one bet", len(events))
	}

	if _, err := e.LockMarket(ctx, m.ID); err != nil {
		t.Fatalf("LockMarket: %v", err)
	}
	if _, err := e.ResolveMarket(ctx, m.ID, "A"); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}
	st, err := e.Settle(ctx, m.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if st.Entitlements["P1"] != math.MaxInt64 {
		t.Errorf("P1 entitlement = %d, want the whole pool", st.Entitlements["P1"])
	}
}

func TestPlaceBet_StakeLimitNearMaxInt(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, Config{MaxStakePerParticipant: math.MaxInt64 - 10})
	m := createMarket(t, e, "A", "B")
	mustBet(t, e, m.ID, "P1", "A", math.MaxInt64-20)

	if _, err := e.PlaceBet(ctx, m.ID, "P1", "A", 11); !errors.Is(err, domain.ErrBetLimit) {
		t.Fatalf("bet over stake limit error = %v, want ErrBetLimit", err)
	}
	mustBet(t, e, m.ID, "P1", "A", 10)
}

func TestWithdraw_NothingLeft(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, Config{})
	m := createMarket(t, e, "A", "B")
	mustBet(t, e, m.ID, "P1", "A", 60)
	mustBet(t, e, m.ID, "P2", "B", 40)
	if _, err := e.ResolveMarket(ctx, m.ID, "A"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Settle(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	_, err := e.Withdraw(ctx, m.ID, "P2")
	if !errors.Is(err, domain.ErrInsufficientEntitlement) {
		t.Fatalf("loser withdraw error = %v, want ErrInsufficientEntitlement", err)
	}
	if strings.Contains(err.Error(), "requested") {
		t.Errorf("error reports a made-up request: %q", err)
	}
	if entry, err := e.Withdraw(ctx, m.ID, "P1"); err != nil || entry.Amount != 100 {
		t.Fatalf("winner withdraw = %+v, %v", entry, err)
	}
	if _, err := e.Withdraw(ctx, m.ID, "P1"); !errors.Is(err, domain.ErrInsufficientEntitlement) {
		t.Fatalf("second withdraw error = %v, want ErrInsufficientEntitlement", err)
	}
}

func TestJournalFailure_LeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	e, j := newTestEngine(t, Config{})
	m := createMarket(t, e, "A", "B")
	mustBet(t, e, m.ID, "P1", "A", 10)

	j.fail.Store(true)
	if _, err := e.PlaceBet(ctx, m.ID, "P2", "B", 20); err == nil {
		t.Fatal("PlaceBet succeeded with a failing journal")
	}
	if _, err := e.LockMarket(ctx, m.ID); err == nil {
		t.Fatal("LockMarket succeeded with a failing journal")
	}
	snap, _ := e.Market(m.ID)
	if snap.Staked != 10 || snap.State != domain.MarketOpen || snap.Halted {
		t.Fatalf("failed writes changed the market: %+v", snap)
	}

	j.fail.Store(false)
	mustBet(t, e, m.ID, "P2", "B", 20)
	snap, _ = e.Market(m.ID)
	if snap.Staked != 30 || snap.Version != 3 {
		t.Fatalf("market after recovery = %+v", snap)
	}
}

func TestSequenceConflict_HaltsUntilReconciled(t *testing.T) {
	ctx := context.Background()
	e, j := newTestEngine(t, Config{})
	m := createMarket(t, e, "A", "B")
	mustBet(t, e, m.ID, "P1", "A", 10)

	// Another writer takes the next sequence number behind the engine's back.
	if err := j.Journal.Append(ctx, domain.LedgerEvent{
		MarketID: m.ID, Seq: 3, Kind: domain.EventMarketLocked, RecordedAt: t0,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := e.PlaceBet(ctx, m.ID, "P2", "A", 5); !errors.Is(err, domain.ErrInconsistentLedger) {
		t.Fatalf("PlaceBet error = %v, want ErrInconsistentLedger", err)
	}
	if _, err := e.ResolveMarket(ctx, m.ID, "A"); !errors.Is(err, domain.ErrInconsistentLedger) {
		t.Fatalf("mutation on halted market error = %v, want ErrInconsistentLedger", err)
	}
	snap, _ := e.Market(m.ID)
	if !snap.Halted {
		t.Fatal("market not halted")
	}

	got, err := e.Reconcile(ctx, m.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.Halted || got.State != domain.MarketLocked || got.Staked != 10 {
		t.Fatalf("reconciled market = %+v", got)
	}
	if _, err := e.ResolveMarket(ctx, m.ID, "A"); err != nil {
		t.Fatalf("ResolveMarket after reconcile: %v", err)
	}
}

func TestRestore_ReplaysJournal(t *testing.T) {
	ctx := context.Background()
	e, j := newTestEngine(t, Config{DefaultFeeBps: 100})
	open := createMarket(t, e, "A", "B")
	mustBet(t, e, open.ID, "P1", "A", 40)

	done := createMarket(t, e, "X", "Y")
	mustBet(t, e, done.ID, "P1", "X", 300)
	mustBet(t, e, done.ID, "P2", "Y", 700)
	if _, err := e.ResolveMarket(ctx, done.ID, "Y"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Settle(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.WithdrawAmount(ctx, done.ID, "P2", 100); err != nil {
		t.Fatal(err)
	}

	restored := New(Config{}, j, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return t0 }))
	n, err := restored.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 2 {
		t.Fatalf("restored %d markets, want 2", n)
	}
	for _, id := range []string{open.ID, done.ID} {
		want, _ := e.Market(id)
		got, err := restored.Market(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.State != want.State || got.Version != want.Version || got.Pool != want.Pool ||
			got.Staked != want.Staked || got.RetainedFee != want.RetainedFee {
			t.Errorf("market %s: restored %+v, want %+v", id, got, want)
		}
	}
	ent, _ := restored.Entitlement(done.ID, "P2")
	if ent.Authorized != 990 || ent.Withdrawn != 100 {
		t.Errorf("restored entitlement = %+v", ent)
	}
}

func TestObserver_SeesEveryCommit(t *testing.T) {
	ctx := context.Background()
	var (
		mu    sync.Mutex
		kinds []domain.EventKind
	)
	e, _ := newTestEngine(t, Config{}, WithObserver(func(ev domain.LedgerEvent, snap domain.Market) {
		mu.Lock()
		defer mu.Unlock()
		if snap.Version != ev.Seq {
			t.Errorf("%s: snapshot version %d, event seq %d", ev.Kind, snap.Version, ev.Seq)
		}
		kinds = append(kinds, ev.Kind)
	}))
	m := createMarket(t, e, "A", "B")
	mustBet(t, e, m.ID, "P1", "A", 10)
	if _, err := e.VoidMarket(ctx, m.ID, "no oracle"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Settle(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	want := []domain.EventKind{
		domain.EventMarketCreated,
		domain.EventBetPlaced,
		domain.EventMarketVoided,
		domain.EventSettlementAuthorized,
	}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("observed %v, want %v", kinds, want)
	}
}

func TestListMarkets_FilterAndPage(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, Config{})
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, createMarket(t, e, "A", "B").ID)
	}
	if _, err := e.LockMarket(ctx, ids[1]); err != nil {
		t.Fatal(err)
	}

	locked := e.ListMarkets(domain.MarketFilter{State: domain.MarketLocked})
	if len(locked) != 1 || locked[0].ID != ids[1] {
		t.Fatalf("locked markets = %+v", locked)
	}
	page := e.ListMarkets(domain.MarketFilter{ListOpts: domain.ListOpts{Limit: 2, Offset: 1}})
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
}
