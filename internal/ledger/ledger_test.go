package ledger

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"pgregory.net/rapid"
)

func newBet(id, who, outcome string, amount int64) domain.Bet {
	return domain.Bet{
		ID:          id,
		MarketID:    "m1",
		Participant: who,
		Outcome:     outcome,
		Amount:      amount,
		PlacedAt:    time.Unix(1700000000, 0).UTC(),
	}
}

func TestRecord_UpdatesAggregates(t *testing.T) {
	l := New("m1", []string{"A", "B"})
	bets := []domain.Bet{
		newBet("b1", "p1", "A", 50),
		newBet("b2", "p2", "A", 30),
		newBet("b3", "p3", "B", 20),
		newBet("b4", "p1", "A", 5),
	}
	for _, b := range bets {
		if err := l.Record(domain.MarketOpen, b); err != nil {
			t.Fatalf("Record(%s): %v", b.ID, err)
		}
	}

	aggs := l.Aggregates()
	want := []domain.OutcomeAggregate{
		{Outcome: "A", Total: 85, Count: 3},
		{Outcome: "B", Total: 20, Count: 1},
	}
	if len(aggs) != len(want) {
		t.Fatalf("got %d aggregates, want %d", len(aggs), len(want))
	}
	for i := range want {
		if aggs[i] != want[i] {
			t.Errorf("aggregate[%d] = %+v, want %+v", i, aggs[i], want[i])
		}
	}
	if l.Total() != 105 {
		t.Errorf("Total() = %d, want 105", l.Total())
	}
	if got := l.Stake("p1", "A"); got != 55 {
		t.Errorf("Stake(p1, A) = %d, want 55", got)
	}

	p1 := l.BetsFor("p1")
	if len(p1) != 2 || p1[0].ID != "b1" || p1[1].ID != "b4" {
		t.Errorf("BetsFor(p1) = %+v, want b1 then b4", p1)
	}
	if err := l.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestRecord_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		state   domain.MarketState
		bet     domain.Bet
		wantErr error
	}{
		{"locked market", domain.MarketLocked, newBet("b", "p", "A", 10), domain.ErrMarketClosed},
		{"resolved market", domain.MarketResolved, newBet("b", "p", "A", 10), domain.ErrMarketClosed},
		{"unknown outcome", domain.MarketOpen, newBet("b", "p", "C", 10), domain.ErrUnknownOutcome},
		{"zero amount", domain.MarketOpen, newBet("b", "p", "A", 0), domain.ErrInvalidAmount},
		{"negative amount", domain.MarketOpen, newBet("b", "p", "A", -4), domain.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New("m1", []string{"A", "B"})
			err := l.Record(tt.state, tt.bet)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Record error = %v, want %v", err, tt.wantErr)
			}
			if l.Total() != 0 || len(l.Bets()) != 0 {
				t.Errorf("rejected bet left a trace: total=%d bets=%d", l.Total(), len(l.Bets()))
			}
		})
	}
}

func TestRecord_RejectsPoolOverflow(t *testing.T) {
	l := New("m1", []string{"A", "B"})
	if err := l.Record(domain.MarketOpen, newBet("b1", "p1", "A", math.MaxInt64-5)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(domain.MarketOpen, newBet("b2", "p2", "B", 6)); !errors.Is(err, domain.ErrBetLimit) {
		t.Fatalf("overflowing bet error = %v, want ErrBetLimit", err)
	}
	if err := l.Record(domain.MarketOpen, newBet("b3", "p2", "B", 5)); err != nil {
		t.Fatalf("bet filling the pool exactly: %v", err)
	}
	if l.Total() != math.MaxInt64 || l.OutcomeTotal("B") != 5 {
		t.Errorf("Total() = %d, B = %d", l.Total(), l.OutcomeTotal("B"))
	}
	if err := l.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestVerify_DetectsTamperedAggregate(t *testing.T) {
	l := New("m1", []string{"A", "B"})
	if err := l.Record(domain.MarketOpen, newBet("b1", "p1", "A", 10)); err != nil {
		t.Fatal(err)
	}
	l.aggs[0].Total = 11

	if err := l.Verify(); !errors.Is(err, domain.ErrInconsistentLedger) {
		t.Fatalf("Verify error = %v, want ErrInconsistentLedger", err)
	}
}

func TestProperty_AggregatesMatchReplay(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		outcomes := []string{"A", "B", "C"}
		l := New("m1", outcomes)
		n := rapid.IntRange(0, 60).Draw(t, "n")

		var sum int64
		for i := 0; i < n; i++ {
			who := rapid.SampledFrom([]string{"p1", "p2", "p3", "p4"}).Draw(t, "who")
			outcome := rapid.SampledFrom(outcomes).Draw(t, "outcome")
			amount := rapid.Int64Range(1, 1_000_000).Draw(t, "amount")
			if err := l.Record(domain.MarketOpen, newBet(fmt.Sprintf("b%d", i), who, outcome, amount)); err != nil {
				t.Fatalf("Record: %v", err)
			}
			sum += amount
		}

		if l.Total() != sum {
			t.Fatalf("Total() = %d, want %d", l.Total(), sum)
		}
		var aggSum int64
		for _, a := range l.Aggregates() {
			aggSum += a.Total
		}
		if aggSum != sum {
			t.Fatalf("aggregate sum %d != pool %d", aggSum, sum)
		}
		if err := l.Verify(); err != nil {
			t.Fatalf("Verify: %v", err)
		}

		replayed, err := Replay("m1", outcomes, l.Bets())
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		for i, a := range replayed.Aggregates() {
			if a != l.Aggregates()[i] {
				t.Fatalf("replayed aggregate %+v != %+v", a, l.Aggregates()[i])
			}
		}
	})
}
