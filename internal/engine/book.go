package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/escrow"
	"github.com/alanyoungcy/parimutuel/internal/ledger"
	"github.com/alanyoungcy/parimutuel/internal/market"
	"github.com/alanyoungcy/parimutuel/internal/settlement"
)

// book is the in-memory state of one market: its definition, state machine,
// bet ledger and escrow. Every field below mu is guarded by it.
type book struct {
	mu sync.RWMutex

	def        domain.Market
	machine    *market.Machine
	ledger     *ledger.Ledger
	escrow     *escrow.Escrow
	settlement *domain.Settlement

	seq        int64
	resolvedAt *time.Time
	settledAt  *time.Time
	voidReason string
	halted     bool
	haltReason string
}

func newBook(ev domain.LedgerEvent) (*book, error) {
	if ev.Kind != domain.EventMarketCreated || ev.Market == nil {
		return nil, fmt.Errorf("engine: first event is %s, not %s: %w",
			ev.Kind, domain.EventMarketCreated, domain.ErrInconsistentLedger)
	}
	if ev.Seq != 1 {
		return nil, fmt.Errorf("engine: %s at seq %d: %w", ev.Kind, ev.Seq, domain.ErrInconsistentLedger)
	}
	def := ev.Market.Clone()
	return &book{
		def:     def,
		machine: market.NewMachine(def.Outcomes),
		ledger:  ledger.New(def.ID, def.Outcomes),
		escrow:  escrow.New(def.ID),
		seq:     1,
	}, nil
}

// replay rebuilds a market from its journal. When an event fails to apply
// the partially rebuilt book is returned halted, along with the error.
func replay(events []domain.LedgerEvent) (*book, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("engine: empty journal: %w", domain.ErrNotFound)
	}
	b, err := newBook(events[0])
	if err != nil {
		return nil, err
	}
	for _, ev := range events[1:] {
		if err := b.apply(ev); err != nil {
			b.halted = true
			b.haltReason = fmt.Sprintf("replay seq %d: %v", ev.Seq, err)
			return b, err
		}
	}
	return b, nil
}

// apply folds one journaled event into the book. Callers validate with the
// Check methods before journaling, so an error here means the journal and
// the in-memory state disagree.
func (b *book) apply(ev domain.LedgerEvent) error {
	if ev.Seq != b.seq+1 {
		return fmt.Errorf("engine: %s has seq %d, expected %d: %w",
			ev.Kind, ev.Seq, b.seq+1, domain.ErrInconsistentLedger)
	}
	b.seq = ev.Seq
	state := b.machine.State()

	var err error
	switch ev.Kind {
	case domain.EventBetPlaced:
		if ev.Bet == nil || ev.Entry == nil {
			return missing(ev)
		}
		if err = b.ledger.Record(state, *ev.Bet); err != nil {
			break
		}
		err = b.escrow.Deposit(state, *ev.Entry)
	case domain.EventMarketLocked:
		err = b.machine.Lock()
	case domain.EventMarketResolved:
		if err = b.machine.Resolve(ev.Outcome); err == nil {
			t := ev.RecordedAt
			b.resolvedAt = &t
		}
	case domain.EventMarketVoided:
		if err = b.machine.Void(); err == nil {
			t := ev.RecordedAt
			b.resolvedAt = &t
			b.voidReason = ev.Reason
		}
	case domain.EventSettlementAuthorized:
		if ev.Settlement == nil {
			return missing(ev)
		}
		if err = b.machine.CheckSettle(); err != nil {
			break
		}
		if err = b.escrow.Authorize(*ev.Settlement); err != nil {
			break
		}
		_ = b.machine.Settle()
		s := ev.Settlement.Clone()
		b.settlement = &s
		t := ev.RecordedAt
		b.settledAt = &t
	case domain.EventWithdrawal:
		if ev.Entry == nil {
			return missing(ev)
		}
		err = b.escrow.Withdraw(state, *ev.Entry)
	case domain.EventFeeClaimed:
		if ev.Entry == nil {
			return missing(ev)
		}
		err = b.escrow.ClaimFee(state, *ev.Entry)
	case domain.EventMarketHalted:
		b.halted = true
		b.haltReason = ev.Reason
	case domain.EventMarketResumed:
		b.halted = false
		b.haltReason = ""
	default:
		err = fmt.Errorf("engine: unexpected %s event at seq %d: %w", ev.Kind, ev.Seq, domain.ErrInconsistentLedger)
	}
	if err != nil {
		return fmt.Errorf("engine: apply %s seq %d: %w", ev.Kind, ev.Seq, err)
	}
	return nil
}

func missing(ev domain.LedgerEvent) error {
	return fmt.Errorf("engine: %s seq %d has no payload: %w", ev.Kind, ev.Seq, domain.ErrInconsistentLedger)
}

// check runs the cheap conservation checks after every mutation.
func (b *book) check() error {
	if err := b.escrow.Check(); err != nil {
		return err
	}
	if b.escrow.Deposited() != b.ledger.Total() {
		return fmt.Errorf("engine: escrow holds %d deposited, ledger pool is %d: %w",
			b.escrow.Deposited(), b.ledger.Total(), domain.ErrInconsistentLedger)
	}
	return nil
}

// verify runs check plus a full replay of the bet log and the settlement
// conservation check.
func (b *book) verify() error {
	if err := b.check(); err != nil {
		return err
	}
	if err := b.ledger.Verify(); err != nil {
		return err
	}
	if b.settlement != nil {
		if err := settlement.Conserves(*b.settlement); err != nil {
			return err
		}
		if b.settlement.Pool != b.ledger.Total() {
			return fmt.Errorf("engine: settlement pool %d, ledger pool %d: %w",
				b.settlement.Pool, b.ledger.Total(), domain.ErrInconsistentLedger)
		}
	}
	return nil
}

// snapshot returns the current market view.
func (b *book) snapshot() domain.Market {
	m := b.def.Clone()
	m.State = b.machine.State()
	m.ResolvedOutcome = b.machine.Outcome()
	m.ResolvedAt = copyTime(b.resolvedAt)
	m.SettledAt = copyTime(b.settledAt)
	m.VoidReason = b.voidReason
	m.Pool = b.escrow.Balance()
	m.Staked = b.ledger.Total()
	m.RetainedFee, _ = b.escrow.Fee()
	m.Version = b.seq
	m.Halted = b.halted
	m.HaltReason = b.haltReason
	return m
}

// replaceWith adopts the state of o, which must describe the same market.
func (b *book) replaceWith(o *book) {
	b.def = o.def
	b.machine = o.machine
	b.ledger = o.ledger
	b.escrow = o.escrow
	b.settlement = o.settlement
	b.seq = o.seq
	b.resolvedAt = o.resolvedAt
	b.settledAt = o.settledAt
	b.voidReason = o.voidReason
	b.halted = o.halted
	b.haltReason = o.haltReason
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
