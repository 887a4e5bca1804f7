// Package escrow custodies the staked value of a market and pays it out
// only against entitlements authorized by settlement.
package escrow

import (
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/market"
)

// Escrow is the pool of one market. It is not safe for concurrent use; the
// engine holds the market lock around every call.
type Escrow struct {
	marketID string

	deposited   int64
	withdrawn   int64
	feeRetained int64
	feeClaimed  int64

	authorized map[string]int64
	paid       map[string]int64
	sealed     bool

	entries []domain.LedgerEntry
}

// New returns an empty escrow for marketID.
func New(marketID string) *Escrow {
	return &Escrow{
		marketID:   marketID,
		authorized: make(map[string]int64),
		paid:       make(map[string]int64),
	}
}

// CheckDeposit reports the error Deposit would return.
func (e *Escrow) CheckDeposit(state domain.MarketState, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("escrow: deposit %d: %w", amount, domain.ErrInvalidAmount)
	}
	if !market.AcceptsBets(state) {
		return fmt.Errorf("escrow: deposit while %s: %w", state, domain.ErrInvalidState)
	}
	if amount > math.MaxInt64-e.deposited {
		return fmt.Errorf("escrow: deposit %d would overflow pool %d: %w", amount, e.deposited, domain.ErrInvalidAmount)
	}
	return nil
}

// Deposit adds entry.Amount to the pool. The entry doubles as the receipt
// returned to the depositor.
func (e *Escrow) Deposit(state domain.MarketState, entry domain.LedgerEntry) error {
	if entry.Kind != domain.EntryDeposit {
		return fmt.Errorf("escrow: deposit with %s entry: %w", entry.Kind, domain.ErrInconsistentLedger)
	}
	if err := e.CheckDeposit(state, entry.Amount); err != nil {
		return err
	}
	e.deposited += entry.Amount
	e.entries = append(e.entries, entry)
	return nil
}

// Authorize records the settlement's entitlements. It succeeds exactly
// once; the entitlements plus the fee must account for every deposited unit.
func (e *Escrow) Authorize(s domain.Settlement) error {
	if e.sealed {
		return fmt.Errorf("escrow: market %s already authorized: %w", e.marketID, domain.ErrAlreadyExists)
	}
	if s.Fee < 0 {
		return fmt.Errorf("escrow: negative fee %d: %w", s.Fee, domain.ErrInconsistentLedger)
	}
	var sum int64
	for p, amt := range s.Entitlements {
		if amt < 0 {
			return fmt.Errorf("escrow: negative entitlement %d for %s: %w", amt, p, domain.ErrInconsistentLedger)
		}
		sum += amt
	}
	if sum+s.Fee != e.deposited {
		return fmt.Errorf("escrow: entitlements %d + fee %d != deposited %d: %w",
			sum, s.Fee, e.deposited, domain.ErrInconsistentLedger)
	}

	for p, amt := range s.Entitlements {
		e.authorized[p] = amt
	}
	e.feeRetained = s.Fee
	e.sealed = true
	if s.Fee > 0 {
		e.entries = append(e.entries, domain.LedgerEntry{
			ID:        fmt.Sprintf("%s:fee:%d", e.marketID, s.Seq),
			MarketID:  e.marketID,
			Kind:      domain.EntryFeeRetained,
			Amount:    s.Fee,
			Seq:       s.Seq,
			CreatedAt: s.ComputedAt,
		})
	}
	return nil
}

// Authorized reports whether settlement entitlements have been recorded.
func (e *Escrow) Authorized() bool { return e.sealed }

// CheckWithdraw reports the error Withdraw would return.
func (e *Escrow) CheckWithdraw(state domain.MarketState, participant string, amount int64) error {
	if !market.AllowsWithdrawal(state) {
		return fmt.Errorf("escrow: withdraw while %s: %w", state, domain.ErrInvalidState)
	}
	if amount <= 0 {
		return fmt.Errorf("escrow: withdraw %d: %w", amount, domain.ErrInvalidAmount)
	}
	if remaining := e.authorized[participant] - e.paid[participant]; amount > remaining {
		return fmt.Errorf("escrow: %s requested %d, remaining %d: %w",
			participant, amount, remaining, domain.ErrInsufficientEntitlement)
	}
	return nil
}

// CheckWithdrawAll returns participant's whole remaining entitlement, or
// ErrInsufficientEntitlement when nothing is left to withdraw.
func (e *Escrow) CheckWithdrawAll(state domain.MarketState, participant string) (int64, error) {
	if !market.AllowsWithdrawal(state) {
		return 0, fmt.Errorf("escrow: withdraw while %s: %w", state, domain.ErrInvalidState)
	}
	remaining := e.authorized[participant] - e.paid[participant]
	if remaining <= 0 {
		return 0, fmt.Errorf("escrow: %s has nothing to withdraw: %w", participant, domain.ErrInsufficientEntitlement)
	}
	return remaining, nil
}

// Withdraw pays entry.Amount to entry.Participant.
func (e *Escrow) Withdraw(state domain.MarketState, entry domain.LedgerEntry) error {
	if entry.Kind != domain.EntryWithdrawal {
		return fmt.Errorf("escrow: withdraw with %s entry: %w", entry.Kind, domain.ErrInconsistentLedger)
	}
	if err := e.CheckWithdraw(state, entry.Participant, entry.Amount); err != nil {
		return err
	}
	e.paid[entry.Participant] += entry.Amount
	e.withdrawn += entry.Amount
	e.entries = append(e.entries, entry)
	return nil
}

// CheckClaimFee returns the claimable fee, or the error ClaimFee would
// return.
func (e *Escrow) CheckClaimFee(state domain.MarketState) (int64, error) {
	if state != domain.MarketSettled {
		return 0, fmt.Errorf("escrow: claim fee while %s: %w", state, domain.ErrInvalidState)
	}
	unclaimed := e.feeRetained - e.feeClaimed
	if unclaimed <= 0 {
		return 0, fmt.Errorf("escrow: no fee to claim: %w", domain.ErrInsufficientEntitlement)
	}
	return unclaimed, nil
}

// ClaimFee releases the retained fee to the operator.
func (e *Escrow) ClaimFee(state domain.MarketState, entry domain.LedgerEntry) error {
	unclaimed, err := e.CheckClaimFee(state)
	if err != nil {
		return err
	}
	if entry.Kind != domain.EntryFeeClaimed || entry.Amount != unclaimed {
		return fmt.Errorf("escrow: fee claim entry %s/%d, expected %d: %w",
			entry.Kind, entry.Amount, unclaimed, domain.ErrInconsistentLedger)
	}
	e.feeClaimed += entry.Amount
	e.entries = append(e.entries, entry)
	return nil
}

// Balance is what the escrow still holds.
func (e *Escrow) Balance() int64 { return e.deposited - e.withdrawn - e.feeClaimed }

// Deposited is the total ever deposited.
func (e *Escrow) Deposited() int64 { return e.deposited }

// Withdrawn is the total paid to participants.
func (e *Escrow) Withdrawn() int64 { return e.withdrawn }

// Fee returns the retained and claimed fee amounts.
func (e *Escrow) Fee() (retained, claimed int64) { return e.feeRetained, e.feeClaimed }

// Entitlement returns participant's authorized and withdrawn amounts.
func (e *Escrow) Entitlement(participant string) domain.Entitlement {
	return domain.Entitlement{
		MarketID:    e.marketID,
		Participant: participant,
		Authorized:  e.authorized[participant],
		Withdrawn:   e.paid[participant],
	}
}

// Entitlements returns every authorized entitlement sorted by participant.
func (e *Escrow) Entitlements() []domain.Entitlement {
	out := make([]domain.Entitlement, 0, len(e.authorized))
	for p := range e.authorized {
		out = append(out, e.Entitlement(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	return out
}

// Entries returns the escrow movements in order.
func (e *Escrow) Entries() []domain.LedgerEntry {
	return append([]domain.LedgerEntry(nil), e.entries...)
}

// Check verifies the conservation invariants of the pool.
func (e *Escrow) Check() error {
	if e.Balance() < 0 {
		return fmt.Errorf("escrow: negative balance %d: %w", e.Balance(), domain.ErrInconsistentLedger)
	}
	if e.withdrawn+e.feeClaimed > e.deposited {
		return fmt.Errorf("escrow: paid out %d of %d deposited: %w",
			e.withdrawn+e.feeClaimed, e.deposited, domain.ErrInconsistentLedger)
	}
	if e.feeClaimed > e.feeRetained {
		return fmt.Errorf("escrow: fee claimed %d > retained %d: %w", e.feeClaimed, e.feeRetained, domain.ErrInconsistentLedger)
	}
	var paid int64
	for p, amt := range e.paid {
		if amt > e.authorized[p] {
			return fmt.Errorf("escrow: %s paid %d > authorized %d: %w", p, amt, e.authorized[p], domain.ErrInconsistentLedger)
		}
		paid += amt
	}
	if paid != e.withdrawn {
		return fmt.Errorf("escrow: per-participant payouts %d != withdrawn %d: %w", paid, e.withdrawn, domain.ErrInconsistentLedger)
	}
	return nil
}
