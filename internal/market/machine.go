package market

import (
	"fmt"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Machine tracks the state and resolved outcome of one market. It is not
// safe for concurrent use; the engine serializes access per market.
//
// Each mutator has a Check counterpart that reports the error the mutator
// would return, so callers can validate before journaling and apply after.
type Machine struct {
	outcomes []string
	state    domain.MarketState
	outcome  string
}

// NewMachine returns a Machine in the Open state.
func NewMachine(outcomes []string) *Machine {
	return &Machine{
		outcomes: append([]string(nil), outcomes...),
		state:    domain.MarketOpen,
	}
}

// State returns the current state.
func (m *Machine) State() domain.MarketState { return m.state }

// Outcome returns the resolved outcome, empty unless resolved.
func (m *Machine) Outcome() string { return m.outcome }

func (m *Machine) CheckLock() error {
	_, err := Next(m.state, Lock)
	return err
}

func (m *Machine) Lock() error {
	next, err := Next(m.state, Lock)
	if err != nil {
		return err
	}
	m.state = next
	return nil
}

// CheckResolve validates the state first, so a second resolution reports
// ErrAlreadyResolved even when its outcome is also bogus.
func (m *Machine) CheckResolve(outcome string) error {
	if _, err := Next(m.state, Resolve); err != nil {
		return err
	}
	for _, o := range m.outcomes {
		if o == outcome {
			return nil
		}
	}
	return fmt.Errorf("outcome %q: %w", outcome, domain.ErrInvalidOutcome)
}

// Resolve fixes the winning outcome. The outcome is never changed again.
func (m *Machine) Resolve(outcome string) error {
	if err := m.CheckResolve(outcome); err != nil {
		return err
	}
	m.state = domain.MarketResolved
	m.outcome = outcome
	return nil
}

func (m *Machine) CheckVoid() error {
	_, err := Next(m.state, Void)
	return err
}

func (m *Machine) Void() error {
	next, err := Next(m.state, Void)
	if err != nil {
		return err
	}
	m.state = next
	return nil
}

func (m *Machine) CheckSettle() error {
	_, err := Next(m.state, Settle)
	return err
}

func (m *Machine) Settle() error {
	next, err := Next(m.state, Settle)
	if err != nil {
		return err
	}
	m.state = next
	return nil
}
