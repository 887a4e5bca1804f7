// Package memstore holds in-process implementations of the domain storage,
// cache and bus interfaces. It backs the "memory" storage mode and the
// tests of the packages above it.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Journal is an in-memory domain.Journal.
type Journal struct {
	mu     sync.RWMutex
	events map[string][]domain.LedgerEvent
}

var _ domain.Journal = (*Journal)(nil)

func NewJournal() *Journal {
	return &Journal{events: make(map[string][]domain.LedgerEvent)}
}

// Append enforces the same (market, seq) uniqueness and gap-free ordering
// as the Postgres journal: any seq other than the next one is rejected.
func (j *Journal) Append(_ context.Context, ev domain.LedgerEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	evs := j.events[ev.MarketID]
	next := int64(len(evs)) + 1
	if ev.Seq != next {
		return fmt.Errorf("memstore: journal %s seq %d, next is %d: %w", ev.MarketID, ev.Seq, next, domain.ErrAlreadyExists)
	}
	j.events[ev.MarketID] = append(evs, ev)
	return nil
}

func (j *Journal) Load(_ context.Context, marketID string) ([]domain.LedgerEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	evs, ok := j.events[marketID]
	if !ok {
		return nil, fmt.Errorf("memstore: journal %s: %w", marketID, domain.ErrNotFound)
	}
	return append([]domain.LedgerEvent(nil), evs...), nil
}

func (j *Journal) MarketIDs(_ context.Context) ([]string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	ids := make([]string, 0, len(j.events))
	for id := range j.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
