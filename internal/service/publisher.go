package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/notify"
)

const defaultPublishBuffer = 1024

type committed struct {
	ev   domain.LedgerEvent
	snap domain.Market
}

// EventPublisher fans committed market events out to the bus, the audit
// log, the snapshot cache, the market store and operator notifications.
// Observe is registered as the engine observer; Run drains the queue.
// Every side effect is best effort: a failure is logged and the event
// still reaches the other sinks.
type EventPublisher struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	cache    domain.MarketCache
	markets  domain.MarketStore
	notifier *notify.Notifier
	logger   *slog.Logger

	queue   chan committed
	dropped atomic.Int64
}

// NewEventPublisher creates an EventPublisher. Any sink may be nil. A
// non-positive buffer selects the default.
func NewEventPublisher(
	bus domain.SignalBus,
	audit domain.AuditStore,
	cache domain.MarketCache,
	markets domain.MarketStore,
	notifier *notify.Notifier,
	buffer int,
	logger *slog.Logger,
) *EventPublisher {
	if buffer <= 0 {
		buffer = defaultPublishBuffer
	}
	return &EventPublisher{
		bus:      bus,
		audit:    audit,
		cache:    cache,
		markets:  markets,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_publisher")),
		queue:    make(chan committed, buffer),
	}
}

// Observe enqueues a committed event. It never blocks; when the queue is
// full the event is dropped and counted. The journal still holds it.
func (p *EventPublisher) Observe(ev domain.LedgerEvent, snap domain.Market) {
	select {
	case p.queue <- committed{ev: ev, snap: snap}:
	default:
		n := p.dropped.Add(1)
		p.logger.Warn("event queue full, dropping",
			slog.String("market_id", ev.MarketID),
			slog.Int64("seq", ev.Seq),
			slog.Int64("dropped_total", n),
		)
	}
}

// Dropped returns how many events were dropped on a full queue.
func (p *EventPublisher) Dropped() int64 { return p.dropped.Load() }

// Run publishes queued events until ctx is cancelled, then flushes what is
// already queued.
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush(ctx)
			return ctx.Err()
		case c := <-p.queue:
			p.handle(ctx, c.ev, c.snap)
		}
	}
}

func (p *EventPublisher) flush(ctx context.Context) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for {
		select {
		case c := <-p.queue:
			p.handle(fctx, c.ev, c.snap)
		default:
			return
		}
	}
}

func (p *EventPublisher) handle(ctx context.Context, ev domain.LedgerEvent, snap domain.Market) {
	log := p.logger.With(
		slog.String("market_id", ev.MarketID),
		slog.Int64("seq", ev.Seq),
		slog.String("kind", string(ev.Kind)),
	)

	if p.bus != nil {
		payload, err := json.Marshal(domain.EventMessage{Event: ev, Market: snap})
		if err != nil {
			log.ErrorContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		} else {
			if err := p.bus.Publish(ctx, domain.ChannelMarketEvents, payload); err != nil {
				log.WarnContext(ctx, "publish failed", slog.String("error", err.Error()))
			}
			if err := p.bus.StreamAppend(ctx, domain.MarketStream(ev.MarketID), payload); err != nil {
				log.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	if p.audit != nil {
		if err := p.audit.Log(ctx, "market."+string(ev.Kind), auditDetail(ev)); err != nil {
			log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, snap); err != nil {
			log.WarnContext(ctx, "cache set failed", slog.String("error", err.Error()))
		}
	}
	if p.markets != nil {
		if err := p.markets.Upsert(ctx, snap); err != nil {
			log.WarnContext(ctx, "market store upsert failed", slog.String("error", err.Error()))
		}
	}
	if p.notifier.Enabled(ev.Kind) {
		if err := p.notifier.NotifyEvent(ctx, ev, snap); err != nil {
			log.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}

func auditDetail(ev domain.LedgerEvent) map[string]any {
	d := map[string]any{
		"market_id": ev.MarketID,
		"seq":       ev.Seq,
	}
	switch {
	case ev.Bet != nil:
		d["bet_id"] = ev.Bet.ID
		d["participant"] = ev.Bet.Participant
		d["outcome"] = ev.Bet.Outcome
		d["amount"] = ev.Bet.Amount
	case ev.Settlement != nil:
		d["settlement_kind"] = ev.Settlement.Kind
		d["outcome"] = ev.Settlement.Outcome
		d["pool"] = ev.Settlement.Pool
		d["fee"] = ev.Settlement.Fee
		d["participants"] = len(ev.Settlement.Entitlements)
	case ev.Entry != nil:
		d["entry_id"] = ev.Entry.ID
		d["participant"] = ev.Entry.Participant
		d["amount"] = ev.Entry.Amount
	}
	if ev.Outcome != "" {
		d["outcome"] = ev.Outcome
	}
	if ev.Reason != "" {
		d["reason"] = ev.Reason
	}
	return d
}
