package domain

import (
	"context"
	"time"
)

// MarketCache holds recent market snapshots for the read path.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateDecision is the outcome of one counted request.
type RateDecision struct {
	Allowed   bool
	Remaining int
}

// RateLimiter counts API requests per client over a sliding or fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Channel and stream names used on the SignalBus.
const (
	ChannelMarketEvents = "market_events"
	streamMarketPrefix  = "stream:market:"
)

// MarketStream returns the durable stream name for one market.
func MarketStream(marketID string) string {
	return streamMarketPrefix + marketID
}
