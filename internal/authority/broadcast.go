// ABOUTME: In-memory fan-out of accepted sync broadcasts to in-process
// ABOUTME: subscribers, for the gateway event stream and embedded observers.

package authority

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/weft/internal/protocol"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster is in-memory pub/sub over accepted sync payloads. Subscribers
// are observers, not replicas: a slow subscriber loses events rather than
// stalling change processing.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *protocol.Sync
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan *protocol.Sync),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber. Returns a channel that receives every
// subsequent broadcast and a subscription ID. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *protocol.Sync, string) {
	subID := uuid.New().String()
	ch := make(chan *protocol.Sync, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends a payload to all subscribers. Non-blocking: payloads are
// dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(payload *protocol.Sync) {
	b.mu.RLock()
	targets := make([]chan *protocol.Sync, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- payload:
		default:
			b.logger.Debug("dropped broadcast for slow subscriber")
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.logger.Debug("broadcaster closed")
}
