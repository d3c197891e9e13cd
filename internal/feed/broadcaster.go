// ABOUTME: In-memory fan-out event broadcaster for operator console awareness.
// ABOUTME: Non-blocking publish; slow or disconnected subscribers are dropped silently.

package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// EventKind classifies feed events.
type EventKind string

const (
	KindMessage EventKind = "message" // inbound, outbound, or system message
	KindSession EventKind = "session" // session-list-affecting change
	KindHandoff EventKind = "handoff" // human window opened or closed
)

// Event is one push update for operator consoles. There is no replay: a
// reconnecting observer re-fetches current state through the snapshot
// endpoints instead of the stream.
type Event struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	RecipientID string    `json:"recipient_id"`
	Role        string    `json:"role,omitempty"`
	Text        string    `json:"text,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	HumanActive bool      `json:"human_active,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Broadcaster provides in-memory pub/sub for feed events. All
// subscribers observe the full feed.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "feed"),
	}
}

// Subscribe registers an observer. Returns the event channel and a
// subscription id for explicit unsubscription. The subscription is
// cleaned up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

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

// Publish fans the event out to all subscribers. Non-blocking: the event
// is dropped for any subscriber whose channel is full.
func (b *Broadcaster) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber", "event_id", event.ID)
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
}
