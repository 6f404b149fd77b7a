package user

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/user-table/backend/internal/metrics"
	model "github.com/zhouzirui/user-table/backend/internal/model/user"
)

// EventKind tells subscribers what happened to a user.
type EventKind string

const (
	EventAdded  EventKind = "ADDED"
	EventEdited EventKind = "EDITED"
)

// Event is published after every successful add or edit.
type Event struct {
	Kind EventKind  `json:"kind"`
	User model.User `json:"user"`
}

// broker fans events out to subscribers. A subscriber that is not draining
// its channel misses events rather than blocking writers.
type broker struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	buffer  int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newBroker(buffer int, logger *zap.Logger, m *metrics.Metrics) *broker {
	if buffer < 1 {
		buffer = 1
	}
	return &broker{
		subs:    make(map[chan Event]struct{}),
		buffer:  buffer,
		logger:  logger,
		metrics: m,
	}
}

func (b *broker) subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	b.metrics.SubscriberOpened()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
		b.metrics.SubscriberClosed()
	}()
	return ch
}

func (b *broker) publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.metrics.EventDropped()
			b.logger.Warn("dropping user event for slow subscriber",
				zap.String("kind", string(evt.Kind)),
				zap.String("user_id", evt.User.ID))
		}
	}
}

func (b *broker) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
