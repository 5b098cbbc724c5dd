package mcpmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultStatusBuffer is the channel buffer for each status subscriber.
const defaultStatusBuffer = 64

// StatusEvent reports a server lifecycle transition.
type StatusEvent struct {
	ServerID string
	Status   ConnectionStatus
	Previous ConnectionStatus
	// Err is set for transitions caused by a failure.
	Err error
	At  time.Time
}

// statusBroadcaster fans status events out to subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type statusBroadcaster struct {
	mu     sync.RWMutex
	subs   map[string]chan StatusEvent
	size   int
	logger *slog.Logger
}

func newStatusBroadcaster(size int, logger *slog.Logger) *statusBroadcaster {
	if size <= 0 {
		size = defaultStatusBuffer
	}
	return &statusBroadcaster{
		subs:   make(map[string]chan StatusEvent),
		size:   size,
		logger: logger,
	}
}

func (b *statusBroadcaster) subscribe(ctx context.Context) (<-chan StatusEvent, func()) {
	subID := uuid.New().String()
	ch := make(chan StatusEvent, b.size)

	b.mu.Lock()
	b.subs[subID] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.unsubscribe(subID) })
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}

func (b *statusBroadcaster) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[subID]; ok {
		delete(b.subs, subID)
		close(ch)
	}
}

func (b *statusBroadcaster) publish(ev StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for subID, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("status subscriber full, dropping event",
				"sub_id", subID,
				"server", ev.ServerID,
				"status", ev.Status,
			)
		}
	}
}

func (b *statusBroadcaster) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
