package notify

import (
	"sync"
	"sync/atomic"

	"github.com/coachsync/coachsync/internal/entity"
)

// DefaultBufferSize is the per-subscriber channel buffer used when
// the notifier is constructed with a non-positive size.
const DefaultBufferSize = 64

// Logger defines the logging interface used by the Notifier.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Subscription is a handle to a subscriber's event stream.
// Events() yields confirmed state changes in publish order until the
// subscription is cancelled or the notifier closes.
type Subscription struct {
	id       uint64
	ch       chan entity.Update
	notifier *Notifier
	once     sync.Once
}

// Events returns the subscriber's receive channel. The channel is closed
// when the subscription is cancelled or the notifier shuts down.
func (s *Subscription) Events() <-chan entity.Update {
	return s.ch
}

// Cancel removes the subscription and closes its channel.
// Safe to call multiple times.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.notifier.remove(s.id)
	})
}

// Notifier fans confirmed state changes out to subscribers.
//
// Publish never blocks: each subscriber has a buffered channel, and an
// event that cannot be buffered is dropped for that subscriber only.
// Delivery is therefore at-least-once for keeping-up consumers and lossy
// for slow ones, which matches WebSocket push semantics where a client
// that falls behind can re-fetch full state.
type Notifier struct {
	mu      sync.RWMutex
	subs    map[uint64]chan entity.Update
	nextID  uint64
	bufSize int
	closed  bool

	logger Logger

	// dropped counts events discarded because a subscriber buffer was full.
	dropped atomic.Uint64
}

// New creates a notifier. bufSize is the per-subscriber channel buffer;
// non-positive values use DefaultBufferSize.
func New(bufSize int) *Notifier {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Notifier{
		subs:    make(map[uint64]chan entity.Update),
		bufSize: bufSize,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the notifier.
func (n *Notifier) SetLogger(logger Logger) {
	n.logger = logger
}

// Subscribe registers a new subscriber and returns its subscription handle.
// Returns nil if the notifier has been closed.
func (n *Notifier) Subscribe() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}

	n.nextID++
	ch := make(chan entity.Update, n.bufSize)
	n.subs[n.nextID] = ch

	return &Subscription{id: n.nextID, ch: ch, notifier: n}
}

// Publish delivers an update to every subscriber without blocking.
// Subscribers whose buffers are full miss this event.
func (n *Notifier) Publish(u entity.Update) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}

	for id, ch := range n.subs {
		select {
		case ch <- u:
		default:
			n.dropped.Add(1)
			n.logger.Warn("subscriber buffer full, event dropped",
				"subscriber_id", id,
				"entity_id", u.EntityID,
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Dropped returns the total number of events discarded due to full
// subscriber buffers.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Close shuts down the notifier, closing all subscriber channels.
// Publish and Subscribe become no-ops afterwards.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true

	for id, ch := range n.subs {
		close(ch)
		delete(n.subs, id)
	}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.subs[id]
	if !ok {
		return
	}
	delete(n.subs, id)
	close(ch)
}
