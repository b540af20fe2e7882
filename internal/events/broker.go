// Package events fans location and notification events out to users' live streams.
//
// Every open stream owns a bounded Queue registered under its user. Publishing never
// blocks: a full queue drops the event. Delivery is best effort and at most once, and
// nothing is persisted.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/trainfriends/backend/internal/metrics"
)

const (
	// DefaultCapacity is the number of undelivered events a queue holds before dropping.
	DefaultCapacity = 32
	// DefaultKeepAlive is how long a stream may stay silent before sending a keep-alive.
	DefaultKeepAlive = 15 * time.Second
)

var (
	// ErrIdle is returned by Drain when no event arrived before the timeout.
	ErrIdle = errors.New("events: no event before timeout")
	// ErrClosed is returned by Drain once the queue has been unsubscribed.
	ErrClosed = errors.New("events: queue closed")
)

// Queue is one stream's mailbox.
type Queue struct {
	user string
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func newQueue(user string, capacity int) *Queue {
	return &Queue{
		user: user,
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
	}
}

// User returns the identity the queue is registered under.
func (q *Queue) User() string {
	return q.user
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Drain blocks until an event is available, timeout elapses (ErrIdle), ctx ends, or the
// queue is closed (ErrClosed).
func (q *Queue) Drain(ctx context.Context, timeout time.Duration) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-q.ch:
		return ev, nil
	case <-q.done:
		return Event{}, ErrClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-timer.C:
		return Event{}, ErrIdle
	}
}

func (q *Queue) offer(ev Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

func (q *Queue) close() {
	q.once.Do(func() { close(q.done) })
}

// queueSet holds one user's live queues. dead is set once the set has been detached
// from the registry; a subscriber that raced with the removal must look it up again.
type queueSet struct {
	mu     sync.Mutex
	queues map[*Queue]struct{}
	dead   bool
}

// Options configures a Broker. Zero values select the defaults.
type Options struct {
	Capacity  int
	KeepAlive time.Duration
	Now       func() time.Time
}

// Broker keeps the per-user registry of live queues.
type Broker struct {
	capacity  int
	keepAlive time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	sets   map[string]*queueSet
	closed bool
}

// NewBroker constructs an empty Broker.
func NewBroker(opts Options) *Broker {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Broker{
		capacity:  opts.Capacity,
		keepAlive: opts.KeepAlive,
		now:       opts.Now,
		sets:      make(map[string]*queueSet),
	}
}

// Subscribe registers a new queue under user. After Close it returns an already closed queue.
func (b *Broker) Subscribe(user string) *Queue {
	q := newQueue(user, b.capacity)
	b.register(q)
	return q
}

// register makes q visible to Publish. Events offered to q beforehand stay ahead of
// anything published afterwards.
func (b *Broker) register(q *Queue) {
	user := q.user
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			q.close()
			return
		}
		set, ok := b.sets[user]
		if !ok {
			set = &queueSet{queues: make(map[*Queue]struct{})}
			b.sets[user] = set
		}
		b.mu.Unlock()

		set.mu.Lock()
		if set.dead {
			set.mu.Unlock()
			continue
		}
		set.queues[q] = struct{}{}
		set.mu.Unlock()

		metrics.EventSubscribers.Inc()
		return
	}
}

// Unsubscribe removes q from its user's set and closes it. It is safe to call more than once.
func (b *Broker) Unsubscribe(q *Queue) {
	if q == nil {
		return
	}
	defer q.close()

	b.mu.RLock()
	set := b.sets[q.user]
	b.mu.RUnlock()
	if set == nil {
		return
	}

	set.mu.Lock()
	_, registered := set.queues[q]
	delete(set.queues, q)
	empty := len(set.queues) == 0
	set.mu.Unlock()

	if registered {
		metrics.EventSubscribers.Dec()
	}
	if empty {
		b.dropSetIfEmpty(q.user, set)
	}
}

func (b *Broker) dropSetIfEmpty(user string, set *queueSet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sets[user] != set {
		return
	}
	set.mu.Lock()
	if len(set.queues) == 0 {
		set.dead = true
		delete(b.sets, user)
	}
	set.mu.Unlock()
}

// Publish offers ev to every live queue of user without blocking and returns how many
// queues accepted it. Queues that are full drop the event.
func (b *Broker) Publish(user string, ev Event) int {
	b.mu.RLock()
	set := b.sets[user]
	b.mu.RUnlock()
	if set == nil {
		return 0
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	delivered := 0
	for q := range set.queues {
		if q.offer(ev) {
			delivered++
			metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
		} else {
			metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
		}
	}
	return delivered
}

// Subscribers reports how many live queues user has.
func (b *Broker) Subscribers(user string) int {
	b.mu.RLock()
	set := b.sets[user]
	b.mu.RUnlock()
	if set == nil {
		return 0
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.queues)
}

// Disconnect closes every live queue of user, ending their streams.
func (b *Broker) Disconnect(user string) {
	b.mu.Lock()
	set := b.sets[user]
	delete(b.sets, user)
	b.mu.Unlock()

	if set != nil {
		closeSet(set)
	}
}

// Close closes every queue and makes later subscriptions return closed queues.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	sets := b.sets
	b.sets = make(map[string]*queueSet)
	b.mu.Unlock()

	for _, set := range sets {
		closeSet(set)
	}
}

func closeSet(set *queueSet) {
	set.mu.Lock()
	defer set.mu.Unlock()

	set.dead = true
	for q := range set.queues {
		q.close()
		delete(set.queues, q)
		metrics.EventSubscribers.Dec()
	}
}
