package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is a stream's position in its connection lifecycle.
type State int32

const (
	// StateConnected means the queue is registered and the hello event is queued.
	StateConnected State = iota
	// StateWaiting means the stream is blocked waiting for the next event.
	StateWaiting
	// StateEmitting means an event or keep-alive is being written.
	StateEmitting
	// StateClosed means the queue has been unregistered.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateWaiting:
		return "waiting"
	case StateEmitting:
		return "emitting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Sink writes a stream to its transport. Any error ends the stream.
type Sink interface {
	Send(ev Event) error
	KeepAlive() error
}

// Stream is one consumer connection bound to a Queue.
type Stream struct {
	broker    *Broker
	queue     *Queue
	keepAlive time.Duration

	state     atomic.Int32
	closeOnce sync.Once
}

// Open queues the hello event and then subscribes user, so hello is always delivered first.
func (b *Broker) Open(user string) *Stream {
	q := newQueue(user, b.capacity)
	q.offer(Hello(b.now()))
	b.register(q)

	s := &Stream{
		broker:    b,
		queue:     q,
		keepAlive: b.keepAlive,
	}
	s.state.Store(int32(StateConnected))
	return s
}

// User returns the identity the stream belongs to.
func (s *Stream) User() string {
	return s.queue.user
}

// KeepAlive is the idle interval after which Run writes a keep-alive.
func (s *Stream) KeepAlive() time.Duration {
	return s.keepAlive
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Run writes queued events to sink until ctx ends, the queue is closed, or a write fails.
// The queue is always unsubscribed when Run returns. Disconnects and shutdown return nil;
// write failures are returned.
func (s *Stream) Run(ctx context.Context, sink Sink) error {
	defer s.Close()

	for {
		s.state.Store(int32(StateWaiting))
		ev, err := s.queue.Drain(ctx, s.keepAlive)
		switch {
		case errors.Is(err, ErrIdle):
			s.state.Store(int32(StateEmitting))
			if err := sink.KeepAlive(); err != nil {
				return fmt.Errorf("write keep-alive: %w", err)
			}
		case err != nil:
			return nil
		default:
			s.state.Store(int32(StateEmitting))
			if err := sink.Send(ev); err != nil {
				return fmt.Errorf("write %s event: %w", ev.Type, err)
			}
		}
	}
}

// Close unregisters the stream's queue.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.broker.Unsubscribe(s.queue)
		s.state.Store(int32(StateClosed))
	})
}
