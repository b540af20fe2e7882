package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, time.March, 3, 8, 30, 0, 0, time.UTC)

func newTestBroker(capacity int) *Broker {
	return NewBroker(Options{
		Capacity:  capacity,
		KeepAlive: 20 * time.Millisecond,
		Now:       func() time.Time { return fixedNow },
	})
}

func TestPublishReachesEveryQueueOfTheUser(t *testing.T) {
	b := newTestBroker(4)
	phone := b.Subscribe("bob")
	laptop := b.Subscribe("bob")
	other := b.Subscribe("carol")

	delivered := b.Publish("bob", LocationUpdate("alice", 48.1371, 11.5754, fixedNow))
	assert.Equal(t, 2, delivered)

	for _, q := range []*Queue{phone, laptop} {
		ev, err := q.Drain(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, TypeLocation, ev.Type)
		assert.Equal(t, "alice", ev.From)
	}
	assert.Equal(t, 0, other.Len())
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := newTestBroker(4)
	assert.Equal(t, 0, b.Publish("nobody", Nearby("alice", fixedNow)))
}

func TestPublishDropsWhenQueueIsFull(t *testing.T) {
	b := newTestBroker(2)
	q := b.Subscribe("bob")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish("bob", LocationUpdate("alice", float64(i), 0, fixedNow))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}

	assert.Equal(t, 2, q.Len())
	first, err := q.Drain(context.Background(), time.Second)
	require.NoError(t, err)
	second, err := q.Drain(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.Latitude)
	assert.Equal(t, 1.0, second.Latitude)
}

func TestDrainTimesOutWithErrIdle(t *testing.T) {
	b := newTestBroker(2)
	q := b.Subscribe("bob")

	start := time.Now()
	_, err := q.Drain(context.Background(), 15*time.Millisecond)
	assert.ErrorIs(t, err, ErrIdle)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestDrainPreservesPublishOrder(t *testing.T) {
	b := newTestBroker(8)
	q := b.Subscribe("bob")

	for i := 0; i < 5; i++ {
		b.Publish("bob", LocationUpdate("alice", float64(i), 0, fixedNow))
	}
	for i := 0; i < 5; i++ {
		ev, err := q.Drain(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, float64(i), ev.Latitude)
	}
}

func TestUnsubscribeIsIdempotentAndClosesQueue(t *testing.T) {
	b := newTestBroker(2)
	q := b.Subscribe("bob")
	keep := b.Subscribe("bob")

	b.Unsubscribe(q)
	b.Unsubscribe(q)

	assert.Equal(t, 1, b.Subscribers("bob"))
	_, err := q.Drain(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrClosed)

	b.Unsubscribe(keep)
	assert.Equal(t, 0, b.Subscribers("bob"))
	assert.Equal(t, 0, b.Publish("bob", Nearby("alice", fixedNow)))
}

func TestDisconnectClosesAllQueuesOfUser(t *testing.T) {
	b := newTestBroker(2)
	first := b.Subscribe("bob")
	second := b.Subscribe("bob")
	other := b.Subscribe("carol")

	b.Disconnect("bob")

	for _, q := range []*Queue{first, second} {
		_, err := q.Drain(context.Background(), time.Second)
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.Equal(t, 1, b.Publish("carol", Nearby("alice", fixedNow)))
	assert.Equal(t, 1, other.Len())
}

func TestCloseEndsQueuesAndRejectsNewSubscribers(t *testing.T) {
	b := newTestBroker(2)
	q := b.Subscribe("bob")

	b.Close()

	_, err := q.Drain(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrClosed)

	late := b.Subscribe("bob")
	_, err = late.Drain(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, b.Subscribers("bob"))
}

func TestConcurrentSubscribePublishUnsubscribe(t *testing.T) {
	b := newTestBroker(4)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		user := fmt.Sprintf("user-%d", i%4)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q := b.Subscribe(user)
				b.Unsubscribe(q)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(user, Nearby("alice", fixedNow))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		assert.Equal(t, 0, b.Subscribers(fmt.Sprintf("user-%d", i)))
	}
}

func TestEventWirePayloads(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		want map[string]any
	}{
		{
			name: "hello",
			ev:   Hello(fixedNow),
			want: map[string]any{"type": "hello", "message": "connected", "ts": "2025-03-03T08:30:00Z"},
		},
		{
			name: "location at the equator keeps zero coordinates",
			ev:   LocationUpdate("alice", 0, 0, fixedNow),
			want: map[string]any{"type": "location", "from": "alice", "latitude": 0.0, "longitude": 0.0, "ts": "2025-03-03T08:30:00Z"},
		},
		{
			name: "nearby",
			ev:   Nearby("alice", fixedNow),
			want: map[string]any{"type": "nearby", "from": "alice", "message": "alice is nearby", "ts": "2025-03-03T08:30:00Z"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(tc.ev)
			require.NoError(t, err)

			var got map[string]any
			require.NoError(t, json.Unmarshal(raw, &got))
			assert.Equal(t, tc.want, got)
		})
	}
}
