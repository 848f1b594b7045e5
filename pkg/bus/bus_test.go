package bus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/autonomic-systems/engine/pkg/bus"
	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLead(t *testing.T, aggregateID string) eventing.Envelope {
	t.Helper()
	env, err := eventing.New(nil, eventing.EventLeadReceived, "lead", aggregateID,
		map[string]any{"name": "Ada Lovelace"}, "intake-agent", 0.9, false)
	require.NoError(t, err)
	return env
}

func TestPublish_WildcardSubscriberReceivesEvent(t *testing.T) {
	b := bus.New()

	received := make(chan eventing.Envelope, 1)
	b.Subscribe(func(_ context.Context, env eventing.Envelope) {
		received <- env
	})

	env := newLead(t, "lead-1")
	b.Publish(context.Background(), env)

	select {
	case got := <-received:
		assert.Equal(t, env.EventID, got.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the published event")
	}
}

func TestPublish_TypeSubscriberIgnoresOtherTypes(t *testing.T) {
	b := bus.New()

	var calls int32
	var mu sync.Mutex
	b.SubscribeType(eventing.EventMeetingScheduled, func(_ context.Context, _ eventing.Envelope) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	b.Publish(context.Background(), newLead(t, "lead-2"))

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 0, calls, "subscriber registered for a different event type must not be invoked")
}

func TestPublish_AggregateSubscriberOnlySeesItsOwnStream(t *testing.T) {
	b := bus.New()

	got := make(chan eventing.Envelope, 4)
	b.SubscribeAggregate("lead", "lead-a", func(_ context.Context, env eventing.Envelope) {
		got <- env
	})

	b.Publish(context.Background(), newLead(t, "lead-a"))
	b.Publish(context.Background(), newLead(t, "lead-b"))

	select {
	case env := <-got:
		assert.Equal(t, "lead-a", env.AggregateID)
	case <-time.After(2 * time.Second):
		t.Fatal("aggregate subscriber never received its own event")
	}

	select {
	case env := <-got:
		t.Fatalf("aggregate subscriber received an event from another stream: %s", env.AggregateID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPublish_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := bus.New()

	b.Subscribe(func(_ context.Context, _ eventing.Envelope) {
		panic("boom")
	})

	got := make(chan struct{}, 1)
	b.Subscribe(func(_ context.Context, _ eventing.Envelope) {
		got <- struct{}{}
	})

	b.Publish(context.Background(), newLead(t, "lead-3"))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("a panicking handler must not prevent delivery to other subscribers")
	}
}

func TestUnsubscribe_StopsFurtherDelivery(t *testing.T) {
	b := bus.New()

	var calls int32
	var mu sync.Mutex
	id := b.SubscribeType(eventing.EventLeadReceived, func(_ context.Context, _ eventing.Envelope) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	b.Unsubscribe(id)

	b.Publish(context.Background(), newLead(t, "lead-4"))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 0, calls)
}

func TestPublishRemote_DeduplicatesAgainstAlreadyPublishedEvent(t *testing.T) {
	b := bus.New()

	var calls int32
	var mu sync.Mutex
	b.Subscribe(func(_ context.Context, _ eventing.Envelope) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	env := newLead(t, "lead-5")
	b.Publish(context.Background(), env)
	time.Sleep(50 * time.Millisecond)

	// Simulate the same event arriving again via a NOTIFY loop-back; it
	// must not be delivered a second time.
	b.PublishRemote(context.Background(), env)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, calls, "a remotely re-delivered event already seen locally must be deduplicated")
}

func TestHistory_BoundedAndInOrder(t *testing.T) {
	b := bus.New()

	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), newLead(t, "lead-hist"))
	}

	hist := b.History()
	require.Len(t, hist, 5)
	for _, env := range hist {
		assert.Equal(t, "lead-hist", env.AggregateID)
	}
}
