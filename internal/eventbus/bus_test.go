package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/internal/eventbus"
)

func TestTopicMatchesWildcardSegment(t *testing.T) {
	assert.True(t, eventbus.TopicMatches("bucket.*.inserted", "bucket.users.inserted"))
	assert.True(t, eventbus.TopicMatches("bucket.users.*", "bucket.users.deleted"))
	assert.False(t, eventbus.TopicMatches("bucket.*.inserted", "bucket.users.deleted"))
	assert.False(t, eventbus.TopicMatches("bucket.users.inserted", "bucket.users.inserted.extra"))
	assert.False(t, eventbus.TopicMatches("*.*", "bucket.users.inserted"))
}

func TestPublishDeliversInPriorityOrder(t *testing.T) {
	bus := eventbus.New()
	var mu sync.Mutex
	var order []string

	bus.Subscribe("bucket.*.*", eventbus.HandlerFunc{
		IDValue: "second", PriorityValue: 10,
		Fn: func(ctx context.Context, e eventbus.Event) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		},
	})
	bus.Subscribe("bucket.*.*", eventbus.HandlerFunc{
		IDValue: "first", PriorityValue: 1,
		Fn: func(ctx context.Context, e eventbus.Event) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			return nil
		},
	})

	bus.Publish(context.Background(), eventbus.Event{
		Topic: eventbus.BuildTopic("users", eventbus.Inserted), Bucket: "users", Type: eventbus.Inserted,
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	bus := eventbus.New()
	h := eventbus.HandlerFunc{IDValue: "h1", Fn: func(ctx context.Context, e eventbus.Event) error { return nil }}
	bus.Subscribe("bucket.*.*", h)

	assert.True(t, bus.Unregister("h1"))
	assert.False(t, bus.Unregister("h1"))
}

type stubForwarder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubForwarder) Emit(ctx context.Context, topic string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func TestForwarderErrorsAreSwallowed(t *testing.T) {
	bus := eventbus.New()
	fwd := &stubForwarder{err: assertErr}
	bus.SetForwarder(fwd)

	bus.Publish(context.Background(), eventbus.Event{
		Topic: eventbus.BuildTopic("users", eventbus.Inserted), Bucket: "users", Type: eventbus.Inserted,
	})

	require.Eventually(t, func() bool {
		fwd.mu.Lock()
		defer fwd.mu.Unlock()
		return fwd.calls == 1
	}, time.Second, 10*time.Millisecond)
}

var assertErr = assertError("forwarder down")

type assertError string

func (e assertError) Error() string { return string(e) }
