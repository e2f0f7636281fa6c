package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/pkg/circuitbreaker"
	"github.com/alem-hub/learning-engine/pkg/logger"
)

// fakePubSub is an in-process PubSubClient. Published payloads go to the
// subscriber of the same channel, if any.
type fakePubSub struct {
	mu        sync.Mutex
	subs      map[string]chan []byte
	published map[string][][]byte
	failWith  error
	// failFirst fails that many publishes with failWith, then succeeds.
	failFirst int
	calls     int
	closed    bool
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{subs: map[string]chan []byte{}, published: map[string][][]byte{}}
}

func (f *fakePubSub) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil && (f.failFirst == 0 || f.calls <= f.failFirst) {
		return f.failWith
	}
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakePubSub) Subscribe(_ context.Context, channel string) (<-chan []byte, func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte, 16)
	f.subs[channel] = ch
	return ch, func() error {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		return nil
	}, nil
}

func (f *fakePubSub) send(t *testing.T, channel string, payload []byte) {
	t.Helper()
	f.mu.Lock()
	ch := f.subs[channel]
	f.mu.Unlock()
	require.NotNil(t, ch, "no subscriber on %s", channel)
	ch <- payload
}

func encode(t *testing.T, e shared.Event) []byte {
	t.Helper()
	env, err := shared.EncodeEvent("id-1", "crud", e)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

var bridgeAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestDecodeFact(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    shared.EventType
		wantErr bool
	}{
		{"lesson completed", encode(t, shared.NewLessonCompletedFact("u1", "go", "l1", bridgeAt)), shared.FactLessonCompleted, false},
		{"quiz submitted", encode(t, shared.NewQuizSubmittedFact("u1", "q1", "a1", map[shared.QuestionID]string{"x": "y"}, bridgeAt)), shared.FactQuizSubmitted, false},
		{"derived event rejected", encode(t, shared.NewPointsAwardedEvent("u1", "tx", "review_submission", 15, 15, bridgeAt)), "", true},
		{"not json", []byte("{oops"), "", true},
		{"unknown type", []byte(`{"type":"learning.unknown","payload":{}}`), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, err := DecodeFact(tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, shared.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.EventType())
			assert.Equal(t, "u1", e.AggregateID())
		})
	}
}

func TestFactBridge_ForwardsFactsAndSkipsGarbage(t *testing.T) {
	client := newFakePubSub()
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Mode: ModeSync, Logger: logger.Discard()})

	received := make(chan shared.Event, 4)
	require.NoError(t, bus.SubscribeAll(func(_ context.Context, e shared.Event) error {
		received <- e
		return nil
	}))

	bridge, err := NewFactBridge(FactBridgeConfig{Client: client, Channel: "facts", Bus: bus, Logger: logger.Discard()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.subs["facts"] != nil
	}, time.Second, 5*time.Millisecond)

	client.send(t, "facts", []byte("garbage"))
	client.send(t, "facts", encode(t, shared.NewReviewCreatedFact("u1", "go", bridgeAt)))

	select {
	case e := <-received:
		f, ok := e.(shared.ReviewCreatedFact)
		require.True(t, ok)
		assert.Equal(t, shared.CourseID("go"), f.CourseID)
		assert.True(t, f.OccurredAt().Equal(bridgeAt))
	case <-time.After(time.Second):
		t.Fatal("fact not forwarded")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, received, "garbage is not forwarded")
	assert.True(t, client.closed)
}

func TestNewFactBridge_RequiresCollaborators(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Mode: ModeSync, Logger: logger.Discard()})
	_, err := NewFactBridge(FactBridgeConfig{Channel: "facts", Bus: bus})
	assert.Error(t, err)
	_, err = NewFactBridge(FactBridgeConfig{Client: newFakePubSub(), Bus: bus})
	assert.Error(t, err)
	_, err = NewFactBridge(FactBridgeConfig{Client: newFakePubSub(), Channel: "facts"})
	assert.Error(t, err)
}

func TestRedisPublisher(t *testing.T) {
	client := newFakePubSub()
	pub := NewRedisPublisher(client, "events", "engine")

	event := shared.NewBadgeEarnedEvent("u1", "starter", "Starter", bridgeAt)
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, client.published["events"], 1)
	var env shared.EventEnvelope
	require.NoError(t, json.Unmarshal(client.published["events"][0], &env))
	assert.Equal(t, shared.EventBadgeEarned, env.Type)
	assert.Equal(t, "engine", env.Source)
	assert.NotEmpty(t, env.ID)

	decoded, err := shared.DecodeEvent(env)
	require.NoError(t, err)
	assert.Equal(t, shared.BadgeID("starter"), decoded.(shared.BadgeEarnedEvent).BadgeID)

	client.failWith = errors.New("redis down")
	pub.policy.InitialDelay = time.Millisecond
	err = pub.Publish(context.Background(), event)
	assert.ErrorContains(t, err, "redis down")
}

func TestRedisPublisher_Retries(t *testing.T) {
	event := shared.NewBadgeEarnedEvent("u1", "starter", "Starter", bridgeAt)
	tests := []struct {
		name      string
		failWith  error
		failFirst int
		wantCalls int
		wantErr   bool
	}{
		{"transient failure then success", errors.New("i/o timeout"), 2, 3, false},
		{"persistent failure gives up", errors.New("i/o timeout"), 0, 3, true},
		{"open breaker is not retried", circuitbreaker.ErrOpen, 0, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakePubSub()
			client.failWith, client.failFirst = tt.failWith, tt.failFirst
			pub := NewRedisPublisher(client, "events", "engine")
			pub.policy.InitialDelay = time.Millisecond
			pub.policy.MaxDelay = time.Millisecond

			err := pub.Publish(context.Background(), event)
			assert.Equal(t, tt.wantErr, err != nil, "error: %v", err)
			assert.Equal(t, tt.wantCalls, client.calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.failWith)
			}
		})
	}
}
