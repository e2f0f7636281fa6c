package redis

import (
	"context"
	"fmt"

	"github.com/alem-hub/learning-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB
// Raw byte transport; envelopes are encoded by the messaging layer.
// ══════════════════════════════════════════════════════════════════════════════

// PubSub publishes and subscribes to namespaced Redis channels.
type PubSub struct {
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
}

// NewPubSub creates a PubSub. A nil breaker disables short-circuiting of
// publishes; subscriptions are never short-circuited.
func NewPubSub(cache *Cache, breaker *circuitbreaker.CircuitBreaker) *PubSub {
	return &PubSub{cache: cache, breaker: breaker}
}

// Channel returns the namespaced channel name.
func (p *PubSub) Channel(name string) string {
	return p.cache.Key(name)
}

// Publish sends payload to channel.
func (p *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}
	publish := func(ctx context.Context) error {
		return p.cache.Client().Publish(ctx, channel, payload).Err()
	}
	if p.breaker == nil {
		return publish(ctx)
	}
	return p.breaker.Execute(ctx, publish)
}

// Subscribe confirms the subscription and streams message payloads until
// ctx ends or the returned close function is called.
func (p *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	if channel == "" {
		return nil, nil, ErrCacheKeyEmpty
	}
	ps := p.cache.Client().Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, ps.Close, nil
}
