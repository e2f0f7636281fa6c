package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/pkg/circuitbreaker"
	"github.com/alem-hub/learning-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS TRANSPORT
// Facts arrive from the CRUD layer on one channel; derived events leave on
// another. Both carry JSON-encoded shared.EventEnvelope values.
// ══════════════════════════════════════════════════════════════════════════════

// PubSubClient is the byte-level pub/sub transport.
// The Redis adapter in persistence/redis implements it.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// FACT BRIDGE
// ══════════════════════════════════════════════════════════════════════════════

// FactBridge forwards inbound facts from a Redis channel onto the fact bus.
// Anything that is not a well-formed inbound fact is logged and skipped.
type FactBridge struct {
	client  PubSubClient
	channel string
	bus     shared.EventPublisher
	logger  *slog.Logger
}

// FactBridgeConfig contains configuration for FactBridge.
type FactBridgeConfig struct {
	Client  PubSubClient
	Channel string
	Bus     shared.EventPublisher
	Logger  *slog.Logger
}

// NewFactBridge creates a FactBridge.
func NewFactBridge(config FactBridgeConfig) (*FactBridge, error) {
	if config.Client == nil {
		return nil, errors.New("pub/sub client is required")
	}
	if config.Bus == nil {
		return nil, errors.New("fact bus is required")
	}
	if config.Channel == "" {
		return nil, errors.New("fact channel is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &FactBridge{
		client:  config.Client,
		channel: config.Channel,
		bus:     config.Bus,
		logger:  config.Logger.With("component", "fact_bridge", "channel", config.Channel),
	}, nil
}

// Run subscribes and forwards facts until ctx ends or the subscription
// closes. It returns nil on a clean shutdown.
func (b *FactBridge) Run(ctx context.Context) error {
	messages, closeSub, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		return fmt.Errorf("fact bridge: %w", err)
	}
	defer func() {
		if err := closeSub(); err != nil {
			b.logger.Warn("close subscription", "error", err)
		}
	}()

	b.logger.Info("fact bridge started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("fact bridge stopped")
			return nil
		case payload, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("fact bridge: subscription closed")
			}
			if err := b.forward(ctx, payload); err != nil {
				if errors.Is(err, ErrEventBusClosed) {
					return nil
				}
				b.logger.Warn("fact skipped", "error", err)
			}
		}
	}
}

func (b *FactBridge) forward(ctx context.Context, payload []byte) error {
	event, env, err := DecodeFact(payload)
	if err != nil {
		return err
	}
	b.logger.Debug("fact received", "event_id", env.ID, "event_type", env.Type, "user_id", env.AggregateID)
	return b.bus.Publish(ctx, event)
}

// DecodeFact parses a JSON envelope and returns the inbound fact it carries.
// Derived event types are rejected.
func DecodeFact(payload []byte) (shared.Event, shared.EventEnvelope, error) {
	var env shared.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, env, shared.WrapError("messaging", "DecodeFact", shared.ErrInvalidInput, "malformed envelope", err)
	}
	if !slices.Contains(shared.InboundFacts, env.Type) {
		return nil, env, shared.NewDomainError("messaging", "DecodeFact", shared.ErrInvalidInput,
			fmt.Sprintf("%q is not an inbound fact", env.Type))
	}
	event, err := shared.DecodeEvent(env)
	if err != nil {
		return nil, env, err
	}
	return event, env, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS PUBLISHER
// ══════════════════════════════════════════════════════════════════════════════

// RedisPublisher sends derived events to a Redis channel for the UI and
// notification layers. Failed publishes are retried briefly; an open
// breaker or a finished caller is not.
type RedisPublisher struct {
	client  PubSubClient
	channel string
	source  string
	policy  retry.Policy
}

// NewRedisPublisher creates a RedisPublisher. source tags every envelope.
func NewRedisPublisher(client PubSubClient, channel, source string) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		source:  source,
		policy:  retry.Publish(retryablePublish),
	}
}

func retryablePublish(err error) bool {
	return !errors.Is(err, circuitbreaker.ErrOpen) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// Publish implements shared.EventPublisher.
func (p *RedisPublisher) Publish(ctx context.Context, event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	env, err := shared.EncodeEvent(uuid.NewString(), p.source, event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = p.policy.Do(ctx, func(ctx context.Context) error {
		return p.client.Publish(ctx, p.channel, data)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}
	return nil
}
