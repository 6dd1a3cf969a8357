package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"webchat-service/internal/observability"
)

// Broker carries group events between processes. Implementations deliver
// every message published to a topic, in publish order, to each process
// subscribed to that topic, including the publisher itself.
type Broker interface {
	Name() string
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	// Consume blocks, calling handle for each received message, until ctx
	// is done or the broker is closed.
	Consume(ctx context.Context, handle func(topic string, payload []byte)) error
	Close() error
}

// ErrNoBroker is returned when the configuration selects in-process fan-out.
var ErrNoBroker = errors.New("no fan-out broker configured")

const unsubscribeTimeout = 5 * time.Second

// BrokeredRegistry routes publishes through a Broker so that members
// connected to any process see every event of their group. A process is
// subscribed to a group's topic exactly while it has local members there.
type BrokeredRegistry struct {
	local  *LocalRegistry
	broker Broker
	logger zerolog.Logger

	mu     sync.Mutex
	groups map[GroupKey]*subscription
}

// subscription serialises broker subscribe/unsubscribe for one group. refs
// counts the callers holding or waiting on mu and is guarded by the
// registry lock.
type subscription struct {
	mu         sync.Mutex
	subscribed bool
	refs       int
}

func NewBrokeredRegistry(local *LocalRegistry, broker Broker, logger zerolog.Logger) *BrokeredRegistry {
	return &BrokeredRegistry{
		local:  local,
		broker: broker,
		logger: logger.With().Str("component", "registry").Str("broker", broker.Name()).Logger(),
		groups: make(map[GroupKey]*subscription),
	}
}

func (b *BrokeredRegistry) Join(ctx context.Context, key GroupKey, m Member) error {
	sub := b.acquire(key)
	defer b.release(key, sub)

	if !sub.subscribed {
		if err := b.broker.Subscribe(ctx, key.Topic()); err != nil {
			observability.IncBrokerSubscribeError(b.broker.Name())
			return fmt.Errorf("subscribe %s: %w", key, err)
		}
		sub.subscribed = true
	}
	if err := b.local.Join(ctx, key, m); err != nil {
		if b.local.Size(key) == 0 {
			b.unsubscribe(key, sub)
		}
		return err
	}
	return nil
}

func (b *BrokeredRegistry) Leave(key GroupKey, m Member) {
	b.local.Leave(key, m)

	sub := b.acquire(key)
	defer b.release(key, sub)
	if !sub.subscribed || b.local.Size(key) > 0 {
		return
	}
	b.unsubscribe(key, sub)
}

// unsubscribe must be called with sub.mu held.
func (b *BrokeredRegistry) unsubscribe(key GroupKey, sub *subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := b.broker.Unsubscribe(ctx, key.Topic()); err != nil {
		b.logger.Warn().Err(err).Str("group", key.String()).Msg("unsubscribe failed")
	}
	sub.subscribed = false
}

// acquire returns the locked subscription state of key. Broker calls made
// while holding it only block callers of the same group.
func (b *BrokeredRegistry) acquire(key GroupKey) *subscription {
	b.mu.Lock()
	sub, ok := b.groups[key]
	if !ok {
		sub = &subscription{}
		b.groups[key] = sub
	}
	sub.refs++
	b.mu.Unlock()

	sub.mu.Lock()
	return sub
}

func (b *BrokeredRegistry) release(key GroupKey, sub *subscription) {
	sub.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	sub.refs--
	// With no refs left nobody else can touch sub, so reading subscribed
	// here is safe.
	if sub.refs == 0 && !sub.subscribed {
		delete(b.groups, key)
	}
}

// Publish hands payload to the broker. Local members receive it when the
// broker echoes it back through Run.
func (b *BrokeredRegistry) Publish(ctx context.Context, key GroupKey, payload []byte) error {
	if err := b.broker.Publish(ctx, key.Topic(), payload); err != nil {
		observability.IncBrokerPublishError(b.broker.Name())
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// Run consumes the broker until ctx is done, delivering each message to the
// local members of its group.
func (b *BrokeredRegistry) Run(ctx context.Context) error {
	return b.broker.Consume(ctx, func(topic string, payload []byte) {
		key, err := ParseTopic(topic)
		if err != nil {
			b.logger.Warn().Err(err).Msg("ignoring message on unknown topic")
			return
		}
		b.local.Deliver(key, payload)
	})
}

// Local exposes the process-local registry.
func (b *BrokeredRegistry) Local() *LocalRegistry {
	return b.local
}
