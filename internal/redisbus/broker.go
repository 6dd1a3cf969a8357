// Package redisbus implements registry.Broker on Redis pub/sub.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// subscribeWait bounds how long Subscribe waits for the server to confirm a
// subscription.
const subscribeWait = 3 * time.Second

// ErrSubscribeTimeout is returned when Redis did not confirm a subscription
// within the wait. The subscription is withdrawn before returning.
var ErrSubscribeTimeout = errors.New("redis subscription not confirmed")

// Broker multiplexes all group topics of this process over one PubSub
// connection.
type Broker struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger zerolog.Logger

	confirmWait time.Duration

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// New connects to url (redis://...) and verifies the connection.
func New(ctx context.Context, url string, logger zerolog.Logger) (*Broker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing client. The broker owns it afterwards.
func NewWithClient(client *redis.Client, logger zerolog.Logger) *Broker {
	return &Broker{
		client:      client,
		pubsub:      client.Subscribe(context.Background()),
		logger:      logger.With().Str("component", "redisbus").Logger(),
		confirmWait: subscribeWait,
		waiters:     make(map[string][]chan struct{}),
	}
}

func (b *Broker) Name() string { return "redis" }

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

// Subscribe subscribes to topic and waits until Redis confirms it, so a
// message published right after Join is not missed. The confirmation is
// observed by Consume, which must be running.
func (b *Broker) Subscribe(ctx context.Context, topic string) error {
	ready := make(chan struct{})
	b.mu.Lock()
	b.waiters[topic] = append(b.waiters[topic], ready)
	b.mu.Unlock()

	if err := b.pubsub.Subscribe(ctx, topic); err != nil {
		b.dropWaiter(topic, ready)
		return err
	}

	timer := time.NewTimer(b.confirmWait)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-timer.C:
		b.dropWaiter(topic, ready)
		b.logger.Warn().Str("topic", topic).Dur("wait", b.confirmWait).Msg("subscription not confirmed in time")
		b.withdraw(topic)
		return fmt.Errorf("%w: %s", ErrSubscribeTimeout, topic)
	case <-ctx.Done():
		b.dropWaiter(topic, ready)
		b.withdraw(topic)
		return ctx.Err()
	}
}

// withdraw drops a subscription whose confirmation was not awaited, so a
// failed Join does not leave this process subscribed.
func (b *Broker) withdraw(topic string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.confirmWait)
	defer cancel()
	if err := b.pubsub.Unsubscribe(ctx, topic); err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("withdraw subscription failed")
	}
}

func (b *Broker) Unsubscribe(ctx context.Context, topic string) error {
	return b.pubsub.Unsubscribe(ctx, topic)
}

func (b *Broker) Consume(ctx context.Context, handle func(topic string, payload []byte)) error {
	ch := b.pubsub.ChannelWithSubscriptions()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case *redis.Subscription:
				if m.Kind == "subscribe" {
					b.confirm(m.Channel)
				}
			case *redis.Message:
				handle(m.Channel, []byte(m.Payload))
			}
		}
	}
}

func (b *Broker) Close() error {
	err := b.pubsub.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *Broker) confirm(topic string) {
	b.mu.Lock()
	waiters := b.waiters[topic]
	delete(b.waiters, topic)
	b.mu.Unlock()
	for _, ready := range waiters {
		close(ready)
	}
}

func (b *Broker) dropWaiter(topic string, ready chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	waiters := b.waiters[topic]
	for i, w := range waiters {
		if w == ready {
			b.waiters[topic] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(b.waiters[topic]) == 0 {
		delete(b.waiters, topic)
	}
}
