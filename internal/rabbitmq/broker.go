package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Broker implements registry.Broker on a topic exchange. Each process owns
// one exclusive, auto-deleted queue and binds it to the topics of the groups
// it has local members in.
type Broker struct {
	conn     *amqp.Connection
	pubMu    sync.Mutex
	pubCh    *amqp.Channel
	subCh    *amqp.Channel
	exchange string
	queue    string
	logger   zerolog.Logger
}

// NewBroker dials amqpURL, declares the exchange and the process queue.
func NewBroker(amqpURL, exchange string, logger zerolog.Logger) (*Broker, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp broker requires an amqp url")
	}
	conn, pubCh, err := dialExchange(amqpURL, exchange)
	if err != nil {
		return nil, fmt.Errorf("connect amqp broker: %w", err)
	}

	subCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	q, err := subCh.QueueDeclare(
		"",
		false,
		true,
		true,
		false,
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare fan-out queue: %w", err)
	}

	return &Broker{
		conn:     conn,
		pubCh:    pubCh,
		subCh:    subCh,
		exchange: exchange,
		queue:    q.Name,
		logger:   logger.With().Str("component", "amqpbus").Str("queue", q.Name).Logger(),
	}, nil
}

func (b *Broker) Name() string { return "amqp" }

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.pubCh.PublishWithContext(ctx, b.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         payload,
	})
}

func (b *Broker) Subscribe(_ context.Context, topic string) error {
	return b.subCh.QueueBind(b.queue, topic, b.exchange, false, nil)
}

func (b *Broker) Unsubscribe(_ context.Context, topic string) error {
	return b.subCh.QueueUnbind(b.queue, topic, b.exchange, nil)
}

func (b *Broker) Consume(ctx context.Context, handle func(topic string, payload []byte)) error {
	deliveries, err := b.subCh.Consume(
		b.queue,
		"",
		true,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", b.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				b.logger.Warn().Msg("delivery channel closed")
				return nil
			}
			handle(d.RoutingKey, d.Body)
		}
	}
}

func (b *Broker) Close() error {
	_ = b.subCh.Close()
	_ = b.pubCh.Close()
	return b.conn.Close()
}
