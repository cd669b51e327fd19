package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/jwalitptl/mailing-api/pkg/messaging"
)

// Broker publishes to one durable queue per channel name.
type Broker struct {
	conn   *amqp.Connection
	logger zerolog.Logger

	mu       sync.Mutex
	ch       *amqp.Channel
	declared map[string]bool
}

func NewBroker(url string, logger zerolog.Logger) (messaging.Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &Broker{
		conn:     conn,
		ch:       ch,
		logger:   logger.With().Str("component", "amqp-broker").Logger(),
		declared: make(map[string]bool),
	}, nil
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

func (b *Broker) Publish(ctx context.Context, channel string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.declared[channel] {
		if err := declare(b.ch, channel); err != nil {
			return err
		}
		b.declared[channel] = true
	}
	return b.ch.Publish(
		"",      // default exchange
		channel, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Subscribe consumes on its own channel and acks after the body is handed off.
func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := declare(ch, channel); err != nil {
		ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(channel, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	out := make(chan []byte, 100)
	go func() {
		defer func() {
			ch.Close()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- d.Body:
					if err := d.Ack(false); err != nil {
						b.logger.Warn().Err(err).Msg("ack failed")
					}
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		b.ch.Close()
	}
	return b.conn.Close()
}
