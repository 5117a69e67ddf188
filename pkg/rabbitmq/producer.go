/**
 * @description
 * This package provides a producer for publishing banksync events to
 * RabbitMQ. The sync engine publishes one event per created/linked cashback
 * transaction and one summary event per run; the notification side consumes
 * them to push realtime updates.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/pawpass/banksync-service/internal/domain"
)

// EventsExchange is the durable topic exchange every banksync event goes to.
const EventsExchange = "pawpass.events"

// Routing keys for the published events.
const (
	RoutingKeyTransactionLinked = "cashback.transaction.linked"
	RoutingKeySyncCompleted     = "bank.sync.completed"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	PublishTransactionLinked(ctx context.Context, event domain.TransactionLinkedEvent) error
	PublishSyncCompleted(ctx context.Context, event domain.SyncCompletedEvent) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NoopPublisher is a minimal no-op publisher used when RabbitMQ is
// unavailable at startup; the sync degrades to running without events.
type NoopPublisher struct{}

func (p *NoopPublisher) PublishTransactionLinked(ctx context.Context, event domain.TransactionLinkedEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=noop msg=\"transaction linked event skipped\" transaction_id=%s", event.TransactionID)
	return nil
}

func (p *NoopPublisher) PublishSyncCompleted(ctx context.Context, event domain.SyncCompletedEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=noop msg=\"sync completed event skipped\" linked_tx=%d", event.LinkedTx)
	return nil
}

func (p *NoopPublisher) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

// PublishTransactionLinked publishes one created/linked cashback transaction.
func (p *EventProducer) PublishTransactionLinked(ctx context.Context, event domain.TransactionLinkedEvent) error {
	return p.publish(ctx, RoutingKeyTransactionLinked, event)
}

// PublishSyncCompleted publishes the end-of-run summary.
func (p *EventProducer) PublishSyncCompleted(ctx context.Context, event domain.SyncCompletedEvent) error {
	return p.publish(ctx, RoutingKeySyncCompleted, event)
}

// publish sends one message to the events exchange, reopening the channel
// once if the broker dropped it since the last publish.
func (p *EventProducer) publish(ctx context.Context, routingKey string, body interface{}) error {
	if err := p.declareExchange(); err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"exchange declare failed; reopening channel\" exchange=%s err=%v", EventsExchange, err)
		if err := p.reopenChannel(); err != nil {
			return err
		}
		if err := p.declareExchange(); err != nil {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" routing_key=%s err=%v", routingKey, err)
		return err
	}

	publishing := amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        jsonBody,
	}

	err = p.channel.PublishWithContext(ctx, EventsExchange, routingKey, false, false, publishing)
	if err == nil {
		return nil
	}

	log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" routing_key=%s err=%v", routingKey, err)
	if reopenErr := p.reopenChannel(); reopenErr != nil {
		return err
	}
	if declareErr := p.declareExchange(); declareErr != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, EventsExchange, routingKey, false, false, publishing)
}

func (p *EventProducer) declareExchange() error {
	return p.channel.ExchangeDeclare(
		EventsExchange, // name
		"topic",        // type
		true,           // durable
		false,          // autoDelete
		false,          // internal
		false,          // noWait
		nil,            // args
	)
}

func (p *EventProducer) reopenChannel() error {
	if p.conn == nil {
		return errors.New("rabbitmq connection is not open")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
