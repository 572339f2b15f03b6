/**
 * @description
 * RabbitMQ consumer for the processor event queue. Declares a durable queue
 * bound to a topic exchange and dispatches deliveries to per-routing-key
 * handlers. Prefetch is bounded so a burst of processor events does not pile
 * up unacknowledged deliveries ahead of the database.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"fmt"
	"log"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	consumerTag = "ledger-service"

	// ingestPrefetch caps unacked deliveries per channel. Each delivery costs
	// one ledger transaction, so this also bounds database pressure.
	ingestPrefetch = 32
)

// HandlerFunc processes one delivery body. Returning false nacks and
// re-queues the delivery.
type HandlerFunc func(body []byte) bool

// Consumer wraps a RabbitMQ connection for queue consumption with per
// routing-key handlers.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(ingestPrefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares a durable queue bound to the exchange for each
// routing key and starts a dispatch goroutine feeding the matching handlers.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]HandlerFunc) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]HandlerFunc, len(bindings))
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	deliveries, err := c.ch.Consume(q.Name, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}

	go c.dispatch(deliveries, handlers)
	return nil
}

func (c *Consumer) dispatch(deliveries <-chan amqp.Delivery, handlers map[string]HandlerFunc) {
	for d := range deliveries {
		handler, ok := handlers[d.RoutingKey]
		if !ok {
			log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler for routing key; dropping\" routing_key=%s", d.RoutingKey)
			d.Ack(false)
			continue
		}
		if handler(d.Body) {
			d.Ack(false)
		} else {
			log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing\" routing_key=%s", d.RoutingKey)
			d.Nack(false, true)
		}
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"delivery channel closed\"")
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
