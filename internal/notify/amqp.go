// Package notify forwards stored alerts to external systems.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/barak1panker/server-monitoring/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "fleet.alerts"

// AMQPPublisher publishes alerts to a topic exchange with routing key
// "alert.<category>", e.g. "alert.hash".
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

func NewAMQPPublisher(url, exchange string, logger *slog.Logger) *AMQPPublisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPPublisher{url: url, exchange: exchange, logger: logger}
}

// Connect dials the broker and declares the exchange. It is a no-op when
// already connected.
func (p *AMQPPublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked()
}

func (p *AMQPPublisher) connectLocked() error {
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	p.logger.Info("connected to alert exchange", "exchange", p.exchange)
	return nil
}

// Publish sends alert, reconnecting once if the connection was lost.
func (p *AMQPPublisher) Publish(ctx context.Context, alert *models.Alert) error {
	msg, err := Message(alert)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		return err
	}

	return p.channel.PublishWithContext(ctx, p.exchange, RoutingKey(alert), false, false, msg)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func RoutingKey(alert *models.Alert) string {
	return "alert." + strings.ToLower(string(alert.Category))
}

// Message encodes alert as a persistent JSON message.
func Message(alert *models.Alert) (amqp.Publishing, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal alert: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%d", alert.ID),
		Timestamp:    alert.CreatedAt.UTC().Truncate(time.Second),
		Type:         string(alert.Category),
		Body:         body,
	}, nil
}
