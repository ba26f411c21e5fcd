package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Producer представляет продюсера сообщений
type Producer struct {
	conn   *Connection
	config *Config

	// канал AMQP не потокобезопасен при ожидании подтверждений
	mu sync.Mutex
}

// NewProducer создает нового продюсера
func NewProducer(conn *Connection, config *Config) *Producer {
	return &Producer{conn: conn, config: config}
}

// Publish публикует сообщение в RabbitMQ и ждет подтверждения брокера
func (p *Producer) Publish(ctx context.Context, body []byte, options ...PublishOption) error {
	opts := &PublishOptions{
		Exchange:    p.config.Exchange,
		RoutingKey:  p.config.RoutingKey,
		ContentType: "application/json",
	}
	for _, option := range options {
		option(opts)
	}

	channel := p.conn.Channel()
	if channel == nil {
		return fmt.Errorf("rabbitmq channel is not initialized")
	}

	msg := amqp091.Publishing{
		ContentType:  opts.ContentType,
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		MessageId:    opts.MessageID,
		Type:         opts.Type,
	}
	if len(opts.Headers) > 0 {
		msg.Headers = opts.Headers
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	confirmation, err := channel.PublishWithDeferredConfirmWithContext(ctx,
		opts.Exchange,
		opts.RoutingKey,
		opts.Mandatory,
		false,
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	timeout := p.config.ConfirmTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	acked, err := confirmation.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("waiting for confirmation: %w", err)
	}
	if !acked {
		return fmt.Errorf("message rejected by broker")
	}

	return nil
}

// PublishOptions представляет опции для публикации сообщения
type PublishOptions struct {
	Exchange    string
	RoutingKey  string
	Mandatory   bool
	ContentType string
	MessageID   string
	Type        string
	Headers     amqp091.Table
}

// PublishOption функция для настройки опций публикации
type PublishOption func(*PublishOptions)

// WithRoutingKey устанавливает routing key
func WithRoutingKey(routingKey string) PublishOption {
	return func(opts *PublishOptions) {
		opts.RoutingKey = routingKey
	}
}

// WithMessageID устанавливает идентификатор сообщения
func WithMessageID(id string) PublishOption {
	return func(opts *PublishOptions) {
		opts.MessageID = id
	}
}

// WithType устанавливает тип сообщения
func WithType(messageType string) PublishOption {
	return func(opts *PublishOptions) {
		opts.Type = messageType
	}
}

// WithHeaders устанавливает заголовки
func WithHeaders(headers amqp091.Table) PublishOption {
	return func(opts *PublishOptions) {
		opts.Headers = headers
	}
}
