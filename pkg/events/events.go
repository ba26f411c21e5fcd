// Package events публикует события аудита сессии и доступа.
// Публикация никогда не влияет на решения guard'а.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/rabbitmq"
)

// Типы событий
const (
	TypeLogin        = "session.login"
	TypeLogout       = "session.logout"
	TypeInvalidated  = "session.invalidated"
	TypeAccessDenied = "access.denied"
)

// Event событие аудита
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	UserID     int64             `json:"user_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Source     string            `json:"source,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// New создает событие с новым идентификатором
func New(eventType string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher публикует события
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Emitter отправляет события, не блокируя вызывающего
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// AMQPPublisher публикует события в exchange RabbitMQ.
// Routing key: <routing_key>.<type>, например portal.session.session.login
type AMQPPublisher struct {
	producer   *rabbitmq.Producer
	routingKey string
}

// NewAMQPPublisher создает AMQPPublisher
func NewAMQPPublisher(producer *rabbitmq.Producer, routingKey string) *AMQPPublisher {
	return &AMQPPublisher{producer: producer, routingKey: routingKey}
}

// Publish реализует Publisher
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, body,
		rabbitmq.WithRoutingKey(p.routingKey+"."+e.Type),
		rabbitmq.WithMessageID(e.ID),
		rabbitmq.WithType(e.Type),
	)
}

// LogPublisher пишет события в лог. Используется, когда RabbitMQ отключен
type LogPublisher struct {
	log logger.Logger
}

// NewLogPublisher создает LogPublisher
func NewLogPublisher(log logger.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish реализует Publisher
func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	fields := []logger.Field{
		logger.String("event_id", e.ID),
		logger.String("event_type", e.Type),
		logger.Int64("user_id", e.UserID),
		logger.String("request_id", e.RequestID),
	}
	for k, v := range e.Attributes {
		fields = append(fields, logger.String(k, v))
	}
	p.log.Info("Audit event", fields...)
	return nil
}

// Nop игнорирует события
type Nop struct{}

// Emit реализует Emitter
func (Nop) Emit(context.Context, Event) {}

// Async публикует события в отдельной горутине с собственным таймаутом.
// Отмена контекста запроса не прерывает публикацию
type Async struct {
	publisher Publisher
	timeout   time.Duration
	log       logger.Logger
	// observe вызывается после каждой публикации, например для метрик
	observe func(eventType string, err error)
	source  string

	wg sync.WaitGroup
}

// AsyncOption настраивает Async
type AsyncOption func(*Async)

// WithObserver задает функцию наблюдения за результатом публикации
func WithObserver(observe func(eventType string, err error)) AsyncOption {
	return func(a *Async) { a.observe = observe }
}

// WithSource задает источник событий (portal, cli)
func WithSource(source string) AsyncOption {
	return func(a *Async) { a.source = source }
}

// NewAsync создает Async
func NewAsync(publisher Publisher, timeout time.Duration, log logger.Logger, opts ...AsyncOption) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &Async{publisher: publisher, timeout: timeout, log: log}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Emit реализует Emitter
func (a *Async) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = logger.RequestID(ctx)
	}
	if e.Source == "" {
		e.Source = a.source
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		err := a.publisher.Publish(pubCtx, e)
		if err != nil {
			a.log.Warn("Failed to publish audit event",
				logger.String("event_type", e.Type),
				logger.String("event_id", e.ID),
				logger.Error(err),
			)
		}
		if a.observe != nil {
			a.observe(e.Type, err)
		}
	}()
}

// Close ждет завершения публикаций в полете или истечения ctx
func (a *Async) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
