// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchange is the topic exchange events are published to.
	DefaultExchange = "toka.events"

	// DefaultQueueSize bounds the number of events awaiting delivery.
	DefaultQueueSize = 256

	reconnectInitialInterval = time.Second
	reconnectMaxInterval     = 30 * time.Second
	publishTimeout           = 5 * time.Second
)

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// connectFunc opens a channel with the exchange declared, plus a closer for
// the underlying connection.
type connectFunc func(url, exchange string) (amqpChannel, func() error, error)

// envelope is the JSON body of a published message.
type envelope struct {
	Name       string         `json:"name"`
	OccurredAt string         `json:"occurredAt"`
	Payload    map[string]any `json:"payload"`
}

// RabbitMQPublisher delivers events to a RabbitMQ topic exchange. A single
// background goroutine owns the connection: it reconnects with exponential
// backoff capped at 30s and drains the delivery queue while connected.
type RabbitMQPublisher struct {
	url      string
	exchange string
	connect  connectFunc

	initialInterval time.Duration
	maxInterval     time.Duration

	queue     chan Event
	connected atomic.Bool

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// PublisherOption configures a RabbitMQPublisher.
type PublisherOption func(*RabbitMQPublisher)

// WithQueueSize sets the delivery queue capacity.
func WithQueueSize(n int) PublisherOption {
	return func(p *RabbitMQPublisher) {
		if n > 0 {
			p.queue = make(chan Event, n)
		}
	}
}

// withConnectFunc replaces the dialer; used by tests.
func withConnectFunc(fn connectFunc) PublisherOption {
	return func(p *RabbitMQPublisher) {
		p.connect = fn
	}
}

// withReconnectIntervals overrides the reconnect backoff; used by tests.
func withReconnectIntervals(initial, maxInterval time.Duration) PublisherOption {
	return func(p *RabbitMQPublisher) {
		p.initialInterval = initial
		p.maxInterval = maxInterval
	}
}

// NewRabbitMQPublisher creates a publisher for the broker at url. Call Start
// to begin connecting.
func NewRabbitMQPublisher(url, exchange string, opts ...PublisherOption) *RabbitMQPublisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &RabbitMQPublisher{
		url:      url,
		exchange: exchange,
		connect:  dialRabbitMQ,

		initialInterval: reconnectInitialInterval,
		maxInterval:     reconnectMaxInterval,

		queue: make(chan Event, DefaultQueueSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func dialRabbitMQ(url, exchange string) (amqpChannel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return ch, conn.Close, nil
}

// Start launches the connection loop. It returns immediately.
func (p *RabbitMQPublisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		go p.run(ctx)
	})
}

// Close stops the connection loop and closes the broker connection. Events
// still queued are discarded.
func (p *RabbitMQPublisher) Close() error {
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			close(p.done)
			return
		}
		p.cancel()
		<-p.done
	})
	return nil
}

// Connected reports whether the publisher currently holds an open channel.
func (p *RabbitMQPublisher) Connected() bool {
	return p.connected.Load()
}

// Publish enqueues event for delivery. Events are dropped with a warning
// when the broker is unavailable or the queue is full.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) {
	if !p.connected.Load() {
		slog.WarnContext(ctx, "RabbitMQ channel not ready; event dropped", "event", event.Name)
		return
	}
	select {
	case p.queue <- event:
	default:
		slog.WarnContext(ctx, "event queue full; event dropped", "event", event.Name)
	}
}

func (p *RabbitMQPublisher) run(ctx context.Context) {
	defer close(p.done)

	for {
		ch, closeConn, err := p.connectWithRetry(ctx)
		if err != nil {
			// only returned when ctx is done
			return
		}

		closed := ch.NotifyClose(make(chan *amqp.Error, 1))
		p.connected.Store(true)
		slog.Info("RabbitMQ connected", "exchange", p.exchange)

		lost := p.deliver(ctx, ch, closed)
		p.connected.Store(false)
		_ = ch.Close()
		_ = closeConn()

		if !lost {
			return
		}
		slog.Warn("RabbitMQ connection lost; reconnecting")
	}
}

// deliver publishes queued events until ctx is done or the channel closes.
// It reports whether the channel was lost.
func (p *RabbitMQPublisher) deliver(ctx context.Context, ch amqpChannel, closed <-chan *amqp.Error) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case amqpErr := <-closed:
			if amqpErr != nil {
				slog.Warn("RabbitMQ channel closed", "error", amqpErr)
			}
			return true
		case event := <-p.queue:
			if err := p.publish(ctx, ch, event); err != nil {
				slog.Warn("failed to publish event; event dropped", "event", event.Name, "error", err)
			}
		}
	}
}

func (p *RabbitMQPublisher) connectWithRetry(ctx context.Context) (amqpChannel, func() error, error) {
	type session struct {
		ch    amqpChannel
		close func() error
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.initialInterval
	expBackoff.MaxInterval = p.maxInterval
	expBackoff.Reset()

	attempt := 0
	s, err := backoff.Retry(ctx, func() (session, error) {
		attempt++
		ch, closeConn, err := p.connect(p.url, p.exchange)
		if err != nil {
			return session{}, err
		}
		return session{ch: ch, close: closeConn}, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.Warn("RabbitMQ connection failed; retrying",
				"attempt", attempt, "retry_in", delay, "error", err)
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	return s.ch, s.close, nil
}

func (p *RabbitMQPublisher) publish(ctx context.Context, ch amqpChannel, event Event) error {
	body, err := json.Marshal(envelope{
		Name:       event.Name,
		OccurredAt: event.OccurredAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Payload:    event.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return ch.PublishWithContext(ctx, p.exchange, RoutingKey(event.Name), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    event.OccurredAt,
		Type:         event.Name,
		Body:         body,
	})
}

var _ Sink = (*RabbitMQPublisher)(nil)
