package events

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "VaultChain/internal/errors"
)

// RabbitMQConfig describes the RabbitMQ event sink.
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Durable    bool
	AutoDelete bool
}

// RabbitMQProducer publishes encoded events to a RabbitMQ queue.
type RabbitMQProducer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQProducer dials the broker and declares the queue.
func NewRabbitMQProducer(cfg RabbitMQConfig) (*RabbitMQProducer, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "vaultchain.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "connect to rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "open rabbitmq channel")
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "declare rabbitmq queue")
	}
	return &RabbitMQProducer{conn: conn, ch: ch, queue: queue}, nil
}

// Publish implements Producer.
func (p *RabbitMQProducer) Publish(ctx context.Context, event Event) error {
	if p == nil || p.ch == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "rabbitmq producer not initialised")
	}
	body, err := event.Encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "encode event")
	}
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close shuts the channel then the connection down.
func (p *RabbitMQProducer) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
