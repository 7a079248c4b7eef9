package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/config"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

const maxPriority = 10

// Handler processes one generation request. A returned error dead-letters
// the message; regeneration failures are not retried automatically.
type Handler func(ctx context.Context, req *models.GenerationRequest) error

// Queue provides message queue operations for generation requests
type Queue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	queueName  string
	routingKey string
	prefetch   int
}

// deadLetterNames returns the dead-letter exchange and queue for a queue
func deadLetterNames(exchange, queueName string) (string, string) {
	return exchange + ".dlx", queueName + ".dlq"
}

// New connects and declares the exchange, queue and dead-letter queue
func New(cfg config.QueueConfig) (*Queue, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{
		conn:       conn,
		channel:    channel,
		exchange:   cfg.Exchange,
		queueName:  cfg.QueueName,
		routingKey: cfg.RoutingKey,
		prefetch:   cfg.Prefetch,
	}
	if q.routingKey == "" {
		q.routingKey = q.queueName
	}
	if q.prefetch <= 0 {
		q.prefetch = 1
	}

	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) declare() error {
	dlx, dlq := deadLetterNames(q.exchange, q.queueName)

	for _, exchange := range []string{q.exchange, dlx} {
		err := q.channel.ExchangeDeclare(
			exchange,
			"direct",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	if _, err := q.channel.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}
	if err := q.channel.QueueBind(dlq, q.routingKey, dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange": dlx,
		"x-max-priority":         maxPriority,
	}
	if _, err := q.channel.QueueDeclare(q.queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := q.channel.QueueBind(q.queueName, q.routingKey, q.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// Publish sends a generation request to the queue
func (q *Queue) Publish(ctx context.Context, req *models.GenerationRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		q.exchange,
		q.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    req.ID,
			Body:         body,
			Timestamp:    req.RequestedAt,
			Priority:     clampPriority(req.Priority),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish request: %w", err)
	}

	return nil
}

func clampPriority(p int) uint8 {
	if p < 0 {
		return 0
	}
	if p > maxPriority {
		return maxPriority
	}
	return uint8(p)
}

// Consume delivers requests to handler until ctx is done or the channel
// closes. It returns once the consumer is registered.
func (q *Queue) Consume(ctx context.Context, handler Handler) error {
	if err := q.channel.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		q.queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				handleDelivery(ctx, msg, handler)
			}
		}
	}()

	return nil
}

// handleDelivery acks processed requests, dead-letters malformed or failed
// ones and requeues those interrupted by shutdown.
func handleDelivery(ctx context.Context, msg amqp.Delivery, handler Handler) {
	req, err := decodeRequest(msg.Body)
	if err != nil {
		msg.Nack(false, false)
		return
	}

	if err := handler(ctx, req); err != nil {
		if ctx.Err() != nil {
			msg.Nack(false, true)
			return
		}
		msg.Nack(false, false)
		return
	}
	msg.Ack(false)
}

func decodeRequest(body []byte) (*models.GenerationRequest, error) {
	var req models.GenerationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Source == "" {
		req.Source = models.RequestSourceQueue
	}
	return &req, nil
}

// Depth returns the number of messages waiting in the queue
func (q *Queue) Depth() (int, error) {
	info, err := q.channel.QueueInspect(q.queueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return info.Messages, nil
}

// DeadLetterDepth returns the number of dead-lettered requests
func (q *Queue) DeadLetterDepth() (int, error) {
	_, dlq := deadLetterNames(q.exchange, q.queueName)
	info, err := q.channel.QueueInspect(dlq)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect dead-letter queue: %w", err)
	}
	return info.Messages, nil
}
