// Package rabbitmq carries re-arm requests as persistent messages. The
// Scheduler publishes a RearmMessage whenever a processor yields, and
// Consume turns each delivered message into one invocation.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/BranchIntl/couponqueue/schedulers"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RearmMessage asks for another invocation of a processor
type RearmMessage struct {
	Identifier  string    `json:"identifier"`
	RequestedAt time.Time `json:"requested_at"`
}

// Scheduler publishes and consumes re-arm requests
type Scheduler struct {
	connection  *amqp.Connection
	channel     *amqp.Channel
	options     Options
	declared    bool
	mu          sync.RWMutex
	notifyClose chan *amqp.Error
	isConnected bool
	now         func() time.Time
}

// NewScheduler creates a disconnected scheduler
func NewScheduler(options Options) *Scheduler {
	return &Scheduler{
		options: options,
		now:     time.Now,
	}
}

// Connect establishes connection to RabbitMQ
func (s *Scheduler) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connect(ctx)
}

// connect expects the caller to hold the lock
func (s *Scheduler) connect(ctx context.Context) error {
	conn, err := amqp.Dial(s.options.URI)
	if err != nil {
		return errors.NewConnectionError(s.options.URI,
			fmt.Errorf("failed to connect to RabbitMQ: %w", err))
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.NewConnectionError(s.options.URI,
			fmt.Errorf("failed to open channel: %w", err))
	}

	if s.options.PrefetchCount > 0 {
		if err := ch.Qos(s.options.PrefetchCount, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return errors.NewConnectionError(s.options.URI,
				fmt.Errorf("failed to set QoS: %w", err))
		}
	}

	s.connection = conn
	s.channel = ch
	s.declared = false

	s.notifyClose = make(chan *amqp.Error, 1)
	s.connection.NotifyClose(s.notifyClose)
	s.isConnected = true

	if s.options.ReconnectEnabled {
		go s.handleReconnection(context.Background(), s.notifyClose)
	}
	return nil
}

func (s *Scheduler) handleReconnection(ctx context.Context, notifyClose <-chan *amqp.Error) {
	select {
	case err := <-notifyClose:
		if err == nil {
			return // graceful shutdown
		}
		slog.Warn("Connection closed, reconnecting...", "error", err)

		s.mu.Lock()
		s.isConnected = false
		s.mu.Unlock()

		for {
			time.Sleep(s.options.ReconnectDelay)

			s.mu.Lock()
			if s.isConnected {
				s.mu.Unlock()
				return
			}
			err := s.connect(ctx)
			s.mu.Unlock()

			if err == nil {
				slog.Info("Reconnected to RabbitMQ")
				return
			}
			slog.Warn("Reconnect failed", "error", err)
		}
	case <-ctx.Done():
	}
}

// Close closes the RabbitMQ connection
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isConnected = false
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			return err
		}
	}
	if s.connection != nil {
		return s.connection.Close()
	}
	return nil
}

// Health checks the RabbitMQ connection health
func (s *Scheduler) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isConnected || s.connection == nil || s.connection.IsClosed() {
		return errors.ErrNotConnected
	}
	return nil
}

// Type returns the scheduler type
func (s *Scheduler) Type() string {
	return "rabbitmq"
}

// ScheduleNext publishes a re-arm request for identifier
func (s *Scheduler) ScheduleNext(ctx context.Context, identifier string) error {
	channel, err := s.ensureQueue()
	if err != nil {
		return err
	}

	requestedAt := s.now()
	body, err := json.Marshal(RearmMessage{Identifier: identifier, RequestedAt: requestedAt})
	if err != nil {
		return errors.NewSerializationError("json", err)
	}

	err = channel.PublishWithContext(
		ctx,
		"",              // exchange
		s.options.Queue, // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    requestedAt,
			MessageId:    uuid.NewString(),
		})
	if err != nil {
		return fmt.Errorf("publish re-arm for %s: %w", identifier, err)
	}
	return nil
}

// Clear is a no-op: published requests cannot be retracted, and an
// invocation for a finished run returns without doing anything
func (s *Scheduler) Clear(ctx context.Context, identifier string) error {
	return nil
}

// Consume delivers re-arm requests to run until ctx is cancelled
func (s *Scheduler) Consume(ctx context.Context, run schedulers.RunFunc) error {
	channel, err := s.ensureQueue()
	if err != nil {
		return err
	}

	deliveries, err := channel.Consume(
		s.options.Queue, // queue
		"",              // consumer tag (auto-generated)
		false,           // auto-ack
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consumer for queue %s: %w", s.options.Queue, err)
	}

	slog.Info("Consuming re-arm requests", "queue", s.options.Queue)
	for {
		select {
		case <-ctx.Done():
			slog.Info("RabbitMQ consumer stopped")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				slog.Warn("Delivery channel closed", "queue", s.options.Queue)
				return errors.ErrNotConnected
			}
			s.handleDelivery(ctx, delivery, run)
		}
	}
}

// handleDelivery acks after the run. A store failure puts the request back
// after RetryDelay so another consumer retries it; a malformed message is
// dropped.
func (s *Scheduler) handleDelivery(ctx context.Context, delivery amqp.Delivery, run schedulers.RunFunc) {
	var msg RearmMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil || msg.Identifier == "" {
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			slog.Error("Failed to nack message", "error", nackErr)
		}
		slog.Error("Dropping malformed re-arm message", "message_id", delivery.MessageId, "error", err)
		return
	}

	if err := run(ctx, msg.Identifier); err != nil {
		slog.Error("Re-armed run failed", "identifier", msg.Identifier, "error", err)
		if errors.IsStoreFailure(err) {
			// the broker redelivers at once
			s.backoff(ctx)
			if nackErr := delivery.Nack(false, true); nackErr != nil {
				slog.Error("Failed to nack message", "error", nackErr)
			}
			return
		}
	}

	if err := delivery.Ack(false); err != nil {
		slog.Error("Failed to ack message", "error", err)
	}
}

// backoff waits RetryDelay or until ctx is done
func (s *Scheduler) backoff(ctx context.Context) {
	if s.options.RetryDelay <= 0 {
		return
	}
	timer := time.NewTimer(s.options.RetryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ensureQueue declares the queue once per connection
func (s *Scheduler) ensureQueue() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil || !s.isConnected {
		return nil, errors.ErrNotConnected
	}
	if s.declared {
		return s.channel, nil
	}

	_, err := s.channel.QueueDeclare(
		s.options.Queue, // name
		true,            // durable
		false,           // delete when unused
		false,           // exclusive
		false,           // no-wait
		s.queueArgs(),   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", s.options.Queue, err)
	}

	s.declared = true
	return s.channel, nil
}

// queueArgs builds the AMQP arguments table from options
func (s *Scheduler) queueArgs() amqp.Table {
	args := amqp.Table{}

	if s.options.MessageTTL > 0 {
		args["x-message-ttl"] = int64(s.options.MessageTTL / time.Millisecond)
	}
	if s.options.DeadLetterQueue != "" {
		args["x-dead-letter-exchange"] = ""
		args["x-dead-letter-routing-key"] = s.options.DeadLetterQueue
	}
	if s.options.QueueType != "" {
		args["x-queue-type"] = s.options.QueueType
	}
	return args
}
