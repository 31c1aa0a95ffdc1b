package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/deKupini/the-library/internal/clock"
	"github.com/deKupini/the-library/internal/domain"
	"github.com/deKupini/the-library/internal/resilience"
	"github.com/deKupini/the-library/internal/retry"
)

const breakerName = "kafka-producer"

// ProducerConfig configures the Kafka producer.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "library.lending",
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

func WithRetryPolicy(p retry.Policy) ProducerOption {
	return func(pr *Producer) {
		pr.retryPolicy = p
	}
}

func WithCircuitBreaker(cb *resilience.CircuitBreakerManager) ProducerOption {
	return func(pr *Producer) {
		pr.breakers = cb
	}
}

func WithClock(c clock.Clock) ProducerOption {
	return func(pr *Producer) {
		pr.clock = c
	}
}

func WithLogger(l *slog.Logger) ProducerOption {
	return func(pr *Producer) {
		pr.logger = l
	}
}

func withWriter(w messageWriter) ProducerOption {
	return func(pr *Producer) {
		pr.writer = w
	}
}

// Producer publishes lending events keyed by book id, so all events of one
// book land on the same partition in order.
type Producer struct {
	writer      messageWriter
	retryPolicy retry.Policy
	breakers    *resilience.CircuitBreakerManager
	clock       clock.Clock
	logger      *slog.Logger
}

func NewProducer(config ProducerConfig, opts ...ProducerOption) *Producer {
	p := &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Topic:        config.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: config.BatchTimeout,
			WriteTimeout: config.WriteTimeout,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
		},
		retryPolicy: retry.DefaultPolicy(),
		breakers:    resilience.NewCircuitBreakerManager(resilience.DefaultCircuitBreakerConfig()),
		clock:       clock.RealClock{},
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Publish writes one lending event. Transient broker errors are retried with
// backoff; an open breaker or a permanent broker error fails immediately.
func (p *Producer) Publish(ctx context.Context, event *domain.LendingEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.BookID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
	}

	attempt := 0
	err = p.retryPolicy.Do(ctx, p.clock, func(ctx context.Context) error {
		attempt++
		_, err := p.breakers.Execute(breakerName, func() (interface{}, error) {
			return nil, p.writer.WriteMessages(ctx, msg)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, resilience.ErrCircuitOpen) || isPermanentFailure(err) {
			return &retry.Permanent{Err: err}
		}
		p.logger.Warn("publish attempt failed",
			"error", err,
			"event_id", event.ID,
			"attempt", attempt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// BreakerState reports the producer's circuit breaker state.
func (p *Producer) BreakerState() resilience.CircuitBreakerState {
	return p.breakers.State(breakerName)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// isPermanentFailure reports broker errors that will not change on retry.
func isPermanentFailure(err error) bool {
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil && isPermanentFailure(e) {
				return true
			}
		}
		return false
	}

	var kerr kafka.Error
	if !errors.As(err, &kerr) {
		return false
	}
	switch kerr {
	case kafka.MessageSizeTooLarge,
		kafka.InvalidMessage,
		kafka.InvalidTopic,
		kafka.RecordListTooLarge,
		kafka.TopicAuthorizationFailed,
		kafka.ClusterAuthorizationFailed:
		return true
	}
	return false
}
