// Package kafka carries lending events between the API and the history ledger.
// The consumer commits offsets only after the batch has been stored, giving
// at-least-once delivery; the ledger ignores duplicate event ids.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/deKupini/the-library/internal/clock"
	"github.com/deKupini/the-library/internal/domain"
	"github.com/deKupini/the-library/internal/retry"
)

// ConsumerConfig defines Kafka consumer parameters.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	BatchTimeout  time.Duration // Max time to collect messages before processing
	CommitTimeout time.Duration // Timeout for offset commits
	StoreRetry    retry.Policy  // Backoff while the handler keeps failing
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:       []string{"localhost:9092"},
		Topic:         "library.lending",
		GroupID:       "library-ledger",
		BatchTimeout:  200 * time.Millisecond,
		CommitTimeout: 5 * time.Second,
		StoreRetry: retry.Policy{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
			Jitter:          0.1,
			MaxAttempts:     10,
		},
	}
}

// EventHandler stores a batch of lending events. The consumer retries a failing
// batch until it is stored or the consumer stops.
type EventHandler interface {
	ProcessBatch(ctx context.Context, events []*domain.LendingEvent) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads lending events from Kafka and hands them to an EventHandler.
type Consumer struct {
	config  ConsumerConfig
	reader  messageReader
	handler EventHandler
	clock   clock.Clock
	logger  *slog.Logger

	wg       sync.WaitGroup
	shutdown chan struct{}
}

func NewConsumer(config ConsumerConfig, handler EventHandler, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        config.BatchTimeout,
		CommitInterval: 0, // manual commits only
		StartOffset:    kafka.FirstOffset,
		GroupBalancers: []kafka.GroupBalancer{
			kafka.RangeGroupBalancer{},
			kafka.RoundRobinGroupBalancer{},
		},
		IsolationLevel: kafka.ReadCommitted,
	})

	return newConsumer(config, reader, handler, clock.RealClock{}, logger)
}

func newConsumer(config ConsumerConfig, reader messageReader, handler EventHandler, clk clock.Clock, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		config:   config,
		reader:   reader,
		handler:  handler,
		clock:    clk,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.consumeLoop(ctx)
	c.logger.Info("kafka consumer started",
		"topic", c.config.Topic,
		"group", c.config.GroupID,
		"batch_timeout", c.config.BatchTimeout,
	)
}

// Stop waits for the in-flight batch and closes the reader.
func (c *Consumer) Stop() {
	close(c.shutdown)
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		c.logger.Error("failed to close kafka reader", "error", err)
	}
	c.logger.Info("kafka consumer stopped")
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		batch, events := c.collectBatch(ctx)
		if len(batch) > 0 {
			c.processBatchAndCommit(ctx, batch, events)
		}
	}
}

func (c *Consumer) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.shutdown:
		return true
	default:
		return false
	}
}

// collectBatch fetches messages until BatchTimeout elapses.
func (c *Consumer) collectBatch(ctx context.Context) ([]kafka.Message, []*domain.LendingEvent) {
	var batch []kafka.Message
	var events []*domain.LendingEvent

	deadline := c.clock.Now().Add(c.config.BatchTimeout)

	for c.clock.Now().Before(deadline) {
		if c.stopping(ctx) {
			return batch, events
		}

		remaining := deadline.Sub(c.clock.Now())
		if remaining > 50*time.Millisecond {
			remaining = 50 * time.Millisecond
		}

		readCtx, cancel := context.WithTimeout(ctx, remaining)
		msg, err := c.reader.FetchMessage(readCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			c.logger.Error("failed to fetch message", "error", err)
			<-c.clock.After(10 * time.Millisecond)
			continue
		}

		var event domain.LendingEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil || event.ID == "" {
			c.logger.Error("skipping malformed lending event",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			if err := c.commitMessages(ctx, []kafka.Message{msg}); err != nil {
				c.logger.Error("failed to commit bad message", "error", err)
			}
			continue
		}

		batch = append(batch, msg)
		events = append(events, &event)
	}

	return batch, events
}

// processBatchAndCommit does not move past a batch until it is stored.
// Offsets are committed per partition, so committing a later batch would
// also acknowledge this one.
func (c *Consumer) processBatchAndCommit(ctx context.Context, messages []kafka.Message, events []*domain.LendingEvent) {
	start := c.clock.Now()

	storeCtx, cancel := c.untilShutdown(ctx)
	defer cancel()

	for {
		err := c.config.StoreRetry.Do(storeCtx, c.clock, func(ctx context.Context) error {
			err := c.handler.ProcessBatch(ctx, events)
			if err != nil {
				c.logger.Warn("failed to store lending events", "error", err, "count", len(events))
			}
			return err
		})
		if err == nil {
			break
		}
		if storeCtx.Err() != nil {
			// Uncommitted; the group redelivers after restart or rebalance.
			c.logger.Warn("leaving batch uncommitted", "error", err, "count", len(events))
			return
		}
		c.logger.Error("batch still failing, starting retries over", "error", err, "count", len(events))
	}

	c.logger.Debug("batch stored",
		"count", len(events),
		"duration_ms", c.clock.Now().Sub(start).Milliseconds(),
	)

	if err := c.commitMessages(ctx, messages); err != nil {
		c.logger.Error("failed to commit messages",
			"error", err,
			"count", len(messages),
		)
	}
}

// untilShutdown derives a context that is also cancelled by Stop.
func (c *Consumer) untilShutdown(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-c.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (c *Consumer) commitMessages(ctx context.Context, messages []kafka.Message) error {
	if len(messages) == 0 {
		return nil
	}

	commitCtx, cancel := context.WithTimeout(ctx, c.config.CommitTimeout)
	defer cancel()

	return c.reader.CommitMessages(commitCtx, messages...)
}
