package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/congo-pay/walletledger/internal/metrics"
)

// MessageReader is the part of *kafka.Reader the consumer relies on.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig tunes redelivery.
type ConsumerConfig struct {
	Topic       string
	MaxAttempts int
	Backoff     time.Duration
	// Permanent reports errors that must not be retried.
	Permanent func(error) bool
}

// Consumer delivers each record to a handler at least once. Offsets are
// committed only after the handler succeeds or the record is dead-lettered.
type Consumer struct {
	reader  MessageReader
	handler Handler
	dlq     Publisher
	cfg     ConsumerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewConsumer constructs a consumer. Records that exhaust their attempts are
// published to DeadLetterTopic(cfg.Topic) through dlq.
func NewConsumer(reader MessageReader, handler Handler, dlq Publisher, cfg ConsumerConfig, logger *slog.Logger, m *metrics.Metrics) *Consumer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Consumer{
		reader:  reader,
		handler: handler,
		dlq:     dlq,
		cfg:     cfg,
		logger:  logger.With(slog.String("topic", cfg.Topic)),
		metrics: m,
	}
}

// DeadLetterTopic names the topic that receives records of topic that could not be handled.
func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}

// Run consumes until ctx is cancelled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("fetch message", slog.Any("error", err))
			if !sleep(ctx, c.cfg.Backoff) {
				return nil
			}
			continue
		}

		if err := c.deliver(ctx, fromKafka(km)); err != nil {
			// Only cancellation reaches here; the record stays uncommitted.
			return nil
		}

		if err := c.reader.CommitMessages(ctx, km); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("commit offset", slog.Int64("offset", km.Offset), slog.Any("error", err))
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) deliver(ctx context.Context, msg Message) error {
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, msg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		permanent := c.cfg.Permanent != nil && c.cfg.Permanent(err)
		if permanent || attempt >= c.cfg.MaxAttempts {
			return c.deadLetter(ctx, msg, err, attempt)
		}

		c.logger.Warn("handler failed, retrying",
			slog.String("key", msg.Key),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if !sleep(ctx, c.cfg.Backoff*time.Duration(attempt)) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg Message, cause error, attempts int) error {
	topic := DeadLetterTopic(c.cfg.Topic)
	c.logger.Error("dead-lettering message",
		slog.String("key", msg.Key),
		slog.Int64("offset", msg.Offset),
		slog.Int("attempts", attempts),
		slog.String("dlq", topic),
		slog.Any("error", cause))

	for {
		err := c.dlq.Publish(ctx, topic, msg.Key, msg.Value)
		if err == nil {
			c.metrics.DeadLettered(c.cfg.Topic)
			return nil
		}
		c.logger.Error("publish to dead-letter topic", slog.Any("error", err))
		if !sleep(ctx, c.cfg.Backoff) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
