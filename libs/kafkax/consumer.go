package kafkax

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"
)

// Handler processes one message. A returned error makes the consumer retry the
// same message, up to maxAttempts, before it is logged and skipped.
type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox remembers processed event ids. Record reports false for an id seen before.
type Inbox interface {
	Record(ctx context.Context, consumer string, meta EventMeta) (bool, error)
	Forget(ctx context.Context, consumer string, eventID string) error
}

// MessageReader is the subset of *kafka.Reader the consumer drives.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topics  []string
}

type Consumer struct {
	name        string
	reader      MessageReader
	inbox       Inbox
	handler     Handler
	logger      *slog.Logger
	backoff     time.Duration
	maxAttempts int
}

func NewReader(cfg ConsumerConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
}

func NewConsumer(name string, reader MessageReader, inbox Inbox, logger *slog.Logger, handler Handler) *Consumer {
	return &Consumer{
		name:        name,
		reader:      reader,
		inbox:       inbox,
		handler:     handler,
		logger:      logger,
		backoff:     time.Second,
		maxAttempts: 5,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			if !sleep(ctx, c.backoff) {
				return
			}
			continue
		}

		for attempt := 1; ; attempt++ {
			err := c.process(ctx, msg)
			if err == nil {
				break
			}
			c.logger.Error("event handling failed", "err", err, "topic", msg.Topic, "offset", msg.Offset, "attempt", attempt)
			if attempt >= c.maxAttempts {
				c.logger.Error("event dropped after retries", "topic", msg.Topic, "offset", msg.Offset)
				break
			}
			if !sleep(ctx, c.backoff*time.Duration(attempt)) {
				return
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	meta := ExtractEventMeta(msg)
	ctx, span := startConsumeSpan(ctx, c.name, msg, meta)
	defer span.End()

	if meta.EventID == "" {
		c.logger.Warn("event without id skipped", "topic", msg.Topic)
		return nil
	}

	fresh, err := c.inbox.Record(ctx, c.name, meta)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", meta.LogAttrs()...)
		return nil
	}

	if err := c.handler(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ferr := c.inbox.Forget(ctx, c.name, meta.EventID); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
