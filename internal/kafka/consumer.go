package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-seating/internal/logger"
	"ms-seating/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutcomeHandler settles one payment outcome. Errors wrapped with
// backoff.Permanent are not retried.
type OutcomeHandler func(ctx context.Context, outcome models.PaymentOutcome) error

// Consumer reads payment outcomes published by the checkout service.
type Consumer struct {
	reader        messageReader
	Logger        *logger.Logger
	retryInterval time.Duration
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, Logger: log}
}

// Run consumes until ctx is done. An offset is committed once its outcome is
// settled or can never be settled. A failing settle is retried until it
// succeeds or ctx ends; the offset then stays uncommitted and the message is
// redelivered to the next consumer of the group.
func (c *Consumer) Run(ctx context.Context, handle OutcomeHandler) error {
	c.Logger.Info("KAFKA", "Payment outcome consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch payment outcome: %w", err)
		}

		var outcome models.PaymentOutcome
		if err := json.Unmarshal(msg.Value, &outcome); err != nil {
			c.Logger.Error("KAFKA", fmt.Sprintf("Dropping undecodable payment outcome at offset %d: %v", msg.Offset, err))
		} else if err := c.settle(ctx, handle, outcome); err != nil {
			if ctx.Err() != nil {
				c.Logger.Warn("KAFKA", fmt.Sprintf("Stopped before settling offset %d, it will be redelivered: %v", msg.Offset, err))
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Dropping payment outcome for event %s session %s: %v", outcome.EventID, outcome.SessionID, err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.Logger.Warn("KAFKA", fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
		}
	}
}

// settle retries handle with exponential backoff and no attempt limit.
func (c *Consumer) settle(ctx context.Context, handle OutcomeHandler, outcome models.PaymentOutcome) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if c.retryInterval > 0 {
		b.InitialInterval = c.retryInterval
	}
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		return handle(ctx, outcome)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.Logger.Warn("KAFKA", fmt.Sprintf("Settling payment outcome for event %s session %s failed, retrying in %s: %v", outcome.EventID, outcome.SessionID, wait, err))
	})
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
