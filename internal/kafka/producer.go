package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-seating/internal/logger"
	"ms-seating/internal/models"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes seat status changes, keyed by event id so that one
// event's changes stay ordered within a partition.
type Producer struct {
	Writer messageWriter
	Topic  string
	Logger *logger.Logger
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
	return &Producer{Writer: writer, Topic: topic, Logger: log}
}

func seatStatusMessage(change models.SeatStatusChangeEvent) (kafka.Message, error) {
	value, err := json.Marshal(change)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(change.EventID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "change", Value: []byte(change.Change)},
		},
	}, nil
}

// PublishSeatStatus streams a seat status change to Kafka
func (p *Producer) PublishSeatStatus(ctx context.Context, change models.SeatStatusChangeEvent) error {
	msg, err := seatStatusMessage(change)
	if err != nil {
		return fmt.Errorf("encode seat status: %w", err)
	}
	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish seat status to %s: %w", p.Topic, err)
	}
	if p.Logger != nil {
		p.Logger.LogKafka("PUBLISH", p.Topic, fmt.Sprintf("%s %d seats of event %s", change.Change, len(change.SeatIDs), change.EventID))
	}
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
