package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/segmentio/kafka-go"
)

// Header names carried on every published event
const (
	HeaderEventType     = "event-type"
	HeaderAggregateType = "aggregate-type"
)

// Producer publishes committed events keyed by aggregate id, so every event
// of one aggregate lands on the same partition in version order.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	msg, err := newMessage(key, event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func newMessage(key string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if e, ok := event.(store.Event); ok {
		msg.Headers = []kafka.Header{
			{Key: HeaderEventType, Value: []byte(e.EventType)},
			{Key: HeaderAggregateType, Value: []byte(e.AggregateType)},
		}
		msg.Time = e.Timestamp
	}
	return msg, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
