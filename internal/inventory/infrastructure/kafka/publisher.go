package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/orderflow/inventory-service/pkg/tracing"
)

// Publisher writes result events straight to the results topic. It is the
// ResultPublisher used by the in-memory deployment; the persistent one goes
// through the outbox instead.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, orderID, eventType string, payload []byte, headers map[string]string, traceparent string) error {
	hs := make([]kafka.Header, 0, len(headers)+2)
	for k, v := range headers {
		hs = append(hs, kafka.Header{Key: k, Value: []byte(v)})
	}
	hs = append(hs, kafka.Header{Key: "event_type", Value: []byte(eventType)})
	if traceparent != "" {
		hs = append(hs, kafka.Header{Key: tracing.TraceparentHeader, Value: []byte(traceparent)})
	} else {
		hs = tracing.InjectKafkaHeaders(ctx, hs)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(orderID),
		Value:   payload,
		Headers: hs,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
