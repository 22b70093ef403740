package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/inventory-service/internal/inventory/application"
	"github.com/orderflow/inventory-service/internal/inventory/domain"
	"github.com/orderflow/inventory-service/pkg/idempotency"
	"github.com/orderflow/inventory-service/pkg/tracing"
)

const (
	maxAttempts  = 3
	retryBackoff = 250 * time.Millisecond
)

// Reader is the consuming side of the transport.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is the writing side, used for the dead-letter topic.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// DedupStore filters redelivered offsets. Check must not mark: an offset is
// marked only after its message produced an outcome, otherwise a transient
// failure would swallow the order on redelivery.
type DedupStore interface {
	Key(topic string, partition int, offset int64) string
	Check(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Consumer drives order.created messages through the reservation engine.
// Ack discipline: commit after the result event is handed off; dead-letter
// and commit on permanently invalid input; leave uncommitted on transient
// failure so Kafka redelivers.
type Consumer struct {
	log     *slog.Logger
	reader  Reader
	dlq     Producer
	svc     *application.Service
	idem    DedupStore
	tracer  trace.Tracer
	backoff time.Duration
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group, dlqTopic string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	var dlq Producer
	if dlqTopic != "" {
		dlq = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        dlqTopic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return newConsumer(log, r, dlq, svc, idem)
}

func newConsumer(log *slog.Logger, reader Reader, dlq Producer, svc *application.Service, idem DedupStore) *Consumer {
	return &Consumer{
		log:     log,
		reader:  reader,
		dlq:     dlq,
		svc:     svc,
		idem:    idem,
		tracer:  otel.Tracer("inventory-consumer"),
		backoff: retryBackoff,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	if closer, ok := c.dlq.(io.Closer); ok {
		defer closer.Close()
	}

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Check(ctx, key)
		if err != nil {
			// Dedup cache down: proceed anyway, the ledger's reservations
			// log makes a replay harmless.
			c.log.Warn("idempotency check failed, relying on ledger replay guard", "err", err)
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				return err
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			// Left uncommitted on purpose: Kafka redelivers and the
			// ledger replays the recorded outcome if one was committed.
			return err
		}
		if err := c.idem.Mark(ctx, key); err != nil {
			c.log.Warn("idempotency mark failed", "key", key, "err", err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeOrderCreated")
	defer span.End()

	var ev domain.OrderCreatedEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error("unmarshal failed, dead-lettering", "err", err, "offset", msg.Offset)
		return c.deadLetter(msgCtx, msg, err)
	}

	headers := map[string]string{"source": "inventory-service"}
	traceparent := headerValue(msg.Headers, tracing.TraceparentHeader)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err := c.svc.ProcessOrderCreated(msgCtx, ev, headers, traceparent)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrInvalidRequest) {
			c.log.Warn("invalid order event, dead-lettering", "order_id", ev.OrderID, "err", err)
			return c.deadLetter(msgCtx, msg, err)
		}
		lastErr = err
		c.log.Error("reservation attempt failed", "order_id", ev.OrderID, "attempt", attempt, "err", err)
		select {
		case <-time.After(time.Duration(attempt) * c.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// Transient failure exhausted local retries: surface it without
	// committing so the message is redelivered.
	return lastErr
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	if c.dlq == nil {
		c.log.Error("no dead-letter topic configured, discarding invalid message",
			"offset", msg.Offset, "cause", cause)
		return nil
	}
	headers := append(msg.Headers, kafka.Header{Key: "x-dead-letter-reason", Value: []byte(cause.Error())})
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
