package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaQueue publishes messages to a topic for the notifier worker to
// deliver.
type KafkaQueue struct {
	writer messageWriter
}

func NewKafkaQueue(brokers []string, topic string) *KafkaQueue {
	return &KafkaQueue{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

func (q *KafkaQueue) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: failed to encode message: %w", err)
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: data,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("notify: failed to publish message: %w", err)
	}
	return nil
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}

// Relay consumes queued messages and hands them to a delivering Notifier.
type Relay struct {
	reader   messageReader
	notifier Notifier
	timeout  time.Duration
}

func NewRelay(brokers []string, topic, groupID string, n Notifier, timeout time.Duration) *Relay {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Relay{reader: reader, notifier: n, timeout: timeout}
}

// Run blocks until ctx is cancelled. Undeliverable messages are logged and
// skipped.
func (r *Relay) Run(ctx context.Context) error {
	for {
		m, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("notify: error reading message")
			continue
		}

		if err := r.handle(ctx, m.Value); err != nil {
			log.Error().Err(err).Int64("offset", m.Offset).Int("partition", m.Partition).Msg("notify: failed to deliver queued message")
		}
	}
}

func (r *Relay) handle(ctx context.Context, value []byte) error {
	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("notify: failed to decode queued message: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.notifier.Send(sendCtx, msg); err != nil {
		return err
	}
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("notify: queued message delivered")
	return nil
}

func (r *Relay) Close() error {
	return r.reader.Close()
}
