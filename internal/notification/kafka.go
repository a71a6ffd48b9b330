package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"escorte/pkg/requestcontext"
)

// KafkaNotifier publishes notification messages to a Kafka topic, keyed by
// recipient so one agent's messages stay ordered. Produce is asynchronous;
// a broker hiccup is logged and the business operation proceeds.
type KafkaNotifier struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaNotifier connects to the brokers and makes sure the topic exists.
func NewKafkaNotifier(ctx context.Context, brokers []string, topic string, logger *slog.Logger) (*KafkaNotifier, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{client: client, topic: topic, logger: logger}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 3, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}

// Notify publishes one message. The produce callback only logs; callers
// never block on broker acknowledgement.
func (n *KafkaNotifier) Notify(ctx context.Context, recipientID int64, subject, body string) error {
	msg := Message{
		RecipientID: recipientID,
		Subject:     subject,
		Body:        body,
		SentAt:      requestcontext.Now(ctx),
	}
	value, err := msg.marshal()
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(strconv.FormatInt(recipientID, 10)),
		Value: value,
	}
	n.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			n.logger.Error("notification publish failed",
				"recipient_id", recipientID, "error", err)
		}
	})
	return nil
}

// Close flushes pending records and releases the client.
func (n *KafkaNotifier) Close(ctx context.Context) error {
	if err := n.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush notifications: %w", err)
	}
	n.client.Close()
	return nil
}
