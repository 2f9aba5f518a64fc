// Package kafka publishes detected feed updates to a Kafka topic so other
// services can refresh when new weather data lands.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-timeline-sync/internal/config"
	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
)

// Notifier produces FeedUpdate messages. It implements engine.Notifier.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured update topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaUpdateTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &Notifier{writer: w, logger: logger}
}

// NotifyUpdate publishes one update keyed by session ID, so a session's
// updates stay ordered within a partition.
func (n *Notifier) NotifyUpdate(ctx context.Context, u domain.FeedUpdate) error {
	msg, err := serializeToMessage(u)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write feed update: %w", err)
	}
	n.logger.Debug("feed update published", "update_id", u.ID, "feeds", u.Feeds)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a FeedUpdate into a Kafka message.
func serializeToMessage(u domain.FeedUpdate) (kafkago.Message, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize feed update: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(u.SessionID),
		Value: data,
		Time:  u.DetectedAt,
		Headers: []kafkago.Header{
			{Key: "update_id", Value: []byte(u.ID)},
			{Key: "feeds", Value: []byte(strings.Join(u.Feeds, ","))},
			{Key: "detected_at", Value: []byte(u.DetectedAt.Format(time.RFC3339))},
		},
	}, nil
}
