//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/storm-timeline-sync/internal/adapter/feedapi"
	"github.com/couchcryptid/storm-timeline-sync/internal/adapter/kafka"
	"github.com/couchcryptid/storm-timeline-sync/internal/config"
	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
	"github.com/couchcryptid/storm-timeline-sync/internal/engine"
	"github.com/couchcryptid/storm-timeline-sync/internal/events"
	"github.com/couchcryptid/storm-timeline-sync/internal/observability"
	"github.com/couchcryptid/storm-timeline-sync/internal/session"
	"github.com/couchcryptid/storm-timeline-sync/internal/timeline"
)

const testUpdateTopic = "test-feed-updates"

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("storm-sync-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

// feedServer serves a primary feed whose frame list can grow mid-test.
type feedServer struct {
	mu     sync.Mutex
	frames []string
}

func (f *feedServer) add(ts string) {
	f.mu.Lock()
	f.frames = append(f.frames, ts)
	f.mu.Unlock()
}

func (f *feedServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /timestamps", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.frames)
	})
	mux.HandleFunc("GET /products", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"products":["Radar"]}`))
	})
	mux.HandleFunc("GET /products/Radar/timestamps", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`["20240426-100000"]`))
	})
	return mux
}

// TestPollerPublishesFeedUpdate wires a real feed client, session, poller and
// Kafka notifier, then reads the published update back from the topic.
func TestPollerPublishesFeedUpdate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testUpdateTopic)

	feed := &feedServer{frames: []string{"20240426-100000", "20240426-101000"}}
	upstream := httptest.NewServer(feed.handler())
	t.Cleanup(upstream.Close)

	logger := observability.DiscardLogger()
	metrics := observability.NewMetricsForTesting()
	bus := events.NewBus()

	client := feedapi.NewClient(upstream.URL, 5*time.Second, logger)
	sess := session.New(client, bus, session.Defaults{Visible: []string{"Radar"}, Opacity: session.DefaultOpacity}, logger)
	require.NoError(t, sess.Prime(ctx))

	controller := timeline.NewController(bus, nil, time.Second, logger, metrics)
	controller.SetFrames(sess.Primary())

	notifier := kafka.NewNotifier(&config.Config{KafkaBrokers: []string{broker}, KafkaUpdateTopic: testUpdateTopic}, logger)
	t.Cleanup(func() { _ = notifier.Close() })

	poller := engine.NewPoller(sess, controller, bus, notifier, nil, engine.PollerConfig{}, logger, metrics)

	feed.add("20240426-102000")
	require.True(t, poller.Check(ctx))
	assert.Equal(t, 2, controller.Snapshot().Position)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testUpdateTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from update topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, domain.PrimaryFeed, headers["feeds"])
	_, err = time.Parse(time.RFC3339, headers["detected_at"])
	assert.NoError(t, err, "detected_at should be valid RFC3339")

	var u domain.FeedUpdate
	require.NoError(t, json.Unmarshal(msg.Value, &u))
	assert.Equal(t, sess.ID(), string(msg.Key))
	assert.Equal(t, sess.ID(), u.SessionID)
	assert.Equal(t, "20240426-102000", u.Latest[domain.PrimaryFeed])
	assert.Equal(t, 2, u.Position)
	assert.Equal(t, headers["update_id"], u.ID)
}
