//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/storm-overlap-engine/internal/adapter/kafka"
	"github.com/couchcryptid/storm-overlap-engine/internal/config"
	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/geo"
	"github.com/couchcryptid/storm-overlap-engine/internal/ingest"
	"github.com/couchcryptid/storm-overlap-engine/internal/mockdata"
	"github.com/couchcryptid/storm-overlap-engine/internal/observability"
	"github.com/couchcryptid/storm-overlap-engine/internal/overlap"
	"github.com/couchcryptid/storm-overlap-engine/internal/pipeline"
)

const testTopic = "test-classified-tracks"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	c, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("overlap-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	brokers, err := c.Brokers(ctx)
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

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     3,
		ReplicationFactor: 1,
	}))
}

// TestPipelinePublishesClassifiedTracks runs the synthetic scenario with the
// Kafka sink and reads one message per track back from the topic.
func TestPipelinePublishesClassifiedTracks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	scenario := mockdata.Default()
	paths, err := scenario.Write(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		TracksPath:     paths.Tracks,
		CompanionPath:  paths.Companion,
		ARPath:         paths.AR,
		ARVariable:     mockdata.Variables[domain.KindAR],
		FrontPath:      paths.Front,
		FrontVariable:  mockdata.Variables[domain.KindFront],
		VortexPath:     paths.Vortex,
		VortexVariable: mockdata.Variables[domain.KindVortex],
		KafkaBrokers:   []string{broker},
		KafkaTopic:     testTopic,
	}
	metrics := observability.NewUnregisteredMetrics()
	in, err := ingest.NewLoader(cfg, discardLogger(), metrics).Load(ctx)
	require.NoError(t, err)

	eval, err := overlap.NewEvaluator(overlap.Config{Metric: geo.New(geo.Planar), RadiusDeg: 0.5}, in.Sources)
	require.NoError(t, err)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	p := pipeline.New(eval, []pipeline.Sink{writer}, discardLogger(), metrics, pipeline.Options{Workers: 2})
	res, err := p.Run(ctx, in.Tracks)
	require.NoError(t, err)

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		GroupTopics: []string{testTopic},
		GroupID:     "overlap-test-" + strconv.FormatInt(time.Now().UnixNano(), 10),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = reader.Close() })

	got := make(map[int]kafka.TrackMessage)
	for len(got) < len(scenario.Tracks) {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := reader.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read classified track")

		var m kafka.TrackMessage
		require.NoError(t, json.Unmarshal(msg.Value, &m))
		assert.Equal(t, strconv.Itoa(m.ID), string(msg.Key))
		assert.Equal(t, res.RunID, m.RunID)

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, m.Class, headers["class"])
		got[m.ID] = m
	}

	for id, want := range scenario.Expected {
		m, ok := got[id]
		require.True(t, ok, "track %d not published", id)
		assert.Equal(t, want.String(), m.Class, "track %d", id)
	}
	assert.Len(t, got[1].Points, 4)
	require.NotNil(t, got[1].Points[0].CompanionValue)
	assert.Equal(t, 98500.0, *got[1].Points[0].CompanionValue)
}
