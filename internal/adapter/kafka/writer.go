package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/config"
	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

const batchSize = 100

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes one message per classified track.
// It implements pipeline.Sink.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// Write serializes every track of res and publishes them in batches. Tracks
// are keyed by id so reruns land on the same partition.
func (w *Writer) Write(ctx context.Context, res *domain.RunResult) error {
	msgs, err := serializeRun(res)
	if err != nil {
		return err
	}
	for start := 0; start < len(msgs); start += batchSize {
		end := min(start+batchSize, len(msgs))
		if err := w.writer.WriteMessages(ctx, msgs[start:end]...); err != nil {
			return fmt.Errorf("publish tracks %d-%d: %w", start, end, err)
		}
	}
	w.logger.Debug("tracks published", "messages", len(msgs))
	return nil
}

// Close flushes and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// TrackMessage is the JSON payload for one classified track.
type TrackMessage struct {
	RunID  string         `json:"run_id"`
	ID     int            `json:"track_id"`
	Class  string         `json:"class"`
	Label  string         `json:"label"`
	Points []PointMessage `json:"points"`
}

// PointMessage is one evaluated track point.
type PointMessage struct {
	Time           time.Time `json:"time"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	Value          float64   `json:"value"`
	NearAR         bool      `json:"near_ar"`
	NearFront      bool      `json:"near_front"`
	NearVortex     bool      `json:"near_vortex"`
	NearCompanion  bool      `json:"near_companion"`
	Triple         bool      `json:"triple_overlap"`
	CompanionValue *float64  `json:"companion_value"`
	Resolved       bool      `json:"resolved"`
}

// serializeRun builds messages in (track_id, time) order.
func serializeRun(res *domain.RunResult) ([]kafkago.Message, error) {
	var msgs []kafkago.Message
	var cur *TrackMessage
	flush := func() error {
		if cur == nil {
			return nil
		}
		msg, err := serializeToMessage(*cur)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		return nil
	}

	for _, row := range res.Rows() {
		if cur == nil || cur.ID != row.Point.TrackID {
			if err := flush(); err != nil {
				return nil, err
			}
			cur = &TrackMessage{
				RunID: res.RunID,
				ID:    row.Point.TrackID,
				Class: row.Class.String(),
				Label: row.Class.Label(),
			}
		}
		cur.Points = append(cur.Points, pointMessage(row))
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func pointMessage(row domain.Row) PointMessage {
	o := row.Overlap
	pm := PointMessage{
		Time:          row.Point.Time.UTC(),
		Lat:           row.Point.Lat,
		Lon:           row.Point.Lon,
		Value:         row.Point.Value,
		NearAR:        o.NearAR,
		NearFront:     o.NearFront,
		NearVortex:    o.NearVortex,
		NearCompanion: o.NearCompanion,
		Triple:        o.Triple,
		Resolved:      o.Resolved,
	}
	if !math.IsNaN(o.CompanionValue) {
		v := o.CompanionValue
		pm.CompanionValue = &v
	}
	return pm
}

// serializeToMessage marshals a TrackMessage into a Kafka message.
func serializeToMessage(m TrackMessage) (kafkago.Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize track %d: %w", m.ID, err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.Itoa(m.ID)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "class", Value: []byte(m.Class)},
			{Key: "run_id", Value: []byte(m.RunID)},
		},
	}, nil
}
