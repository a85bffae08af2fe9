package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	batches [][]kafkago.Message
	err     error
	closed  bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, msgs)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

var t0 = time.Date(1979, time.January, 2, 0, 0, 0, 0, time.UTC)

func runWithTracks(n int) *domain.RunResult {
	res := &domain.RunResult{RunID: "run-1", Classes: make(map[int]domain.Classification)}
	for id := n; id >= 1; id-- {
		res.Tracks = append(res.Tracks, domain.Track{
			ID: id,
			Points: []domain.TrackPoint{
				{TrackID: id, Time: t0.Add(6 * time.Hour), Lat: 35, Lon: -100},
				{TrackID: id, Time: t0, Lat: 34.5, Lon: -100.5},
			},
			Overlap: []domain.OverlapRecord{
				{Triple: true, Resolved: true, CompanionValue: 98500},
				domain.NoOverlap(),
			},
		})
		if id%2 == 0 {
			res.Classes[id] = domain.Persistent
		}
	}
	return res
}

func TestSerializeToMessage(t *testing.T) {
	msg, err := serializeToMessage(TrackMessage{RunID: "run-1", ID: 7, Class: "persistent", Label: "AR-MFW"})
	require.NoError(t, err)

	assert.Equal(t, []byte("7"), msg.Key)
	assert.Contains(t, string(msg.Value), `"label":"AR-MFW"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "class", msg.Headers[0].Key)
	assert.Equal(t, []byte("persistent"), msg.Headers[0].Value)
	assert.Equal(t, "run_id", msg.Headers[1].Key)
	assert.Equal(t, []byte("run-1"), msg.Headers[1].Value)
}

func TestSerializeRun_OnePerTrackInOrder(t *testing.T) {
	msgs, err := serializeRun(runWithTracks(3))
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	for i, msg := range msgs {
		var m TrackMessage
		require.NoError(t, json.Unmarshal(msg.Value, &m))
		assert.Equal(t, i+1, m.ID)
		require.Len(t, m.Points, 2)
		assert.Equal(t, t0, m.Points[0].Time, "points ordered by time")
		assert.Nil(t, m.Points[0].CompanionValue, "NaN companion omitted")
		require.NotNil(t, m.Points[1].CompanionValue)
		assert.Equal(t, 98500.0, *m.Points[1].CompanionValue)
	}

	var second TrackMessage
	require.NoError(t, json.Unmarshal(msgs[1].Value, &second))
	assert.Equal(t, "persistent", second.Class)
}

func TestWriter_WriteBatches(t *testing.T) {
	fw := &fakeWriter{}
	w := &Writer{writer: fw, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, w.Write(context.Background(), runWithTracks(batchSize+5)))
	require.Len(t, fw.batches, 2)
	assert.Len(t, fw.batches[0], batchSize)
	assert.Len(t, fw.batches[1], 5)

	require.NoError(t, w.Close())
	assert.True(t, fw.closed)
}

func TestWriter_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	w := &Writer{writer: &fakeWriter{err: boom}, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	err := w.Write(context.Background(), runWithTracks(1))
	assert.ErrorIs(t, err, boom)
}
