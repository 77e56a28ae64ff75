package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-regrid/internal/domain"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("key-1"),
		Value:     []byte(`{"location":"/data/frame.bin"}`),
		Topic:     "radar-frames-ready",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("kma")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("key-1"), raw.Key)
	assert.JSONEq(t, `{"location":"/data/frame.bin"}`, string(raw.Value))
	assert.Equal(t, "radar-frames-ready", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "kma", raw.Headers["source"])
	assert.Nil(t, raw.Commit)

	notice, err := domain.ParseFrameNotice(raw)
	require.NoError(t, err)
	assert.Equal(t, "/data/frame.bin", notice.Location)
}

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 10, 0, 0, time.UTC)
	event := domain.RegriddedFrame{
		FrameID:     "RDR_CMP_202607010000-0011223344556677",
		OutputPath:  "data/regridded/RDR_CMP_202607010000-0011223344556677.f32",
		Rows:        512,
		Cols:        512,
		Resolution:  2000,
		Stats:       domain.GridStats{Max: 2, Mean: 0.5},
		ProcessedAt: now,
	}

	msg, err := serializeToMessage(event)
	require.NoError(t, err)

	assert.Equal(t, []byte(event.FrameID), msg.Key)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "frame_id", msg.Headers[0].Key)
	assert.Equal(t, []byte(event.FrameID), msg.Headers[0].Value)
	assert.Equal(t, "processed_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[1].Value)

	var decoded domain.RegriddedFrame
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	if diff := cmp.Diff(event, decoded); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}
