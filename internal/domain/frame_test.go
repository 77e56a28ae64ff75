package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLocation = "/data/radar/RDR_CMP_HSR_PUB_202407011200.bin.gz"

func TestParseFrameNotice(t *testing.T) {
	ts := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	t.Run("full notice", func(t *testing.T) {
		raw := RawEvent{
			Value:     []byte(`{"frame_id":"f-1","location":"` + testLocation + `","observed_at":"2024-07-01T11:55:00Z"}`),
			Timestamp: ts,
		}
		n, err := ParseFrameNotice(raw)
		require.NoError(t, err)
		assert.Equal(t, "f-1", n.FrameID)
		assert.Equal(t, testLocation, n.Location)
		assert.Equal(t, time.Date(2024, 7, 1, 11, 55, 0, 0, time.UTC), n.ObservedAt)
	})

	t.Run("defaults from location and timestamp", func(t *testing.T) {
		raw := RawEvent{Value: []byte(`{"location":"  ` + testLocation + ` "}`), Timestamp: ts}
		n, err := ParseFrameNotice(raw)
		require.NoError(t, err)
		assert.Equal(t, testLocation, n.Location)
		assert.True(t, strings.HasPrefix(n.FrameID, "RDR_CMP_HSR_PUB_202407011200-"))
		assert.Equal(t, ts, n.ObservedAt)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseFrameNotice(RawEvent{Value: []byte("{nope")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse frame notice")
	})

	t.Run("missing location", func(t *testing.T) {
		_, err := ParseFrameNotice(RawEvent{Value: []byte(`{"frame_id":"x"}`)})
		require.ErrorIs(t, err, errMissingLocation)
	})

	unsafeIDs := map[string]string{
		"parent traversal": "../../../tmp/evil",
		"dot dot":          "..",
		"dot":              ".",
		"slash":            "a/b",
		"backslash":        `a\\b`,
		"embedded dot dot": "frame..1",
	}
	for name, id := range unsafeIDs {
		t.Run("rejects "+name, func(t *testing.T) {
			raw := RawEvent{Value: []byte(`{"frame_id":"` + id + `","location":"` + testLocation + `"}`)}
			_, err := ParseFrameNotice(raw)
			require.ErrorIs(t, err, errUnsafeFrameID)
		})
	}
}

func TestFrameID(t *testing.T) {
	a := FrameID(testLocation)
	assert.Equal(t, a, FrameID(testLocation), "deterministic")
	assert.NotEqual(t, a, FrameID(testLocation+"x"))
	assert.Len(t, strings.TrimPrefix(a, "RDR_CMP_HSR_PUB_202407011200-"), 16)

	url := FrameID("https://example.org/frames/f_0001.bin.gz?sig=1")
	assert.True(t, strings.HasPrefix(url, "f_0001-"), url)

	bare := FrameID("/")
	assert.Len(t, bare, 16)
	assert.Len(t, FrameID("/data/.."), 16, "dot names fall back to the hash")

	n, err := ParseFrameNotice(RawEvent{Value: []byte(`{"location":"/data/.."}`)})
	require.NoError(t, err, "derived ids are always safe")
	assert.Equal(t, FrameID("/data/.."), n.FrameID)
}

func TestNewRegriddedFrame(t *testing.T) {
	fixed := time.Date(2024, 7, 1, 12, 5, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	t.Cleanup(func() { SetClock(nil) })

	rt := referenceTransform(t, ReferenceTarget, RegionOptions{FlipRows: true})
	g := NewFilledGrid(ReferenceTarget.Height, ReferenceTarget.Width, 1.5)
	n := FrameNotice{FrameID: "f-1", Location: testLocation, ObservedAt: fixed.Add(-5 * time.Minute)}

	ev := NewRegriddedFrame(n, "/out/f-1.f32", rt, g)
	assert.Equal(t, "f-1", ev.FrameID)
	assert.Equal(t, testLocation, ev.Source)
	assert.Equal(t, "/out/f-1.f32", ev.OutputPath)
	assert.Equal(t, 512, ev.Rows)
	assert.Equal(t, 512, ev.Cols)
	assert.Equal(t, 2000.0, ev.Resolution)
	assert.True(t, ev.Flipped)
	assert.Equal(t, float32(1.5), ev.Stats.Max)
	assert.Equal(t, fixed, ev.ProcessedAt)
}
