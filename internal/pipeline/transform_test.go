package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-regrid/internal/adapter/rawfile"
	"github.com/couchcryptid/radar-regrid/internal/config"
	"github.com/couchcryptid/radar-regrid/internal/domain"
	"github.com/couchcryptid/radar-regrid/internal/observability"
	"github.com/couchcryptid/radar-regrid/internal/pipeline"
)

// smallProfile is a 10 km, 160x160 source grid regridded to 32x32 at 40 km.
// The anchors land at (6,3) and (152,150), so the centre crop never reaches
// padding.
func smallProfile() config.Profile {
	p := config.DefaultProfile()
	p.Name = "test-10km"
	p.Source = domain.SourceGridSpec{Width: 160, Height: 160, Resolution: 10000, CenterRow: 100, CenterCol: 60}
	p.Target = domain.TargetGridSpec{Width: 32, Height: 32, Resolution: 40000}
	p.WorkingSize = 0
	p.FlipRows = false
	p.Frame.HeaderBytes = 0
	return p
}

type localFetcher struct {
	err error
}

func (f localFetcher) Fetch(_ context.Context, location string) (string, error) {
	return location, f.err
}

func writeFrame(t *testing.T, dir string, p config.Profile, value float32) string {
	t.Helper()
	path := filepath.Join(dir, "RDR_CMP_202607010000.bin.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	g := domain.NewFilledGrid(p.Source.Height, p.Source.Width, value)
	require.NoError(t, rawfile.Encode(f, g, p.Frame.HeaderBytes, true))
	require.NoError(t, f.Close())
	return path
}

func rawNotice(t *testing.T, location string) domain.RawEvent {
	t.Helper()
	data, err := json.Marshal(domain.FrameNotice{Location: location})
	require.NoError(t, err)
	return domain.RawEvent{Value: data, Timestamp: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)}
}

func TestFrameTransformer_Transform(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2026, 7, 1, 0, 5, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() { domain.SetClock(nil) })

	p := smallProfile()
	p.Frame.HeaderBytes = 32
	in := writeFrame(t, t.TempDir(), p, 20000)
	out := t.TempDir()
	metrics := observability.NewMetricsForTesting()

	tfm := pipeline.NewTransformer(localFetcher{}, func() config.Profile { return p },
		pipeline.NewTransformCache(2, metrics), out, metrics, discardLogger())

	event, err := tfm.Transform(context.Background(), rawNotice(t, in))
	require.NoError(t, err)

	assert.Equal(t, domain.FrameID(in), event.FrameID)
	assert.Equal(t, in, event.Source)
	assert.Equal(t, rawfile.OutputPath(out, event.FrameID), event.OutputPath)
	assert.Equal(t, 32, event.Rows)
	assert.Equal(t, 32, event.Cols)
	assert.InDelta(t, 40000.0, event.Resolution, 0)
	assert.Equal(t, fakeClock.Now(), event.ProcessedAt)
	assert.InDelta(t, 2.0, event.Stats.Min, 1e-6)
	assert.InDelta(t, 2.0, event.Stats.Max, 1e-6)

	g, meta, err := rawfile.ReadOutput(event.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, 32, g.Rows)
	assert.Equal(t, event.FrameID, meta.FrameID)
	for _, v := range g.Data {
		require.InDelta(t, 2.0, v, 1e-6)
	}
}

func TestFrameTransformer_Errors(t *testing.T) {
	p := smallProfile()
	dir := t.TempDir()
	in := writeFrame(t, dir, p, 100)

	tests := []struct {
		name    string
		raw     domain.RawEvent
		fetcher pipeline.Fetcher
		profile config.Profile
		wantIs  error
	}{
		{
			name:    "bad notice",
			raw:     domain.RawEvent{Value: []byte("not json")},
			fetcher: localFetcher{},
			profile: p,
		},
		{
			name:    "fetch failure",
			raw:     rawNotice(t, in),
			fetcher: localFetcher{err: os.ErrNotExist},
			profile: p,
			wantIs:  os.ErrNotExist,
		},
		{
			name:    "frame shape does not match profile",
			raw:     rawNotice(t, in),
			fetcher: localFetcher{},
			profile: func() config.Profile {
				q := p
				q.Source.Width = 170
				return q
			}(),
			wantIs: domain.ErrShapeMismatch,
		},
		{
			name:    "invalid profile",
			raw:     rawNotice(t, in),
			fetcher: localFetcher{},
			profile: func() config.Profile {
				q := p
				q.Target.Resolution = 25000
				return q
			}(),
			wantIs: domain.ErrConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewMetricsForTesting()
			tfm := pipeline.NewTransformer(tt.fetcher, func() config.Profile { return tt.profile },
				pipeline.NewTransformCache(2, metrics), t.TempDir(), metrics, discardLogger())

			_, err := tfm.Transform(context.Background(), tt.raw)
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.True(t, errors.Is(err, tt.wantIs), "got %v", err)
			}
		})
	}
}
