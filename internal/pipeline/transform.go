package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/radar-regrid/internal/adapter/rawfile"
	"github.com/couchcryptid/radar-regrid/internal/config"
	"github.com/couchcryptid/radar-regrid/internal/domain"
	"github.com/couchcryptid/radar-regrid/internal/observability"
)

// ErrFetch marks frames whose file could not be retrieved.
var ErrFetch = errors.New("frame unavailable")

// Fetcher resolves a frame location to a readable local file.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (string, error)
}

// ProfileFunc returns the grid profile in effect for the next frame.
type ProfileFunc func() config.Profile

// FrameTransformer implements Transformer: it fetches the announced frame,
// regrids it with the current profile, and writes the result under outputDir.
type FrameTransformer struct {
	fetcher   Fetcher
	profile   ProfileFunc
	cache     *TransformCache
	outputDir string
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewTransformer creates a FrameTransformer.
func NewTransformer(fetcher Fetcher, profile ProfileFunc, cache *TransformCache, outputDir string, metrics *observability.Metrics, logger *slog.Logger) *FrameTransformer {
	return &FrameTransformer{
		fetcher:   fetcher,
		profile:   profile,
		cache:     cache,
		outputDir: outputDir,
		metrics:   metrics,
		logger:    logger,
	}
}

func (t *FrameTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.RegriddedFrame, error) {
	notice, err := domain.ParseFrameNotice(raw)
	if err != nil {
		return domain.RegriddedFrame{}, err
	}

	p := t.profile()
	rt, err := t.cache.Get(p.Source, p.Target, p.Options())
	if err != nil {
		return domain.RegriddedFrame{}, fmt.Errorf("frame %s: %w", notice.FrameID, err)
	}

	local, err := t.fetcher.Fetch(ctx, notice.Location)
	if err != nil {
		return domain.RegriddedFrame{}, fmt.Errorf("frame %s: %w: %w", notice.FrameID, ErrFetch, err)
	}

	start := time.Now()
	out, err := RegridFile(rt, local, p.Frame.HeaderBytes)
	if err != nil {
		return domain.RegriddedFrame{}, fmt.Errorf("frame %s: %w", notice.FrameID, err)
	}

	path := rawfile.OutputPath(t.outputDir, notice.FrameID)
	event := domain.NewRegriddedFrame(notice, path, rt, out)
	if err := rawfile.Write(path, out, SidecarFor(event)); err != nil {
		return domain.RegriddedFrame{}, fmt.Errorf("frame %s: %w", notice.FrameID, err)
	}
	t.metrics.TransformDuration.Observe(time.Since(start).Seconds())

	t.logger.Debug("frame regridded", "frame_id", event.FrameID, "path", path, "max", event.Stats.Max)
	return event, nil
}

// RegridFile reads a source frame laid out for rt's source grid and applies rt.
func RegridFile(rt *domain.RegionTransform, path string, headerBytes int) (*domain.Grid, error) {
	src := rt.Source()
	g, err := rawfile.Read(path, rawfile.Format{Rows: src.Height, Cols: src.Width, HeaderBytes: headerBytes})
	if err != nil {
		return nil, err
	}
	return rt.Apply(g)
}

// SidecarFor builds the output metadata for a regridded frame event.
func SidecarFor(e domain.RegriddedFrame) rawfile.Sidecar {
	return rawfile.Sidecar{
		FrameID:     e.FrameID,
		Source:      e.Source,
		Resolution:  e.Resolution,
		Flipped:     e.Flipped,
		Stats:       e.Stats,
		ProcessedAt: e.ProcessedAt,
	}
}
