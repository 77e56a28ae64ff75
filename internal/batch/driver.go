// Package batch converts a directory of stored frames with a shared
// RegionTransform and a bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/radar-regrid/internal/adapter/rawfile"
	"github.com/couchcryptid/radar-regrid/internal/catalog"
	"github.com/couchcryptid/radar-regrid/internal/domain"
	"github.com/couchcryptid/radar-regrid/internal/observability"
	"github.com/couchcryptid/radar-regrid/internal/pipeline"
)

// Catalog tracks conversions across runs. A nil Catalog converts everything.
type Catalog interface {
	IsDone(ctx context.Context, source, profile string) (bool, error)
	Record(ctx context.Context, f catalog.Frame) error
}

// Options control a batch run.
type Options struct {
	InputDir    string
	OutputDir   string
	Pattern     string // glob on file names; empty selects .bin/.raw frames, gzipped or not
	Workers     int
	Profile     string // catalog key for the profile in use
	HeaderBytes int
	Force       bool // reconvert frames the catalog marks done
}

// Outcomes counted per frame, also used as metric labels.
const (
	outcomeConverted = "converted"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// Summary reports the outcome of a run.
type Summary struct {
	RunID     string
	Converted int
	Skipped   int
	Failed    int
	Duration  time.Duration
	Failures  map[string]string // source -> error
}

// Driver runs batch conversions.
type Driver struct {
	rt      *domain.RegionTransform
	catalog Catalog
	opts    Options
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewDriver creates a Driver. Workers below 1 are treated as 1.
func NewDriver(rt *domain.RegionTransform, cat Catalog, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Driver {
	opts.Workers = max(opts.Workers, 1)
	return &Driver{rt: rt, catalog: cat, opts: opts, metrics: metrics, logger: logger}
}

// Run converts every matching frame under InputDir. Individual failures are
// recorded and counted; they never stop other workers. Cancelling ctx stops
// dispatching new frames and Run returns the context error with the partial summary.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString(), Failures: map[string]string{}}
	logger := d.logger.With("run_id", sum.RunID)

	sources, err := d.discover()
	if err != nil {
		return sum, err
	}
	logger.Info("batch run started", "frames", len(sources), "workers", d.opts.Workers, "input", d.opts.InputDir)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.opts.Workers)

	record := func(status, rel string, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch status {
		case outcomeConverted:
			sum.Converted++
		case outcomeSkipped:
			sum.Skipped++
		case outcomeFailed:
			sum.Failed++
			sum.Failures[rel] = err.Error()
		}
		d.metrics.DriverFrames.WithLabelValues(status).Inc()
	}

	for _, rel := range sources {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			status, err := d.convert(ctx, sum.RunID, rel)
			if err != nil {
				logger.Warn("frame conversion failed", "path", rel, "error", err)
			}
			record(status, rel, err)
			return nil
		})
	}
	_ = g.Wait()

	sum.Duration = time.Since(start)
	logger.Info("batch run finished",
		"converted", sum.Converted, "skipped", sum.Skipped, "failed", sum.Failed, "duration", sum.Duration)
	return sum, ctx.Err()
}

// discover lists matching frames as paths relative to InputDir, in lexical order.
func (d *Driver) discover() ([]string, error) {
	var out []string
	err := filepath.WalkDir(d.opts.InputDir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		ok, err := d.matches(e.Name())
		if err != nil || !ok {
			return err
		}
		rel, err := filepath.Rel(d.opts.InputDir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", d.opts.InputDir, err)
	}
	return out, nil
}

func (d *Driver) matches(name string) (bool, error) {
	if d.opts.Pattern == "" {
		return rawfile.IsFrameFile(name), nil
	}
	ok, err := filepath.Match(d.opts.Pattern, name)
	if err != nil {
		return false, fmt.Errorf("pattern %q: %w", d.opts.Pattern, err)
	}
	return ok, nil
}

func (d *Driver) convert(ctx context.Context, runID, rel string) (string, error) {
	if d.catalog != nil && !d.opts.Force {
		done, err := d.catalog.IsDone(ctx, rel, d.opts.Profile)
		if err != nil {
			return outcomeFailed, err
		}
		if done {
			return outcomeSkipped, nil
		}
	}

	out := OutputPath(d.opts.OutputDir, rel)
	frame := catalog.Frame{
		Source:     rel,
		Profile:    d.opts.Profile,
		FrameID:    domain.FrameID(rel),
		RunID:      runID,
		OutputPath: out,
	}

	convErr := d.regrid(rel, &frame)
	if convErr != nil {
		frame.Status, frame.Error = catalog.StatusFailed, convErr.Error()
	} else {
		frame.Status = catalog.StatusDone
	}
	if d.catalog != nil {
		if err := d.catalog.Record(ctx, frame); err != nil {
			return outcomeFailed, errors.Join(convErr, err)
		}
	}
	if convErr != nil {
		return outcomeFailed, convErr
	}
	return outcomeConverted, nil
}

func (d *Driver) regrid(rel string, frame *catalog.Frame) error {
	g, err := pipeline.RegridFile(d.rt, filepath.Join(d.opts.InputDir, filepath.FromSlash(rel)), d.opts.HeaderBytes)
	if err != nil {
		return err
	}
	notice := domain.FrameNotice{FrameID: frame.FrameID, Location: rel}
	event := domain.NewRegriddedFrame(notice, frame.OutputPath, d.rt, g)
	if err := rawfile.Write(frame.OutputPath, g, pipeline.SidecarFor(event)); err != nil {
		return err
	}
	frame.Max, frame.Mean = event.Stats.Max, event.Stats.Mean
	return nil
}

// OutputPath mirrors rel under dir and appends .f32 to the full source name,
// so x.bin, x.raw and x.bin.gz never share an output.
func OutputPath(dir, rel string) string {
	return filepath.Join(dir, filepath.FromSlash(rel)+".f32")
}
