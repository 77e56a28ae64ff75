package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/radar-regrid/internal/domain"
	"github.com/couchcryptid/radar-regrid/internal/observability"
)

// BatchExtractor reads up to batchSize frame notices from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer regrids the frame announced by a raw event.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.RegriddedFrame, error)
}

// BatchLoader publishes regridded frame events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.RegriddedFrame) error
}

// Frame outcomes, used as the FrameOutcomes metric label.
const (
	OutcomeRegridded     = "regridded"
	OutcomeRejected      = "rejected"      // bad notice or unreadable frame; committed and skipped
	OutcomeUnavailable   = "unavailable"   // fetch failed after retries; committed and skipped
	OutcomeMisconfigured = "misconfigured" // profile cannot build a transform; left uncommitted
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline consumes frame notices, regrids each announced frame, and
// publishes the results. Offsets of published and skipped frames are
// committed; frames held back by a broken profile are not.
type Pipeline struct {
	source    BatchExtractor
	regridder Transformer
	sink      BatchLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
	batchSize int

	published     atomic.Int64
	misconfigured atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		source:    e,
		regridder: t,
		sink:      l,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness reports ready once a frame has been published and the last
// batch was not held back by the grid profile.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if p.misconfigured.Load() {
		return errors.New("grid profile cannot regrid frames")
	}
	if p.published.Load() == 0 {
		return errors.New("pipeline has not regridded any frames yet")
	}
	return nil
}

// Run regrids batches until the context is cancelled. Extract, publish and
// profile failures back off from 200ms up to 5s.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	retry := backoff{next: initialBackoff}
	for ctx.Err() == nil {
		err := p.step(ctx)
		if err == nil {
			retry.reset()
			continue
		}
		if ctx.Err() != nil {
			break
		}
		p.logger.Error("regrid batch failed", "error", err, "backoff", retry.next)
		if !retry.wait(ctx) {
			break
		}
	}
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	return nil
}

// batchResult sorts one batch of notices by what happens to their offsets.
type batchResult struct {
	frames    []domain.RegriddedFrame
	regridded []domain.RawEvent // committed after a successful publish
	skipped   []domain.RawEvent // committed right away
	held      int               // left uncommitted
	heldErr   error
}

// step runs one extract, regrid, publish cycle.
func (p *Pipeline) step(ctx context.Context) error {
	start := time.Now()
	notices, err := p.source.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("extract notices: %w", err)
	}
	if len(notices) == 0 {
		return nil
	}
	p.metrics.FramesConsumed.Add(float64(len(notices)))
	p.metrics.BatchSize.Observe(float64(len(notices)))

	res := p.regridAll(ctx, notices)
	for _, raw := range res.skipped {
		p.commit(ctx, raw)
	}
	p.misconfigured.Store(res.held > 0)

	if len(res.frames) > 0 {
		if err := p.sink.LoadBatch(ctx, res.frames); err != nil {
			return fmt.Errorf("publish %d frames: %w", len(res.frames), err)
		}
		p.metrics.FramesProduced.Add(float64(len(res.frames)))
		for _, f := range res.frames {
			if !f.ObservedAt.IsZero() {
				p.metrics.FrameLatency.Observe(f.ProcessedAt.Sub(f.ObservedAt).Seconds())
			}
		}
		for _, raw := range res.regridded {
			p.commit(ctx, raw)
		}
		p.published.Add(int64(len(res.frames)))
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	}

	p.logger.Info("batch done",
		"notices", len(notices),
		"regridded", len(res.frames),
		"skipped", len(res.skipped),
		"held", res.held,
	)
	if res.held > 0 {
		return fmt.Errorf("%d frames held back: %w", res.held, res.heldErr)
	}
	return nil
}

func (p *Pipeline) regridAll(ctx context.Context, notices []domain.RawEvent) batchResult {
	res := batchResult{frames: make([]domain.RegriddedFrame, 0, len(notices))}
	for _, raw := range notices {
		frame, err := p.regridder.Transform(ctx, raw)
		outcome := classify(err)
		p.metrics.FrameOutcomes.WithLabelValues(outcome).Inc()

		switch outcome {
		case OutcomeRegridded:
			res.frames = append(res.frames, frame)
			res.regridded = append(res.regridded, raw)
		case OutcomeMisconfigured:
			res.held++
			res.heldErr = err
		default:
			p.logger.Warn("skipping frame",
				"outcome", outcome,
				"error", err,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			res.skipped = append(res.skipped, raw)
		}
	}
	return res
}

// classify maps a Transform error to a frame outcome.
func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeRegridded
	case errors.Is(err, domain.ErrConfiguration), errors.Is(err, domain.ErrProjection):
		return OutcomeMisconfigured
	case errors.Is(err, ErrFetch):
		return OutcomeUnavailable
	default:
		return OutcomeRejected
	}
}

func (p *Pipeline) commit(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

// backoff doubles the retry delay up to maxBackoff.
type backoff struct {
	next time.Duration
}

func (b *backoff) reset() { b.next = initialBackoff }

// wait sleeps for the current delay and reports false if ctx ended first.
func (b *backoff) wait(ctx context.Context) bool {
	timer := time.NewTimer(b.next)
	defer timer.Stop()
	b.next = min(b.next*2, maxBackoff)

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
