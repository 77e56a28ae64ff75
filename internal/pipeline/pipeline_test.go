package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-regrid/internal/domain"
	"github.com/couchcryptid/radar-regrid/internal/observability"
	"github.com/couchcryptid/radar-regrid/internal/pipeline"
)

// --- mocks ---

type mockExtractor struct {
	mu      sync.Mutex
	batches [][]domain.RawEvent
	errs    []error
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	m.mu.Lock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		m.mu.Unlock()
		return nil, err
	}
	if len(m.batches) > 0 {
		b := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return b, nil
	}
	m.mu.Unlock()
	// block until context cancelled to simulate waiting for messages
	<-ctx.Done()
	return nil, ctx.Err()
}

var errCorrupt = errors.New("corrupt frame")

type mockTransformer struct {
	fail map[string]error
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.RegriddedFrame, error) {
	if err := m.fail[string(raw.Key)]; err != nil {
		return domain.RegriddedFrame{}, fmt.Errorf("frame %s: %w", raw.Key, err)
	}
	return domain.RegriddedFrame{FrameID: string(raw.Key), Rows: 2, Cols: 2}, nil
}

type mockLoader struct {
	mu       sync.Mutex
	failures int
	calls    int
	loaded   []domain.RegriddedFrame
}

func (m *mockLoader) LoadBatch(_ context.Context, events []domain.RegriddedFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return errors.New("broker unavailable")
	}
	m.loaded = append(m.loaded, events...)
	return nil
}

func (m *mockLoader) snapshot() []domain.RegriddedFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RegriddedFrame(nil), m.loaded...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func notice(t *testing.T, id string, commits *[]string, mu *sync.Mutex) domain.RawEvent {
	t.Helper()
	data, err := json.Marshal(domain.FrameNotice{FrameID: id, Location: "/frames/" + id + ".bin"})
	require.NoError(t, err)
	raw := domain.RawEvent{Key: []byte(id), Value: data, Topic: "radar-frames-ready"}
	if commits != nil {
		raw.Commit = func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			*commits = append(*commits, id)
			return nil
		}
	}
	return raw
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{{notice(t, "f1", nil, nil), notice(t, "f2", nil, nil)}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), metrics, 10)
	require.Error(t, p.CheckReadiness(context.Background()))

	runFor(t, p, 300*time.Millisecond)

	loaded := ldr.snapshot()
	require.Len(t, loaded, 2)
	assert.Equal(t, "f1", loaded[0].FrameID)
	assert.Equal(t, "f2", loaded[1].FrameID)
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FramesConsumed), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FramesProduced), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{}, &mockTransformer{}, ldr, discardLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.snapshot())
}

func TestPipeline_Run_SkipsFailedFrames(t *testing.T) {
	var (
		mu      sync.Mutex
		commits []string
	)
	ext := &mockExtractor{batches: [][]domain.RawEvent{{
		notice(t, "good", &commits, &mu),
		notice(t, "bad", &commits, &mu),
	}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, &mockTransformer{fail: map[string]error{"bad": errCorrupt}}, ldr, discardLogger(), metrics, 10)
	runFor(t, p, 300*time.Millisecond)

	loaded := ldr.snapshot()
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].FrameID)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FrameOutcomes.WithLabelValues(pipeline.OutcomeRejected)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FrameOutcomes.WithLabelValues(pipeline.OutcomeRegridded)), 0)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"good", "bad"}, commits)
}

func TestPipeline_Run_AllFailedNotReady(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{{notice(t, "bad", nil, nil)}}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{fail: map[string]error{"bad": errCorrupt}}, ldr, discardLogger(), observability.NewMetricsForTesting(), 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Empty(t, ldr.snapshot())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_NoCommitOnLoadFailure(t *testing.T) {
	var (
		mu      sync.Mutex
		commits []string
	)
	ext := &mockExtractor{batches: [][]domain.RawEvent{{notice(t, "f1", &commits, &mu)}}}
	ldr := &mockLoader{failures: 1}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), observability.NewMetricsForTesting(), 10)
	runFor(t, p, 400*time.Millisecond)

	assert.Empty(t, ldr.snapshot())
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, commits, "offsets must stay uncommitted so the frame is redelivered")
}

func TestPipeline_Run_RecoversAfterExtractError(t *testing.T) {
	ext := &mockExtractor{
		errs:    []error{errors.New("broker down")},
		batches: [][]domain.RawEvent{{notice(t, "f1", nil, nil)}},
	}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), observability.NewMetricsForTesting(), 10)
	runFor(t, p, time.Second)

	assert.Len(t, ldr.snapshot(), 1)
}

func TestPipeline_Run_UnavailableFramesAreSkipped(t *testing.T) {
	var (
		mu      sync.Mutex
		commits []string
	)
	ext := &mockExtractor{batches: [][]domain.RawEvent{{
		notice(t, "gone", &commits, &mu),
		notice(t, "good", &commits, &mu),
	}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	gone := fmt.Errorf("%w: status 404", pipeline.ErrFetch)

	p := pipeline.New(ext, &mockTransformer{fail: map[string]error{"gone": gone}}, ldr, discardLogger(), metrics, 10)
	runFor(t, p, 300*time.Millisecond)

	require.Len(t, ldr.snapshot(), 1)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FrameOutcomes.WithLabelValues(pipeline.OutcomeUnavailable)), 0)
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"gone", "good"}, commits)
}

func TestPipeline_Run_MisconfiguredProfileHoldsFrames(t *testing.T) {
	var (
		mu      sync.Mutex
		commits []string
	)
	ext := &mockExtractor{batches: [][]domain.RawEvent{
		{notice(t, "held", &commits, &mu)},
		{notice(t, "after-reload", &commits, &mu)},
	}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	tfm := &mockTransformer{fail: map[string]error{"held": domain.ErrConfiguration}}

	p := pipeline.New(ext, tfm, ldr, discardLogger(), metrics, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.FrameOutcomes.WithLabelValues(pipeline.OutcomeMisconfigured)) == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(ldr.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "after-reload", ldr.snapshot()[0].FrameID)
	require.NoError(t, p.CheckReadiness(context.Background()), "a good batch clears the profile error")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"after-reload"}, commits, "held frames stay uncommitted for redelivery")
}

func TestPipeline_CheckReadiness_MisconfiguredProfile(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{
		{notice(t, "f1", nil, nil)},
		{notice(t, "f2", nil, nil)},
	}}
	tfm := &mockTransformer{fail: map[string]error{"f2": domain.ErrProjection}}

	p := pipeline.New(ext, tfm, &mockLoader{}, discardLogger(), observability.NewMetricsForTesting(), 10)
	runFor(t, p, 150*time.Millisecond)

	err := p.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid profile")
}
