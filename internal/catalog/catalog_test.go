package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/couchcryptid/radar-regrid/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndIsDone(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	done, err := s.IsDone(ctx, "2026/07/a.bin", "composite-2km")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.Record(ctx, Frame{Source: "2026/07/a.bin", Profile: "composite-2km", RunID: "r1", Status: StatusFailed, Error: "truncated"}))
	done, err = s.IsDone(ctx, "2026/07/a.bin", "composite-2km")
	require.NoError(t, err)
	assert.False(t, done, "failed attempts are retried")

	require.NoError(t, s.Record(ctx, Frame{Source: "2026/07/a.bin", Profile: "composite-2km", RunID: "r2", Status: StatusDone, Max: 2}))
	done, err = s.IsDone(ctx, "2026/07/a.bin", "composite-2km")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = s.IsDone(ctx, "2026/07/a.bin", "other-profile")
	require.NoError(t, err)
	assert.False(t, done, "status is tracked per profile")

	f, err := s.Get(ctx, "2026/07/a.bin", "composite-2km")
	require.NoError(t, err)
	assert.Equal(t, "r2", f.RunID)
	assert.Empty(t, f.Error)
	assert.InDelta(t, 2.0, f.Max, 0)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1, "re-recording replaces the earlier attempt")
}

func TestStore_Get_NotFound(t *testing.T) {
	_, err := openTestStore(t).Get(context.Background(), "missing.bin", "p")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestStore_ListAndRunCounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, f := range []Frame{
		{Source: "c.bin", Profile: "p", RunID: "run-1", Status: StatusDone},
		{Source: "a.bin", Profile: "p", RunID: "run-1", Status: StatusDone},
		{Source: "b.bin", Profile: "p", RunID: "run-1", Status: StatusFailed},
		{Source: "d.bin", Profile: "p", RunID: "run-2", Status: StatusDone},
	} {
		require.NoError(t, s.Record(ctx, f))
	}

	done, err := s.List(ctx, StatusDone)
	require.NoError(t, err)
	require.Len(t, done, 3)
	assert.Equal(t, "a.bin", done[0].Source)
	assert.Equal(t, "c.bin", done[1].Source)

	counts, err := s.RunCounts(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{StatusDone: 2, StatusFailed: 1}, counts)
}

func TestStore_TimestampsUseClock(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Record(ctx, Frame{Source: "a.bin", Profile: "p", Status: StatusDone}))

	f, err := s.Get(ctx, "a.bin", "p")
	require.NoError(t, err)
	assert.True(t, f.CreatedAt.Equal(fake.Now()), "created_at %v", f.CreatedAt)
}
