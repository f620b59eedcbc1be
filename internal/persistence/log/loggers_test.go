package log

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
)

func TestEventLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)
	id := uuid.New()

	evs := []alloc.Event{
		{Seq: 1, Phase: alloc.PhaseReserved, Reason: alloc.ReasonCreate, Requester: id, World: "w", Pos: [3]int{0, 120, 0}},
		{Seq: 2, Phase: alloc.PhaseFailed, Reason: alloc.ReasonCreate, Requester: id, World: "w", Error: "boom", MessageKey: alloc.KeyUnableCreate},
	}
	for _, ev := range evs {
		require.NoError(t, l.OnAllocationEvent(context.Background(), ev))
	}
	require.NoError(t, l.Close())

	files, err := l.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "events"), filepath.Dir(files[0]))

	got, err := ReadEvents(files[0])
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, alloc.PhaseFailed, got[1].Phase)
	assert.Equal(t, alloc.KeyUnableCreate, got[1].MessageKey)
	assert.Equal(t, id, got[0].Requester)
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "test")
	now := time.Date(2026, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	require.NoError(t, w.Write(map[string]int{"n": 1}))
	now = now.Add(2 * time.Minute)
	require.NoError(t, w.Write(map[string]int{"n": 2}))
	require.NoError(t, w.Write(map[string]int{"n": 3}))
	require.NoError(t, w.Close())

	files, err := w.Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "test-2026-05-01-10.jsonl.zst", filepath.Base(files[0]))
	assert.Equal(t, "test-2026-05-01-11.jsonl.zst", filepath.Base(files[1]))

	second, err := ReadEvents(files[1])
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestJSONLZstdWriter_OnRotateReportsFinishedFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "allocations")
	now := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	var finished []string
	w.OnRotate(func(path string) { finished = append(finished, filepath.Base(path)) })

	require.NoError(t, w.Write(alloc.Event{Seq: 1}))
	assert.Empty(t, finished)

	now = now.Add(time.Hour)
	require.NoError(t, w.Write(alloc.Event{Seq: 2}))
	assert.Equal(t, []string{"allocations-2026-05-01-10.jsonl.zst"}, finished)

	require.NoError(t, w.Close())
	assert.Equal(t, []string{
		"allocations-2026-05-01-10.jsonl.zst",
		"allocations-2026-05-01-11.jsonl.zst",
	}, finished)

	// a second Close has nothing left to report
	require.NoError(t, w.Close())
	assert.Len(t, finished, 2)
}

func TestJSONLZstdWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(dir, "allocations")
		w.now = func() time.Time { return now }
		require.NoError(t, w.Write(alloc.Event{Seq: uint64(i + 1)}))
		require.NoError(t, w.Close())
	}

	got, err := ReadEvents(filepath.Join(dir, "allocations-2026-05-01-10.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 2, got[1].Seq)
}
