package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoreyShupe/BentoBox/internal/grid"
)

func newTestRegistry() *Memory {
	return NewMemory(func(string) int { return 100 })
}

func TestPlotContains_HalfOpenBounds(t *testing.T) {
	p := Plot{World: "w", Center: grid.Cell{World: "w"}, Range: 100}
	assert.True(t, p.Contains(grid.Cell{World: "w", X: -100, Z: -100}))
	assert.True(t, p.Contains(grid.Cell{World: "w", X: 99, Z: 99}))
	assert.False(t, p.Contains(grid.Cell{World: "w", X: 100, Z: 0}))
	assert.False(t, p.Contains(grid.Cell{World: "other"}))
}

func TestInsertPlot_ConflictsOnOverlap(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	owner := uuid.New()

	p, err := r.InsertPlot(ctx, grid.Cell{World: "w"}, owner)
	require.NoError(t, err)
	assert.Equal(t, 100, p.Range)
	assert.True(t, p.Owned())

	_, err = r.InsertPlot(ctx, grid.Cell{World: "w", X: 150}, uuid.New())
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, p.ID, conflict.Existing)

	// Adjacent grid cell shares no columns.
	_, err = r.InsertPlot(ctx, grid.Cell{World: "w", X: 200}, uuid.New())
	require.NoError(t, err)

	last, ok := r.LastKnownCellFor("w")
	require.True(t, ok)
	assert.Equal(t, grid.Cell{World: "w", X: 200}, last)
}

func TestInsertPlot_ConcurrentSameCellOneWins(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.InsertPlot(ctx, grid.Cell{World: "w"}, uuid.New()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, r.Len())
}

func TestReserve_KeepsLastKnownCell(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	owner := uuid.New()
	_, err := r.InsertPlot(ctx, grid.Cell{World: "w"}, uuid.New())
	require.NoError(t, err)

	held, err := r.Reserve(ctx, grid.Cell{World: "w", X: 2000}, owner)
	require.NoError(t, err)
	assert.True(t, held.Reserved)
	last, ok := r.LastKnownCellFor("w")
	require.True(t, ok)
	assert.Equal(t, grid.Cell{World: "w"}, last)

	again, err := r.Reserve(ctx, grid.Cell{World: "w", X: 2000}, owner)
	require.NoError(t, err)
	assert.Equal(t, held.ID, again.ID)
	assert.Equal(t, 2, r.Len())

	_, err = r.InsertPlot(ctx, grid.Cell{World: "w", X: 2000}, owner)
	require.NoError(t, err)
	last, _ = r.LastKnownCellFor("w")
	assert.Equal(t, grid.Cell{World: "w", X: 2000}, last)
}

func TestReserve_TakenOverBySameOwner(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	owner := uuid.New()
	c := grid.Cell{World: "w", X: 400, Y: 120}

	held, err := r.Reserve(ctx, c, owner)
	require.NoError(t, err)
	got, ok := r.ReservedPlotFor("w", owner)
	require.True(t, ok)
	assert.Equal(t, held.ID, got.ID)

	_, err = r.InsertPlot(ctx, c, uuid.New())
	require.Error(t, err, "another owner must not take a held plot")

	p, err := r.InsertPlot(ctx, c, owner)
	require.NoError(t, err)
	assert.Equal(t, held.ID, p.ID)
	assert.False(t, p.Reserved)
	_, ok = r.ReservedPlotFor("w", owner)
	assert.False(t, ok)

	owned, ok := r.PlotFor("w", owner)
	require.True(t, ok)
	assert.Equal(t, held.ID, owned.ID)
}

func TestDeletePlot_MarksAreaUntilComplete(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	p, err := r.InsertPlot(ctx, grid.Cell{World: "w"}, uuid.New())
	require.NoError(t, err)

	require.NoError(t, r.DeletePlot(ctx, p.ID))
	_, found := r.FindPlotContaining(grid.Cell{World: "w", X: 5})
	assert.False(t, found)
	assert.True(t, r.IsUnderDeletion(grid.Cell{World: "w", X: 5}))

	_, err = r.InsertPlot(ctx, grid.Cell{World: "w"}, uuid.New())
	require.Error(t, err)

	r.CompleteDeletion(p.ID)
	assert.False(t, r.IsUnderDeletion(grid.Cell{World: "w", X: 5}))
	assert.ErrorIs(t, r.DeletePlot(ctx, p.ID), ErrNotFound)
}

func TestRemovePlot_FreesAreaImmediately(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	p, err := r.InsertPlot(ctx, grid.Cell{World: "w"}, uuid.New())
	require.NoError(t, err)

	require.NoError(t, r.RemovePlot(p.ID))
	assert.False(t, r.IsUnderDeletion(grid.Cell{World: "w", X: 5}))
	_, found := r.FindPlotContaining(grid.Cell{World: "w", X: 5})
	assert.False(t, found)
	_, err = r.InsertPlot(ctx, grid.Cell{World: "w"}, uuid.New())
	require.NoError(t, err)
	assert.ErrorIs(t, r.RemovePlot(p.ID), ErrNotFound)
}

func TestSetSpawn(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	p, err := r.InsertPlot(ctx, grid.Cell{World: "w"}, uuid.New())
	require.NoError(t, err)
	require.NoError(t, r.SetSpawn(p.ID, grid.Cell{World: "w", X: 1, Y: 121, Z: 2}))
	got, ok := r.Get(p.ID)
	require.True(t, ok)
	require.NotNil(t, got.Spawn)
	assert.Equal(t, 121, got.Spawn.Y)
	assert.ErrorIs(t, r.SetSpawn(uuid.New(), grid.Cell{}), ErrNotFound)
}
