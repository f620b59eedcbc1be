package terrain

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoreyShupe/BentoBox/internal/grid"
	"github.com/CoreyShupe/BentoBox/internal/registry"
)

func TestStore_MaterializeAndBlocks(t *testing.T) {
	s := NewStore()
	c := grid.Cell{World: "w", X: -1, Y: 64, Z: 17}
	assert.False(t, s.IsChunkMaterialized(c))
	assert.True(t, s.GetBlock(c).IsEmpty())

	s.SetBlock(c, Stone)
	assert.True(t, s.IsChunkMaterialized(c))
	assert.True(t, s.IsChunkMaterialized(grid.Cell{World: "w", X: -16, Z: 31}), "same chunk")
	assert.False(t, s.IsChunkMaterialized(grid.Cell{World: "other", X: -1, Z: 17}))
	assert.Equal(t, Stone, s.GetBlock(c).Material)

	s.SetBlock(c, Air)
	assert.True(t, s.GetBlock(c).IsEmpty())
	assert.Equal(t, []ChunkKey{{World: "w", CX: -1, CZ: 1}}, s.LoadedChunkKeys())
}

func TestStore_FetchColumnSeesNeighbourChunks(t *testing.T) {
	s := NewStore()
	s.SetBlock(grid.Cell{World: "w", X: 16, Y: 10, Z: 0}, Water)

	col, err := s.FetchColumn(context.Background(), grid.Cell{World: "w", X: 15, Y: 10, Z: 0})
	require.NoError(t, err)
	assert.Equal(t, Water, Relative(col, 15, 10, 0, East).Material)
	assert.True(t, Relative(col, 15, 10, 0, West).IsEmpty())
	assert.True(t, s.IsChunkMaterialized(grid.Cell{World: "w", X: 15, Z: 0}), "fetch materializes")
}

func TestStore_FetchColumnHonoursContext(t *testing.T) {
	s := NewStore()
	s.FetchDelay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.FetchColumn(ctx, grid.Cell{World: "w"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFaces_AreSixUnitSteps(t *testing.T) {
	seen := map[[3]int]bool{}
	for _, f := range Faces {
		dx, dy, dz := f.Delta()
		assert.Equal(t, 1, grid.AbsInt(dx)+grid.AbsInt(dy)+grid.AbsInt(dz), f.String())
		seen[[3]int{dx, dy, dz}] = true
	}
	assert.Len(t, seen, 6)
}

func TestThrottled_LimitsFetches(t *testing.T) {
	s := NewStore()
	th := NewThrottled(s, 1, 1)
	ctx := context.Background()
	_, err := th.FetchColumn(ctx, grid.Cell{World: "w"})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = th.FetchColumn(short, grid.Cell{World: "w"})
	assert.Error(t, err, "second fetch should wait for a token")
}

func TestRouter(t *testing.T) {
	a := NewStore()
	a.Materialize(grid.Cell{World: "a"})
	r := Router{"a": a}
	assert.True(t, r.IsChunkMaterialized(grid.Cell{World: "a"}))
	assert.False(t, r.IsChunkMaterialized(grid.Cell{World: "b"}))
	_, err := r.FetchColumn(context.Background(), grid.Cell{World: "b"})
	assert.Error(t, err)
}

func TestSnapshot_WriteRead(t *testing.T) {
	s := NewStore()
	s.SetBlock(grid.Cell{World: "w", X: 3, Y: 5, Z: -2}, Log)
	s.SetBlock(grid.Cell{World: "w", X: 40, Y: 0, Z: 40}, Water)
	s.Materialize(grid.Cell{World: "n", X: 0, Z: 0})

	path := filepath.Join(t.TempDir(), "terrain.snap.zst")
	require.NoError(t, WriteSnapshot(path, s.Export()))

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, SnapshotHeaderV1{Version: 1, Chunks: 3}, h)

	snap, err := ReadSnapshot(path)
	require.NoError(t, err)
	got, err := Import(snap)
	require.NoError(t, err)
	assert.Equal(t, s.LoadedChunkKeys(), got.LoadedChunkKeys())
	assert.Equal(t, Log, got.GetBlock(grid.Cell{World: "w", X: 3, Y: 5, Z: -2}).Material)
	assert.Equal(t, Water, got.GetBlock(grid.Cell{World: "w", X: 40, Y: 0, Z: 40}).Material)
}

func TestImport_RejectsBadShape(t *testing.T) {
	_, err := Import(SnapshotV1{Header: SnapshotHeaderV1{Version: 2}})
	assert.Error(t, err)
	_, err = Import(SnapshotV1{
		Header: SnapshotHeaderV1{Version: 1},
		Chunks: []ChunkV1{{World: "w", Blocks: []BlockV1{{LX: 16, Material: Stone}}}},
	})
	assert.Error(t, err)
}

func TestPlatformPaster(t *testing.T) {
	s := NewStore()
	p := &PlatformPaster{Store: s}
	plot := registry.Plot{World: "w", Center: grid.Cell{World: "w", X: 200, Y: 120, Z: -200}, Range: 100}

	type result struct {
		spawn *grid.Cell
		err   error
	}
	ch := make(chan result, 1)
	p.Paste(context.Background(), plot, "default", func(spawn *grid.Cell, err error) { ch <- result{spawn, err} })
	r := <-ch
	require.NoError(t, r.err)
	require.NotNil(t, r.spawn)
	assert.Equal(t, plot.Center, *r.spawn)
	assert.Equal(t, Grass, s.GetBlock(plot.Center.Offset(3, -1, -3)).Material)
	assert.Equal(t, Bedrock, s.GetBlock(plot.Center.Offset(0, -3, 0)).Material)

	p.Paste(context.Background(), plot, "missing", func(spawn *grid.Cell, err error) { ch <- result{spawn, err} })
	r = <-ch
	assert.Error(t, r.err)
	assert.Nil(t, r.spawn)
}

func TestPlatformPaster_Clear(t *testing.T) {
	s := NewStore()
	p := &PlatformPaster{Store: s}
	plot := registry.Plot{World: "w", Center: grid.Cell{World: "w", X: 10, Y: 80, Z: 10}, Range: 100}

	pasted := make(chan error, 1)
	p.Paste(context.Background(), plot, "sand", func(_ *grid.Cell, err error) { pasted <- err })
	require.NoError(t, <-pasted)
	require.Equal(t, Sand, s.GetBlock(plot.Center.Offset(-3, -1, 3)).Material)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cleared := make(chan error, 1)
	p.Clear(ctx, plot, func(err error) { cleared <- err })
	require.NoError(t, <-cleared)
	for _, off := range [][3]int{{0, -3, 0}, {2, -2, -2}, {-3, -1, 3}, {3, -1, 3}} {
		assert.True(t, s.GetBlock(plot.Center.Offset(off[0], off[1], off[2])).IsEmpty(), "block at %v", off)
	}
}
