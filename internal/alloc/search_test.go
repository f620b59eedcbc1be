package alloc

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/CoreyShupe/BentoBox/internal/config"
	"github.com/CoreyShupe/BentoBox/internal/grid"
	"github.com/CoreyShupe/BentoBox/internal/registry"
	"github.com/CoreyShupe/BentoBox/internal/terrain"
)

type searchFixture struct {
	cfg    config.Config
	reg    *registry.Memory
	store  *terrain.Store
	table  *ReservationTable
	search *Search
}

func newSearchFixture() *searchFixture {
	cfg := testConfig()
	reg := newTestRegistry(cfg)
	store := terrain.NewStore()
	table := NewReservationTable()
	probe := NewProbe(reg, store, cfg.WorldByID, discardLog())
	return &searchFixture{
		cfg:    cfg,
		reg:    reg,
		store:  store,
		table:  table,
		search: NewSearch(probe, table, reg, cfg.WorldByID, discardLog()),
	}
}

func spiral(start grid.Cell, spacing, n int) []grid.Cell {
	out := []grid.Cell{start}
	for len(out) < n {
		out = append(out, grid.Next(out[len(out)-1], spacing))
	}
	return out
}

func TestOrigin(t *testing.T) {
	w := config.WorldSpec{ID: "w", Height: 64, StartX: 3, StartZ: -4, XOffset: 1000, ZOffset: 2000}
	assert.Equal(t, grid.Cell{World: "w", X: 1003, Y: 64, Z: 1996}, Origin(w))
}

func TestSearch_EmptyWorldClaimsOrigin(t *testing.T) {
	f := newSearchFixture()

	res, err := f.search.Find(context.Background(), "w")
	require.NoError(t, err)
	assert.Equal(t, cell("w", 0, 0), res.Cell)
	assert.Zero(t, res.Found)
	assert.Zero(t, res.Blocked)
	assert.True(t, f.table.Contains(res.Cell))

	_, inRegistry := f.reg.FindPlotContaining(res.Cell)
	assert.False(t, inRegistry, "search claims cells, it does not register them")
}

func TestSearch_AdvancesPastRegisteredIsland(t *testing.T) {
	f := newSearchFixture()
	ctx := context.Background()

	first, err := f.search.FindFreeCell(ctx, "w")
	require.NoError(t, err)
	_, err = f.reg.InsertPlot(ctx, first, uuid.New())
	require.NoError(t, err)
	f.table.Release(first)

	res, err := f.search.Find(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Found)
	assert.Equal(t, grid.Next(first, 20), res.Cell)
}

func TestSearch_SkipsAndRecordsDebris(t *testing.T) {
	f := newSearchFixture()
	cells := spiral(cell("w", 0, 0), 20, 4)
	for _, c := range cells[:3] {
		f.store.SetBlock(c.Offset(0, -1, 0), terrain.Dirt)
	}

	res, err := f.search.Find(context.Background(), "w")
	require.NoError(t, err)
	assert.Equal(t, cells[3], res.Cell)
	assert.Equal(t, 3, res.Blocked)
	assert.Zero(t, res.Found)

	for _, c := range cells[:3] {
		pl, ok := f.reg.FindPlotContaining(c)
		require.True(t, ok, c.String())
		assert.Equal(t, uuid.Nil, pl.Owner)
	}
}

func TestSearch_BlockedCeiling(t *testing.T) {
	cfg := testConfig()
	reg := newTestRegistry(cfg)
	probe := &fixedProber{class: BlockedTerrain}
	s := NewSearch(probe, NewReservationTable(), reg, cfg.WorldByID, discardLog())

	res, err := s.Search(context.Background(), cell("w", 0, 0))
	var exhausted *SearchExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, config.DefaultBlockedCeiling, exhausted.Blocked)
	assert.Equal(t, config.DefaultBlockedCeiling, exhausted.Ceiling)
	assert.Equal(t, "w", exhausted.World)
	assert.Len(t, probe.seen, config.DefaultBlockedCeiling)
	assert.Equal(t, probe.seen[len(probe.seen)-1], exhausted.Last)
	assert.Equal(t, KeyCannotCreate, MessageKey(err))
	assert.Equal(t, res.Blocked, exhausted.Blocked)
}

func TestSearch_KnownIslandsAreUnbounded(t *testing.T) {
	cfg := testConfig()
	reg := newTestRegistry(cfg)
	ctx := context.Background()
	cells := spiral(cell("w", 0, 0), 20, 60)
	for _, c := range cells[:59] {
		_, err := reg.InsertPlot(ctx, c, uuid.New())
		require.NoError(t, err)
	}
	probe := NewProbe(reg, terrain.NewStore(), cfg.WorldByID, discardLog())
	s := NewSearch(probe, NewReservationTable(), reg, cfg.WorldByID, discardLog())

	res, err := s.Search(ctx, cells[0])
	require.NoError(t, err)
	assert.Equal(t, 59, res.Found)
	assert.Equal(t, cells[59], res.Cell)
}

func TestSearch_LostClaimIsNotCounted(t *testing.T) {
	cfg := testConfig()
	table := NewReservationTable()
	origin := cell("w", 0, 0)
	require.True(t, table.TryClaim(origin))
	s := NewSearch(&fixedProber{class: Free}, table, newTestRegistry(cfg), cfg.WorldByID, discardLog())

	res, err := s.Search(context.Background(), origin)
	require.NoError(t, err)
	assert.Equal(t, grid.Next(origin, 20), res.Cell)
	assert.Equal(t, 1, res.Lost)
	assert.Zero(t, res.Found)
	assert.Zero(t, res.Blocked)
}

func TestSearch_RechecksRegistryAfterClaim(t *testing.T) {
	cfg := testConfig()
	reg := newTestRegistry(cfg)
	table := NewReservationTable()
	origin := cell("w", 0, 0)
	_, err := reg.InsertPlot(context.Background(), origin, uuid.New())
	require.NoError(t, err)
	// The prober read the registry before the insert landed.
	s := NewSearch(&fixedProber{class: Free}, table, reg, cfg.WorldByID, discardLog())

	res, err := s.Search(context.Background(), origin)
	require.NoError(t, err)
	assert.Equal(t, grid.Next(origin, 20), res.Cell)
	assert.Equal(t, 1, res.Found)
	assert.False(t, table.Contains(origin), "claim of a registered cell must be released")
}

func TestSearch_RechecksFootprintAfterClaim(t *testing.T) {
	cfg := testConfig()
	origin := cell("w", 0, 0)
	cases := map[string]func(t *testing.T, reg *registry.Memory){
		"plot over a corner": func(t *testing.T, reg *registry.Memory) {
			// Covers x in [5,25), so the (9,-10) corner but not the centre.
			_, err := reg.InsertPlot(context.Background(), cell("w", 15, 0), uuid.New())
			require.NoError(t, err)
		},
		"area under deletion": func(t *testing.T, reg *registry.Memory) {
			p, err := reg.InsertPlot(context.Background(), origin, uuid.New())
			require.NoError(t, err)
			require.NoError(t, reg.DeletePlot(context.Background(), p.ID))
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			reg := newTestRegistry(cfg)
			setup(t, reg)
			_, found := reg.FindPlotContaining(origin)
			require.False(t, found)
			table := NewReservationTable()
			s := NewSearch(&fixedProber{class: Free}, table, reg, cfg.WorldByID, discardLog())

			res, err := s.Search(context.Background(), origin)
			require.NoError(t, err)
			assert.NotEqual(t, origin, res.Cell)
			assert.GreaterOrEqual(t, res.Found, 1)
			assert.False(t, table.Contains(origin), "claim of a taken cell must be released")
		})
	}
}

func TestSearch_ConcurrentSearchesGetDistinctCells(t *testing.T) {
	cfg := testConfig()
	table := NewReservationTable()
	s := NewSearch(&fixedProber{class: Free}, table, newTestRegistry(cfg), cfg.WorldByID, discardLog())

	const n = 16
	var (
		mu  sync.Mutex
		got = map[grid.Cell]bool{}
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			c, err := s.FindFreeCell(context.Background(), "w")
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if got[c] {
				t.Errorf("cell %s handed out twice", c)
			}
			got[c] = true
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, got, n)
	assert.Equal(t, n, table.Len())
}

func TestSearch_UnknownWorld(t *testing.T) {
	f := newSearchFixture()
	_, err := f.search.Find(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrUnknownWorld)
}
