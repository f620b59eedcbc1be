package alloc

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/CoreyShupe/BentoBox/internal/config"
	"github.com/CoreyShupe/BentoBox/internal/grid"
	"github.com/CoreyShupe/BentoBox/internal/registry"
	"github.com/CoreyShupe/BentoBox/internal/terrain"
)

type Classification int

const (
	Occupied Classification = iota + 1
	BlockedTerrain
	Free
)

func (c Classification) String() string {
	switch c {
	case Occupied:
		return "OCCUPIED"
	case BlockedTerrain:
		return "BLOCKED_TERRAIN"
	case Free:
		return "FREE"
	}
	return fmt.Sprintf("Classification(%d)", int(c))
}

// Registry is the plot store the allocator reads and writes.
type Registry interface {
	FindPlotContaining(c grid.Cell) (registry.Plot, bool)
	IsUnderDeletion(c grid.Cell) bool
	InsertPlot(ctx context.Context, c grid.Cell, owner uuid.UUID) (registry.Plot, error)
	LastKnownCellFor(world string) (grid.Cell, bool)
	ReservedPlotFor(world string, owner uuid.UUID) (registry.Plot, bool)
	Reserve(ctx context.Context, c grid.Cell, owner uuid.UUID) (registry.Plot, error)
	SetSpawn(id uuid.UUID, spawn grid.Cell) error
	DeletePlot(ctx context.Context, id uuid.UUID) error
	CompleteDeletion(id uuid.UUID)
	RemovePlot(id uuid.UUID) error
}

// Terrain answers whether chunks exist and loads them.
type Terrain interface {
	IsChunkMaterialized(c grid.Cell) bool
	FetchColumn(ctx context.Context, c grid.Cell) (terrain.Column, error)
}

type WorldLookup func(id string) (config.WorldSpec, bool)

// Prober classifies one candidate cell.
type Prober interface {
	Classify(ctx context.Context, c grid.Cell) (Classification, error)
}

// Probe classifies cells against the registry first and the terrain only
// when some of the island footprint has been materialized.
type Probe struct {
	reg     Registry
	terrain Terrain
	worlds  WorldLookup
	log     *log.Logger
}

func NewProbe(reg Registry, t Terrain, worlds WorldLookup, logger *log.Logger) *Probe {
	return &Probe{reg: reg, terrain: t, worlds: worlds, log: logger}
}

func (p *Probe) Classify(ctx context.Context, c grid.Cell) (Classification, error) {
	if p.occupied(c) {
		return Occupied, nil
	}
	w, ok := p.worlds(c.World)
	if !ok {
		return 0, fmt.Errorf("classify %s: %w", c, ErrUnknownWorld)
	}

	generated := false
	for _, pt := range Footprint(c, w.Distance) {
		if p.occupied(pt) {
			return Occupied, nil
		}
		if p.terrain.IsChunkMaterialized(pt) {
			generated = true
		}
	}
	// Terrain nobody has loaded yet is empty.
	if !generated || w.UseOwnGenerator {
		return Free, nil
	}

	col, err := p.terrain.FetchColumn(ctx, c)
	if err != nil {
		return 0, &TerrainFetchError{Cell: c, Err: err}
	}
	if !obstructed(col, c) {
		return Free, nil
	}
	p.recordObstruction(ctx, c)
	return BlockedTerrain, nil
}

func (p *Probe) occupied(c grid.Cell) bool { return cellTaken(p.reg, c) }

// cellTaken reports whether a plot, live or being deleted, covers c.
func cellTaken(reg Registry, c grid.Cell) bool {
	if _, ok := reg.FindPlotContaining(c); ok {
		return true
	}
	return reg.IsUnderDeletion(c)
}

// footprintTaken runs cellTaken over the island footprint of c.
func footprintTaken(reg Registry, c grid.Cell, distance int) bool {
	for _, pt := range Footprint(c, distance) {
		if cellTaken(reg, pt) {
			return true
		}
	}
	return false
}

// recordObstruction registers an unowned plot over debris so later searches
// stop at the registry check instead of loading the chunk again.
func (p *Probe) recordObstruction(ctx context.Context, c grid.Cell) {
	if _, err := p.reg.InsertPlot(ctx, c, uuid.Nil); err != nil && p.log != nil {
		p.log.Printf("probe: record obstruction at %s: %v", c, err)
	}
}

// Footprint is the cell plus the four corner columns of an island of the
// given distance centred on it.
func Footprint(c grid.Cell, distance int) [5]grid.Cell {
	d := distance
	return [5]grid.Cell{
		c,
		c.Offset(-d, 0, -d),
		c.Offset(-d, 0, d-1),
		c.Offset(d-1, 0, -d),
		c.Offset(d-1, 0, d-1),
	}
}

func obstructed(col terrain.Column, c grid.Cell) bool {
	for _, f := range terrain.Faces {
		b := terrain.Relative(col, c.X, c.Y, c.Z, f)
		if !b.IsEmpty() && b.Material != terrain.Water {
			return true
		}
	}
	return false
}
