package alloc

import (
	"context"
	"fmt"
	"log"

	"github.com/CoreyShupe/BentoBox/internal/config"
	"github.com/CoreyShupe/BentoBox/internal/grid"
)

// Strategy finds a free, claimed cell for a new island. The claim lives in
// the ReservationTable the strategy was built with.
type Strategy interface {
	FindFreeCell(ctx context.Context, world string) (grid.Cell, error)
}

type SearchResult struct {
	Start grid.Cell
	Cell  grid.Cell
	// Found counts cells held by known plots, Blocked counts cells with
	// unowned terrain, Lost counts Free cells another search claimed first.
	Found   int
	Blocked int
	Lost    int
}

// Search walks the island spiral from the last known island of a world.
type Search struct {
	probe  Prober
	table  *ReservationTable
	reg    Registry
	worlds WorldLookup
	log    *log.Logger
}

func NewSearch(probe Prober, table *ReservationTable, reg Registry, worlds WorldLookup, logger *log.Logger) *Search {
	return &Search{probe: probe, table: table, reg: reg, worlds: worlds, log: logger}
}

// Origin is the first island cell of a world.
func Origin(w config.WorldSpec) grid.Cell {
	return grid.Cell{
		World: w.ID,
		X:     w.XOffset + w.StartX,
		Y:     w.Height,
		Z:     w.ZOffset + w.StartZ,
	}
}

func (s *Search) FindFreeCell(ctx context.Context, world string) (grid.Cell, error) {
	res, err := s.Find(ctx, world)
	return res.Cell, err
}

// Find starts at the last registered island of world, or at its origin.
func (s *Search) Find(ctx context.Context, world string) (SearchResult, error) {
	w, ok := s.worlds(world)
	if !ok {
		return SearchResult{}, fmt.Errorf("find free cell in %q: %w", world, ErrUnknownWorld)
	}
	start, ok := s.reg.LastKnownCellFor(world)
	if !ok {
		start = Origin(w)
	}
	return s.Search(ctx, start)
}

// Search probes start and its spiral successors until one is claimed, the
// blocked ceiling is reached, or a probe fails.
func (s *Search) Search(ctx context.Context, start grid.Cell) (SearchResult, error) {
	res := SearchResult{Start: start}
	w, ok := s.worlds(start.World)
	if !ok {
		return res, fmt.Errorf("search from %s: %w", start, ErrUnknownWorld)
	}
	spacing := w.Spacing()
	ceiling := w.BlockedCeiling
	if ceiling <= 0 {
		ceiling = config.DefaultBlockedCeiling
	}

	cur := start
	for {
		class, err := s.probe.Classify(ctx, cur)
		if err != nil {
			return res, err
		}
		switch class {
		case Occupied:
			res.Found++
		case BlockedTerrain:
			res.Blocked++
			if res.Blocked >= ceiling {
				s.logf("search: no free island spot in %s, is this world empty? blocked=%d max=%d known=%d max=unlimited last=%s",
					w.ID, res.Blocked, ceiling, res.Found, cur)
				return res, &SearchExhaustedError{World: w.ID, Last: cur, Blocked: res.Blocked, Found: res.Found, Ceiling: ceiling}
			}
		case Free:
			if !s.table.TryClaim(cur) {
				res.Lost++
				break
			}
			// A plot registered or deleted after Classify read the registry.
			if footprintTaken(s.reg, cur, w.Distance) {
				s.table.Release(cur)
				res.Found++
				break
			}
			res.Cell = cur
			return res, nil
		default:
			return res, fmt.Errorf("search: probe returned %v for %s", class, cur)
		}
		cur = grid.Next(cur, spacing)
	}
}

func (s *Search) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
