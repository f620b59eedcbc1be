package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CoreyShupe/BentoBox/internal/grid"
)

var ErrNotFound = errors.New("plot not found")

// ConflictError is returned when an insert would overlap a plot that is
// already registered or being deleted.
type ConflictError struct {
	Cell     grid.Cell
	Existing uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("plot at %s conflicts with %s", e.Cell, e.Existing)
}

// Memory is a process-local plot registry. Inserts are atomic: two inserts
// for overlapping areas cannot both succeed.
type Memory struct {
	mu sync.RWMutex

	rangeFor func(world string) int
	now      func() time.Time

	plots    map[uuid.UUID]Plot
	deleting map[uuid.UUID]Plot
	last     map[string]grid.Cell
}

// NewMemory builds a registry. rangeFor returns the island distance of a
// world and sizes every inserted plot.
func NewMemory(rangeFor func(world string) int) *Memory {
	return &Memory{
		rangeFor: rangeFor,
		now:      time.Now,
		plots:    map[uuid.UUID]Plot{},
		deleting: map[uuid.UUID]Plot{},
		last:     map[string]grid.Cell{},
	}
}

func (m *Memory) FindPlotContaining(c grid.Cell) (Plot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.plots {
		if p.Contains(c) {
			return p, true
		}
	}
	return Plot{}, false
}

func (m *Memory) IsUnderDeletion(c grid.Cell) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.deleting {
		if p.Contains(c) {
			return true
		}
	}
	return false
}

// InsertPlot registers a plot centred at c for owner. A reserved plot at the
// same centre held by the same owner is taken over instead of conflicting.
func (m *Memory) InsertPlot(ctx context.Context, c grid.Cell, owner uuid.UUID) (Plot, error) {
	return m.insert(ctx, c, owner, false)
}

// Reserve inserts a plot that is held for owner but not yet pasted. It does
// not move the world's last known cell, so a reservation off the spiral
// leaves later searches where they were.
func (m *Memory) Reserve(ctx context.Context, c grid.Cell, owner uuid.UUID) (Plot, error) {
	return m.insert(ctx, c, owner, true)
}

func (m *Memory) insert(ctx context.Context, c grid.Cell, owner uuid.UUID, reserve bool) (Plot, error) {
	if err := ctx.Err(); err != nil {
		return Plot{}, err
	}
	rng := m.rangeFor(c.World)
	if rng <= 0 {
		return Plot{}, fmt.Errorf("world %q has no island distance", c.World)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.plots {
		if !p.Overlaps(c, rng) {
			continue
		}
		if p.Reserved && p.Owner == owner && owner != uuid.Nil && p.Center == c {
			if reserve {
				return p, nil
			}
			p.Reserved = false
			m.plots[id] = p
			m.last[c.World] = c
			return p, nil
		}
		return Plot{}, &ConflictError{Cell: c, Existing: p.ID}
	}
	for _, p := range m.deleting {
		if p.Overlaps(c, rng) {
			return Plot{}, &ConflictError{Cell: c, Existing: p.ID}
		}
	}

	p := Plot{
		ID:        uuid.New(),
		World:     c.World,
		Center:    c,
		Range:     rng,
		Owner:     owner,
		Reserved:  reserve,
		CreatedAt: m.now(),
	}
	m.plots[p.ID] = p
	if !reserve {
		m.last[c.World] = c
	}
	return p, nil
}

func (m *Memory) ReservedPlotFor(world string, owner uuid.UUID) (Plot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.plots {
		if p.World == world && p.Owner == owner && p.Reserved {
			return p, true
		}
	}
	return Plot{}, false
}

// PlotFor returns the newest non-reserved plot owned by owner in world.
func (m *Memory) PlotFor(world string, owner uuid.UUID) (Plot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  Plot
		found bool
	)
	for _, p := range m.plots {
		if p.World != world || p.Owner != owner || p.Reserved {
			continue
		}
		if !found || p.CreatedAt.After(best.CreatedAt) {
			best, found = p, true
		}
	}
	return best, found
}

func (m *Memory) Get(id uuid.UUID) (Plot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plots[id]
	return p, ok
}

func (m *Memory) LastKnownCellFor(world string) (grid.Cell, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.last[world]
	return c, ok
}

func (m *Memory) SetSpawn(id uuid.UUID, spawn grid.Cell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plots[id]
	if !ok {
		return ErrNotFound
	}
	p.Spawn = &spawn
	m.plots[id] = p
	return nil
}

// DeletePlot removes the plot and keeps its area marked as under deletion
// until CompleteDeletion is called.
func (m *Memory) DeletePlot(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plots[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.plots, id)
	m.deleting[id] = p
	return nil
}

// RemovePlot drops a plot without marking its area, for rolling back a
// registration nothing was built on.
func (m *Memory) RemovePlot(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plots[id]; !ok {
		return ErrNotFound
	}
	delete(m.plots, id)
	return nil
}

// CompleteDeletion frees the area of a plot removed with DeletePlot.
func (m *Memory) CompleteDeletion(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deleting, id)
}

// Plots lists the plots of a world, oldest first.
func (m *Memory) Plots(world string) []Plot {
	m.mu.RLock()
	out := make([]Plot, 0, len(m.plots))
	for _, p := range m.plots {
		if p.World == world {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.plots)
}
