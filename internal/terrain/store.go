package terrain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CoreyShupe/BentoBox/internal/grid"
)

// Store is an in-memory terrain. A chunk exists once it has been written to
// or fetched; unknown chunks read as air.
type Store struct {
	mu     sync.RWMutex
	chunks map[ChunkKey]*Chunk

	// FetchDelay simulates disk or generator latency on FetchColumn.
	FetchDelay time.Duration
}

func NewStore() *Store {
	return &Store{chunks: map[ChunkKey]*Chunk{}}
}

func (s *Store) IsChunkMaterialized(c grid.Cell) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chunks[KeyOf(c)]
	return ok
}

// Materialize creates an empty chunk at c if none exists.
func (s *Store) Materialize(c grid.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(KeyOf(c))
}

func (s *Store) getOrCreateLocked(k ChunkKey) *Chunk {
	ch, ok := s.chunks[k]
	if !ok {
		ch = newChunk(k)
		s.chunks[k] = ch
	}
	return ch
}

func (s *Store) GetBlock(c grid.Cell) Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockLocked(c.World, c.X, c.Y, c.Z)
}

func (s *Store) blockLocked(world string, x, y, z int) Block {
	ch, ok := s.chunks[ChunkKey{World: world, CX: grid.FloorDiv(x, ChunkSize), CZ: grid.FloorDiv(z, ChunkSize)}]
	if !ok {
		return Block{Material: Air}
	}
	return Block{Material: ch.get(grid.Mod(x, ChunkSize), y, grid.Mod(z, ChunkSize))}
}

func (s *Store) SetBlock(c grid.Cell, m Material) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.getOrCreateLocked(KeyOf(c))
	ch.set(grid.Mod(c.X, ChunkSize), c.Y, grid.Mod(c.Z, ChunkSize), m)
}

// FetchColumn loads (materializing if needed) the chunk holding c and returns
// a live view of the world it belongs to.
func (s *Store) FetchColumn(ctx context.Context, c grid.Cell) (Column, error) {
	if s.FetchDelay > 0 {
		t := time.NewTimer(s.FetchDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Materialize(c)
	return storeView{s: s, world: c.World}, nil
}

func (s *Store) LoadedChunkKeys() []ChunkKey {
	s.mu.RLock()
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].World != keys[j].World {
			return keys[i].World < keys[j].World
		}
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

type storeView struct {
	s     *Store
	world string
}

func (v storeView) BlockAt(x, y, z int) Block {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.blockLocked(v.world, x, y, z)
}
