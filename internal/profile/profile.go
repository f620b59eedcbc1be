package profile

import (
	"sync"

	"github.com/google/uuid"
)

// Home is a teleport target. Coordinates are block-precise plus the half
// block offset used to land in the centre of a block.
type Home struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

type record struct {
	homes  map[string]map[int]Home
	deaths map[string]int
	saves  int
}

// Memory keeps player homes and death counters in process.
type Memory struct {
	mu      sync.Mutex
	players map[uuid.UUID]*record
}

func NewMemory() *Memory {
	return &Memory{players: map[uuid.UUID]*record{}}
}

func (m *Memory) recordLocked(id uuid.UUID) *record {
	r, ok := m.players[id]
	if !ok {
		r = &record{homes: map[string]map[int]Home{}, deaths: map[string]int{}}
		m.players[id] = r
	}
	return r
}

func (m *Memory) ClearHomes(world string, id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recordLocked(id).homes, world)
}

func (m *Memory) SetHome(id uuid.UUID, h Home, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recordLocked(id)
	if r.homes[h.World] == nil {
		r.homes[h.World] = map[int]Home{}
	}
	r.homes[h.World][n] = h
}

func (m *Memory) HomeOf(world string, id uuid.UUID, n int) (Home, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.recordLocked(id).homes[world][n]
	return h, ok
}

func (m *Memory) SetDeaths(world string, id uuid.UUID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(id).deaths[world] = n
}

func (m *Memory) ResetDeaths(world string, id uuid.UUID) { m.SetDeaths(world, id, 0) }

func (m *Memory) Deaths(world string, id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked(id).deaths[world]
}

func (m *Memory) Save(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(id).saves++
	return nil
}

// Saves counts Save calls for id.
func (m *Memory) Saves(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked(id).saves
}
