package alloc

import (
	"sync"

	"github.com/CoreyShupe/BentoBox/internal/grid"
)

// ReservationTable holds cells that a search has claimed but the registry
// does not hold yet. A Free probe result is only trusted once TryClaim wins.
type ReservationTable struct {
	mu    sync.Mutex
	cells map[grid.Cell]struct{}
}

func NewReservationTable() *ReservationTable {
	return &ReservationTable{cells: map[grid.Cell]struct{}{}}
}

// TryClaim inserts c and reports whether it was absent.
func (t *ReservationTable) TryClaim(c grid.Cell) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.cells[c]; ok {
		return false
	}
	t.cells[c] = struct{}{}
	return true
}

func (t *ReservationTable) Release(c grid.Cell) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cells, c)
}

func (t *ReservationTable) Contains(c grid.Cell) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.cells[c]
	return ok
}

func (t *ReservationTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cells)
}
