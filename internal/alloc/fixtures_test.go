package alloc

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CoreyShupe/BentoBox/internal/config"
	"github.com/CoreyShupe/BentoBox/internal/grid"
	"github.com/CoreyShupe/BentoBox/internal/registry"
	"github.com/CoreyShupe/BentoBox/internal/terrain"
)

func testConfig() config.Config {
	cfg := config.Config{
		DefaultWorldID: "w",
		Worlds: []config.WorldSpec{
			{ID: "w", Distance: 10, Height: 50, TeleportOnCreate: true, ResetDeathsOnNewIsland: true},
			{ID: "quiet", Distance: 10, Height: 50, KeepPreviousOnReset: true},
			{ID: "own", Distance: 10, Height: 50, UseOwnGenerator: true},
		},
	}
	cfg.Normalize()
	return cfg
}

func discardLog() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestRegistry(cfg config.Config) *registry.Memory {
	return registry.NewMemory(func(world string) int {
		w, _ := cfg.WorldByID(world)
		return w.Distance
	})
}

func cell(world string, x, z int) grid.Cell {
	return grid.Cell{World: world, X: x, Y: 50, Z: z}
}

// fixedProber answers every cell with the same classification.
type fixedProber struct {
	class Classification
	mu    sync.Mutex
	seen  []grid.Cell
}

func (p *fixedProber) Classify(ctx context.Context, c grid.Cell) (Classification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, c)
	return p.class, nil
}

// failingTerrain says every chunk exists and fails every fetch.
type failingTerrain struct{ err error }

func (f failingTerrain) IsChunkMaterialized(grid.Cell) bool { return true }

func (f failingTerrain) FetchColumn(context.Context, grid.Cell) (terrain.Column, error) {
	return nil, f.err
}

// cellStrategy hands out a fixed cell, optionally waiting on gate first.
type cellStrategy struct {
	cell    grid.Cell
	err     error
	entered chan struct{}
	gate    chan struct{}
	calls   int
	mu      sync.Mutex
}

func (s *cellStrategy) FindFreeCell(ctx context.Context, world string) (grid.Cell, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.entered != nil {
		close(s.entered)
	}
	if s.gate != nil {
		<-s.gate
	}
	return s.cell, s.err
}

func (s *cellStrategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	// abortAt makes the listener ask to abort at that phase.
	abortAt Phase
}

func (r *recorder) OnAllocationEvent(ctx context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if r.abortAt != "" && ev.Phase == r.abortAt {
		return ErrAbort
	}
	return nil
}

func (r *recorder) Phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Phase)
	}
	return out
}

func (r *recorder) Last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fakeTeleporter struct {
	mu         sync.Mutex
	online     map[uuid.UUID]bool
	teleported []uuid.UUID
	notified   map[uuid.UUID][]string
}

func newFakeTeleporter(online ...uuid.UUID) *fakeTeleporter {
	t := &fakeTeleporter{online: map[uuid.UUID]bool{}, notified: map[uuid.UUID][]string{}}
	for _, id := range online {
		t.online[id] = true
	}
	return t
}

func (t *fakeTeleporter) IsOnline(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[id]
}

func (t *fakeTeleporter) TeleportHome(ctx context.Context, world string, id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teleported = append(t.teleported, id)
	return nil
}

func (t *fakeTeleporter) Notify(id uuid.UUID, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notified[id] = append(t.notified[id], key)
}

func (t *fakeTeleporter) Teleported() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uuid.UUID(nil), t.teleported...)
}

func (t *fakeTeleporter) Notified(id uuid.UUID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.notified[id]...)
}

// errPaster fails every paste.
type errPaster struct{ err error }

func (p errPaster) Paste(ctx context.Context, plot registry.Plot, bundle string, done func(*grid.Cell, error)) {
	go done(nil, p.err)
}

// doneChan returns a Request.Done callback and the channel it reports to.
func doneChan() (func(registry.Plot, error), <-chan Result) {
	ch := make(chan Result, 1)
	return func(p registry.Plot, err error) { ch <- Result{Plot: p, Err: err} }, ch
}

func waitDone(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-testTimeout():
		t.Fatalf("timed out waiting for paste to finish")
	}
	return Result{}
}

func testTimeout() <-chan time.Time { return time.After(2 * time.Second) }
