package alloc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/CoreyShupe/BentoBox/internal/config"
	"github.com/CoreyShupe/BentoBox/internal/grid"
	"github.com/CoreyShupe/BentoBox/internal/profile"
	"github.com/CoreyShupe/BentoBox/internal/registry"
)

type Reason string

const (
	ReasonCreate Reason = "create"
	ReasonReset  Reason = "reset"
)

type Request struct {
	Requester uuid.UUID
	World     string
	Reason    Reason

	// Reserved skips the search and uses a cell already held for the
	// requester.
	Reserved *grid.Cell
	// OldPlot is deleted once a reset has pasted the new island.
	OldPlot *registry.Plot

	Bundle  string
	NoPaste bool

	// Done runs after pasting and clean-up finish, or when pasting fails.
	Done func(registry.Plot, error)
}

type Result struct {
	Plot registry.Plot
	Err  error
}

// Paster fills a registered plot with its starting content.
type Paster interface {
	Paste(ctx context.Context, plot registry.Plot, bundle string, done func(spawn *grid.Cell, err error))
}

// Clearer is implemented by pasters that can remove what they pasted. done
// is called once the blocks are gone.
type Clearer interface {
	Clear(ctx context.Context, plot registry.Plot, done func(err error))
}

type Profiles interface {
	ClearHomes(world string, id uuid.UUID)
	SetHome(id uuid.UUID, h profile.Home, n int)
	ResetDeaths(world string, id uuid.UUID)
	Save(id uuid.UUID) error
}

type Teleporter interface {
	IsOnline(id uuid.UUID) bool
	TeleportHome(ctx context.Context, world string, id uuid.UUID) error
	Notify(id uuid.UUID, key string)
}

type Options struct {
	Config   config.Config
	Registry Registry
	Terrain  Terrain

	// Table and Strategy default to a fresh table and a spiral Search.
	Table    *ReservationTable
	Strategy Strategy

	Paster     Paster
	Profiles   Profiles
	Teleporter Teleporter
	Listener   Listener
	Log        *log.Logger
}

// flight marks one in-progress allocation of a requester.
type flight struct {
	started time.Time
}

// Allocator grants islands, at most one in progress per requester.
type Allocator struct {
	cfg      config.Config
	reg      Registry
	table    *ReservationTable
	strategy Strategy
	paster   Paster
	profiles Profiles
	tp       Teleporter
	listener Listener
	log      *log.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]*flight

	seq atomic.Uint64
}

func New(opts Options) (*Allocator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("alloc: registry is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("alloc: %w", err)
	}
	logger := opts.Log
	if logger == nil {
		logger = log.New(log.Writer(), "[alloc] ", log.LstdFlags|log.Lmicroseconds)
	}
	table := opts.Table
	if table == nil {
		table = NewReservationTable()
	}
	strategy := opts.Strategy
	if strategy == nil {
		if opts.Terrain == nil {
			return nil, fmt.Errorf("alloc: terrain is required for the default search")
		}
		probe := NewProbe(opts.Registry, opts.Terrain, opts.Config.WorldByID, logger)
		strategy = NewSearch(probe, table, opts.Registry, opts.Config.WorldByID, logger)
	}
	return &Allocator{
		cfg:      opts.Config,
		reg:      opts.Registry,
		table:    table,
		strategy: strategy,
		paster:   opts.Paster,
		profiles: opts.Profiles,
		tp:       opts.Teleporter,
		listener: opts.Listener,
		log:      logger,
		inflight: map[uuid.UUID]*flight{},
	}, nil
}

func (a *Allocator) Table() *ReservationTable { return a.table }

func (a *Allocator) InFlight(id uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inflight[id]
	return ok
}

func (a *Allocator) begin(id uuid.UUID) (*flight, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inflight[id]; busy {
		return nil, false
	}
	f := &flight{started: time.Now()}
	a.inflight[id] = f
	return f, true
}

// end clears the marker only if it still belongs to f.
func (a *Allocator) end(id uuid.UUID, f *flight) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inflight[id] == f {
		delete(a.inflight, id)
	}
}

// AllocateAsync runs Allocate on its own goroutine. The channel receives
// exactly one Result.
func (a *Allocator) AllocateAsync(ctx context.Context, req Request) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		p, err := a.Allocate(ctx, req)
		ch <- Result{Plot: p, Err: err}
		close(ch)
	}()
	return ch
}

// Allocate finds, claims and registers a new island for req.Requester. It
// BLOCKS the calling goroutine until the island is registered or the attempt
// fails; pasting continues in the background and is reported to req.Done.
//
// Cancelling ctx does not stop a search that has started; its values are
// still passed to collaborators.
func (a *Allocator) Allocate(ctx context.Context, req Request) (registry.Plot, error) {
	if req.World == "" {
		req.World = a.cfg.DefaultWorldID
	}
	if err := a.validate(req); err != nil {
		return registry.Plot{}, err
	}
	errb := oops.In("alloc").With("requester", req.Requester, "world", req.World, "reason", req.Reason)

	f, ok := a.begin(req.Requester)
	if !ok {
		a.log.Printf("failed to make island for %s: already creating an island", req.Requester)
		err := &ConcurrentCreationError{Requester: req.Requester}
		a.fail(ctx, req, grid.Cell{}, err)
		return registry.Plot{}, errb.Wrapf(err, "allocate island")
	}
	defer a.end(req.Requester, f)

	ctx = context.WithoutCancel(ctx)
	w, _ := a.cfg.WorldByID(req.World)
	bundle := req.Bundle
	if bundle == "" {
		bundle = w.DefaultBundle
	}

	cell, claimed, res, err := a.locate(ctx, req)
	if err != nil {
		a.log.Printf("failed to make island for %s in %s: %v", req.Requester, req.World, err)
		var exhausted *SearchExhaustedError
		if errors.As(err, &exhausted) {
			a.log.Printf("if the world was imported, try multiple times until all unowned islands are known")
		}
		a.fail(ctx, req, grid.Cell{}, err)
		return registry.Plot{}, errb.Wrapf(err, "find island location")
	}
	release := func() {
		if claimed {
			a.table.Release(cell)
		}
	}

	ev := a.event(req, PhaseReserved, cell)
	ev.Bundle = bundle
	ev.Found, ev.Blocked = res.Found, res.Blocked
	if err := a.notify(ctx, ev); err != nil {
		release()
		return registry.Plot{}, errb.Wrapf(a.abort(ctx, req, cell, PhaseReserved, "", err), "reserve island")
	}

	plot, err := a.reg.InsertPlot(ctx, cell, req.Requester)
	// The registry is authoritative from here on, or the cell is abandoned.
	release()
	if err != nil {
		a.log.Printf("failed to make island for %s: island could not be added to the grid at %s: %v", req.Requester, cell, err)
		cerr := &RegistryConflictError{Cell: cell, Err: err}
		a.fail(ctx, req, cell, cerr)
		return registry.Plot{}, errb.Wrapf(cerr, "register island")
	}

	ev = a.event(req, PhaseRegistered, cell)
	ev.PlotID = plot.ID.String()
	ev.Bundle = bundle
	if err := a.notify(ctx, ev); err != nil {
		if derr := a.reg.RemovePlot(plot.ID); derr != nil {
			a.log.Printf("abort: remove registered plot %s: %v", plot.ID, derr)
		}
		return registry.Plot{}, errb.Wrapf(a.abort(ctx, req, cell, PhaseRegistered, plot.ID.String(), err), "register island")
	}

	// Registration is done; pasting must not hold the requester.
	a.end(req.Requester, f)
	a.handOff(ctx, req, w, plot, bundle)
	return plot, nil
}

func (a *Allocator) validate(req Request) error {
	if req.Requester == uuid.Nil {
		return fmt.Errorf("alloc: request has no requester")
	}
	if req.Reason != ReasonCreate && req.Reason != ReasonReset {
		return fmt.Errorf("alloc: reason must be %q or %q, got %q", ReasonCreate, ReasonReset, req.Reason)
	}
	if _, ok := a.cfg.WorldByID(req.World); !ok {
		return fmt.Errorf("alloc: world %q: %w", req.World, ErrUnknownWorld)
	}
	return nil
}

type finder interface {
	Find(ctx context.Context, world string) (SearchResult, error)
}

// locate returns the cell for the new island and whether the search claimed
// it in the reservation table.
func (a *Allocator) locate(ctx context.Context, req Request) (grid.Cell, bool, SearchResult, error) {
	if req.Reserved != nil {
		return *req.Reserved, false, SearchResult{}, nil
	}
	if p, ok := a.reg.ReservedPlotFor(req.World, req.Requester); ok {
		return p.Center, false, SearchResult{}, nil
	}
	return a.find(ctx, req.World)
}

// find runs the search strategy; the returned cell is claimed in the table.
func (a *Allocator) find(ctx context.Context, world string) (grid.Cell, bool, SearchResult, error) {
	if f, ok := a.strategy.(finder); ok {
		res, err := f.Find(ctx, world)
		if err != nil {
			return grid.Cell{}, false, res, err
		}
		return res.Cell, true, res, nil
	}
	c, err := a.strategy.FindFreeCell(ctx, world)
	if err != nil {
		return grid.Cell{}, false, SearchResult{}, err
	}
	return c, true, SearchResult{}, nil
}

// Reserve holds a plot for owner without building anything. The owner's next
// create or reset lands on it. With at nil the cell comes from the search;
// otherwise at is used as given. A second call returns the held plot.
func (a *Allocator) Reserve(ctx context.Context, world string, owner uuid.UUID, at *grid.Cell) (registry.Plot, error) {
	if world == "" {
		world = a.cfg.DefaultWorldID
	}
	if err := a.validate(Request{Requester: owner, World: world, Reason: ReasonCreate}); err != nil {
		return registry.Plot{}, err
	}
	errb := oops.In("alloc").With("requester", owner, "world", world)
	if at != nil && at.World != world {
		return registry.Plot{}, errb.Errorf("reserve %s outside world %q", *at, world)
	}

	f, ok := a.begin(owner)
	if !ok {
		return registry.Plot{}, errb.Wrapf(&ConcurrentCreationError{Requester: owner}, "reserve island")
	}
	defer a.end(owner, f)

	if p, ok := a.reg.ReservedPlotFor(world, owner); ok {
		return p, nil
	}

	var (
		c       grid.Cell
		claimed bool
	)
	if at != nil {
		c = *at
	} else {
		var err error
		c, claimed, _, err = a.find(context.WithoutCancel(ctx), world)
		if err != nil {
			return registry.Plot{}, errb.Wrapf(err, "find island location")
		}
	}
	plot, err := a.reg.Reserve(ctx, c, owner)
	if claimed {
		a.table.Release(c)
	}
	if err != nil {
		return registry.Plot{}, errb.Wrapf(&RegistryConflictError{Cell: c, Err: err}, "reserve island")
	}
	a.log.Printf("reserved %s in %s for %s", plot.Center, world, owner)
	return plot, nil
}

// handOff runs the post-registration steps: homes, stats, then pasting.
func (a *Allocator) handOff(ctx context.Context, req Request, w config.WorldSpec, plot registry.Plot, bundle string) {
	if a.profiles != nil {
		a.profiles.ClearHomes(req.World, req.Requester)
		a.profiles.SetHome(req.Requester, homeAt(plot.Center), 1)
		if w.ResetDeathsOnNewIsland {
			a.profiles.ResetDeaths(req.World, req.Requester)
		}
		if err := a.profiles.Save(req.Requester); err != nil {
			a.log.Printf("save profile %s: %v", req.Requester, err)
		}
	}

	task := func(spawn *grid.Cell, err error) {
		a.afterPaste(ctx, req, w, plot, bundle, spawn, err)
	}
	if req.NoPaste || a.paster == nil {
		go task(nil, nil)
		return
	}
	a.paster.Paste(ctx, plot, bundle, task)
}

func (a *Allocator) afterPaste(ctx context.Context, req Request, w config.WorldSpec, plot registry.Plot, bundle string, spawn *grid.Cell, pasteErr error) {
	if pasteErr != nil {
		a.log.Printf("paste %s for %s failed, keeping previous island: %v", plot.Center, req.Requester, pasteErr)
		a.fail(ctx, req, plot.Center, pasteErr)
		if req.Done != nil {
			req.Done(plot, pasteErr)
		}
		return
	}

	ev := a.event(req, PhasePasted, plot.Center)
	ev.PlotID = plot.ID.String()
	ev.Bundle = bundle
	a.emit(ctx, ev)

	if spawn != nil {
		if err := a.reg.SetSpawn(plot.ID, *spawn); err != nil {
			a.log.Printf("set spawn of %s: %v", plot.ID, err)
		}
		plot.Spawn = spawn
		if a.profiles != nil {
			a.profiles.SetHome(req.Requester, homeAt(*spawn), 1)
		}
	}

	if a.tp != nil && a.tp.IsOnline(req.Requester) {
		if req.Reason == ReasonReset || w.TeleportOnCreate {
			if err := a.tp.TeleportHome(ctx, req.World, req.Requester); err != nil {
				a.log.Printf("teleport %s home: %v", req.Requester, err)
			}
		} else {
			a.tp.Notify(req.Requester, KeyCanTeleport)
		}
	}

	ev = a.event(req, PhaseCompleted, plot.Center)
	ev.PlotID = plot.ID.String()
	if req.Reason == ReasonReset && req.OldPlot != nil {
		ev.OldPlotID = req.OldPlot.ID.String()
		if !w.KeepPreviousOnReset {
			a.deletePrevious(ctx, *req.OldPlot)
		}
	}
	a.emit(ctx, ev)

	if req.Done != nil {
		req.Done(plot, nil)
	}
}

// deletePrevious removes a replaced island. Its area stays marked until the
// paster has cleared the blocks, so no search lands on the debris.
func (a *Allocator) deletePrevious(ctx context.Context, old registry.Plot) {
	if err := a.reg.DeletePlot(ctx, old.ID); err != nil {
		a.log.Printf("delete previous island %s: %v", old.ID, err)
		return
	}
	c, ok := a.paster.(Clearer)
	if !ok {
		a.reg.CompleteDeletion(old.ID)
		return
	}
	c.Clear(ctx, old, func(err error) {
		if err != nil {
			a.log.Printf("clear previous island %s at %s: %v", old.ID, old.Center, err)
		}
		a.reg.CompleteDeletion(old.ID)
	})
}

func homeAt(c grid.Cell) profile.Home {
	return profile.Home{World: c.World, X: float64(c.X) + 0.5, Y: float64(c.Y), Z: float64(c.Z) + 0.5}
}

func (a *Allocator) event(req Request, phase Phase, c grid.Cell) Event {
	ev := Event{
		Seq:       a.seq.Add(1),
		Time:      time.Now().UTC(),
		Phase:     phase,
		Reason:    req.Reason,
		Requester: req.Requester,
		World:     req.World,
	}
	ev.setCell(c)
	if req.OldPlot != nil {
		ev.OldPlotID = req.OldPlot.ID.String()
	}
	return ev
}

// notify delivers an abortable event and returns the listener error only if
// it asks to abort.
func (a *Allocator) notify(ctx context.Context, ev Event) error {
	if a.listener == nil {
		return nil
	}
	err := a.listener.OnAllocationEvent(ctx, ev)
	if err == nil {
		return nil
	}
	if ev.Phase.Abortable() && errors.Is(err, ErrAbort) {
		return err
	}
	a.log.Printf("listener %s #%d: %v", ev.Phase, ev.Seq, err)
	return nil
}

func (a *Allocator) emit(ctx context.Context, ev Event) {
	if a.listener == nil {
		return
	}
	if err := a.listener.OnAllocationEvent(ctx, ev); err != nil {
		a.log.Printf("listener %s #%d: %v", ev.Phase, ev.Seq, err)
	}
}

func (a *Allocator) fail(ctx context.Context, req Request, c grid.Cell, err error) {
	ev := a.event(req, PhaseFailed, c)
	ev.Error = err.Error()
	ev.MessageKey = MessageKey(err)
	var exhausted *SearchExhaustedError
	if errors.As(err, &exhausted) {
		ev.Found, ev.Blocked = exhausted.Found, exhausted.Blocked
		ev.setCell(exhausted.Last)
	}
	a.emit(ctx, ev)
}

// abort reports a listener veto. plotID names the plot removed again when
// the veto came after registration.
func (a *Allocator) abort(ctx context.Context, req Request, c grid.Cell, phase Phase, plotID string, cause error) error {
	err := &AbortedError{Phase: phase, Err: cause}
	a.log.Printf("island for %s aborted at %s: %v", req.Requester, phase, cause)
	ev := a.event(req, PhaseAborted, c)
	ev.PlotID = plotID
	ev.Error = err.Error()
	ev.MessageKey = MessageKey(err)
	a.emit(ctx, ev)
	return err
}
