package main

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
)

// verifier walks an allocation event log in order and checks that
// no requester ever ran two allocations at once and that no two live islands
// were registered on the same grid cell.
type verifier struct {
	curFile string
	lastSeq uint64
	events  int

	// open holds requesters between reserved and the end of registration.
	open map[uuid.UUID]alloc.Event
	// live maps a cell to the plot registered on it.
	live map[cellKey]string
	// pending holds plots registered but not yet completed or failed.
	pending map[string]alloc.Event
	plotAt  map[string]cellKey

	violations []string
}

type cellKey struct {
	World   string
	X, Y, Z int
}

type report struct {
	Events     int
	Islands    int
	Violations []string
	Dangling   []string
}

func newVerifier() *verifier {
	return &verifier{
		open:    map[uuid.UUID]alloc.Event{},
		live:    map[cellKey]string{},
		pending: map[string]alloc.Event{},
		plotAt:  map[string]cellKey{},
	}
}

// file marks the start of a new log file. Sequence numbers restart with
// each server process, so ordering is only checked within a file.
func (v *verifier) file(name string) {
	v.curFile = name
	v.lastSeq = 0
}

func (v *verifier) apply(ev alloc.Event) {
	v.events++
	if ev.Seq == 1 && v.lastSeq > 0 {
		// a restarted server appends to the same hourly file
		v.lastSeq = 0
	}
	if ev.Seq != 0 {
		if ev.Seq <= v.lastSeq {
			v.violatef(ev, "seq went from %d to %d", v.lastSeq, ev.Seq)
		}
		v.lastSeq = ev.Seq
	}
	key := cellKey{ev.World, ev.Pos[0], ev.Pos[1], ev.Pos[2]}

	switch ev.Phase {
	case alloc.PhaseReserved:
		if prev, ok := v.open[ev.Requester]; ok {
			v.violatef(ev, "second allocation started while seq=%d is still open", prev.Seq)
		}
		v.open[ev.Requester] = ev
	case alloc.PhaseRegistered:
		delete(v.open, ev.Requester)
		if other, ok := v.live[key]; ok {
			v.violatef(ev, "plot %s registered on cell already held by plot %s", ev.PlotID, other)
		}
		v.live[key] = ev.PlotID
		v.plotAt[ev.PlotID] = key
		v.pending[ev.PlotID] = ev
	case alloc.PhaseCompleted:
		delete(v.pending, ev.PlotID)
		if ev.Reason == alloc.ReasonReset && ev.OldPlotID != "" {
			v.drop(ev.OldPlotID)
		}
	case alloc.PhaseFailed:
		if ev.Error == (&alloc.ConcurrentCreationError{Requester: ev.Requester}).Error() {
			return
		}
		delete(v.open, ev.Requester)
		delete(v.pending, ev.PlotID)
	case alloc.PhaseAborted:
		delete(v.open, ev.Requester)
		// an abort after registration removes the plot again
		if ev.PlotID != "" {
			v.drop(ev.PlotID)
		}
	case alloc.PhasePasted:
	default:
		v.violatef(ev, "unknown phase %q", ev.Phase)
	}
}

func (v *verifier) drop(plotID string) {
	if key, ok := v.plotAt[plotID]; ok {
		if v.live[key] == plotID {
			delete(v.live, key)
		}
		delete(v.plotAt, plotID)
	}
	delete(v.pending, plotID)
}

func (v *verifier) violatef(ev alloc.Event, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	v.violations = append(v.violations, fmt.Sprintf("%s seq=%d requester=%s: %s", v.curFile, ev.Seq, ev.Requester, msg))
}

// finish reports plots whose pasting never finished. A server stopped
// mid-paste leaves these behind, so they are not violations.
func (v *verifier) finish() report {
	rep := report{
		Events:     v.events,
		Islands:    len(v.live),
		Violations: v.violations,
	}
	for id, ev := range v.pending {
		rep.Dangling = append(rep.Dangling, fmt.Sprintf("plot %s of %s in %s registered at seq=%d", id, ev.Requester, ev.World, ev.Seq))
	}
	for id, ev := range v.open {
		rep.Dangling = append(rep.Dangling, fmt.Sprintf("allocation of %s in %s reserved at seq=%d never registered", id, ev.World, ev.Seq))
	}
	sort.Strings(rep.Dangling)
	return rep
}
