package alloc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/CoreyShupe/BentoBox/internal/grid"
)

type Phase string

const (
	PhaseReserved   Phase = "reserved"
	PhaseRegistered Phase = "registered"
	PhasePasted     Phase = "pasted"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseAborted    Phase = "aborted"
)

// Abortable reports whether a listener may cancel the allocation at p.
func (p Phase) Abortable() bool {
	return p == PhaseReserved || p == PhaseRegistered
}

type Event struct {
	Seq        uint64    `json:"seq"`
	Time       time.Time `json:"time"`
	Phase      Phase     `json:"phase"`
	Reason     Reason    `json:"reason"`
	Requester  uuid.UUID `json:"requester"`
	World      string    `json:"world"`
	Pos        [3]int    `json:"pos"`
	PlotID     string    `json:"plot_id,omitempty"`
	OldPlotID  string    `json:"old_plot_id,omitempty"`
	Bundle     string    `json:"bundle,omitempty"`
	Found      int       `json:"found"`
	Blocked    int       `json:"blocked"`
	Error      string    `json:"error,omitempty"`
	MessageKey string    `json:"message_key,omitempty"`
}

func (e *Event) setCell(c grid.Cell) {
	e.Pos = [3]int{c.X, c.Y, c.Z}
}

// Listener observes allocation phases. Returning ErrAbort from an abortable
// phase cancels the allocation; any other error is only logged.
type Listener interface {
	OnAllocationEvent(ctx context.Context, ev Event) error
}

type ListenerFunc func(ctx context.Context, ev Event) error

func (f ListenerFunc) OnAllocationEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Listeners fans an event out to every listener in order.
type Listeners []Listener

func (ls Listeners) OnAllocationEvent(ctx context.Context, ev Event) error {
	var errs []error
	for _, l := range ls {
		if l == nil {
			continue
		}
		if err := l.OnAllocationEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
