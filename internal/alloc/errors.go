package alloc

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/CoreyShupe/BentoBox/internal/grid"
)

// Message keys shown to players. Diagnostics stay in the log.
const (
	KeyCannotCreate = "commands.island.create.cannot-create-island"
	KeyUnableCreate = "commands.island.create.unable-create-island"
	KeyCanTeleport  = "commands.island.create.you-can-teleport-to-your-island"
)

// ErrAbort is returned (possibly wrapped) by a Listener to cancel an
// allocation at the reserved or registered phase.
var ErrAbort = errors.New("allocation aborted by listener")

var ErrUnknownWorld = errors.New("unknown world")

type ConcurrentCreationError struct {
	Requester uuid.UUID
}

func (e *ConcurrentCreationError) Error() string {
	return fmt.Sprintf("requester %s is already creating an island", e.Requester)
}

// SearchExhaustedError means the blocked-terrain ceiling was hit. The world
// is probably not empty or the grid settings do not match it.
type SearchExhaustedError struct {
	World   string
	Last    grid.Cell
	Blocked int
	Found   int
	Ceiling int
}

func (e *SearchExhaustedError) Error() string {
	return fmt.Sprintf("no free island spot in %s: blocked=%d/%d known=%d last=%s", e.World, e.Blocked, e.Ceiling, e.Found, e.Last)
}

// RegistryConflictError means the registry refused the new plot, usually
// because a concurrent writer took the area first. Retry the whole
// allocation.
type RegistryConflictError struct {
	Cell grid.Cell
	Err  error
}

func (e *RegistryConflictError) Error() string {
	return fmt.Sprintf("register island at %s: %v", e.Cell, e.Err)
}

func (e *RegistryConflictError) Unwrap() error { return e.Err }

type TerrainFetchError struct {
	Cell grid.Cell
	Err  error
}

func (e *TerrainFetchError) Error() string {
	return fmt.Sprintf("fetch terrain at %s: %v", e.Cell, e.Err)
}

func (e *TerrainFetchError) Unwrap() error { return e.Err }

type AbortedError struct {
	Phase Phase
	Err   error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("allocation aborted at %s: %v", e.Phase, e.Err)
}

func (e *AbortedError) Unwrap() error { return e.Err }

// MessageKey maps an allocation error to the key shown to the player.
func MessageKey(err error) string {
	if err == nil {
		return ""
	}
	var conflict *RegistryConflictError
	if errors.As(err, &conflict) {
		return KeyUnableCreate
	}
	return KeyCannotCreate
}
