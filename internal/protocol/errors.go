package protocol

import (
	"errors"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	ErrWorldNotFound = "E_WORLD_NOT_FOUND"
	ErrBusy          = "E_BUSY"
	ErrNoIsland      = "E_NO_ISLAND"
	ErrHasIsland     = "E_HAS_ISLAND"
	ErrConflict      = "E_CONFLICT"
	ErrBlocked       = "E_BLOCKED"
	ErrAborted       = "E_ABORTED"
	ErrInternal      = "E_INTERNAL"
)

// Player message keys for requests rejected before allocation.
const (
	KeyNoIsland  = "general.errors.no-island"
	KeyHasIsland = "general.errors.already-have-island"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrWorldNotFound:   {},
	ErrBusy:            {},
	ErrNoIsland:        {},
	ErrHasIsland:       {},
	ErrConflict:        {},
	ErrBlocked:         {},
	ErrAborted:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps an allocation error to a wire error code.
func CodeFor(err error) string {
	var (
		concurrent *alloc.ConcurrentCreationError
		exhausted  *alloc.SearchExhaustedError
		conflict   *alloc.RegistryConflictError
		aborted    *alloc.AbortedError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, alloc.ErrUnknownWorld):
		return ErrWorldNotFound
	case errors.As(err, &concurrent):
		return ErrBusy
	case errors.As(err, &exhausted):
		return ErrBlocked
	case errors.As(err, &conflict):
		return ErrConflict
	case errors.As(err, &aborted):
		return ErrAborted
	}
	return ErrInternal
}
