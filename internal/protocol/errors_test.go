package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrWorldNotFound,
		ErrBusy,
		ErrNoIsland,
		ErrHasIsland,
		ErrConflict,
		ErrBlocked,
		ErrAborted,
		ErrInternal,
	}
	for _, c := range cases {
		assert.True(t, IsKnownCode(c), c)
	}
	assert.False(t, IsKnownCode("E_NOT_DEFINED"))
}

func TestCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", alloc.ErrUnknownWorld), ErrWorldNotFound},
		{&alloc.ConcurrentCreationError{Requester: uuid.New()}, ErrBusy},
		{fmt.Errorf("wrapped: %w", &alloc.SearchExhaustedError{}), ErrBlocked},
		{&alloc.RegistryConflictError{Err: errors.New("taken")}, ErrConflict},
		{&alloc.AbortedError{Phase: alloc.PhaseReserved, Err: alloc.ErrAbort}, ErrAborted},
		{errors.New("disk"), ErrInternal},
	}
	for _, tc := range cases {
		got := CodeFor(tc.err)
		assert.Equal(t, tc.want, got, "%v", tc.err)
		assert.True(t, IsKnownCode(got))
	}
}
