package apperr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		Validation:   400,
		Precondition: 400,
		NotFound:     404,
		Conflict:     409,
		Upstream:     502,
		Capacity:     500,
		Internal:     500,
	}

	for kind, status := range cases {
		require.Equal(t, status, kind.Status(), kind.String())
	}
}

func TestNewAssignsCorrelationID(t *testing.T) {
	e := New(NotFound, "zone not found")
	require.Equal(t, NotFound, e.Kind)
	require.NotEmpty(t, e.UUID)
	require.Equal(t, "zone not found", e.Error())
}

// Wrapping an error that already carries a kind must not re-kind or
// re-id it.
func TestWrapIsIdempotent(t *testing.T) {
	inner := New(Conflict, "rule exists")
	outer := Wrap(fmt.Errorf("while syncing: %w", inner), Internal, "sync failed")

	require.Equal(t, Conflict, outer.Kind)
	require.Equal(t, inner.UUID, outer.UUID)
}

func TestWrapPlainError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	e := Wrap(cause, Upstream, "probing vnc port")

	require.Equal(t, Upstream, e.Kind)
	require.ErrorIs(t, e, cause)
	require.Contains(t, e.Error(), "probing vnc port")
	require.Contains(t, e.Error(), "connection refused")
}

func TestAs(t *testing.T) {
	e, ok := As(New(Capacity, "no free port"))
	require.True(t, ok)
	require.Equal(t, Capacity, e.Kind)

	_, ok = As(fmt.Errorf("plain"))
	require.False(t, ok)
}

func TestDetails(t *testing.T) {
	d := New(Validation, "invalid zone name").Details()
	require.Equal(t, "invalid zone name", d["error"])
	require.Equal(t, "validation", d["kind"])
	require.NotEmpty(t, d["id"])
}
