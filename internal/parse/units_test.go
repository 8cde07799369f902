package parse

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUnitToBytes(t *testing.T) {
	cases := []struct {
		in   string
		want *string
	}{
		{"-", nil},
		{"none", nil},
		{"None", nil},
		{"176G", strPtr("188978561024")},
		{"512", strPtr("512")},
		{"1K", strPtr("1024")},
	}

	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := ParseUnitToBytes(c.in)
			require.NoError(t, err)

			if c.want == nil {
				require.Nil(t, got)
				return
			}

			require.NotNil(t, got)
			require.Equal(t, *c.want, *got)
		})
	}
}

// TestParseUnitToBytesRoundTrip: parseUnit(format(n, u)) =
// n * 1024^idx(u) for whole-number inputs, which avoids floating point
// rounding ambiguity on the input side.
func TestParseUnitToBytesRoundTrip(t *testing.T) {
	units := []struct {
		suffix string
		power  uint
	}{
		{"", 0}, {"K", 1}, {"M", 2}, {"G", 3}, {"T", 4}, {"P", 5}, {"E", 6}, {"Z", 7},
	}

	for n := int64(1); n <= 5; n++ {
		for _, u := range units {
			in := fmt.Sprintf("%d%s", n, u.suffix)
			got, err := ParseUnitToBytes(in)
			require.NoError(t, err)
			require.NotNil(t, got)

			want := new(big.Int).Lsh(big.NewInt(n), 10*u.power)
			require.Equal(t, fmt.Sprintf("%d", want), *got)
		}
	}
}

func TestCapacity(t *testing.T) {
	require.Equal(t, 0.0, Capacity(0, 0))
	require.Equal(t, 50.0, Capacity(50, 50))
	require.InDelta(t, 33.33, Capacity(1, 2), 0.01)

	for _, pair := range [][2]int64{{0, 100}, {100, 0}, {7, 13}} {
		c := Capacity(pair[0], pair[1])
		require.GreaterOrEqual(t, c, 0.0)
		require.LessOrEqual(t, c, 100.0)
	}
}

func strPtr(s string) *string { return &s }
