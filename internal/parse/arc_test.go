package parse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArcStatsHitRatio(t *testing.T) {
	input := "zfs:0:arcstats:hits\t900\nzfs:0:arcstats:misses\t100\nzfs:0:arcstats:size\t1048576\n"

	stats, err := ParseArcStats(input)
	require.NoError(t, err)
	require.Equal(t, "90.00", stats.HitRatio)
	require.Equal(t, uint64(900), stats.Hits)
	require.Equal(t, uint64(100), stats.Misses)
	require.Equal(t, uint64(1048576), stats.Size)
}

func TestParseArcStatsNoSamples(t *testing.T) {
	stats, err := ParseArcStats("")
	require.NoError(t, err)
	require.Equal(t, "0.00", stats.HitRatio)
}
