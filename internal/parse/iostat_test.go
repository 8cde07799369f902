package parse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Two one-second samples the way `zpool iostat -l -H -v 1 2` emits them:
// the first sample is the since-boot bootstrap reading and must be
// discarded; only the second sample counts.
const iostatTwoSample = `rpool	50G	50G	10	20	1.2M	3.4M
mirror-0	50G	50G	10	20	1.2M	3.4M
c0t0d0	-	-	5	10	600K	1.7M
c0t1d0	-	-	5	10	600K	1.7M
rpool	50G	50G	42	84	5.0M	9.0M
mirror-0	50G	50G	42	84	5.0M	9.0M
c0t0d0	-	-	21	42	2.5M	4.5M
c0t1d0	-	-	21	42	2.5M	4.5M
`

func TestParseZpoolIostatLVSecondSampleOnly(t *testing.T) {
	pools, disks, err := ParseZpoolIostatLV(iostatTwoSample)
	require.NoError(t, err)

	require.Len(t, pools, 1)
	require.Equal(t, "rpool", pools[0].Pool)
	require.Equal(t, "mirror", pools[0].PoolType)
	require.Equal(t, "42", pools[0].OpsRead)
	require.Equal(t, "84", pools[0].OpsWrite)
	require.Equal(t, "5.0M", pools[0].BwRead)

	require.Len(t, disks, 2)
	for _, d := range disks {
		require.Equal(t, "rpool", d.Pool)
		require.Equal(t, "21", d.OpsRead)
	}
	require.Equal(t, "c0t0d0", disks[0].Device)
	require.Equal(t, "c0t1d0", disks[1].Device)
}

func TestParseZpoolIostatLVRaidzTopology(t *testing.T) {
	input := strings.Join([]string{
		"tank\t10T\t20T\t1\t2\t3K\t4K",
		"raidz2-0\t10T\t20T\t1\t2\t3K\t4K",
		"c1t0d0\t-\t-\t0\t1\t1K\t2K",
	}, "\n")

	pools, disks, err := ParseZpoolIostatLV(input)
	require.NoError(t, err)

	require.Len(t, pools, 1)
	require.Equal(t, "raidz2", pools[0].PoolType)
	require.Len(t, disks, 1)
	require.Equal(t, "tank", disks[0].Pool)
}

func TestParseZpoolIostatLVMultiplePools(t *testing.T) {
	input := strings.Join([]string{
		"rpool\t50G\t50G\t1\t1\t1K\t1K",
		"c0t0d0\t-\t-\t1\t1\t1K\t1K",
		"tank\t1T\t3T\t2\t2\t2K\t2K",
		"cache\t-\t-\t9\t9\t9K\t9K",
		"c9t0d0\t-\t-\t9\t9\t9K\t9K",
	}, "\n")

	pools, disks, err := ParseZpoolIostatLV(input)
	require.NoError(t, err)

	require.Len(t, pools, 2)
	require.Equal(t, "", pools[0].PoolType)
	require.Equal(t, "cache", pools[1].PoolType)

	require.Len(t, disks, 2)
	require.Equal(t, "rpool", disks[0].Pool)
	require.Equal(t, "tank", disks[1].Pool)
}

func TestParseZpoolIostatLVEmpty(t *testing.T) {
	pools, disks, err := ParseZpoolIostatLV("")
	require.NoError(t, err)
	require.Empty(t, pools)
	require.Empty(t, disks)
}
