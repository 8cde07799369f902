package parse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const zpoolListOutput = `NAME    SIZE  ALLOC   FREE  CKPOINT  EXPANDSZ   FRAG    CAP  DEDUP    HEALTH  ALTROOT
rpool   111G  6.05G   105G        -         -     4%     5%  1.00x    ONLINE  -
tank    176G   132G  44.0G        -         -    23%    75%  1.00x  DEGRADED  -
`

func TestParseZpoolList(t *testing.T) {
	pools, err := ParseZpoolList(zpoolListOutput)
	require.NoError(t, err)
	require.Len(t, pools, 2)

	rpool := pools[0]
	require.Equal(t, "rpool", rpool.Name)
	require.Equal(t, "111G", rpool.Size)
	require.NotNil(t, rpool.AllocBytes)
	// floor of 6.05 * 1024^3 = 6496138035.2
	require.Equal(t, "6496138035", *rpool.AllocBytes)
	require.Equal(t, 5.0, rpool.CapacityPct)
	require.Equal(t, "ONLINE", rpool.Health)

	tank := pools[1]
	require.Equal(t, "DEGRADED", tank.Health)
	require.NotNil(t, tank.SizeBytes)
	require.Equal(t, "188978561024", *tank.SizeBytes)
}

const zpoolStatusOutput = `  pool: rpool
 state: ONLINE
  scan: scrub repaired 0 in 0h5m with 0 errors on Sun Jul 12 03:05:12 2026
config:

	NAME        STATE     READ WRITE CKSUM
	rpool       ONLINE       0     0     0
	  mirror-0  ONLINE       0     0     0
	    c0t0d0  ONLINE       0     0     0
	    c0t1d0  ONLINE       0     0     0

errors: No known data errors

  pool: tank
 state: DEGRADED
config:

	NAME        STATE     READ WRITE CKSUM
	tank        DEGRADED     0     0     2
	  c1t0d0    OFFLINE      0     0     0

errors: 2 data errors
`

func TestParseZpoolStatusMultiSection(t *testing.T) {
	sections, err := ParseZpoolStatus(zpoolStatusOutput)
	require.NoError(t, err)
	require.Len(t, sections, 2)

	require.Equal(t, "rpool", sections[0].Pool)
	require.Equal(t, "ONLINE", sections[0].State)
	require.Contains(t, sections[0].Scan, "scrub repaired")
	require.Equal(t, "No known data errors", sections[0].Errors)
	require.Len(t, sections[0].Config, 4)
	require.Equal(t, "mirror-0", sections[0].Config[1].Name)

	require.Equal(t, "tank", sections[1].Pool)
	require.Equal(t, "DEGRADED", sections[1].State)
	require.Equal(t, "2", sections[1].Config[0].Cksum)
}

const zfsListOutput = `NAME                 USED  AVAIL  REFER  MOUNTPOINT
rpool               6.05G   101G    96K  /rpool
rpool/zones/web01   1.20G   101G  1.20G  /zones/web01
`

func TestParseZfsList(t *testing.T) {
	datasets, err := ParseZfsList(zfsListOutput)
	require.NoError(t, err)
	require.Len(t, datasets, 2)

	require.Equal(t, "rpool", datasets[0].Name)
	require.NotNil(t, datasets[0].UsedBytes)
	require.Equal(t, "6496138035", *datasets[0].UsedBytes)
	require.Equal(t, "/zones/web01", datasets[1].Mountpoint)
}

const zfsGetAllOutput = `NAME   PROPERTY              VALUE                  SOURCE
tank   type                  filesystem             -
tank   compression           lz4                    local
tank   mountpoint            /tank                  default
`

func TestParseZfsGetAll(t *testing.T) {
	props, err := ParseZfsGetAll(zfsGetAllOutput)
	require.NoError(t, err)
	require.Len(t, props, 1)
	require.Equal(t, "lz4", props["tank"]["compression"])
	require.Equal(t, "filesystem", props["tank"]["type"])
}
